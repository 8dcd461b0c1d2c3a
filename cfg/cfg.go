// Package cfg builds a control-flow graph from a method's instruction
// stream, in two passes: a linear walk that discovers block heads and
// splits blocks in place as backward jump targets are found (PutEdge), and
// a second pass that derives the block-size table from the resolved edge
// markers. It is grounded on the original implementation's
// method_dasm.cc (Run/PutEdge), translated closely since this is the part
// of the system where exact fidelity to the specified algorithm matters
// most.
package cfg

import (
	"github.com/pkg/errors"

	"github.com/egorich239/drex/instr"
)

// Graph is the resolved control-flow graph of one method: for every pc
// that is a block head, Edges[pc] holds its successor pcs (possibly
// empty, for a Return/Throw block); for every other pc, Edges[pc] is
// empty. BlockSize[head] > 0 identifies head as a block head.
// PrevInstr[k-1] gives the pc of the instruction whose range ends at
// k-1, for k in [1, CodeSize].
type Graph struct {
	Edges     [][]int32
	BlockSize []int
	PrevInstr []int
	CodeSize  int
}

// BlockLast returns the pc of the last instruction of the block starting
// at head.
func (g *Graph) BlockLast(head int) int {
	return g.PrevInstr[head+g.BlockSize[head]-1]
}

// marker encodes "this unit belongs to the interior of block b".
func marker(b int) int32 { return int32(-(b + 1)) }

func isMarker(slot []int32) (block int, ok bool) {
	if len(slot) == 1 && slot[0] < 0 {
		return int(-slot[0] - 1), true
	}
	return 0, false
}

// builder holds Pass 1's mutable walk state.
type builder struct {
	insns      []uint16
	codeSize   int
	edges      [][]int32
	prevInstr  []int
	currentPC  int
	currentBlk int
	nextPC     int
}

// Build runs both passes over insns and returns the resolved graph.
func Build(insns []uint16) (*Graph, error) {
	n := len(insns)
	b := &builder{
		insns:     insns,
		codeSize:  n,
		edges:     make([][]int32, n),
		prevInstr: make([]int, n),
	}
	for i := 1; i < n; i++ {
		b.edges[i] = []int32{0}
	}
	if n > 0 {
		b.edges[0] = []int32{}
	}

	if err := b.pass1(); err != nil {
		return nil, errors.Wrap(err, "cfg: pass 1")
	}
	blockSize, err := b.pass2()
	if err != nil {
		return nil, errors.Wrap(err, "cfg: pass 2")
	}

	for pc := range b.edges {
		if _, ok := isMarker(b.edges[pc]); ok {
			b.edges[pc] = nil
		}
	}

	return &Graph{
		Edges:     b.edges,
		BlockSize: blockSize,
		PrevInstr: b.prevInstr,
		CodeSize:  n,
	}, nil
}

func (b *builder) pass1() error {
	cont := false
	for b.nextPC <= b.codeSize {
		for q := b.currentPC + 1; q < b.nextPC; q++ {
			b.edges[q] = []int32{marker(b.currentBlk)}
			b.prevInstr[q-1] = b.currentPC
		}
		if b.nextPC != 0 {
			b.prevInstr[b.nextPC-1] = b.currentPC
		}
		b.currentPC = b.nextPC
		if b.currentPC == b.codeSize {
			break
		}

		if len(b.edges[b.currentPC]) == 0 {
			if cont && len(b.edges[b.currentBlk]) == 0 {
				b.edges[b.currentBlk] = append(b.edges[b.currentBlk], int32(b.currentPC))
			}
			b.currentBlk = b.currentPC
		} else {
			b.edges[b.currentPC][0] = marker(b.currentBlk)
		}

		cont = false
		opcode := instr.Opcode(b.insns, b.currentPC)
		size, err := instr.Size(b.insns, b.currentPC)
		if err != nil {
			return errors.Wrapf(err, "decoding instruction at pc %d", b.currentPC)
		}
		b.nextPC = b.currentPC + size

		switch {
		case instr.IsReturn(opcode) || instr.IsThrow(opcode):
			if b.nextPC < b.codeSize {
				b.edges[b.nextPC] = []int32{}
			}
		case instr.IsBBranch(opcode) || instr.IsUBranch(opcode):
			target, ok := instr.BranchTarget(b.insns, b.currentPC)
			if !ok {
				return errors.Errorf("cfg: branch instruction at pc %d has no decodable target", b.currentPC)
			}
			b.putEdge(target)
			b.putEdge(b.nextPC)
		case instr.IsGoto(opcode):
			target, ok := instr.BranchTarget(b.insns, b.currentPC)
			if !ok {
				return errors.Errorf("cfg: goto instruction at pc %d has no decodable target", b.currentPC)
			}
			b.putEdge(target)
			if b.nextPC < b.codeSize {
				b.edges[b.nextPC] = []int32{}
			}
		default:
			cont = true
		}
	}
	return nil
}

// putEdge appends a successor to the current block, splitting an
// already-walked block in place if the target lands inside its interior.
func (b *builder) putEdge(to int) {
	b.edges[b.currentBlk] = append(b.edges[b.currentBlk], int32(to))
	if to > b.currentPC {
		b.edges[to] = []int32{}
		return
	}
	oldBlock, ok := isMarker(b.edges[to])
	if !ok {
		return
	}
	bStart := oldBlock
	b.edges[to], b.edges[bStart] = b.edges[bStart], b.edges[to]
	b.edges[bStart] = []int32{int32(to)}
	if bStart == b.currentBlk {
		b.currentBlk = to
	}
	oldMarker := marker(oldBlock)
	newMarker := marker(to)
	for t := to + 1; t < b.codeSize; t++ {
		if len(b.edges[t]) == 1 && b.edges[t][0] == oldMarker {
			b.edges[t][0] = newMarker
			continue
		}
		break
	}
}

func (b *builder) pass2() ([]int, error) {
	blockSize := make([]int, b.codeSize)
	if b.codeSize == 0 {
		return blockSize, nil
	}
	currentBlk := 0
	currentPC := 0
	for currentPC <= b.codeSize {
		if currentPC == b.codeSize {
			blockSize[currentBlk] = currentPC - currentBlk
			break
		}
		if _, ok := isMarker(b.edges[currentPC]); !ok {
			blockSize[currentBlk] = currentPC - currentBlk
			currentBlk = currentPC
		}
		size, err := instr.Size(b.insns, currentPC)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding instruction at pc %d", currentPC)
		}
		currentPC += size
	}
	return blockSize, nil
}
