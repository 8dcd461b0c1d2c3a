// Package ast walks a method's dominator tree and classifies each
// dominated subgraph into one of a small set of structured control-flow
// shapes (loops, branches, sequences), producing a tree of nodes rooted
// at a synthetic outer Compound. It is grounded on the original
// implementation's method_dasm.cc (ReconstructBlock) and java_blocks.h
// (the node-kind hierarchy, collapsed here into one closed tagged
// variant per SPEC_FULL.md §9's "deep inheritance" note).
package ast

import (
	"github.com/pkg/errors"

	"github.com/egorich239/drex/cfg"
	"github.com/egorich239/drex/dom"
	"github.com/egorich239/drex/instr"
)

// NodeID is an index into an Arena. It is a non-owning handle: parent
// and target back-references never extend a node's lifetime, which is
// bounded by the arena itself.
type NodeID int32

// NilNode is the zero value for "no node".
const NilNode NodeID = -1

// ReconstructionError wraps a structural-invariant violation encountered
// while reconstructing one method's AST (e.g. a branch with more than
// three dominated successors, or a return block with outgoing edges).
// Its distinguishing type lets a caller walking many methods tell "this
// method's bytecode is unreconstructable" apart from a fatal
// container-level error and move on to the next method.
type ReconstructionError struct {
	cause error
}

func (e *ReconstructionError) Error() string { return e.cause.Error() }
func (e *ReconstructionError) Unwrap() error { return e.cause }

// Kind is the closed set of structured shapes a dominator-tree node can
// be classified into.
type Kind int

const (
	KindBasic Kind = iota
	KindCompound
	KindBranch
	KindSwitch
	KindDoForever
	KindWhile
	KindDo
	KindBreak
	KindContinue
	KindReturn
	KindThrow
)

func (k Kind) String() string {
	switch k {
	case KindBasic:
		return "Basic"
	case KindCompound:
		return "Compound"
	case KindBranch:
		return "Branch"
	case KindSwitch:
		return "Switch"
	case KindDoForever:
		return "DoForever"
	case KindWhile:
		return "While"
	case KindDo:
		return "Do"
	case KindBreak:
		return "Break"
	case KindContinue:
		return "Continue"
	case KindReturn:
		return "Return"
	case KindThrow:
		return "Throw"
	default:
		return "Unknown"
	}
}

// Node is a flat tagged variant over Kind. Every node carries Parent
// and Head; the remaining fields are populated according to Kind and
// left zero otherwise:
//
//   - Branch: Cond, OnTrue, OnFalse, Invert.
//   - While/Do: Cond, Body, Invert.
//   - DoForever: Body.
//   - Compound: Children.
//   - Break/Continue: Target.
type Node struct {
	Kind   Kind
	Parent NodeID
	Head   int

	Invert          bool
	Cond            NodeID
	OnTrue, OnFalse NodeID
	Body            NodeID
	Children        []NodeID
	Target          NodeID
}

// Arena owns every Node produced for one method run. Node lifetimes are
// bounded by the arena; nothing outside it ever frees a Node
// individually. Nodes are stored by pointer, so a *Node returned by Get
// stays valid while further nodes are allocated.
type Arena struct {
	nodes []*Node
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

func (a *Arena) alloc(n Node) NodeID {
	a.nodes = append(a.nodes, &n)
	return NodeID(len(a.nodes) - 1)
}

// Get returns a mutable pointer to the node at id.
func (a *Arena) Get(id NodeID) *Node {
	return a.nodes[id]
}

// Len returns the number of nodes allocated so far.
func (a *Arena) Len() int {
	return len(a.nodes)
}

// loopFrame is one entry of the reconstructor's active-loop stack, used
// by ReconstructContinuation to decide between an implicit repeat,
// Continue, and Break.
type loopFrame struct {
	node NodeID
	// header is the loop's dominance-region root (the While/DoForever
	// head, or the head of a Do loop even though its back edge source
	// may be a different block).
	header int
	// condHead is the block whose terminator is the loop's test: equal
	// to header for While and DoForever, equal to the back-edge source
	// for Do. Its emitted bit is set when the loop's Cond node is made,
	// before the body is walked, so the body's own natural fallthrough
	// into it is recognized as "already emitted" rather than recursed
	// into as an ordinary block.
	condHead int
	// closed is set the first time a continuation reaches condHead
	// while this frame is active: that reach is the structural repeat
	// every While/Do/DoForever already implies and needs no node of its
	// own. Any later reach of condHead for the same frame (e.g. a
	// branch inside the body jumping straight to the test) is a
	// genuine early repeat and gets an explicit Continue.
	closed bool
}

// Reconstructor holds the per-method state for one AST reconstruction
// run: the arena being built, the CFG and dominator engine it walks,
// and the bookkeeping (emitted blocks, active loop stack, current
// attach point) that ReconstructBlock and ReconstructContinuation
// thread through their mutual recursion.
type Reconstructor struct {
	arena *Arena
	cfg   *cfg.Graph
	dom   *dom.Engine
	insns []uint16

	emitted         []bool
	loops           []loopFrame
	currentCompound NodeID
}

// Run reconstructs the AST for one method's CFG and dominator tree,
// returning the owning arena and the id of the synthetic outer
// Compound rooted at block 0.
func Run(g *cfg.Graph, d *dom.Engine, insns []uint16) (*Arena, NodeID, error) {
	r := &Reconstructor{
		arena:   NewArena(),
		cfg:     g,
		dom:     d,
		insns:   insns,
		emitted: make([]bool, g.CodeSize),
	}
	outer := r.arena.alloc(Node{Kind: KindCompound, Parent: NilNode, Head: 0})
	r.currentCompound = outer
	if err := r.reconstructBlock(0, false); err != nil {
		return nil, NilNode, &ReconstructionError{cause: err}
	}
	return r.arena, outer, nil
}

// attach allocates a node of kind at head, parented to and appended
// into the current compound.
func (r *Reconstructor) attach(kind Kind, head int) NodeID {
	id := r.arena.alloc(Node{Kind: kind, Parent: r.currentCompound, Head: head, Cond: NilNode, OnTrue: NilNode, OnFalse: NilNode, Body: NilNode, Target: NilNode})
	if r.currentCompound != NilNode {
		c := r.arena.Get(r.currentCompound)
		c.Children = append(c.Children, id)
	}
	return id
}

// makeNode allocates a node of kind at head with an explicit parent,
// without attaching it into any Children list; the caller records the
// reference itself (Branch.OnTrue, While.Body, and so on).
func (r *Reconstructor) makeNode(kind Kind, parent NodeID, head int) NodeID {
	return r.arena.alloc(Node{Kind: kind, Parent: parent, Head: head, Cond: NilNode, OnTrue: NilNode, OnFalse: NilNode, Body: NilNode, Target: NilNode})
}

// withCompound runs fn with compound as the current attach point,
// restoring the previous one on return.
func (r *Reconstructor) withCompound(compound NodeID, fn func() error) error {
	saved := r.currentCompound
	r.currentCompound = compound
	err := fn()
	r.currentCompound = saved
	return err
}

// reconstructBlock decides the shape of head and emits the
// corresponding node(s) into the current compound, per SPEC_FULL.md
// §4.E's decision tree.
func (r *Reconstructor) reconstructBlock(head int, ignoreLoop bool) error {
	r.emitted[head] = true

	lastPC := r.cfg.BlockLast(head)
	opcode := instr.Opcode(r.insns, lastPC)
	outbound := r.cfg.Edges[head]

	var cyclic []int
	for _, p32 := range r.dom.Inbound[head] {
		p := int(p32)
		if r.dom.IsDominated(p, head) {
			cyclic = append(cyclic, p)
		}
	}

	if !ignoreLoop && len(cyclic) > 0 {
		return r.reconstructLoop(head, opcode, outbound, cyclic)
	}

	switch {
	case instr.IsReturn(opcode):
		if len(outbound) != 0 {
			return errors.Errorf("ast: return block %d has outgoing edges", head)
		}
		r.attach(KindReturn, head)
		return nil

	case instr.IsThrow(opcode):
		if len(outbound) != 0 {
			return errors.Errorf("ast: throw block %d has outgoing edges", head)
		}
		r.attach(KindThrow, head)
		return nil

	case instr.IsBBranch(opcode) || instr.IsUBranch(opcode):
		return r.reconstructBranch(head, outbound, r.dom.DomTree[head])

	case instr.IsGoto(opcode):
		if len(outbound) != 1 {
			return errors.Errorf("ast: goto block %d does not have exactly one successor", head)
		}
		return r.reconstructContinuation(int(outbound[0]))

	default:
		r.attach(KindBasic, head)
		if len(outbound) == 1 {
			return r.reconstructContinuation(int(outbound[0]))
		}
		return nil
	}
}

// reconstructLoop dispatches head, already known to be a loop header
// (cyclic is non-empty), into the While / Do / DoForever cases.
func (r *Reconstructor) reconstructLoop(head int, headOpcode byte, outbound []int32, cyclic []int) error {
	headIsBranch := instr.IsBBranch(headOpcode) || instr.IsUBranch(headOpcode)

	backSrc := cyclic[0]
	backSrcOpcode := instr.Opcode(r.insns, r.cfg.BlockLast(backSrc))
	backSrcIsBranch := instr.IsBBranch(backSrcOpcode) || instr.IsUBranch(backSrcOpcode)

	switch {
	case headIsBranch && (len(cyclic) != 1 || !backSrcIsBranch):
		return r.reconstructWhile(head, outbound, backSrc)
	case backSrcIsBranch:
		return r.reconstructDo(head, backSrc)
	default:
		return r.reconstructDoForever(head)
	}
}

// reconstructWhile emits a pre-tested loop: head's branch is the
// condition, the successor dominated by head that also dominates the
// back-edge source is the body, and the other successor is the
// continuation.
func (r *Reconstructor) reconstructWhile(head int, outbound []int32, backSrc int) error {
	if len(outbound) != 2 {
		return errors.Errorf("ast: while header %d does not have exactly two successors", head)
	}
	whileID := r.attach(KindWhile, head)
	w := r.arena.Get(whileID)
	w.Cond = r.makeNode(KindBasic, whileID, head)

	body := -1
	for _, s32 := range outbound {
		s := int(s32)
		if r.dom.IsDominated(s, head) && r.dom.IsDominated(backSrc, s) {
			body = s
			break
		}
	}
	if body == -1 {
		return errors.Errorf("ast: while header %d has no successor that dominates its back edge", head)
	}
	cont := int(outbound[0])
	if body == cont {
		cont = int(outbound[1])
	}
	w.Invert = body != int(outbound[0])

	bodyCompound := r.makeNode(KindCompound, whileID, body)
	w.Body = bodyCompound

	r.loops = append(r.loops, loopFrame{node: whileID, header: head, condHead: head})
	err := r.withCompound(bodyCompound, func() error { return r.reconstructBlock(body, false) })
	r.loops = r.loops[:len(r.loops)-1]
	if err != nil {
		return err
	}

	return r.reconstructContinuation(cont)
}

// reconstructDo emits a post-tested loop: backSrc's branch is the
// condition. When backSrc equals head, the loop body is a single
// block whose own terminator is that branch; the original
// implementation never assigns a body node in that case, and this
// reproduces that behavior rather than inventing a synthetic one.
func (r *Reconstructor) reconstructDo(head, backSrc int) error {
	doID := r.attach(KindDo, head)
	d := r.arena.Get(doID)
	d.Cond = r.makeNode(KindBasic, doID, backSrc)
	// backSrc's own branch is fully represented by Cond; mark it
	// emitted now so the body's natural fallthrough into it resolves
	// as the loop's implicit repeat instead of recursing into a
	// generic reconstructBlock that would misclassify it.
	r.emitted[backSrc] = true

	backOutbound := r.cfg.Edges[backSrc]
	if len(backOutbound) != 2 {
		return errors.Errorf("ast: do-loop back edge source %d does not have exactly two successors", backSrc)
	}
	d.Invert = int(backOutbound[0]) != head
	cont := int(backOutbound[0])
	if !d.Invert {
		cont = int(backOutbound[1])
	}

	r.loops = append(r.loops, loopFrame{node: doID, header: head, condHead: backSrc})
	if backSrc != head {
		bodyCompound := r.makeNode(KindCompound, doID, head)
		d.Body = bodyCompound
		err := r.withCompound(bodyCompound, func() error { return r.reconstructBlock(head, true) })
		r.loops = r.loops[:len(r.loops)-1]
		if err != nil {
			return err
		}
	} else {
		r.loops = r.loops[:len(r.loops)-1]
	}

	return r.reconstructContinuation(cont)
}

// reconstructDoForever emits an unconditional loop whose back edge is
// a plain goto; there is no continuation to reconstruct since control
// never leaves the loop structurally.
func (r *Reconstructor) reconstructDoForever(head int) error {
	dfID := r.attach(KindDoForever, head)
	d := r.arena.Get(dfID)
	bodyCompound := r.makeNode(KindCompound, dfID, head)
	d.Body = bodyCompound

	r.loops = append(r.loops, loopFrame{node: dfID, header: head, condHead: head})
	err := r.withCompound(bodyCompound, func() error { return r.reconstructBlock(head, true) })
	r.loops = r.loops[:len(r.loops)-1]
	return err
}

// reconstructBranch emits a conditional Branch and its two arms,
// following the k = 0..3 cases of SPEC_FULL.md §4.E.
func (r *Reconstructor) reconstructBranch(head int, outbound []int32, domChildren []int) error {
	if len(outbound) != 2 {
		return errors.Errorf("ast: branch block %d does not have exactly two successors", head)
	}
	branchID := r.attach(KindBranch, head)
	b := r.arena.Get(branchID)
	b.Cond = r.makeNode(KindBasic, branchID, head)

	var dominated []int
	var trivial []int
	for _, c := range domChildren {
		if len(r.cfg.Edges[c]) > 0 {
			dominated = append(dominated, c)
		} else {
			trivial = append(trivial, c)
		}
	}

	// A dom-tree child of head with no outgoing edges (a Return/Throw
	// terminal, or dead code) can only be reached as the eventual join
	// of both arms; place it as a sibling of the Branch now, before the
	// arms are built, so each arm's own walk down to it lands on an
	// already-emitted node and resolves as a silent no-op instead of
	// duplicating it into whichever arm happens to reach it first.
	for _, t := range trivial {
		if err := r.reconstructBlock(t, false); err != nil {
			return err
		}
	}

	switch len(dominated) {
	case 0:
		return r.branchBothContinuations(branchID, b, outbound)
	case 1:
		return r.branchOneDominated(branchID, b, outbound, dominated[0])
	case 2:
		return r.branchTwoDominated(branchID, b, outbound, dominated[0], dominated[1])
	case 3:
		return r.branchThreeDominated(branchID, b, outbound, dominated[2])
	default:
		return errors.Errorf("ast: branch block %d has %d dominated successors, want at most 3", head, len(dominated))
	}
}

func (r *Reconstructor) branchBothContinuations(branchID NodeID, b *Node, outbound []int32) error {
	onTrue := r.makeNode(KindCompound, branchID, int(outbound[0]))
	b.OnTrue = onTrue
	if err := r.withCompound(onTrue, func() error { return r.reconstructContinuation(int(outbound[0])) }); err != nil {
		return err
	}
	onFalse := r.makeNode(KindCompound, branchID, int(outbound[1]))
	b.OnFalse = onFalse
	return r.withCompound(onFalse, func() error { return r.reconstructContinuation(int(outbound[1])) })
}

func (r *Reconstructor) branchOneDominated(branchID NodeID, b *Node, outbound []int32, d0 int) error {
	b.Invert = d0 != int(outbound[0])
	cont := int(outbound[0])
	if !b.Invert {
		cont = int(outbound[1])
	}

	branchArm := r.makeNode(KindCompound, branchID, d0)
	b.OnTrue = branchArm
	if err := r.withCompound(branchArm, func() error { return r.reconstructBlock(d0, false) }); err != nil {
		return err
	}

	contArm := r.makeNode(KindCompound, branchID, cont)
	b.OnFalse = contArm
	return r.withCompound(contArm, func() error { return r.reconstructContinuation(cont) })
}

func (r *Reconstructor) branchTwoDominated(branchID NodeID, b *Node, outbound []int32, d0, d1 int) error {
	elseBlock := true
	for _, p32 := range r.dom.Inbound[d1] {
		if r.dom.IsDominated(int(p32), d0) {
			elseBlock = false
			break
		}
	}
	if elseBlock {
		onTrue := r.makeNode(KindCompound, branchID, int(outbound[0]))
		b.OnTrue = onTrue
		if err := r.withCompound(onTrue, func() error { return r.reconstructBlock(int(outbound[0]), false) }); err != nil {
			return err
		}
		onFalse := r.makeNode(KindCompound, branchID, int(outbound[1]))
		b.OnFalse = onFalse
		return r.withCompound(onFalse, func() error { return r.reconstructBlock(int(outbound[1]), false) })
	}

	// d1 is the join shared by both arms: reconstruct it now, into
	// whatever compound is currently active, so it lands as a sibling
	// of the Branch rather than being duplicated into one arm.
	if err := r.reconstructBlock(d1, false); err != nil {
		return err
	}
	b.Invert = d0 != int(outbound[0])
	onTrue := r.makeNode(KindCompound, branchID, d0)
	b.OnTrue = onTrue
	return r.withCompound(onTrue, func() error { return r.reconstructBlock(d0, false) })
}

func (r *Reconstructor) branchThreeDominated(branchID NodeID, b *Node, outbound []int32, d2 int) error {
	if err := r.reconstructBlock(d2, false); err != nil {
		return err
	}
	onTrue := r.makeNode(KindCompound, branchID, int(outbound[0]))
	b.OnTrue = onTrue
	if err := r.withCompound(onTrue, func() error { return r.reconstructBlock(int(outbound[0]), false) }); err != nil {
		return err
	}
	onFalse := r.makeNode(KindCompound, branchID, int(outbound[1]))
	b.OnFalse = onFalse
	return r.withCompound(onFalse, func() error { return r.reconstructBlock(int(outbound[1]), false) })
}

// reconstructContinuation emits the continuation rooted at to into the
// current compound. This formalizes the stub left in the original
// source (SPEC_FULL.md §9): a target not yet reached recurses; a
// target already emitted resolves against the active loop stack,
// innermost first. The first time a frame's own condHead is reached
// this way it is the structural repeat already implied by that
// While/Do/DoForever shape and is closed silently; any later reach of
// the same condHead is a genuine early repeat and gets an explicit
// Continue. A target outside a frame's dominance region is a Break.
// If the stack is exhausted without a match, to was already placed
// correctly by an earlier join reconstruction and nothing more is
// emitted.
func (r *Reconstructor) reconstructContinuation(to int) error {
	if !r.emitted[to] {
		return r.reconstructBlock(to, false)
	}
	for i := len(r.loops) - 1; i >= 0; i-- {
		lf := &r.loops[i]
		if to == lf.condHead {
			if !lf.closed {
				lf.closed = true
				return nil
			}
			id := r.attach(KindContinue, to)
			r.arena.Get(id).Target = lf.node
			return nil
		}
		if !r.dom.IsDominated(to, lf.header) {
			id := r.attach(KindBreak, to)
			r.arena.Get(id).Target = lf.node
			return nil
		}
	}
	return nil
}
