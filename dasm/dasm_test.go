package dasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egorich239/drex/ast"
)

func childKinds(a *ast.Arena, compound ast.NodeID) []ast.Kind {
	c := a.Get(compound)
	kinds := make([]ast.Kind, len(c.Children))
	for i, id := range c.Children {
		kinds[i] = a.Get(id).Kind
	}
	return kinds
}

func TestRunLinear(t *testing.T) {
	// pc0: const/4 v0, #0 falls through to pc1: return-void. Nothing ever
	// branches to pc1, so the CFG builder never splits the two into
	// separate blocks: they form one basic block whose content is
	// attributed entirely to the single node matching its last
	// instruction's opcode, here Return.
	insns := []uint16{0x0012, 0x000e}

	a, root, err := Run(insns)
	require.NoError(t, err)
	assert.Equal(t, []ast.Kind{ast.KindReturn}, childKinds(a, root))
}

func TestRunSplitBlocks(t *testing.T) {
	// pc0: if-eqz v0, +3 (to pc3, return-void), falling through to pc2:
	// const/4 v0, #0, which itself falls through to pc3. pc2 is the
	// branch's one dominated successor with an outgoing edge, so it
	// becomes the true arm; pc3 is reachable both from the branch
	// directly and from pc2's fallthrough, so it is placed once, as a
	// sibling of the Branch, and the false arm resolves to it as an
	// already-emitted no-op.
	insns := []uint16{0x0038, 0x0003, 0x0012, 0x000e}

	a, root, err := Run(insns)
	require.NoError(t, err)

	require.Equal(t, []ast.Kind{ast.KindBranch, ast.KindReturn}, childKinds(a, root))
	branch := a.Get(a.Get(root).Children[0])
	require.NotEqual(t, ast.NilNode, branch.OnTrue)
	require.NotEqual(t, ast.NilNode, branch.OnFalse)
	assert.Equal(t, []ast.Kind{ast.KindBasic}, childKinds(a, branch.OnTrue))
	assert.Empty(t, a.Get(branch.OnFalse).Children)
}

func TestRunBranch(t *testing.T) {
	// pc0: if-eqz v0, +3 (to pc3); pc2/pc3: return-void. Both targets are
	// terminal with no outgoing edges, so neither is dominated-with-
	// successors: both land as siblings of the Branch, and each arm is
	// just an empty continuation into an already-placed sibling.
	insns := []uint16{0x0038, 0x0003, 0x000e, 0x000e}

	a, root, err := Run(insns)
	require.NoError(t, err)

	require.Equal(t, []ast.Kind{ast.KindBranch, ast.KindReturn, ast.KindReturn}, childKinds(a, root))
	assert.Equal(t, []int{0, 2, 3}, childHeads(a, root))

	branch := a.Get(a.Get(root).Children[0])
	require.NotEqual(t, ast.NilNode, branch.OnTrue)
	require.NotEqual(t, ast.NilNode, branch.OnFalse)
	assert.Empty(t, a.Get(branch.OnTrue).Children)
	assert.Empty(t, a.Get(branch.OnFalse).Children)
}

func childHeads(a *ast.Arena, compound ast.NodeID) []int {
	c := a.Get(compound)
	heads := make([]int, len(c.Children))
	for i, id := range c.Children {
		heads[i] = a.Get(id).Head
	}
	return heads
}

