package instr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeFixedWidth(t *testing.T) {
	cases := []struct {
		name string
		pc   int
		want int
	}{
		{"nop", 0, 1},
		{"move", 0, 1},
		{"const/16", 0, 2},
		{"goto/32", 0, 3},
		{"const-wide", 0, 5},
	}
	insns := [][]uint16{
		{0x0000},
		{0x0001},
		{0x0013, 0x0005},
		{0x002a, 0x0000, 0x0000},
		{0x0018, 0, 0, 0, 0},
	}
	for i, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Size(insns[i], c.pc)
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestSizeUnknownOpcodeFallsBackToOne(t *testing.T) {
	// 0x73 and 0x79 are gaps in the dense opcode space.
	insns := []uint16{0x0073}
	got, err := Size(insns, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestSizePackedSwitchPayload(t *testing.T) {
	// opcode 0x00 with mode byte 1 (packed-switch-payload), 3 targets.
	insns := []uint16{0x0100, 3, 0, 0, 0, 0, 0, 0, 0, 0}
	got, err := Size(insns, 0)
	require.NoError(t, err)
	assert.Equal(t, 3*2+4, got)
}

func TestSizeSparseSwitchPayload(t *testing.T) {
	insns := []uint16{0x0200, 2, 0, 0, 0, 0, 0, 0, 0, 0}
	got, err := Size(insns, 0)
	require.NoError(t, err)
	assert.Equal(t, 2*4+2, got)
}

func TestSizeFillArrayDataPayload(t *testing.T) {
	// element width 4 bytes, 2 elements -> (4*2+1)/2+4 = 8
	insns := []uint16{0x0300, 4, 2, 0, 0, 0, 0, 0, 0, 0}
	got, err := Size(insns, 0)
	require.NoError(t, err)
	assert.Equal(t, (4*2+1)/2+4, got)
}

func TestBranchTargetGoto(t *testing.T) {
	insns := []uint16{0x0a28} // goto, disp=+10 in high byte of unit0
	target, ok := BranchTarget(insns, 0)
	require.True(t, ok)
	assert.Equal(t, 10, target)
}

func TestBranchTargetIfEq(t *testing.T) {
	insns := []uint16{0x0132, 0x0005} // if-eq v1,v0 +5 (approx encoding)
	target, ok := BranchTarget(insns, 0)
	require.True(t, ok)
	assert.Equal(t, 5, target)
}

func TestOpcodeClassifiers(t *testing.T) {
	assert.True(t, IsReturn(0x0e))
	assert.True(t, IsReturn(0x11))
	assert.False(t, IsReturn(0x12))
	assert.True(t, IsThrow(0x27))
	assert.True(t, IsBBranch(0x32))
	assert.True(t, IsUBranch(0x38))
	assert.True(t, IsGoto(0x28))
	assert.True(t, IsGoto(0x2a))
	assert.False(t, IsGoto(0x2b))
}
