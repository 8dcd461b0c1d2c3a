package testfix

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/egorich239/drex/ast"
)

func TestCaptureVisitorRecordsCallbacksInOrder(t *testing.T) {
	c := &CaptureVisitor{}
	c.VisitAPK("foo.apk")
	c.VisitDEX("classes.dex", [20]byte{1, 2, 3})
	c.VisitClass("Foo", 2)
	c.VisitMethod("bar", 0, 100, []uint16{0x000e}, ast.NewArena(), 0)
	c.VisitMethod("qux", 1, 0, nil, nil, ast.NilNode)
	c.VisitMethodError("baz", 2, assert.AnError)

	require := []string{
		"APK foo.apk",
		" DEX classes.dex sha1 0102030000000000000000000000000000000000",
		"  class Foo methods: 2",
		"   method id 0 name 'bar' code offset 100 reconstructed true",
		"   method id 1 name 'qux' code offset 0 reconstructed false",
		"   method id 2 name 'baz' error: assert.AnError general error for testing",
	}
	assert.Equal(t, require, c.Result)
}

func TestSqueezeWhiteCollapsesRuns(t *testing.T) {
	assert.Equal(t, "a b c", SqueezeWhite("a  b\n\tc"))
}
