// Package testfix contains test helper functions: a visitor that
// captures callbacks for later inspection, and a whitespace-squeeze
// helper for comparing rendered AST text. It is grounded on the
// teacher's dexapktest package, extended for the AST-carrying
// VisitMethod signature and the VisitMethodError hook this repository's
// DexApkVisitor adds.
package testfix

import (
	"fmt"
	"regexp"

	"github.com/egorich239/drex/ast"
)

// CaptureVisitor is a dexvisit.DexApkVisitor that records every callback
// as a formatted line, in call order, for later inspection or comparison
// against an expected transcript.
type CaptureVisitor struct {
	Result []string
}

func (c *CaptureVisitor) VisitAPK(apk string) {
	c.Result = append(c.Result, fmt.Sprintf("APK %s", apk))
}

func (c *CaptureVisitor) VisitDEX(dexname string, sha1signature [20]byte) {
	c.Result = append(c.Result, fmt.Sprintf(" DEX %s sha1 %x", dexname, sha1signature))
}

func (c *CaptureVisitor) VisitClass(classname string, nmethods uint32) {
	c.Result = append(c.Result, fmt.Sprintf("  class %s methods: %d", classname, nmethods))
}

func (c *CaptureVisitor) VisitMethod(methodname string, methodIdx uint64, codeOffset uint64, insns []uint16, arena *ast.Arena, root ast.NodeID) {
	c.Result = append(c.Result, fmt.Sprintf("   method id %d name '%s' code offset %d reconstructed %t",
		methodIdx, methodname, codeOffset, arena != nil))
}

func (c *CaptureVisitor) VisitMethodError(methodname string, methodIdx uint64, err error) {
	c.Result = append(c.Result, fmt.Sprintf("   method id %d name '%s' error: %v", methodIdx, methodname, err))
}

func (c *CaptureVisitor) Verbose(vlevel int, s string, a ...interface{}) {}

var whitespace = regexp.MustCompile(`[ \n\t]+`)

// SqueezeWhite collapses runs of spaces/tabs/newlines to a single space,
// for comparing multi-line rendered output without depending on its exact
// indentation.
func SqueezeWhite(s string) string {
	return whitespace.ReplaceAllLiteralString(s, " ")
}
