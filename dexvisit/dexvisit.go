// Package dexvisit walks a parsed DEX container's classes and methods,
// reconstructing each method's structured AST along the way, and reports
// what it finds through a caller-supplied visitor. It is grounded on the
// teacher's dexapkvisit/dexread pair: dexapkvisit.DexApkVisitor names the
// callback surface, and dexread.ReadDEX/examineClass/examineMethod name
// the walk order (dex header, then each class_def, then its direct and
// virtual methods in turn); this port replaces the teacher's own
// ULEB128 class_data walk with dex.Reader's already-parsed ClassDef
// tables, and adds the AST reconstruction step and the per-method error
// callback the teacher's log.Fatalf-on-any-error style had no room for.
package dexvisit

import (
	"github.com/pkg/errors"

	"github.com/egorich239/drex/ast"
	"github.com/egorich239/drex/dasm"
	"github.com/egorich239/drex/dex"
)

// DexApkVisitor receives callbacks as Walk descends into a DEX file's
// classes and methods. It extends the teacher's DexApkVisitor with an
// AST-carrying VisitMethod (insns/arena/root are nil/nil/ast.NilNode for
// a method with no code_item, e.g. abstract or native; insns is kept
// alongside the arena so a visitor can disassemble individual nodes by
// head pc without re-reading the code_item) and a VisitMethodError hook
// so one method's unreconstructable control flow doesn't abort the walk
// of the rest of the file.
type DexApkVisitor interface {
	VisitAPK(apk string)
	VisitDEX(dexName string, sha1signature [20]byte)
	VisitClass(classname string, nmethods uint32)
	VisitMethod(methodname string, methodIdx uint64, codeOffset uint64, insns []uint16, arena *ast.Arena, root ast.NodeID)
	VisitMethodError(methodname string, methodIdx uint64, err error)
	Verbose(vlevel int, s string, a ...interface{})
}

// Walk visits every class and method of r, in class_def order and, within
// each class, direct methods followed by virtual methods, matching the
// teacher's examineClass. It returns an error only for a malformed
// container (an unresolvable class or method name); a single method's
// decode or reconstruction failure is reported via VisitMethodError and
// does not stop the walk.
func Walk(r *dex.Reader, dexName string, visitor DexApkVisitor) error {
	visitor.VisitDEX(dexName, r.Header.Sha1Sig)

	for i, cd := range r.ClassDefs {
		className, err := r.TypeName(cd.TypeIdx)
		if err != nil {
			return errors.Wrapf(err, "dexvisit: class_def %d type name", i)
		}
		numMethods := uint32(len(cd.DirectMethods) + len(cd.VirtualMethods))
		visitor.Verbose(1, "class %d type idx is %d", i, cd.TypeIdx)
		visitor.VisitClass(className, numMethods)

		if err := walkMethods(r, cd.DirectMethods, visitor); err != nil {
			return err
		}
		if err := walkMethods(r, cd.VirtualMethods, visitor); err != nil {
			return err
		}
	}
	return nil
}

// walkMethods visits one class_data_item method list, delta-decoding
// method_idx_diff into an absolute method index that resets at the start
// of the list, per the class_data_item encoding (SPEC_FULL.md §6).
func walkMethods(r *dex.Reader, methods []dex.EncodedMethod, visitor DexApkVisitor) error {
	var methodIdx uint64
	for i, m := range methods {
		if i == 0 {
			methodIdx = uint64(m.MethodIdxDiff)
		} else {
			methodIdx += uint64(m.MethodIdxDiff)
		}
		if err := visitMethod(r, methodIdx, uint64(m.CodeOffs), visitor); err != nil {
			return err
		}
	}
	return nil
}

func visitMethod(r *dex.Reader, methodIdx, codeOffset uint64, visitor DexApkVisitor) error {
	if int(methodIdx) >= len(r.MethodIDs) {
		return errors.Errorf("dexvisit: method idx %d out of range", methodIdx)
	}
	name, err := r.String(int(r.MethodIDs[methodIdx].NameIdx))
	if err != nil {
		return errors.Wrapf(err, "dexvisit: method %d name", methodIdx)
	}
	visitor.Verbose(1, "method idx %d off %d", methodIdx, codeOffset)

	if codeOffset == 0 {
		// Abstract or native: no code_item, nothing to reconstruct.
		visitor.VisitMethod(name, methodIdx, codeOffset, nil, nil, ast.NilNode)
		return nil
	}

	ci, err := r.ReadCodeItem(uint32(codeOffset))
	if err != nil {
		visitor.VisitMethodError(name, methodIdx, errors.Wrap(err, "reading code_item"))
		return nil
	}

	arena, root, err := dasm.Run(ci.Insns)
	if err != nil {
		visitor.VisitMethodError(name, methodIdx, errors.Wrap(err, "reconstructing ast"))
		return nil
	}
	visitor.VisitMethod(name, methodIdx, codeOffset, ci.Insns, arena, root)
	return nil
}
