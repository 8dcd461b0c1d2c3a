// Package instr holds the process-wide, immutable table describing the 256
// Dalvik-style opcodes the CFG builder and disassembler need: instruction
// size in 16-bit code units, operand format, and a best-effort textual
// rendering. It mirrors the format-class hierarchy of the original
// implementation's dex_asm.h (ILayout/FixedLayout<Size>/VarSizeBlock) but
// collapses the class-per-format design into one table of small closures,
// since Go has no use for a layout base class here.
package instr

import "fmt"

// Format names the closed set of operand-packing shapes a Dalvik-style
// instruction can take. The numeral is the instruction's size in 16-bit
// code units; the trailing letters name the operand shape, matching the
// vocabulary used throughout the original tool's disassembly.
type Format int

const (
	FmtUnknown Format = iota
	Fmt10x
	Fmt12x
	Fmt11n
	Fmt11x
	Fmt10t
	Fmt20t
	Fmt20bc
	Fmt22x
	Fmt21t
	Fmt21s
	Fmt21h
	Fmt21c
	Fmt23x
	Fmt22b
	Fmt22t
	Fmt22s
	Fmt22c
	Fmt22cs
	Fmt30t
	Fmt32x
	Fmt31i
	Fmt31t
	Fmt31c
	Fmt35c
	Fmt3rc
	Fmt51l
	Fmt45cc
	Fmt4rcc
)

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return "unknown"
}

var formatNames = map[Format]string{
	Fmt10x: "10x", Fmt12x: "12x", Fmt11n: "11n", Fmt11x: "11x", Fmt10t: "10t",
	Fmt20t: "20t", Fmt20bc: "20bc", Fmt22x: "22x", Fmt21t: "21t", Fmt21s: "21s",
	Fmt21h: "21h", Fmt21c: "21c", Fmt23x: "23x", Fmt22b: "22b", Fmt22t: "22t",
	Fmt22s: "22s", Fmt22c: "22c", Fmt22cs: "22cs", Fmt30t: "30t", Fmt32x: "32x",
	Fmt31i: "31i", Fmt31t: "31t", Fmt31c: "31c", Fmt35c: "35c", Fmt3rc: "3rc",
	Fmt51l: "51l", Fmt45cc: "45cc", Fmt4rcc: "4rcc",
}

// baseSize gives the fixed code-unit width of every format except the three
// payload pseudo-instructions, which are sized dynamically (see payloadSize).
var baseSize = map[Format]int{
	Fmt10x: 1, Fmt12x: 1, Fmt11n: 1, Fmt11x: 1, Fmt10t: 1,
	Fmt20t: 2, Fmt20bc: 2, Fmt22x: 2, Fmt21t: 2, Fmt21s: 2,
	Fmt21h: 2, Fmt21c: 2, Fmt23x: 2, Fmt22b: 2, Fmt22t: 2,
	Fmt22s: 2, Fmt22c: 2, Fmt22cs: 2, Fmt30t: 3, Fmt32x: 3,
	Fmt31i: 3, Fmt31t: 3, Fmt31c: 3, Fmt35c: 3, Fmt3rc: 3,
	Fmt51l: 5, Fmt45cc: 3, Fmt4rcc: 3,
}

// Def is the per-opcode table entry.
type Def struct {
	Opcode   byte
	Mnemonic string
	Format   Format
}

// Table is the dense, process-wide 256-entry opcode table.
var Table [256]Def

func def(op byte, mnemonic string, f Format) {
	Table[op] = Def{Opcode: op, Mnemonic: mnemonic, Format: f}
}

func init() {
	for i := range Table {
		Table[i] = Def{Opcode: byte(i), Mnemonic: "<unimpl>", Format: FmtUnknown}
	}

	def(0x00, "nop", Fmt10x)
	def(0x01, "move", Fmt12x)
	def(0x02, "move/from16", Fmt22x)
	def(0x03, "move/16", Fmt32x)
	def(0x04, "move-wide", Fmt12x)
	def(0x05, "move-wide/from16", Fmt22x)
	def(0x06, "move-wide/16", Fmt32x)
	def(0x07, "move-object", Fmt12x)
	def(0x08, "move-object/from16", Fmt22x)
	def(0x09, "move-object/16", Fmt32x)
	def(0x0a, "move-result", Fmt11x)
	def(0x0b, "move-result-wide", Fmt11x)
	def(0x0c, "move-result-object", Fmt11x)
	def(0x0d, "move-exception", Fmt11x)
	def(0x0e, "return-void", Fmt10x)
	def(0x0f, "return", Fmt11x)
	def(0x10, "return-wide", Fmt11x)
	def(0x11, "return-object", Fmt11x)
	def(0x12, "const/4", Fmt11n)
	def(0x13, "const/16", Fmt21s)
	def(0x14, "const", Fmt31i)
	def(0x15, "const/high16", Fmt21h)
	def(0x16, "const-wide/16", Fmt21s)
	def(0x17, "const-wide/32", Fmt31i)
	def(0x18, "const-wide", Fmt51l)
	def(0x19, "const-wide/high16", Fmt21h)
	def(0x1a, "const-string", Fmt21c)
	def(0x1b, "const-string/jumbo", Fmt31c)
	def(0x1c, "const-class", Fmt21c)
	def(0x1d, "monitor-enter", Fmt11x)
	def(0x1e, "monitor-exit", Fmt11x)
	def(0x1f, "check-cast", Fmt21c)
	def(0x20, "instance-of", Fmt22c)
	def(0x21, "array-length", Fmt12x)
	def(0x22, "new-instance", Fmt21c)
	def(0x23, "new-array", Fmt22c)
	def(0x24, "filled-new-array", Fmt35c)
	def(0x25, "filled-new-array/range", Fmt3rc)
	def(0x26, "fill-array-data", Fmt31t)
	def(0x27, "throw", Fmt11x)
	def(0x28, "goto", Fmt10t)
	def(0x29, "goto/16", Fmt20t)
	def(0x2a, "goto/32", Fmt30t)
	def(0x2b, "packed-switch", Fmt31t)
	def(0x2c, "sparse-switch", Fmt31t)
	def(0x2d, "cmpl-float", Fmt23x)
	def(0x2e, "cmpg-float", Fmt23x)
	def(0x2f, "cmpl-double", Fmt23x)
	def(0x30, "cmpg-double", Fmt23x)
	def(0x31, "cmp-long", Fmt23x)
	def(0x32, "if-eq", Fmt22t)
	def(0x33, "if-ne", Fmt22t)
	def(0x34, "if-lt", Fmt22t)
	def(0x35, "if-ge", Fmt22t)
	def(0x36, "if-gt", Fmt22t)
	def(0x37, "if-le", Fmt22t)
	def(0x38, "if-eqz", Fmt21t)
	def(0x39, "if-nez", Fmt21t)
	def(0x3a, "if-ltz", Fmt21t)
	def(0x3b, "if-gez", Fmt21t)
	def(0x3c, "if-gtz", Fmt21t)
	def(0x3d, "if-lez", Fmt21t)

	arrayOps := []string{"aget", "aget-wide", "aget-object", "aget-boolean", "aget-byte", "aget-char", "aget-short",
		"aput", "aput-wide", "aput-object", "aput-boolean", "aput-byte", "aput-char", "aput-short"}
	for i, m := range arrayOps {
		def(byte(0x44+i), m, Fmt23x)
	}
	instFieldOps := []string{"iget", "iget-wide", "iget-object", "iget-boolean", "iget-byte", "iget-char", "iget-short",
		"iput", "iput-wide", "iput-object", "iput-boolean", "iput-byte", "iput-char", "iput-short"}
	for i, m := range instFieldOps {
		def(byte(0x52+i), m, Fmt22c)
	}
	statFieldOps := []string{"sget", "sget-wide", "sget-object", "sget-boolean", "sget-byte", "sget-char", "sget-short",
		"sput", "sput-wide", "sput-object", "sput-boolean", "sput-byte", "sput-char", "sput-short"}
	for i, m := range statFieldOps {
		def(byte(0x60+i), m, Fmt21c)
	}

	def(0x6e, "invoke-virtual", Fmt35c)
	def(0x6f, "invoke-super", Fmt35c)
	def(0x70, "invoke-direct", Fmt35c)
	def(0x71, "invoke-static", Fmt35c)
	def(0x72, "invoke-interface", Fmt35c)
	def(0x74, "invoke-virtual/range", Fmt3rc)
	def(0x75, "invoke-super/range", Fmt3rc)
	def(0x76, "invoke-direct/range", Fmt3rc)
	def(0x77, "invoke-static/range", Fmt3rc)
	def(0x78, "invoke-interface/range", Fmt3rc)

	unaryOps := []string{"neg-int", "not-int", "neg-long", "not-long", "neg-float", "neg-double",
		"int-to-long", "int-to-float", "int-to-double", "long-to-int", "long-to-float", "long-to-double",
		"float-to-int", "float-to-long", "float-to-double", "double-to-int", "double-to-long", "double-to-float",
		"int-to-byte", "int-to-char", "int-to-short"}
	for i, m := range unaryOps {
		def(byte(0x7b+i), m, Fmt12x)
	}

	binOps := []string{"add", "sub", "mul", "div", "rem", "and", "or", "xor", "shl", "shr", "ushr"}
	for i, m := range binOps {
		def(byte(0x90+i), m+"-int", Fmt23x)
	}
	longOps := []string{"add", "sub", "mul", "div", "rem", "and", "or", "xor", "shl", "shr", "ushr"}
	for i, m := range longOps {
		def(byte(0x9b+i), m+"-long", Fmt23x)
	}
	floatOps := []string{"add", "sub", "mul", "div", "rem"}
	for i, m := range floatOps {
		def(byte(0xa6+i), m+"-float", Fmt23x)
		def(byte(0xab+i), m+"-double", Fmt23x)
	}
	for i, m := range binOps {
		def(byte(0xb0+i), m+"-int/2addr", Fmt12x)
	}
	for i, m := range longOps {
		def(byte(0xbb+i), m+"-long/2addr", Fmt12x)
	}
	for i, m := range floatOps {
		def(byte(0xc6+i), m+"-float/2addr", Fmt12x)
		def(byte(0xcb+i), m+"-double/2addr", Fmt12x)
	}

	lit16Ops := []string{"add-int/lit16", "rsub-int", "mul-int/lit16", "div-int/lit16", "rem-int/lit16", "and-int/lit16", "or-int/lit16", "xor-int/lit16"}
	for i, m := range lit16Ops {
		def(byte(0xd0+i), m, Fmt22s)
	}
	lit8Ops := []string{"add-int/lit8", "rsub-int/lit8", "mul-int/lit8", "div-int/lit8", "rem-int/lit8", "and-int/lit8", "or-int/lit8", "xor-int/lit8", "shl-int/lit8", "shr-int/lit8", "ushr-int/lit8"}
	for i, m := range lit8Ops {
		def(byte(0xd8+i), m, Fmt22b)
	}

	def(0xfa, "invoke-polymorphic", Fmt45cc)
	def(0xfb, "invoke-polymorphic/range", Fmt4rcc)
	def(0xfc, "invoke-custom", Fmt35c)
	def(0xfd, "invoke-custom/range", Fmt3rc)
	def(0xfe, "const-method-handle", Fmt21c)
	def(0xff, "const-method-type", Fmt21c)
}

// payloadMode reads the high byte of unit 0, distinguishing the three
// switch/array payload pseudo-instructions that overlay opcode 0x00 (nop)
// from a plain nop. See dex_asm.h's VarSizeBlock::mode.
func payloadMode(insns []uint16, pc int) int {
	return int(insns[pc]>>8) & 0xff
}

func payloadSize(insns []uint16, pc int) (int, error) {
	if pc+1 >= len(insns) {
		return 0, fmt.Errorf("instr: truncated payload header at pc %d", pc)
	}
	switch payloadMode(insns, pc) {
	case 1: // packed-switch-payload
		return int(insns[pc+1])*2 + 4, nil
	case 2: // sparse-switch-payload
		return int(insns[pc+1])*4 + 2, nil
	case 3: // fill-array-data-payload
		if pc+2 >= len(insns) {
			return 0, fmt.Errorf("instr: truncated fill-array-data header at pc %d", pc)
		}
		elemWidth := uint32(insns[pc+1])
		elemCount := uint32(insns[pc+2]) | uint32(insns[pc+3])<<16
		return int((elemWidth*elemCount+1)/2) + 4, nil
	default:
		return 1, nil
	}
}

// Size reports the size, in 16-bit code units, of the instruction at pc.
// It never fails for a recognized fixed-width opcode; a corrupt payload
// header is reported as an error (a malformed-container condition per the
// error taxonomy), and any opcode absent from Table falls through to size 1.
func Size(insns []uint16, pc int) (int, error) {
	if pc >= len(insns) {
		return 0, fmt.Errorf("instr: pc %d out of range (%d units)", pc, len(insns))
	}
	opcode := byte(insns[pc])
	if opcode == 0x00 && pc+3 < len(insns) {
		if payloadMode(insns, pc) != 0 {
			return payloadSize(insns, pc)
		}
	}
	def := Table[opcode]
	if sz, ok := baseSize[def.Format]; ok {
		return sz, nil
	}
	return 1, nil
}

// Opcode extracts the opcode byte of the instruction at pc.
func Opcode(insns []uint16, pc int) byte {
	return byte(insns[pc])
}

// IsReturn reports whether opcode is one of the four return instructions.
func IsReturn(opcode byte) bool { return opcode >= 0x0e && opcode <= 0x11 }

// IsThrow reports whether opcode is throw.
func IsThrow(opcode byte) bool { return opcode == 0x27 }

// IsBBranch reports whether opcode is a binary (two-register) conditional branch.
func IsBBranch(opcode byte) bool { return opcode >= 0x32 && opcode <= 0x37 }

// IsUBranch reports whether opcode is a unary (single-register) conditional branch.
func IsUBranch(opcode byte) bool { return opcode >= 0x38 && opcode <= 0x3d }

// IsBranch reports whether opcode is any conditional branch, unary or binary.
func IsBranch(opcode byte) bool { return IsBBranch(opcode) || IsUBranch(opcode) }

// IsGoto reports whether opcode is one of the three unconditional goto forms.
func IsGoto(opcode byte) bool { return opcode >= 0x28 && opcode <= 0x2a }

// BranchTarget computes the absolute pc a branch or goto instruction at pc
// jumps to when taken, per the format-specific displacement rule in §4.A.
func BranchTarget(insns []uint16, pc int) (int, bool) {
	opcode := byte(insns[pc])
	switch {
	case IsBBranch(opcode), IsUBranch(opcode):
		disp := int16(insns[pc+1])
		return pc + int(disp), true
	case opcode == 0x28: // goto, signed 8-bit in high byte of unit 0
		disp := int8(insns[pc] >> 8)
		return pc + int(disp), true
	case opcode == 0x29: // goto/16
		disp := int16(insns[pc+1])
		return pc + int(disp), true
	case opcode == 0x2a: // goto/32
		lo := uint32(insns[pc+1])
		hi := uint32(insns[pc+2])
		disp := int32(lo | hi<<16)
		return pc + int(disp), true
	default:
		return 0, false
	}
}

// Disassemble renders a best-effort textual form of the instruction at pc.
// Operands are decoded for the 10t/20t/30t/21t/22t branch formats and for
// 11n, 12x and 11x; every other format is rendered as its mnemonic alone.
// Method/field/string/type indices are never resolved to symbols.
func Disassemble(insns []uint16, pc int) string {
	opcode := byte(insns[pc])
	def := Table[opcode]
	if def.Mnemonic == "<unimpl>" {
		return "<unimpl>"
	}
	switch def.Format {
	case Fmt10t, Fmt20t, Fmt30t:
		if target, ok := BranchTarget(insns, pc); ok {
			return fmt.Sprintf("%s %+d", def.Mnemonic, target-pc)
		}
	case Fmt21t:
		vA := insns[pc] >> 8
		if target, ok := BranchTarget(insns, pc); ok {
			return fmt.Sprintf("%s v%d, %+d", def.Mnemonic, vA, target-pc)
		}
	case Fmt22t:
		vA := insns[pc] >> 8 & 0xf
		vB := insns[pc] >> 12 & 0xf
		if target, ok := BranchTarget(insns, pc); ok {
			return fmt.Sprintf("%s v%d, v%d, %+d", def.Mnemonic, vA, vB, target-pc)
		}
	case Fmt11n:
		vA := insns[pc] >> 8 & 0xf
		lit := int8(insns[pc]>>12) << 4 >> 4
		return fmt.Sprintf("%s v%d, #%+d", def.Mnemonic, vA, lit)
	case Fmt12x:
		vA := insns[pc] >> 8 & 0xf
		vB := insns[pc] >> 12 & 0xf
		return fmt.Sprintf("%s v%d, v%d", def.Mnemonic, vA, vB)
	case Fmt11x:
		vA := insns[pc] >> 8
		return fmt.Sprintf("%s v%d", def.Mnemonic, vA)
	}
	return def.Mnemonic
}
