package apkread

import (
	"archive/zip"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egorich239/drex/ast"
)

// buildMinimalDex lays out, by hand, a DEX buffer with one class ("Foo")
// and one direct method ("bar") whose code_item is a single return-void
// instruction. Offsets mirror dex.go's header layout, the same way
// dexvisit's buildOneClassTwoMethodsDex fixture does.
func buildMinimalDex(t *testing.T) []byte {
	t.Helper()
	const (
		magicEndianMachine = 0x12345678
		offEndianTag       = 40
		offStringIDs       = 56
		offTypeIDs         = 64
		offMethodIDs       = 88
		offClassDefs       = 96

		stringIDsOff = 112
		typeIDsOff   = 120
		methodIDsOff = 124
		classDefsOff = 132
		classDataOff = 164

		str0Off = 190 // "LFoo;"
		str1Off = 200 // "bar"

		code0Off = 220

		total = 260
	)

	buf := make([]byte, total)
	le := binary.LittleEndian

	putU32 := func(off int, v uint32) { le.PutUint32(buf[off:off+4], v) }
	putU16 := func(off int, v uint16) { le.PutUint16(buf[off:off+2], v) }
	putULEB := func(off int, v uint64) int {
		for {
			b := byte(v & 0x7f)
			v >>= 7
			if v != 0 {
				b |= 0x80
			}
			buf[off] = b
			off++
			if v == 0 {
				return off
			}
		}
	}
	putString := func(off int, s string) {
		off = putULEB(off, uint64(len(s)))
		copy(buf[off:], s)
		buf[off+len(s)] = 0
	}

	putU32(offEndianTag, magicEndianMachine)

	putU32(offStringIDs, 2)
	putU32(offStringIDs+4, stringIDsOff)
	putU32(offTypeIDs, 1)
	putU32(offTypeIDs+4, typeIDsOff)
	putU32(offMethodIDs, 1)
	putU32(offMethodIDs+4, methodIDsOff)
	putU32(offClassDefs, 1)
	putU32(offClassDefs+4, classDefsOff)

	putU32(stringIDsOff, str0Off)
	putU32(stringIDsOff+4, str1Off)

	putU32(typeIDsOff, 0) // type 0's descriptor is string 0 ("LFoo;")

	// method_ids[0]: class 0, proto 0, name "bar" (string 1)
	putU16(methodIDsOff, 0)
	putU16(methodIDsOff+2, 0)
	putU32(methodIDsOff+4, 1)

	// class_defs[0]
	putU32(classDefsOff, 0)    // type_idx
	putU32(classDefsOff+4, 0)  // access_flags
	putU32(classDefsOff+8, 0)  // superclass_idx
	putU32(classDefsOff+12, 0) // interfaces_off
	putU32(classDefsOff+16, 0) // source_file_idx
	putU32(classDefsOff+20, 0) // annotations_off
	putU32(classDefsOff+24, classDataOff)
	putU32(classDefsOff+28, 0) // static_values_off

	// class_data_item: 0 static, 0 instance, 1 direct, 0 virtual methods.
	off := classDataOff
	off = putULEB(off, 0)
	off = putULEB(off, 0)
	off = putULEB(off, 1)
	off = putULEB(off, 0)
	off = putULEB(off, 0) // idx_diff (absolute idx 0, "bar")
	off = putULEB(off, 0) // access_flags
	_ = putULEB(off, code0Off)

	putString(str0Off, "LFoo;")
	putString(str1Off, "bar")

	// code_item: register_size=1, ins/outs/tries=0, debug_info_off=0,
	// insns_size=1, one return-void instruction.
	putU16(code0Off, 1)
	putU16(code0Off+2, 0)
	putU16(code0Off+4, 0)
	putU16(code0Off+6, 0)
	putU32(code0Off+8, 0)
	putU32(code0Off+12, 1)
	putU16(code0Off+16, 0x000e)

	return buf
}

// buildTestAPK writes a ZIP archive containing a single "classes.dex" entry
// (the buffer from buildMinimalDex) to a temp file and returns its path.
// The real go-read-a-dex example ships a fibonacci.apk fixture for this
// test, but no such .apk file exists anywhere in this pack, so this test
// builds one synthetically instead.
func buildTestAPK(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.apk")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("classes.dex")
	require.NoError(t, err)
	_, err = w.Write(buildMinimalDex(t))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	return path
}

type capturedMethod struct {
	name       string
	hasArena   bool
	codeOffset uint64
}

type captureVisitor struct {
	apk          string
	dexName      string
	classes      []string
	methods      []capturedMethod
	methodErrs   []string
	verboseCalls int
}

func (c *captureVisitor) VisitAPK(apk string) { c.apk = apk }

func (c *captureVisitor) VisitDEX(dexName string, sha1signature [20]byte) { c.dexName = dexName }

func (c *captureVisitor) VisitClass(classname string, nmethods uint32) {
	c.classes = append(c.classes, classname)
}

func (c *captureVisitor) VisitMethod(methodname string, methodIdx uint64, codeOffset uint64, insns []uint16, arena *ast.Arena, root ast.NodeID) {
	c.methods = append(c.methods, capturedMethod{name: methodname, hasArena: arena != nil, codeOffset: codeOffset})
}

func (c *captureVisitor) VisitMethodError(methodname string, methodIdx uint64, err error) {
	c.methodErrs = append(c.methodErrs, methodname)
}

func (c *captureVisitor) Verbose(vlevel int, s string, a ...interface{}) { c.verboseCalls++ }

func TestReadAPKWalksEmbeddedDex(t *testing.T) {
	path := buildTestAPK(t)

	v := &captureVisitor{}
	err := ReadAPK(path, v)
	require.NoError(t, err)

	assert.Equal(t, path, v.apk)
	assert.Equal(t, "classes.dex", v.dexName)
	assert.Equal(t, []string{"Foo"}, v.classes)
	require.Len(t, v.methods, 1)
	assert.Equal(t, "bar", v.methods[0].name)
	assert.True(t, v.methods[0].hasArena)
	assert.Empty(t, v.methodErrs)
}

func TestReadAPKIgnoresNonDexEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.apk")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("AndroidManifest.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte("not a dex"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	v := &captureVisitor{}
	err = ReadAPK(path, v)
	require.NoError(t, err)
	assert.Empty(t, v.classes)
}

func TestReadDexFileWalksRawDex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classes.dex")
	require.NoError(t, os.WriteFile(path, buildMinimalDex(t), 0o644))

	v := &captureVisitor{}
	err := ReadDexFile(path, v)
	require.NoError(t, err)

	assert.Equal(t, []string{"Foo"}, v.classes)
	require.Len(t, v.methods, 1)
	assert.Equal(t, "bar", v.methods[0].name)
}

func TestReadAPKRejectsMissingFile(t *testing.T) {
	v := &captureVisitor{}
	err := ReadAPK(filepath.Join(t.TempDir(), "does-not-exist.apk"), v)
	assert.Error(t, err)
}
