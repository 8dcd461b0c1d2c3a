package dump

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egorich239/drex/dasm"
)

func TestVisitMethodDumpsASTWhenRequested(t *testing.T) {
	insns := []uint16{0x000e} // return-void
	arena, root, err := dasm.Run(insns)
	require.NoError(t, err)

	d := &DexApkDumper{Dump: true}
	d.VisitMethod("bar", 0, 4, insns, arena, root)
	// No panic, no assertion on stdout content: this exercises the
	// renderNode traversal end to end for the simplest possible AST.
}

func TestVisitMethodErrorLogsWarning(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.TextFormatter{DisableColors: true})

	d := &DexApkDumper{Log: log}
	d.VisitMethodError("bar", 3, assert.AnError)

	assert.Contains(t, buf.String(), "bar")
	assert.Contains(t, buf.String(), "could not reconstruct method")
}

func TestVerboseRespectsVlevel(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetLevel(logrus.DebugLevel)

	d := &DexApkDumper{Vlevel: 1, Log: log}
	d.Verbose(2, "should not appear")
	assert.Empty(t, buf.String())

	d.Verbose(1, "should appear")
	assert.Contains(t, buf.String(), "should appear")
}
