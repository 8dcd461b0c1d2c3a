package main

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egorich239/drex/dump"
)

func TestRunRejectsZeroPaths(t *testing.T) {
	log := logrus.New()
	log.SetOutput(&bytes.Buffer{})
	app := buildApp(log)

	err := app.Run([]string{"drex"})
	assert.Error(t, err)
}

func TestRunAcceptsRepeatedVFlag(t *testing.T) {
	log := logrus.New()
	log.SetOutput(&bytes.Buffer{})
	app := buildApp(log)

	// Repeating -v should not itself be a parse error, even though the
	// last occurrence wins; the file argument does not exist, so the run
	// still fails, but for a file-not-found reason, not a flag error.
	err := app.Run([]string{"drex", "-v", "1", "-v", "2", "-dump", "missing.dex"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "one or more files failed")
}

func TestReadOneDispatchesByExtension(t *testing.T) {
	log := logrus.New()
	log.SetOutput(&bytes.Buffer{})
	visitor := &dump.DexApkDumper{Log: log}

	err := readOne("nonexistent.dex", visitor)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "reading dex file")

	err = readOne("nonexistent.apk", visitor)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unable to open APK")
}
