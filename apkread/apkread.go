// Package apkread examines Android APK files. An APK file is basically a
// ZIP file that contains an Android manifest and a series of DEX files,
// strings, resources, bitmaps, and assorted other items. This package looks
// only at the DEX files, not the other bits and pieces (of which there are
// many).
package apkread

import (
	"archive/zip"
	"io"
	"os"
	"regexp"

	"github.com/pkg/errors"

	"github.com/egorich239/drex/dex"
	"github.com/egorich239/drex/dexvisit"
)

var isDex = regexp.MustCompile(`^\S+\.dex$`)

// ReadAPK opens the specified APK file 'apk' and walks the contents of any
// DEX files it contains, making callbacks at various points through a
// user-supplied visitor object 'visitor'. See dexvisit.DexApkVisitor for
// more info on which DEX/APK parts are visited.
func ReadAPK(apk string, visitor dexvisit.DexApkVisitor) error {
	rc, err := zip.OpenReader(apk)
	if err != nil {
		return errors.Wrapf(err, "apkread: unable to open APK %s", apk)
	}
	defer rc.Close()
	z := &rc.Reader

	visitor.VisitAPK(apk)
	visitor.Verbose(1, "APK %s contains %d entries", apk, len(z.File))

	for i := 0; i < len(z.File); i++ {
		entryName := z.File[i].Name
		if !isDex.MatchString(entryName) {
			continue
		}
		visitor.Verbose(1, "dex file %s at entry %d", entryName, i)
		if err := readDexEntry(apk, z.File[i], visitor); err != nil {
			return err
		}
	}
	return nil
}

// ReadDexFile examines a raw (not APK-embedded) .dex file at dexFilePath,
// making the same visitor callbacks ReadAPK would make for one embedded
// DEX entry. It mirrors the teacher's dexread.ReadDEXFile, which wraps a
// bare *os.File into the same ReadDEX call its APK-walking sibling uses.
func ReadDexFile(dexFilePath string, visitor dexvisit.DexApkVisitor) error {
	content, err := os.ReadFile(dexFilePath)
	if err != nil {
		return errors.Wrapf(err, "apkread: reading dex file %s", dexFilePath)
	}

	r, err := dex.New(content)
	if err != nil {
		return errors.Wrapf(err, "apkread: parsing dex file %s", dexFilePath)
	}
	return dexvisit.Walk(r, dexFilePath, visitor)
}

func readDexEntry(apk string, f *zip.File, visitor dexvisit.DexApkVisitor) error {
	reader, err := f.Open()
	if err != nil {
		return errors.Wrapf(err, "apkread: opening apk %s dex %s", apk, f.Name)
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		return errors.Wrapf(err, "apkread: reading apk %s dex %s", apk, f.Name)
	}
	if uint64(len(content)) != f.UncompressedSize64 {
		return errors.Errorf("apkread: apk %s dex %s: expected %d bytes read %d",
			apk, f.Name, f.UncompressedSize64, len(content))
	}

	r, err := dex.New(content)
	if err != nil {
		return errors.Wrapf(err, "apkread: parsing apk %s dex %s", apk, f.Name)
	}
	return dexvisit.Walk(r, f.Name, visitor)
}
