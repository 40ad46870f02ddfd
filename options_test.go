// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingDelegate struct {
	willSaveCalled bool
	didSaveErr     error
	didSaveCalled  bool
	denyPath       string
}

func (d *recordingDelegate) WillSave(a *Archive) { d.willSaveCalled = true }
func (d *recordingDelegate) DidSave(a *Archive, err error) {
	d.didSaveCalled = true
	d.didSaveErr = err
}
func (d *recordingDelegate) ShouldAddFile(a *Archive, mpqPath string) bool {
	return mpqPath != d.denyPath
}

func TestAddFileWithOptsCompressorNoneStoresUncompressed(t *testing.T) {
	tmpDir := t.TempDir()
	srcPath := filepath.Join(tmpDir, "src.bin")
	data := roundTripData()
	require.NoError(t, os.WriteFile(srcPath, data, 0644))

	mpqPath := filepath.Join(tmpDir, "out.mpq")
	archive, err := Create(mpqPath, 10)
	require.NoError(t, err)

	require.NoError(t, archive.AddFileWithOpts(srcPath, "Data\\src.bin", WithCompressor(CompressorNone)))
	require.NoError(t, archive.Close())

	readArchive, err := Open(mpqPath)
	require.NoError(t, err)
	defer readArchive.Close()

	extractPath := filepath.Join(tmpDir, "extracted.bin")
	require.NoError(t, readArchive.ExtractFile("Data\\src.bin", extractPath))

	extracted, err := os.ReadFile(extractPath)
	require.NoError(t, err)
	require.Equal(t, data, extracted)
}

func TestAddFileWithOptsOverwrite(t *testing.T) {
	tmpDir := t.TempDir()
	srcPath := filepath.Join(tmpDir, "src.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("first"), 0644))

	mpqPath := filepath.Join(tmpDir, "out.mpq")
	archive, err := Create(mpqPath, 10)
	require.NoError(t, err)

	require.NoError(t, archive.AddFileWithOpts(srcPath, "file.txt"))

	require.NoError(t, os.WriteFile(srcPath, []byte("second"), 0644))
	require.NoError(t, archive.AddFileWithOpts(srcPath, "file.txt", WithOverwrite(true)))

	require.Len(t, archive.pendingFiles, 1)
	require.Equal(t, "second", string(archive.pendingFiles[0].data))
}

func TestDelegateHooks(t *testing.T) {
	tmpDir := t.TempDir()
	srcPath := filepath.Join(tmpDir, "src.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("content"), 0644))

	mpqPath := filepath.Join(tmpDir, "out.mpq")
	archive, err := Create(mpqPath, 10)
	require.NoError(t, err)

	d := &recordingDelegate{denyPath: "denied.txt"}
	archive.SetDelegate(d)

	require.NoError(t, archive.AddFileWithOpts(srcPath, "allowed.txt"))
	require.NoError(t, archive.AddFileWithOpts(srcPath, "denied.txt"))
	require.NoError(t, archive.Close())

	require.True(t, d.willSaveCalled)
	require.True(t, d.didSaveCalled)
	require.NoError(t, d.didSaveErr)

	readArchive, err := Open(mpqPath)
	require.NoError(t, err)
	defer readArchive.Close()

	require.True(t, readArchive.HasFile("allowed.txt"))
	require.False(t, readArchive.HasFile("denied.txt"))
}

func TestOpenWithOptionsOffset(t *testing.T) {
	tmpDir := t.TempDir()
	srcPath := filepath.Join(tmpDir, "src.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("embedded archive body"), 0644))

	mpqPath := filepath.Join(tmpDir, "embedded.mpq")
	archive, err := Create(mpqPath, 10)
	require.NoError(t, err)
	require.NoError(t, archive.AddFile(srcPath, "file.txt"))
	require.NoError(t, archive.Close())

	raw, err := os.ReadFile(mpqPath)
	require.NoError(t, err)

	prefixed := filepath.Join(tmpDir, "prefixed.mpq")
	prefix := []byte("this is a self-extracting stub before the archive header")
	require.NoError(t, os.WriteFile(prefixed, append(prefix, raw...), 0644))

	readArchive, err := OpenWithOptions(prefixed, WithOffset(int64(len(prefix))))
	require.NoError(t, err)
	defer readArchive.Close()

	require.True(t, readArchive.HasFile("file.txt"))
}

func TestAddFileWithOptsCodecSelection(t *testing.T) {
	tmpDir := t.TempDir()
	srcPath := filepath.Join(tmpDir, "src.bin")
	data := roundTripData()
	require.NoError(t, os.WriteFile(srcPath, data, 0644))

	codecs := []Compressor{CompressorZlib, CompressorBzip2, CompressorPKWare, CompressorHuffman}

	for i, codec := range codecs {
		mpqPath := filepath.Join(tmpDir, codec.String()+".mpq")
		archive, err := Create(mpqPath, 10)
		require.NoError(t, err)

		mpqName := "file" + string(rune('0'+i)) + ".bin"
		require.NoError(t, archive.AddFileWithOpts(srcPath, mpqName, WithCompressor(codec), WithQuality(5)))
		require.NoError(t, archive.Close())

		readArchive, err := Open(mpqPath)
		require.NoError(t, err)

		extractPath := filepath.Join(tmpDir, codec.String()+".out")
		require.NoError(t, readArchive.ExtractFile(mpqName, extractPath))
		require.NoError(t, readArchive.Close())

		extracted, err := os.ReadFile(extractPath)
		require.NoError(t, err)
		require.Equal(t, data, extracted, "codec %s", codec)
	}
}

func TestCreateWithOptionsVersion(t *testing.T) {
	tmpDir := t.TempDir()
	mpqPath := filepath.Join(tmpDir, "v2.mpq")

	archive, err := CreateWithOptions(mpqPath, WithVersion(FormatV2), WithMaxFileCount(20))
	require.NoError(t, err)
	require.NoError(t, archive.Close())

	readArchive, err := Open(mpqPath)
	require.NoError(t, err)
	defer readArchive.Close()
}
