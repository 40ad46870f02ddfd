// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocaleSpecificVariants(t *testing.T) {
	tmpDir := t.TempDir()
	srcPath := filepath.Join(tmpDir, "src.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("neutral body"), 0644))
	srcEnPath := filepath.Join(tmpDir, "src_en.txt")
	require.NoError(t, os.WriteFile(srcEnPath, []byte("english body"), 0644))

	const localeEnglish = 0x0409

	mpqPath := filepath.Join(tmpDir, "locales.mpq")
	archive, err := Create(mpqPath, 10)
	require.NoError(t, err)

	require.NoError(t, archive.AddFileWithOpts(srcPath, "strings.txt"))
	require.NoError(t, archive.AddFileWithOpts(srcEnPath, "strings.txt", WithLocale(localeEnglish)))
	require.NoError(t, archive.Close())

	readArchive, err := Open(mpqPath)
	require.NoError(t, err)
	defer readArchive.Close()

	locales, err := readArchive.LocalesForFile("strings.txt")
	require.NoError(t, err)
	require.ElementsMatch(t, []uint16{localeNeutral, localeEnglish}, locales)

	neutralOut := filepath.Join(tmpDir, "neutral.out")
	require.NoError(t, readArchive.ExtractFileLocale("strings.txt", neutralOut, localeNeutral))
	neutralData, err := os.ReadFile(neutralOut)
	require.NoError(t, err)
	require.Equal(t, "neutral body", string(neutralData))

	englishOut := filepath.Join(tmpDir, "english.out")
	require.NoError(t, readArchive.ExtractFileLocale("strings.txt", englishOut, localeEnglish))
	englishData, err := os.ReadFile(englishOut)
	require.NoError(t, err)
	require.Equal(t, "english body", string(englishData))
}

func TestOpenFileGatesSave(t *testing.T) {
	tmpDir := t.TempDir()
	srcPath := filepath.Join(tmpDir, "src.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("hello"), 0644))

	mpqPath := filepath.Join(tmpDir, "gate.mpq")
	archive, err := Create(mpqPath, 10)
	require.NoError(t, err)
	require.NoError(t, archive.AddFile(srcPath, "file.txt"))
	require.NoError(t, archive.Close())

	modArchive, err := OpenForModify(mpqPath)
	require.NoError(t, err)

	handle, err := modArchive.OpenFile("file.txt")
	require.NoError(t, err)

	err = modArchive.Close()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrFileIsOpen)

	require.NoError(t, handle.Close())
	require.NoError(t, modArchive.Close())
}

func TestUndoLastOperationRestoresRemovedFile(t *testing.T) {
	tmpDir := t.TempDir()
	srcPath := filepath.Join(tmpDir, "src.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("keep me"), 0644))

	mpqPath := filepath.Join(tmpDir, "undo.mpq")
	archive, err := Create(mpqPath, 10)
	require.NoError(t, err)
	require.NoError(t, archive.AddFile(srcPath, "file.txt"))
	require.NoError(t, archive.Close())

	modArchive, err := OpenForModify(mpqPath)
	require.NoError(t, err)

	require.True(t, modArchive.HasFile("file.txt"))
	require.NoError(t, modArchive.RemoveFile("file.txt"))
	require.False(t, modArchive.HasFile("file.txt"))

	require.NoError(t, modArchive.UndoLastOperation())
	require.True(t, modArchive.HasFile("file.txt"))

	require.NoError(t, modArchive.Close())

	readArchive, err := Open(mpqPath)
	require.NoError(t, err)
	defer readArchive.Close()
	require.True(t, readArchive.HasFile("file.txt"))
}

func TestUndoLastOperationWithNoPendingOpsErrors(t *testing.T) {
	tmpDir := t.TempDir()
	mpqPath := filepath.Join(tmpDir, "empty.mpq")
	archive, err := Create(mpqPath, 10)
	require.NoError(t, err)
	require.NoError(t, archive.Close())

	modArchive, err := OpenForModify(mpqPath)
	require.NoError(t, err)
	defer modArchive.Close()

	require.Error(t, modArchive.UndoLastOperation())
}
