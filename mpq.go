// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FormatVersion specifies which MPQ format version to use when creating archives.
type FormatVersion int

const (
	// FormatV1 creates archives using the original MPQ format (up to 4GB).
	// Compatible with all games that use MPQ.
	FormatV1 FormatVersion = 0

	// FormatV2 creates archives using the extended format (>4GB support).
	// Compatible with WoW: The Burning Crusade and later.
	FormatV2 FormatVersion = 1
)

// Archive represents an MPQ archive.
type Archive struct {
	file          *os.File
	path          string
	tempPath      string
	mode          string // "r" for read, "w" for write, "m" for modify
	header        *archiveHeader
	hashTable     []hashTableEntry
	blockTable    []blockTableEntryEx
	pendingFiles  []pendingFile
	sectorSize    uint32
	formatVersion FormatVersion
	caches        *archiveCaches
	delegate      Delegate

	// openRefcount counts outstanding OpenFile/OpenFileLocale handles. It
	// gates save: an archive with files still open refuses to write until
	// every handle is closed (see (*Archive).save).
	openRefcount int

	// deferredBySlot indexes the most recent add/delete op touching each
	// hash-table slot; deferredTop threads every op (regardless of slot)
	// into a single stack so UndoLastOperation is an O(1) pop.
	deferredBySlot map[uint32]*deferredOp
	deferredTop    *deferredOp
}

// deferredOpKind distinguishes the two kinds of undoable mutation a
// modify-mode archive can queue before save.
type deferredOpKind int

const (
	deferredOpAdd deferredOpKind = iota
	deferredOpDelete
)

// deferredOp records enough state to reverse a single AddFile* or RemoveFile
// call. previous threads every op into one global stack (across all slots)
// so UndoLastOperation always undoes whichever op was pushed last.
type deferredOp struct {
	kind    deferredOpKind
	slot    uint32
	mpqPath string

	// prevHash is the hash-table entry at slot before a deferredOpDelete;
	// undo restores it verbatim.
	prevHash hashTableEntry

	// pendingIndex is the index into pendingFiles a deferredOpAdd touched.
	// prevPending is non-nil when the add overwrote an existing pendingFiles
	// entry (AddFileWithOpts with WithOverwrite), so undo can restore it
	// instead of deleting the slot outright.
	pendingIndex int
	prevPending  *pendingFile

	previous *deferredOp
}

// pushDeferredOp threads op onto the undo stack and indexes it by slot.
func (a *Archive) pushDeferredOp(op *deferredOp) {
	op.previous = a.deferredTop
	a.deferredTop = op
	if a.deferredBySlot != nil {
		a.deferredBySlot[op.slot] = op
	}
}

// recordPendingAdd pushes a deferredOpAdd for the pendingFiles entry at
// pendingIndex. prevPending carries the entry that was overwritten in place,
// if any, so undo can restore it rather than just dropping the slot.
func (a *Archive) recordPendingAdd(mpqPath string, pendingIndex int, prevPending *pendingFile) {
	slot, err := a.probeInsertSlot(mpqPath)
	if err != nil {
		// Hash table full; the add itself will fail at save time with the
		// same error, so there's nothing useful to index here.
		return
	}
	a.pushDeferredOp(&deferredOp{
		kind:         deferredOpAdd,
		slot:         slot,
		mpqPath:      mpqPath,
		pendingIndex: pendingIndex,
		prevPending:  prevPending,
	})
}

// UndoLastOperation reverses the most recently queued AddFile*/RemoveFile
// call: a delete's hash-table entry is restored byte-for-byte, and an add's
// pendingFiles slot is dropped (or restored to whatever it overwrote). It
// applies to archives from Create or OpenForModify, and only while the op's
// effect is still pending (i.e. before save/Close commits it to disk).
func (a *Archive) UndoLastOperation() error {
	op := a.deferredTop
	if op == nil {
		return newError(ErrCodeUnsupportedFeature, "UndoLastOperation", nil,
			map[string]any{"reason": "no pending operations"})
	}

	a.deferredTop = op.previous
	if a.deferredBySlot[op.slot] == op {
		delete(a.deferredBySlot, op.slot)
	}

	switch op.kind {
	case deferredOpDelete:
		a.hashTable[op.slot] = op.prevHash
		if a.caches != nil {
			a.caches.invalidate(op.prevHash.BlockIndex)
		}
	case deferredOpAdd:
		if op.pendingIndex < 0 || op.pendingIndex >= len(a.pendingFiles) {
			break
		}
		if op.prevPending != nil {
			a.pendingFiles[op.pendingIndex] = *op.prevPending
		} else {
			a.pendingFiles = append(a.pendingFiles[:op.pendingIndex], a.pendingFiles[op.pendingIndex+1:]...)
		}
	}

	return nil
}

// pendingFile represents a file to be added to the archive.
type pendingFile struct {
	srcPath        string
	mpqPath        string
	data           []byte
	generateCRC    bool // Whether to generate sector CRC for this file
	isPatchFile    bool // Mark as a patch file (FILE_PATCH_FILE)
	isDeleteMarker bool // Mark as a deletion marker (FILE_DELETE_MARKER)
	compressor     Compressor
	quality        int
	locale         uint16
}

// Create creates a new MPQ archive using V1 format.
// The maxFiles parameter specifies the maximum number of files the archive can hold.
func Create(path string, maxFiles int) (*Archive, error) {
	return CreateWithVersion(path, maxFiles, FormatV1)
}

// CreateV2 creates a new MPQ archive using V2 format.
// V2 format supports archives larger than 4GB and is compatible with
// WoW: The Burning Crusade and later.
func CreateV2(path string, maxFiles int) (*Archive, error) {
	return CreateWithVersion(path, maxFiles, FormatV2)
}

// CreateWithOptions creates a new MPQ archive using the functional-options
// form, e.g. CreateWithOptions(path, WithVersion(FormatV2), WithMaxFileCount(4096)).
func CreateWithOptions(path string, opts ...CreateOption) (*Archive, error) {
	o := newCreateOptions(0, opts...)
	return CreateWithVersion(path, o.maxFileCount, o.version)
}

// CreateWithVersion creates a new MPQ archive with the specified format version.
func CreateWithVersion(path string, maxFiles int, version FormatVersion) (*Archive, error) {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	// Create temp file in same directory for atomic write
	dir := filepath.Dir(path)
	tempPath, err := createAtomicSaveTempFile(dir, path)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	// Calculate hash table size (next power of 2 >= maxFiles * 1.5)
	hashTableSize := nextPowerOf2(uint32(float64(maxFiles) * 1.5))
	if hashTableSize < 16 {
		hashTableSize = 16
	}

	// Set header size based on version
	var headerSize uint32
	var formatVer uint16
	if version == FormatV2 {
		headerSize = headerSizeV2
		formatVer = formatVersion2
	} else {
		headerSize = headerSizeV1
		formatVer = formatVersion1
	}

	header := &archiveHeader{
		baseHeader: baseHeader{
			Magic:           mpqMagic,
			HeaderSize:      headerSize,
			FormatVersion:   formatVer,
			SectorSizeShift: defaultSectorSizeShift,
			HashTableSize:   hashTableSize,
			BlockTableSize:  0,
		},
	}

	return &Archive{
		path:           path,
		tempPath:       tempPath,
		mode:           "w",
		header:         header,
		hashTable:      make([]hashTableEntry, hashTableSize),
		blockTable:     make([]blockTableEntryEx, 0, maxFiles),
		pendingFiles:   make([]pendingFile, 0, maxFiles),
		sectorSize:     defaultSectorSize,
		formatVersion:  version,
		caches:         newArchiveCaches(),
		delegate:       NopDelegate{},
		deferredBySlot: make(map[uint32]*deferredOp),
	}, nil
}

// Open opens an existing MPQ archive for reading.
// Supports both V1 and V2 format archives.
func Open(path string) (*Archive, error) {
	return OpenWithOptions(path)
}

// OpenWithOptions opens an existing MPQ archive for reading with explicit
// header-location and validation options.
func OpenWithOptions(path string, opts ...OpenOption) (*Archive, error) {
	o := newOpenOptions(opts...)

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	header, hashTable, blockTable, err := loadArchiveTables(file, o)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &Archive{
		file:       file,
		path:       path,
		mode:       "r",
		header:     header,
		hashTable:  hashTable,
		blockTable: blockTable,
		sectorSize: 1 << header.SectorSizeShift,
		caches:     newArchiveCaches(),
		delegate:   NopDelegate{},
	}, nil
}

// loadArchiveTables locates the archive header (scanning for an embedded
// magic, unless opts pins an explicit offset), then reads and decrypts the
// hash table, block table, and (for V2) hi-block table. Shared by Open and
// OpenForModify since both need an identical read of the existing archive
// before diverging on what happens next.
func loadArchiveTables(file *os.File, o OpenOptions) (*archiveHeader, []hashTableEntry, []blockTableEntryEx, error) {
	var header *archiveHeader
	var err error
	if o.hasOffset {
		if _, err = file.Seek(o.offset, io.SeekStart); err != nil {
			return nil, nil, nil, fmt.Errorf("seek to archive offset: %w", err)
		}
		header, err = readArchiveHeader(file)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("read header: %w", err)
		}
		header.ArchiveOffset = uint64(o.offset)
	} else {
		probeLimit := o.probeLimit
		if probeLimit <= 0 {
			probeLimit = embeddedArchiveProbeLimit
		}
		header, err = findArchiveHeader(file, probeLimit)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("read header: %w", err)
		}
	}

	if header.Magic != mpqMagic {
		return nil, nil, nil, newError(ErrCodeInvalidArchive, "loadArchiveTables", nil,
			map[string]any{"magic": header.Magic})
	}

	if header.FormatVersion > formatVersion2 {
		return nil, nil, nil, newError(ErrCodeUnsupportedFeature, "loadArchiveTables", nil,
			map[string]any{"formatVersion": header.FormatVersion})
	}

	if !o.ignoreHeaderSizeField {
		wantSize := uint32(headerSizeV1)
		if header.FormatVersion >= formatVersion2 {
			wantSize = headerSizeV2
		}
		if header.HeaderSize != wantSize {
			return nil, nil, nil, newError(ErrCodeInvalidArchive, "loadArchiveTables", nil,
				map[string]any{"headerSize": header.HeaderSize, "want": wantSize})
		}
	}

	// Read hash table
	hashTableOffset := header.getHashTableOffset64() + header.ArchiveOffset
	if _, err := file.Seek(int64(hashTableOffset), io.SeekStart); err != nil {
		return nil, nil, nil, fmt.Errorf("seek to hash table: %w", err)
	}

	hashTableData := make([]uint32, header.HashTableSize*4)
	if err := readUint32Array(file, hashTableData); err != nil {
		return nil, nil, nil, fmt.Errorf("read hash table: %w", err)
	}
	decryptBlock(hashTableData, hashString("(hash table)", hashTypeFileKey))

	hashTable := make([]hashTableEntry, header.HashTableSize)
	for i := range hashTable {
		hashTable[i] = hashTableEntry{
			HashA:      hashTableData[i*4],
			HashB:      hashTableData[i*4+1],
			Locale:     uint16(hashTableData[i*4+2] & 0xFFFF),
			Platform:   uint16(hashTableData[i*4+2] >> 16),
			BlockIndex: hashTableData[i*4+3],
		}
	}

	// Read block table
	blockTableOffset := header.getBlockTableOffset64() + header.ArchiveOffset
	if _, err := file.Seek(int64(blockTableOffset), io.SeekStart); err != nil {
		return nil, nil, nil, fmt.Errorf("seek to block table: %w", err)
	}

	blockTableData := make([]uint32, header.BlockTableSize*4)
	if err := readUint32Array(file, blockTableData); err != nil {
		return nil, nil, nil, fmt.Errorf("read block table: %w", err)
	}
	decryptBlock(blockTableData, hashString("(block table)", hashTypeFileKey))

	blockTable := make([]blockTableEntryEx, header.BlockTableSize)
	for i := range blockTable {
		blockTable[i] = blockTableEntryEx{
			blockTableEntry: blockTableEntry{
				FilePos:        blockTableData[i*4],
				CompressedSize: blockTableData[i*4+1],
				FileSize:       blockTableData[i*4+2],
				Flags:          blockTableData[i*4+3],
			},
			FilePosHi: 0,
		}
	}

	// Read extended block table if V2
	if header.FormatVersion >= formatVersion2 && header.HiBlockTableOffset64 != 0 {
		hiBlockOffset := header.HiBlockTableOffset64 + header.ArchiveOffset
		if _, err := file.Seek(int64(hiBlockOffset), io.SeekStart); err != nil {
			return nil, nil, nil, fmt.Errorf("seek to hi-block table: %w", err)
		}

		hiBlockTable := make([]uint16, header.BlockTableSize)
		if err := readUint16Array(file, hiBlockTable); err != nil {
			return nil, nil, nil, fmt.Errorf("read hi-block table: %w", err)
		}

		for i := range blockTable {
			blockTable[i].FilePosHi = hiBlockTable[i]
		}
	}

	return header, hashTable, blockTable, nil
}

// OpenForModify opens an existing MPQ archive for modification.
// This allows adding, removing, and replacing files in an existing archive.
// The archive is re-written when Close() is called.
func OpenForModify(path string) (*Archive, error) {
	// First open the archive for reading to load its contents
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	header, hashTable, blockTable, err := loadArchiveTables(file, OpenOptions{})
	if err != nil {
		file.Close()
		return nil, err
	}

	// Determine format version from header
	var formatVer FormatVersion
	if header.FormatVersion >= formatVersion2 {
		formatVer = FormatV2
	} else {
		formatVer = FormatV1
	}

	// Create temp file for modifications
	dir := filepath.Dir(path)
	tempPath, err := createAtomicSaveTempFile(dir, path)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	return &Archive{
		file:           file,
		path:           path,
		tempPath:       tempPath,
		mode:           "m", // modify mode
		header:         header,
		hashTable:      hashTable,
		blockTable:     blockTable,
		pendingFiles:   make([]pendingFile, 0),
		sectorSize:     1 << header.SectorSizeShift,
		formatVersion:  formatVer,
		caches:         newArchiveCaches(),
		delegate:       NopDelegate{},
		deferredBySlot: make(map[uint32]*deferredOp),
	}, nil
}

// AddFile adds a file to the archive.
// The srcPath is the path to the file on disk.
// The mpqPath is the path within the archive (use backslashes or forward slashes).
// This method is only valid for archives opened with Create or OpenForModify.
func (a *Archive) AddFile(srcPath, mpqPath string) error {
	return a.AddFileWithOptions(srcPath, mpqPath, false)
}

// AddFileWithCRC adds a file to the archive with sector CRC generation enabled.
// The srcPath is the path to the file on disk.
// The mpqPath is the path within the archive (use backslashes or forward slashes).
// This method is only valid for archives opened with Create or OpenForModify.
func (a *Archive) AddFileWithCRC(srcPath, mpqPath string) error {
	return a.AddFileWithOptions(srcPath, mpqPath, true)
}

// AddFileWithOptions adds a file to the archive with specified options.
func (a *Archive) AddFileWithOptions(srcPath, mpqPath string, generateCRC bool) error {
	if a.mode != "w" && a.mode != "m" {
		return fmt.Errorf("archive not opened for writing or modification")
	}

	// Normalize MPQ path
	mpqPath = strings.ReplaceAll(mpqPath, "/", "\\")

	// Read file data
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("read file %s: %w", srcPath, err)
	}

	a.pendingFiles = append(a.pendingFiles, pendingFile{
		srcPath:     srcPath,
		mpqPath:     mpqPath,
		data:        data,
		generateCRC: generateCRC,
		compressor:  CompressorZlib,
	})
	a.recordPendingAdd(mpqPath, len(a.pendingFiles)-1, nil)

	return nil
}

// AddPatchFile adds a file marked as a patch file (FILE_PATCH_FILE).
// Patch files are typically used in MPQ patch archives.
func (a *Archive) AddPatchFile(srcPath, mpqPath string) error {
	if a.mode != "w" && a.mode != "m" {
		return fmt.Errorf("archive not opened for writing or modification")
	}

	// Normalize MPQ path
	mpqPath = strings.ReplaceAll(mpqPath, "/", "\\")

	// Read file data
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("read file %s: %w", srcPath, err)
	}

	a.pendingFiles = append(a.pendingFiles, pendingFile{
		srcPath:     srcPath,
		mpqPath:     mpqPath,
		data:        data,
		isPatchFile: true,
		compressor:  CompressorZlib,
	})
	a.recordPendingAdd(mpqPath, len(a.pendingFiles)-1, nil)

	return nil
}

// AddDeleteMarker adds a deletion marker for a file.
// This is used in patch archives to indicate that a file should be deleted.
func (a *Archive) AddDeleteMarker(mpqPath string) error {
	if a.mode != "w" && a.mode != "m" {
		return fmt.Errorf("archive not opened for writing or modification")
	}

	// Normalize MPQ path
	mpqPath = strings.ReplaceAll(mpqPath, "/", "\\")

	a.pendingFiles = append(a.pendingFiles, pendingFile{
		mpqPath:        mpqPath,
		data:           nil, // No data for deletion markers
		isDeleteMarker: true,
	})
	a.recordPendingAdd(mpqPath, len(a.pendingFiles)-1, nil)

	return nil
}

// RemoveFile marks the neutral-locale copy of a file for removal from the
// archive. This is only valid for archives opened with OpenForModify.
func (a *Archive) RemoveFile(mpqPath string) error {
	return a.RemoveFileLocale(mpqPath, localeNeutral)
}

// RemoveFileLocale marks mpqPath's locale-specific hash-table entry for
// removal. Unlike AddFile*, this mutates the in-memory hash table
// synchronously: the slot is marked deleted immediately, so HasFile and
// ExtractFile stop seeing the file before save/Close ever runs. The prior
// entry is retained in the undo stack so UndoLastOperation can restore it
// byte-for-byte.
func (a *Archive) RemoveFileLocale(mpqPath string, locale uint16) error {
	if a.mode != "m" {
		return newError(ErrCodeReadOnly, "RemoveFile", nil, map[string]any{"path": mpqPath})
	}

	mpqPath = strings.ReplaceAll(mpqPath, "/", "\\")

	slot, err := a.findHashSlot(mpqPath, locale)
	if err != nil {
		return err
	}

	op := &deferredOp{
		kind:     deferredOpDelete,
		slot:     slot,
		mpqPath:  mpqPath,
		prevHash: a.hashTable[slot],
	}
	if a.caches != nil {
		a.caches.invalidate(a.hashTable[slot].BlockIndex)
	}
	a.hashTable[slot].BlockIndex = hashTableDeleted
	a.pushDeferredOp(op)

	return nil
}

// ExtractFile extracts the neutral-locale copy of a file from the archive
// to the specified destination. The mpqPath is the path within the archive
// (use backslashes or forward slashes). This method is valid for archives
// opened with Open or OpenForModify.
func (a *Archive) ExtractFile(mpqPath, destPath string) error {
	return a.ExtractFileLocale(mpqPath, destPath, localeNeutral)
}

// ExtractFileLocale is ExtractFile for a specific locale tag, letting a
// caller pick between several locale-specific variants of the same path
// (use LocalesForFile to discover which locales exist).
func (a *Archive) ExtractFileLocale(mpqPath, destPath string, locale uint16) error {
	if a.mode != "r" && a.mode != "m" {
		return fmt.Errorf("archive not opened for reading")
	}

	fileData, err := a.extractFileData(mpqPath, locale)
	if err != nil {
		return err
	}

	// Ensure destination directory exists
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	if err := os.WriteFile(destPath, fileData, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}

// OpenedFile is a handle returned by OpenFile/OpenFileLocale. Opening a file
// increments the archive's open-file refcount; the handle must be Closed to
// release it. An archive with outstanding open handles refuses to save (see
// (*Archive).save), matching the package's MPQFile-equivalent open/close
// pairing. The full file contents are decoded up front rather than streamed
// sector-by-sector, same as ExtractFile.
type OpenedFile struct {
	archive *Archive
	reader  *bytes.Reader
	closed  bool
}

// OpenFile opens the neutral-locale copy of mpqPath for reading without
// writing it to disk. Callers must Close the returned handle; until they
// do, save/Close on the archive fails with ErrCodeFileIsOpen.
func (a *Archive) OpenFile(mpqPath string) (*OpenedFile, error) {
	return a.OpenFileLocale(mpqPath, localeNeutral)
}

// OpenFileLocale is OpenFile for a specific locale tag.
func (a *Archive) OpenFileLocale(mpqPath string, locale uint16) (*OpenedFile, error) {
	if a.mode != "r" && a.mode != "m" {
		return nil, newError(ErrCodeReadOnly, "OpenFileLocale", nil, map[string]any{"path": mpqPath})
	}

	data, err := a.extractFileData(mpqPath, locale)
	if err != nil {
		return nil, err
	}

	a.openRefcount++
	return &OpenedFile{archive: a, reader: bytes.NewReader(data)}, nil
}

// Read implements io.Reader over the file's fully decoded contents.
func (f *OpenedFile) Read(p []byte) (int, error) {
	if f.closed {
		return 0, fmt.Errorf("mpq: read from closed file")
	}
	return f.reader.Read(p)
}

// Close releases the handle's hold on the archive's open-file refcount.
// Safe to call more than once.
func (f *OpenedFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if f.archive.openRefcount > 0 {
		f.archive.openRefcount--
	}
	return nil
}

// extractFileData resolves mpqPath under locale and returns its fully
// decoded (decrypted/decompressed/CRC-checked) contents. Shared by
// ExtractFileLocale (which writes the result to disk) and OpenFileLocale
// (which keeps it in memory behind an OpenedFile).
func (a *Archive) extractFileData(mpqPath string, locale uint16) ([]byte, error) {
	mpqPath = strings.ReplaceAll(mpqPath, "/", "\\")

	// Find file in hash table
	block, blockIndex, err := a.findFileIndexed(mpqPath, locale)
	if err != nil {
		return nil, err
	}

	// Read file data
	blockPos := block.getFilePos64()
	filePos := blockPos + a.header.ArchiveOffset
	if _, err := a.file.Seek(int64(filePos), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to file data: %w", err)
	}

	compressedData := make([]byte, block.CompressedSize)
	if _, err := io.ReadFull(a.file, compressedData); err != nil {
		return nil, fmt.Errorf("read file data: %w", err)
	}

	var fileData []byte

	// Check if file is encrypted
	if block.Flags&fileEncrypted != 0 {
		// Compute (or reuse a cached) encryption key from the filename
		encryptionKey := a.fileKeyCached(blockIndex, mpqPath, blockPos, block.FileSize, block.Flags)

		// Handle single-unit files vs sector-based files
		if block.Flags&fileSingleUnit != 0 {
			// Single unit file - decrypt as one block
			fileData, err = a.decryptAndDecompressSingleUnit(compressedData, block, encryptionKey)
			if err != nil {
				return nil, fmt.Errorf("decrypt single unit file: %w", err)
			}
		} else {
			// Sector-based file - decrypt each sector
			fileData, err = a.decryptAndDecompressSectors(compressedData, block, blockIndex, encryptionKey)
			if err != nil {
				return nil, fmt.Errorf("decrypt sectored file: %w", err)
			}
		}
	} else if block.Flags&fileCompress != 0 {
		// Compressed file (single unit or sectors)
		if block.Flags&fileSingleUnit != 0 {
			// Single unit compressed file
			dataToDecompress := compressedData

			// Handle sector CRC for single unit files
			if block.Flags&fileSectorCRC != 0 {
				if len(compressedData) < 4 {
					return nil, fmt.Errorf("missing sector CRC for single unit file")
				}
				dataToDecompress = compressedData[:len(compressedData)-4]
				crcExpected := binary.LittleEndian.Uint32(compressedData[len(compressedData)-4:])

				// Decompress first, then validate CRC
				decompressed, err := decompressData(dataToDecompress, block.FileSize)
				if err != nil {
					return nil, fmt.Errorf("decompress file: %w", err)
				}

				crcActual := adler32(decompressed)
				if crcActual != crcExpected {
					return nil, fmt.Errorf("sector CRC mismatch: expected 0x%08X got 0x%08X", crcExpected, crcActual)
				}
				fileData = decompressed
			} else {
				// Only decompress if compressed size is smaller
				if block.CompressedSize < block.FileSize {
					fileData, err = decompressData(dataToDecompress, block.FileSize)
					if err != nil {
						return nil, fmt.Errorf("decompress file: %w", err)
					}
				} else {
					fileData = dataToDecompress
				}
			}
		} else {
			// Sector-based compressed file
			fileData, err = a.decompressSectors(compressedData, block, blockIndex)
			if err != nil {
				return nil, fmt.Errorf("decompress sectors: %w", err)
			}
		}
	} else {
		// Uncompressed, unencrypted
		// Handle sector CRC for uncompressed single unit files
		if block.Flags&fileSingleUnit != 0 && block.Flags&fileSectorCRC != 0 {
			if len(compressedData) < 4 {
				return nil, fmt.Errorf("missing sector CRC for single unit file")
			}
			payload := compressedData[:len(compressedData)-4]
			crcExpected := binary.LittleEndian.Uint32(compressedData[len(compressedData)-4:])
			crcActual := adler32(payload)
			if crcActual != crcExpected {
				return nil, fmt.Errorf("sector CRC mismatch: expected 0x%08X got 0x%08X", crcExpected, crcActual)
			}
			fileData = payload
		} else {
			fileData = compressedData
		}
	}

	return fileData, nil
}

// decryptAndDecompressSingleUnit handles encrypted single-unit files
func (a *Archive) decryptAndDecompressSingleUnit(data []byte, block *blockTableEntryEx, key uint32) ([]byte, error) {
	// Decrypt the data
	decryptBytes(data, key)

	// Decompress if needed
	if block.Flags&fileCompress != 0 && block.CompressedSize < block.FileSize {
		return decompressData(data, block.FileSize)
	}

	// Validate CRC if present for single-unit files
	if block.Flags&fileSectorCRC != 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("missing sector CRC for single unit file")
		}
		payload := data[:len(data)-4]
		crcExpected := binary.LittleEndian.Uint32(data[len(data)-4:])
		crcActual := adler32(payload)
		if crcActual != crcExpected {
			return nil, fmt.Errorf("sector CRC mismatch: expected 0x%08X got 0x%08X", crcExpected, crcActual)
		}
		return payload, nil
	}

	return data, nil
}

// decryptAndDecompressSectors handles encrypted sector-based files
func (a *Archive) decryptAndDecompressSectors(data []byte, block *blockTableEntryEx, blockIndex uint32, key uint32) ([]byte, error) {
	// Calculate number of sectors
	numSectors := (block.FileSize + a.sectorSize - 1) / a.sectorSize

	// Sector offset table is at the beginning of the data
	// It has numSectors+1 entries (last entry is end of last sector)
	offsetTableSize := (numSectors + 1) * 4

	if uint32(len(data)) < offsetTableSize {
		return nil, fmt.Errorf("data too small for sector offset table")
	}

	var offsetTable []uint32
	if a.caches != nil {
		if cached, ok := a.caches.sectorOffsetTable(blockIndex); ok {
			offsetTable = cached
		}
	}
	if offsetTable == nil {
		// Read and decrypt sector offset table
		offsetTable = make([]uint32, numSectors+1)
		for i := range offsetTable {
			offsetTable[i] = uint32(data[i*4]) |
				uint32(data[i*4+1])<<8 |
				uint32(data[i*4+2])<<16 |
				uint32(data[i*4+3])<<24
		}

		// Decrypt offset table with key-1
		decryptBlock(offsetTable, key-1)

		if a.caches != nil {
			a.caches.putSectorOffsetTable(blockIndex, offsetTable)
		}
	}

	dataOffset := uint32(offsetTableSize)
	var sectorCRCs []uint32
	if block.Flags&fileSectorCRC != 0 && len(offsetTable) > 0 {
		firstDataOffset := offsetTable[0]
		crcTableSize := numSectors * 4
		crcTableEnd := uint32(offsetTableSize) + crcTableSize
		if firstDataOffset >= crcTableEnd {
			if int(crcTableEnd) > len(data) {
				return nil, fmt.Errorf("sector CRC table out of range")
			}
			sectorCRCs = make([]uint32, numSectors)
			for i := uint32(0); i < numSectors; i++ {
				start := offsetTableSize + i*4
				sectorCRCs[i] = binary.LittleEndian.Uint32(data[start : start+4])
			}
			decryptBlock(sectorCRCs, key-1+numSectors)
			dataOffset = crcTableEnd
		}
	}

	// Allocate output buffer
	result := make([]byte, 0, block.FileSize)

	// Process each sector
	for i := uint32(0); i < numSectors; i++ {
		sectorStart := offsetTable[i]
		sectorEnd := offsetTable[i+1]

		if sectorStart > uint32(len(data)) || sectorEnd > uint32(len(data)) || sectorEnd < sectorStart {
			return nil, fmt.Errorf("invalid sector offsets: %d-%d", sectorStart, sectorEnd)
		}

		sectorData := make([]byte, sectorEnd-sectorStart)
		copy(sectorData, data[sectorStart:sectorEnd])

		// Decrypt sector with key+sectorIndex
		decryptBytes(sectorData, key+i)

		// Calculate expected uncompressed size for this sector
		expectedSize := a.sectorSize
		if i == numSectors-1 {
			// Last sector may be smaller
			expectedSize = block.FileSize - (i * a.sectorSize)
		}

		// Decompress if needed
		var sectorOutput []byte
		if block.Flags&fileCompress != 0 && uint32(len(sectorData)) < expectedSize {
			decompressed, err := decompressData(sectorData, expectedSize)
			if err != nil {
				return nil, fmt.Errorf("decompress sector %d: %w", i, err)
			}
			sectorOutput = decompressed
		} else {
			sectorOutput = sectorData
		}

		if len(sectorCRCs) > 0 {
			crcActual := adler32(sectorOutput)
			crcExpected := sectorCRCs[i]
			if crcActual != crcExpected {
				return nil, fmt.Errorf("sector CRC mismatch for sector %d: expected 0x%08X got 0x%08X", i, crcExpected, crcActual)
			}
		}

		result = append(result, sectorOutput...)
	}

	_ = dataOffset
	return result, nil
}

// decompressSectors handles unencrypted sector-based compressed files
func (a *Archive) decompressSectors(data []byte, block *blockTableEntryEx, blockIndex uint32) ([]byte, error) {
	// Calculate number of sectors
	numSectors := (block.FileSize + a.sectorSize - 1) / a.sectorSize

	// Sector offset table is at the beginning of the data
	offsetTableSize := (numSectors + 1) * 4

	if uint32(len(data)) < offsetTableSize {
		return nil, fmt.Errorf("data too small for sector offset table")
	}

	var offsetTable []uint32
	if a.caches != nil {
		if cached, ok := a.caches.sectorOffsetTable(blockIndex); ok {
			offsetTable = cached
		}
	}
	if offsetTable == nil {
		// Read sector offset table (not encrypted)
		offsetTable = make([]uint32, numSectors+1)
		for i := range offsetTable {
			offsetTable[i] = uint32(data[i*4]) |
				uint32(data[i*4+1])<<8 |
				uint32(data[i*4+2])<<16 |
				uint32(data[i*4+3])<<24
		}
		if a.caches != nil {
			a.caches.putSectorOffsetTable(blockIndex, offsetTable)
		}
	}

	// Allocate output buffer
	result := make([]byte, 0, block.FileSize)

	// Process each sector
	for i := uint32(0); i < numSectors; i++ {
		sectorStart := offsetTable[i]
		sectorEnd := offsetTable[i+1]

		if sectorStart > uint32(len(data)) || sectorEnd > uint32(len(data)) || sectorEnd < sectorStart {
			return nil, fmt.Errorf("invalid sector offsets: %d-%d (data len %d)", sectorStart, sectorEnd, len(data))
		}

		sectorData := data[sectorStart:sectorEnd]

		// Calculate expected uncompressed size for this sector
		expectedSize := a.sectorSize
		if i == numSectors-1 {
			expectedSize = block.FileSize - (i * a.sectorSize)
		}

		// Decompress if sector is smaller than expected
		if uint32(len(sectorData)) < expectedSize {
			decompressed, err := decompressData(sectorData, expectedSize)
			if err != nil {
				return nil, fmt.Errorf("decompress sector %d: %w", i, err)
			}
			result = append(result, decompressed...)
		} else {
			result = append(result, sectorData...)
		}
	}

	return result, nil
}

// ListFiles returns a list of files in the archive by reading the (listfile).
func (a *Archive) ListFiles() ([]string, error) {
	if a.mode != "r" && a.mode != "m" {
		return nil, fmt.Errorf("archive not opened for reading")
	}

	// Try to extract the listfile to a temp file
	tmpFile, err := os.CreateTemp("", "mpq_listfile_*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	if err := a.ExtractFile("(listfile)", tmpPath); err != nil {
		return nil, fmt.Errorf("extract listfile: %w", err)
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("read listfile: %w", err)
	}

	// Parse listfile (one file per line, may have \r\n or \n)
	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	lines := strings.Split(content, "\n")

	var files []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" && line != "(listfile)" {
			files = append(files, line)
		}
	}

	return files, nil
}

// HasFile returns true if the archive contains the specified file.
// The mpqPath is the path within the archive (use backslashes or forward slashes).
// Files marked as deletion markers return false.
func (a *Archive) HasFile(mpqPath string) bool {
	if a.mode == "w" {
		mpqPath = strings.ReplaceAll(mpqPath, "/", "\\")
		for _, f := range a.pendingFiles {
			if strings.EqualFold(f.mpqPath, mpqPath) {
				return !f.isDeleteMarker
			}
		}
		return false
	}

	block, err := a.findFile(mpqPath)
	if err != nil {
		return false
	}
	// Check for deletion marker
	return block.Flags&fileDeleteMarker == 0
}

// IsDeleteMarker returns true if the file is marked for deletion (used in patches).
func (a *Archive) IsDeleteMarker(mpqPath string) bool {
	if a.mode != "r" {
		return false
	}

	block, err := a.findFile(mpqPath)
	if err != nil {
		return false
	}

	return block.Flags&fileDeleteMarker != 0
}

// IsPatchFile returns true if the file is marked as a patch file.
func (a *Archive) IsPatchFile(mpqPath string) bool {
	if a.mode != "r" {
		return false
	}

	block, err := a.findFile(mpqPath)
	if err != nil {
		return false
	}

	return block.Flags&filePatchFile != 0
}

// Close closes the archive.
// For archives opened with Create or OpenForModify, this writes the archive to disk.
func (a *Archive) Close() error {
	if a.mode == "r" {
		if a.file != nil {
			return a.file.Close()
		}
		return nil
	}

	if a.delegate != nil {
		a.delegate.WillSave(a)
	}

	saveErr := a.save()

	if a.delegate != nil {
		a.delegate.DidSave(a, saveErr)
	}

	return saveErr
}

// save performs the actual write-and-rename Close does; split out so
// Close can bracket it with the WillSave/DidSave delegate hooks regardless
// of which branch returns early.
func (a *Archive) save() error {
	if a.openRefcount > 0 {
		return newError(ErrCodeFileIsOpen, "save", nil, map[string]any{"openCount": a.openRefcount})
	}

	// Write or modify mode - need to write the archive
	if a.mode == "m" {
		// Modify mode: build pending files from existing archive, excluding removed files
		if err := a.buildModifiedFileList(); err != nil {
			if a.file != nil {
				a.file.Close()
			}
			os.Remove(a.tempPath)
			return err
		}
		// Close the source file before writing
		if a.file != nil {
			a.file.Close()
			a.file = nil
		}
	}

	// Write the archive (works for both "w" and "m" modes)
	if err := a.writeArchive(); err != nil {
		os.Remove(a.tempPath)
		return err
	}

	// Move temp file to final path
	os.Remove(a.path)
	if err := os.Rename(a.tempPath, a.path); err != nil {
		if err := copyFile(a.tempPath, a.path); err != nil {
			os.Remove(a.tempPath)
			return fmt.Errorf("save archive: %w", err)
		}
		os.Remove(a.tempPath)
	}

	return nil
}

// buildModifiedFileList constructs the pending file list for modify mode.
// It includes all existing files (not removed) plus any new/replaced files from pendingFiles.
func (a *Archive) buildModifiedFileList() error {
	// Get list of all files in the archive
	fileList, err := a.ListFiles()
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}

	// Build a map of pending files for quick lookup, keyed by path+locale so
	// two locale-specific replacements of the same path don't collide.
	type pathLocale struct {
		path   string
		locale uint16
	}
	pendingMap := make(map[pathLocale]pendingFile)
	for _, pf := range a.pendingFiles {
		normalizedPath := strings.ReplaceAll(pf.mpqPath, "/", "\\")
		pendingMap[pathLocale{normalizedPath, pf.locale}] = pf
	}

	// Build new pending files list combining existing + new/replaced files
	newPendingFiles := make([]pendingFile, 0)

	// Process existing files. A RemoveFileLocale call already marked its
	// hash-table slot deleted synchronously, so LocalesForFile simply won't
	// find that variant anymore here - no separate removed-files set to
	// consult. The listfile carries one line per locale variant of a path,
	// so track which paths have already been expanded to avoid processing
	// the same path's full locale set more than once.
	seenPaths := make(map[string]bool)
	for _, mpqPath := range fileList {
		normalizedPath := strings.ReplaceAll(mpqPath, "/", "\\")

		// Skip special files - they'll be regenerated
		if normalizedPath == "(listfile)" || normalizedPath == "(attributes)" {
			continue
		}
		if seenPaths[normalizedPath] {
			continue
		}
		seenPaths[normalizedPath] = true

		// Keep every surviving locale variant of the existing file, using
		// the replacement from pendingMap when one was queued for that
		// exact locale.
		locales, err := a.LocalesForFile(normalizedPath)
		if err != nil {
			locales = nil // Deleted or unreadable; still check for brand-new locale adds below.
		}

		for _, locale := range locales {
			key := pathLocale{normalizedPath, locale}
			if pending, exists := pendingMap[key]; exists {
				newPendingFiles = append(newPendingFiles, pending)
				delete(pendingMap, key)
				continue
			}

			pf, err := a.extractExistingFileAsPending(normalizedPath, locale)
			if err != nil {
				return err
			}
			newPendingFiles = append(newPendingFiles, pf)
		}
	}

	// Add any new files (or new locale variants of existing files) that
	// weren't already folded in above.
	for _, pending := range pendingMap {
		newPendingFiles = append(newPendingFiles, pending)
	}

	// Replace the pending files list
	a.pendingFiles = newPendingFiles

	return nil
}

// extractExistingFileAsPending reads and fully decodes normalizedPath's
// locale-specific copy from the still-open source file, producing a
// pendingFile writeArchive can re-encode. Used by buildModifiedFileList to
// carry forward every file (and every locale variant of it) that survives
// into the rewritten archive.
func (a *Archive) extractExistingFileAsPending(normalizedPath string, locale uint16) (pendingFile, error) {
	block, blockIndex, err := a.findFileIndexed(normalizedPath, locale)
	if err != nil {
		return pendingFile{}, err
	}

	// Read the file data from the archive
	if _, err := a.file.Seek(int64(block.getFilePos64()+a.header.ArchiveOffset), io.SeekStart); err != nil {
		return pendingFile{}, fmt.Errorf("seek to file %s: %w", normalizedPath, err)
	}

	fileData := make([]byte, block.CompressedSize)
	if _, err := io.ReadFull(a.file, fileData); err != nil {
		return pendingFile{}, fmt.Errorf("read file %s: %w", normalizedPath, err)
	}

	// Determine if file has CRC
	hasCRC := block.Flags&fileSectorCRC != 0

	// Check if it's a patch file or deletion marker
	isPatch := block.Flags&filePatchFile != 0
	isDelete := block.Flags&fileDeleteMarker != 0

	if block.Flags&fileExists == 0 || isDelete {
		// Deletion marker - preserve it
		return pendingFile{
			mpqPath:        normalizedPath,
			data:           nil,
			isDeleteMarker: true,
			locale:         locale,
		}, nil
	}

	// For modify mode, we need to extract and re-add the file
	// Extract the actual file content (decompress if needed)
	var extractedData []byte

	// Decrypt if needed
	if block.Flags&fileEncrypted != 0 {
		key := getFileKey(normalizedPath, block.getFilePos64(), block.FileSize, block.Flags)

		if block.Flags&fileSingleUnit != 0 {
			extractedData, err = a.decryptAndDecompressSingleUnit(fileData, block, key)
		} else {
			extractedData, err = a.decryptAndDecompressSectors(fileData, block, blockIndex, key)
		}
		if err != nil {
			return pendingFile{}, fmt.Errorf("decrypt file %s: %w", normalizedPath, err)
		}
	} else if block.Flags&fileCompress != 0 {
		// Compressed but not encrypted
		if block.Flags&fileSingleUnit != 0 {
			// Single-unit compressed file
			dataToDecompress := fileData
			if block.Flags&fileSectorCRC != 0 {
				// Strip CRC from end
				if len(dataToDecompress) < 4 {
					return pendingFile{}, fmt.Errorf("file %s too short for CRC", normalizedPath)
				}
				dataToDecompress = dataToDecompress[:len(dataToDecompress)-4]
			}
			if block.CompressedSize < block.FileSize {
				extractedData, err = decompressData(dataToDecompress, block.FileSize)
				if err != nil {
					return pendingFile{}, fmt.Errorf("decompress file %s: %w", normalizedPath, err)
				}
			} else {
				extractedData = dataToDecompress
			}
		} else {
			// Multi-sector compressed file
			extractedData, err = a.decompressSectors(fileData, block, blockIndex)
			if err != nil {
				return pendingFile{}, fmt.Errorf("decompress sectors %s: %w", normalizedPath, err)
			}
		}
	} else {
		// Uncompressed, unencrypted
		if block.Flags&fileSingleUnit != 0 && block.Flags&fileSectorCRC != 0 {
			// Strip CRC from end
			if len(fileData) < 4 {
				return pendingFile{}, fmt.Errorf("file %s too short for CRC", normalizedPath)
			}
			extractedData = fileData[:len(fileData)-4]
		} else {
			extractedData = fileData
		}
	}

	return pendingFile{
		mpqPath:     normalizedPath,
		data:        extractedData,
		generateCRC: hasCRC,
		isPatchFile: isPatch,
		compressor:  CompressorZlib,
		locale:      locale,
	}, nil
}

// findFile looks up the neutral-locale copy of a file in the hash table and
// returns its block entry.
func (a *Archive) findFile(mpqPath string) (*blockTableEntryEx, error) {
	block, _, err := a.findFileIndexed(mpqPath, localeNeutral)
	return block, err
}

// findFileIndexed is findFile plus the block table index, which the sector
// offset table and file key caches use as their lookup key. A slot only
// matches when hash_a, hash_b, and locale all agree; probing halts at the
// first EMPTY slot and skips DELETED ones.
func (a *Archive) findFileIndexed(mpqPath string, locale uint16) (*blockTableEntryEx, uint32, error) {
	mpqPath = strings.ReplaceAll(mpqPath, "/", "\\")

	hashA := hashString(mpqPath, hashTypeNameA)
	hashB := hashString(mpqPath, hashTypeNameB)
	startIndex := hashString(mpqPath, hashTypeTableOffset) % a.header.HashTableSize

	for i := uint32(0); i < a.header.HashTableSize; i++ {
		idx := (startIndex + i) % a.header.HashTableSize
		entry := &a.hashTable[idx]

		if entry.BlockIndex == hashTableEmpty {
			break
		}
		if entry.BlockIndex == hashTableDeleted {
			continue
		}
		if entry.HashA == hashA && entry.HashB == hashB && entry.Locale == locale {
			if entry.BlockIndex < uint32(len(a.blockTable)) {
				block := &a.blockTable[entry.BlockIndex]
				if block.Flags&fileExists != 0 {
					return block, entry.BlockIndex, nil
				}
			}
		}
	}

	return nil, 0, newError(ErrCodeFileNotFound, "findFile", nil, map[string]any{"path": mpqPath, "locale": locale})
}

// findHashSlot returns the hash-table slot index (not the block-table index)
// holding the live entry for mpqPath under locale. Callers that need to
// mutate the hash table directly (RemoveFileLocale) use this instead of
// findFileIndexed, which only exposes the block-table side.
func (a *Archive) findHashSlot(mpqPath string, locale uint16) (uint32, error) {
	mpqPath = strings.ReplaceAll(mpqPath, "/", "\\")

	hashA := hashString(mpqPath, hashTypeNameA)
	hashB := hashString(mpqPath, hashTypeNameB)
	startIndex := hashString(mpqPath, hashTypeTableOffset) % a.header.HashTableSize

	for i := uint32(0); i < a.header.HashTableSize; i++ {
		idx := (startIndex + i) % a.header.HashTableSize
		entry := &a.hashTable[idx]

		if entry.BlockIndex == hashTableEmpty {
			break
		}
		if entry.BlockIndex == hashTableDeleted {
			continue
		}
		if entry.HashA == hashA && entry.HashB == hashB && entry.Locale == locale {
			if entry.BlockIndex < uint32(len(a.blockTable)) && a.blockTable[entry.BlockIndex].Flags&fileExists != 0 {
				return idx, nil
			}
		}
	}

	return 0, newError(ErrCodeFileNotFound, "findHashSlot", nil, map[string]any{"path": mpqPath, "locale": locale})
}

// probeInsertSlot returns the first empty-or-deleted slot an insert for
// mpqPath would land on, without mutating the table. AddFile* uses it only
// to index a pending add's deferredOp by slot; the real reservation happens
// in addToHashTableLocale at save time.
func (a *Archive) probeInsertSlot(mpqPath string) (uint32, error) {
	startIndex := hashString(mpqPath, hashTypeTableOffset) % a.header.HashTableSize

	for i := uint32(0); i < a.header.HashTableSize; i++ {
		idx := (startIndex + i) % a.header.HashTableSize
		entry := &a.hashTable[idx]
		if entry.BlockIndex == hashTableEmpty || entry.BlockIndex == hashTableDeleted {
			return idx, nil
		}
	}

	return 0, newError(ErrCodeHashTableFull, "probeInsertSlot", nil, map[string]any{"path": mpqPath})
}

// LocalesForFile returns every locale tag under which mpqPath has a live
// hash-table entry, in probe order. An archive can hold more than one
// locale-specific variant of the same path (e.g. a Neutral fallback plus an
// English override); this lets a caller discover which variants exist
// before reading one with ExtractFileLocale.
func (a *Archive) LocalesForFile(mpqPath string) ([]uint16, error) {
	mpqPath = strings.ReplaceAll(mpqPath, "/", "\\")

	hashA := hashString(mpqPath, hashTypeNameA)
	hashB := hashString(mpqPath, hashTypeNameB)
	startIndex := hashString(mpqPath, hashTypeTableOffset) % a.header.HashTableSize

	var locales []uint16
	for i := uint32(0); i < a.header.HashTableSize; i++ {
		idx := (startIndex + i) % a.header.HashTableSize
		entry := &a.hashTable[idx]

		if entry.BlockIndex == hashTableEmpty {
			break
		}
		if entry.BlockIndex == hashTableDeleted {
			continue
		}
		if entry.HashA == hashA && entry.HashB == hashB {
			if entry.BlockIndex < uint32(len(a.blockTable)) && a.blockTable[entry.BlockIndex].Flags&fileExists != 0 {
				locales = append(locales, entry.Locale)
			}
		}
	}

	if len(locales) == 0 {
		return nil, newError(ErrCodeFileNotFound, "LocalesForFile", nil, map[string]any{"path": mpqPath})
	}
	return locales, nil
}

// fileKeyCached computes (or reuses a cached) decryption key for the file at
// blockIndex, keyed by block table index since that's stable for the
// lifetime of an open Archive even though the filename used to derive it
// is not otherwise stored on disk.
func (a *Archive) fileKeyCached(blockIndex uint32, mpqPath string, blockOffset uint64, fileSize uint32, flags uint32) uint32 {
	if a.caches != nil {
		if key, ok := a.caches.fileKey(blockIndex); ok {
			return key
		}
	}
	key := getFileKey(mpqPath, blockOffset, fileSize, flags)
	if a.caches != nil {
		a.caches.putFileKey(blockIndex, key)
	}
	return key
}

// nextPowerOf2 returns the smallest power of 2 >= n.
func nextPowerOf2(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// readPatchMetadata reads the (patch_metadata) special file if present.
// Returns nil, nil if the file doesn't exist; a read, decompression or
// size failure returns an error.
func (a *Archive) readPatchMetadata() (*PatchMetadata, error) {
	if a.mode != "r" {
		return nil, fmt.Errorf("archive not opened for reading")
	}

	// Check if patch_metadata file exists
	block, err := a.findFile("(patch_metadata)")
	if err != nil {
		return nil, nil // Patch metadata is optional
	}

	// Read patch_metadata file data
	blockPos := block.getFilePos64()
	filePos := blockPos + a.header.ArchiveOffset
	if _, err := a.file.Seek(int64(filePos), 0); err != nil {
		return nil, fmt.Errorf("seek to patch_metadata: %w", err)
	}

	compressedData := make([]byte, block.CompressedSize)
	if n, err := a.file.Read(compressedData); err != nil || n != int(block.CompressedSize) {
		return nil, fmt.Errorf("read patch_metadata: %w", err)
	}

	var metadataBytes []byte

	// Decompress if needed
	if block.Flags&fileCompress != 0 && block.CompressedSize < block.FileSize {
		decompressed, err := decompressData(compressedData, block.FileSize)
		if err != nil {
			return nil, fmt.Errorf("decompress patch_metadata: %w", err)
		}
		metadataBytes = decompressed
	} else {
		metadataBytes = compressedData
	}

	if len(metadataBytes) < 36 {
		return nil, fmt.Errorf("patch_metadata too small: %d bytes", len(metadataBytes))
	}

	meta := &PatchMetadata{}
	copy(meta.BaseMD5[:], metadataBytes[0:16])
	copy(meta.PatchMD5[:], metadataBytes[16:32])
	meta.BaseFileSize = uint32(metadataBytes[32]) |
		uint32(metadataBytes[33])<<8 |
		uint32(metadataBytes[34])<<16 |
		uint32(metadataBytes[35])<<24

	return meta, nil
}

// PatchMetadata contains information about a patch file.
type PatchMetadata struct {
	BaseMD5      [16]byte // MD5 of the base file this patch applies to
	PatchMD5     [16]byte // MD5 of the patch file itself
	BaseFileSize uint32   // Size of base file
}
