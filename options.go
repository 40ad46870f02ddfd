// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"os"
	"strings"
)

// Delegate lets a caller observe or veto archive mutations without
// subclassing Archive. Every method has a required signature but is
// optional in spirit: embed NopDelegate to get no-op defaults and
// override only the hooks you care about.
type Delegate interface {
	// WillSave is called once, before Close() begins writing pending
	// changes to disk.
	WillSave(a *Archive)
	// DidSave is called once after the archive has been written, with any
	// error writeArchive/Close produced.
	DidSave(a *Archive, err error)
	// ShouldAddFile is consulted by AddFileWithOpts before the file is
	// queued; returning false drops it silently (AddFileWithOpts returns
	// nil). AddFile and the other Add* methods do not consult it.
	ShouldAddFile(a *Archive, mpqPath string) bool
}

// NopDelegate is the default Delegate: every hook is a no-op, and
// ShouldAddFile always allows the file.
type NopDelegate struct{}

func (NopDelegate) WillSave(a *Archive)                          {}
func (NopDelegate) DidSave(a *Archive, err error)                 {}
func (NopDelegate) ShouldAddFile(a *Archive, mpqPath string) bool { return true }

// SetDelegate installs the Delegate used for the lifetime of a.
func (a *Archive) SetDelegate(d Delegate) {
	if d == nil {
		d = NopDelegate{}
	}
	a.delegate = d
}

// AddOptions configures how AddFileWithOpts stores a single file.
type AddOptions struct {
	compressor  Compressor
	quality     int
	locale      uint16
	overwrite   bool
	generateCRC bool
	flags       uint32
}

// AddOption mutates an AddOptions being built up by AddFileWithOpts.
type AddOption func(*AddOptions)

func newAddOptions(opts ...AddOption) AddOptions {
	o := AddOptions{compressor: CompressorZlib}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithCompressor selects the codec (or codec combination) used for a file's
// sectors. The zero value, CompressorNone, stores data uncompressed.
func WithCompressor(c Compressor) AddOption {
	return func(o *AddOptions) { o.compressor = c }
}

// WithQuality sets the codec-specific compression level (1-9 for
// zlib/bzip2, or the ADPCM compression shift). 0 means "codec default".
func WithQuality(q int) AddOption {
	return func(o *AddOptions) { o.quality = q }
}

// WithLocale sets the hash table locale tag for a file (default 0, neutral).
func WithLocale(locale uint16) AddOption {
	return func(o *AddOptions) { o.locale = locale }
}

// WithOverwrite allows AddFileWithOpts to replace an existing pending entry
// at the same path instead of appending a duplicate.
func WithOverwrite(overwrite bool) AddOption {
	return func(o *AddOptions) { o.overwrite = overwrite }
}

// WithFlags records additional block-table flags in AddOptions.
// AddFileWithOpts does not copy them onto the pending file, so they do not
// reach the written block-table entry; the flags the writer sets come from
// the compressor, WithSectorCRC and the file's size.
func WithFlags(flags uint32) AddOption {
	return func(o *AddOptions) { o.flags = flags }
}

// WithSectorCRC enables per-sector Adler-32 checksums for the file.
func WithSectorCRC(generate bool) AddOption {
	return func(o *AddOptions) { o.generateCRC = generate }
}

// OpenOptions configures Open/OpenForModify.
type OpenOptions struct {
	offset                int64
	hasOffset             bool
	ignoreHeaderSizeField bool
	probeLimit            int64
}

// OpenOption mutates an OpenOptions being built up by OpenWithOptions.
type OpenOption func(*OpenOptions)

func newOpenOptions(opts ...OpenOption) OpenOptions {
	o := OpenOptions{probeLimit: embeddedArchiveProbeLimit}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithOffset skips archive-header probing and reads the header at exactly
// this byte offset, for embedded archives whose offset is already known.
func WithOffset(offset int64) OpenOption {
	return func(o *OpenOptions) { o.offset = offset; o.hasOffset = true }
}

// WithIgnoreHeaderSizeField skips the check that the HeaderSize field equals
// the format version's expected size. The V2 extended header fields are
// still read only when HeaderSize is at least the V2 size.
func WithIgnoreHeaderSizeField(ignore bool) OpenOption {
	return func(o *OpenOptions) { o.ignoreHeaderSizeField = ignore }
}

// WithProbeLimit overrides how far findArchiveHeader scans for an embedded
// "MPQ\x1A" magic before giving up (default embeddedArchiveProbeLimit).
// Useful when the embedding stub is known to be unusually large, or to cap
// probing tighter than the default for untrusted input.
func WithProbeLimit(limit int64) OpenOption {
	return func(o *OpenOptions) { o.probeLimit = limit }
}

// CreateOptions configures Create/CreateWithVersion.
type CreateOptions struct {
	version      FormatVersion
	maxFileCount int
}

// CreateOption mutates a CreateOptions being built up by CreateWithOptions.
type CreateOption func(*CreateOptions)

func newCreateOptions(maxFiles int, opts ...CreateOption) CreateOptions {
	o := CreateOptions{version: FormatV1, maxFileCount: maxFiles}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithVersion selects the archive format version for a new archive.
func WithVersion(v FormatVersion) CreateOption {
	return func(o *CreateOptions) { o.version = v }
}

// WithMaxFileCount overrides the hash table sizing hint passed to Create.
func WithMaxFileCount(n int) CreateOption {
	return func(o *CreateOptions) { o.maxFileCount = n }
}

// AddFileWithOpts adds a file to the archive using the functional-options
// form. It supersedes AddFileWithOptions for new code that needs control
// over the compressor, quality, or locale.
func (a *Archive) AddFileWithOpts(srcPath, mpqPath string, opts ...AddOption) error {
	if a.mode != "w" && a.mode != "m" {
		return newError(ErrCodeReadOnly, "AddFileWithOpts", nil, map[string]any{"path": mpqPath})
	}
	o := newAddOptions(opts...)

	if a.delegate != nil && !a.delegate.ShouldAddFile(a, mpqPath) {
		return nil
	}

	normalizedPath := strings.ReplaceAll(mpqPath, "/", "\\")

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return newError(ErrCodeUnknown, "AddFileWithOpts", err, map[string]any{"srcPath": srcPath})
	}

	pf := pendingFile{
		srcPath:     srcPath,
		mpqPath:     normalizedPath,
		data:        data,
		generateCRC: o.generateCRC,
		compressor:  o.compressor,
		quality:     o.quality,
		locale:      o.locale,
	}

	if o.overwrite {
		for i, existing := range a.pendingFiles {
			if existing.mpqPath == normalizedPath {
				prev := existing
				a.pendingFiles[i] = pf
				a.recordPendingAdd(normalizedPath, i, &prev)
				return nil
			}
		}
	}

	a.pendingFiles = append(a.pendingFiles, pf)
	a.recordPendingAdd(normalizedPath, len(a.pendingFiles)-1, nil)
	return nil
}
