// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zlib"
)

// Compression type constants. A sector's leading byte is either exactly one
// of these, or a bitmask combining several when multiple codecs are layered
// (e.g. Huffman entropy coding under ADPCM for WAVE sectors).
const (
	compressionHuffman   = 0x01 // Huffman (Storm variant, used standalone and under ADPCM)
	compressionZlib      = 0x02 // Zlib/deflate compression
	compressionPKWare    = 0x08 // PKWare DCL ("implode") compression
	compressionBzip2     = 0x10 // BZip2 compression
	compressionSparse    = 0x20 // Sparse/RLE compression (SC2+, not implemented)
	compressionADPCMMono = 0x40 // ADPCM mono audio
	compressionADPCM     = 0x80 // ADPCM stereo audio
	compressionLZMA      = 0x12 // LZMA compression (SC2+, not implemented)
)

// Compressor selects which codec AddFileWithOpts uses for new sectors.
// It is a bitmask with the same bit assignments as the on-disk leading
// compression byte, so combinations (e.g. Huffman+ADPCM for WAVE data) are
// expressed the same way callers will see them on read.
type Compressor uint8

const (
	CompressorNone    Compressor = 0
	CompressorZlib    Compressor = compressionZlib
	CompressorBzip2   Compressor = compressionBzip2
	CompressorPKWare  Compressor = compressionPKWare
	CompressorHuffman Compressor = compressionHuffman
	// CompressorADPCMMono and CompressorADPCMStereo should be combined with
	// CompressorHuffman (ored together) to match Storm's WAVE layering;
	// used alone they store raw deltas with no entropy stage.
	CompressorADPCMMono   Compressor = compressionADPCMMono
	CompressorADPCMStereo Compressor = compressionADPCM
)

// String renders the codec bitmask as the names of its set bits, for log
// lines and test failure output.
func (c Compressor) String() string {
	if c == CompressorNone {
		return "none"
	}
	names := []struct {
		bit  Compressor
		name string
	}{
		{CompressorHuffman, "huffman"},
		{CompressorZlib, "zlib"},
		{CompressorPKWare, "pkware"},
		{CompressorBzip2, "bzip2"},
		{CompressorADPCMMono, "adpcm-mono"},
		{CompressorADPCMStereo, "adpcm-stereo"},
	}
	out := ""
	for _, n := range names {
		if c&n.bit != 0 {
			if out != "" {
				out += "+"
			}
			out += n.name
		}
	}
	if out == "" {
		return fmt.Sprintf("0x%02x", uint8(c))
	}
	return out
}

// compressDataWith compresses data with the requested codec combination and
// prepends the leading compression-type byte. quality is the codec-specific
// compression level (1-9); 0 means "use the codec's default".
func compressDataWith(data []byte, codec Compressor, quality int) ([]byte, error) {
	if codec == CompressorNone {
		return data, nil
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(codec))

	payload := data

	if codec&(compressionADPCMMono|compressionADPCM) != 0 {
		channels := 1
		if codec&compressionADPCM != 0 {
			channels = 2
		}
		level := quality
		if level <= 0 {
			level = 2
		}
		encoded, err := compressADPCM(payload, channels, level)
		if err != nil {
			return nil, fmt.Errorf("adpcm compress: %w", err)
		}
		payload = encoded
	}

	if codec&compressionHuffman != 0 {
		encoded, err := huffmanCompress(payload)
		if err != nil {
			return nil, fmt.Errorf("huffman compress: %w", err)
		}
		payload = encoded
	}

	// Primary codecs stack: storage order is the reverse of the
	// decompression order (bzip2, PKWare, zlib), so apply zlib first, then
	// PKWare, then bzip2 when more than one bit is set.
	if codec&compressionZlib != 0 {
		encoded, err := zlibCompress(payload, quality)
		if err != nil {
			return nil, fmt.Errorf("zlib compress: %w", err)
		}
		payload = encoded
	}

	if codec&compressionPKWare != 0 {
		encoded, err := pkwareCompress(payload, dictSizeForLength(len(payload)))
		if err != nil {
			return nil, fmt.Errorf("pkware compress: %w", err)
		}
		payload = encoded
	}

	if codec&compressionBzip2 != 0 {
		payload = mustBzip2Compress(payload, quality)
	}

	buf.Write(payload)
	return buf.Bytes(), nil
}

// compressData is the convenience entry point used by the writer for plain
// best-effort zlib compression, matching the teacher's original signature.
func compressData(data []byte) ([]byte, error) {
	return compressDataWith(data, CompressorZlib, 0)
}

func zlibCompress(data []byte, quality int) ([]byte, error) {
	level := zlib.BestCompression
	if quality > 0 && quality <= 9 {
		level = quality
	}
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("create zlib writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("zlib write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}
	return buf.Bytes(), nil
}

func mustBzip2Compress(data []byte, quality int) []byte {
	encoded, err := bzip2Compress(data, quality)
	if err != nil {
		// bzip2.NewWriterLevel only fails on an out-of-range level, which
		// bzip2Compress already clamps; this path is unreachable in
		// practice and kept only so the caller signature stays simple.
		return data
	}
	return encoded
}

func bzip2Compress(data []byte, quality int) ([]byte, error) {
	level := bzip2.BestCompression
	if quality > 0 && quality <= 9 {
		level = quality
	}
	var buf bytes.Buffer
	w, err := bzip2.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("create bzip2 writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("bzip2 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("bzip2 close: %w", err)
	}
	return buf.Bytes(), nil
}

// decompressData decompresses MPQ-compressed data. Supports multi-codec
// sectors: compressDataWith applies ADPCM, then Huffman, then the primary
// compressors, so they are undone in reverse (primary compressors, then
// Huffman, then ADPCM) to recover the original bytes.
func decompressData(data []byte, uncompressedSize uint32) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty compressed data")
	}

	compressionType := data[0]
	result := data[1:]

	// A sector whose stored size already equals (or exceeds) the
	// uncompressed size was written with the store-verbatim fallback; the
	// leading byte is still meaningful for multi-codec sectors, so only
	// treat byte 0x00 itself as "stored, no codec bits set".
	if compressionType == 0 {
		return result, nil
	}

	var err error

	// 0x12 is reserved for LZMA (SC2+), which collides bitwise with
	// bzip2|zlib; check the exact combination before treating either bit as
	// its own layered codec.
	if compressionType&compressionLZMA == compressionLZMA {
		return nil, fmt.Errorf("%w: LZMA", ErrUnsupportedCompression)
	}

	if compressionType&compressionSparse != 0 {
		return nil, fmt.Errorf("%w: sparse", ErrUnsupportedCompression)
	}

	// Multiple primary-codec bits may be set at once; apply each set bit in
	// table order (bzip2, then PKWare, then zlib) the way it was applied in
	// reverse on compression.
	if compressionType&compressionBzip2 != 0 {
		result, err = decompressBzip2(result, uncompressedSizeHint(compressionType, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("bzip2: %w", err)
		}
	}

	if compressionType&compressionPKWare != 0 {
		result, err = pkwareDecompress(result)
		if err != nil {
			return nil, fmt.Errorf("pkware: %w", err)
		}
	}

	if compressionType&compressionZlib != 0 {
		result, err = decompressZlib(result, uncompressedSizeHint(compressionType, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
	}

	if compressionType&compressionHuffman != 0 {
		result, err = huffmanDecompress(result)
		if err != nil {
			return nil, fmt.Errorf("huffman: %w", err)
		}
	}

	if compressionType&compressionADPCM != 0 {
		result, err = decompressADPCM(result, 2)
		if err != nil {
			return nil, fmt.Errorf("adpcm stereo: %w", err)
		}
	} else if compressionType&compressionADPCMMono != 0 {
		result, err = decompressADPCM(result, 1)
		if err != nil {
			return nil, fmt.Errorf("adpcm mono: %w", err)
		}
	}

	if len(result) == 0 && uncompressedSize != 0 {
		return nil, newError(ErrCodeUnsupportedCompression, "decompressData", nil,
			map[string]any{"compressionType": compressionType})
	}

	return result, nil
}

// uncompressedSizeHint returns the size passed to the primary codec stage:
// the final decompressed size, or a larger estimate when further stages
// (Huffman, ADPCM) still need to run. decompressZlib and decompressBzip2
// read their stream to EOF with io.ReadAll and do not use this value as a
// bound.
func uncompressedSizeHint(compressionType byte, finalSize uint32) uint32 {
	if compressionType&(compressionHuffman|compressionADPCMMono|compressionADPCM) != 0 {
		// An intermediate stage follows; give generous headroom since the
		// true intermediate size isn't known up front.
		if finalSize < 64 {
			return 256
		}
		return finalSize * 2
	}
	return finalSize
}

// decompressZlib decompresses zlib-compressed data.
func decompressZlib(data []byte, uncompressedSize uint32) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create zlib reader: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	return out, nil
}

// decompressBzip2 decompresses bzip2-compressed data.
func decompressBzip2(data []byte, uncompressedSize uint32) ([]byte, error) {
	r, err := bzip2.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create bzip2 reader: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("bzip2 decompress: %w", err)
	}
	return out, nil
}

// dictSizeForLength picks the PKWARE dictionary-size selector (4/5/6,
// meaning 0x400/0x800/0x1000 bytes) the same way StormLib's implode wrapper
// does: based on the size of the data being compressed, since a window
// larger than the input can never help and only costs bits in the header.
func dictSizeForLength(n int) uint32 {
	switch {
	case n <= 0x600:
		return 4
	case n <= 0xC00:
		return 5
	default:
		return 6
	}
}
