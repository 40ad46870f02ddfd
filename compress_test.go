// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTripData() []byte {
	data := make([]byte, 4096)
	state := uint64(0x2545F4914F6CDD1D)
	for i := range data {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		data[i] = byte(state)
	}
	return data
}

func TestHuffmanRoundTrip(t *testing.T) {
	data := roundTripData()

	encoded, err := huffmanCompress(data)
	require.NoError(t, err)

	decoded, err := huffmanDecompress(encoded)
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestHuffmanSkewedTwoSymbolRoundTrip(t *testing.T) {
	// Heavily skewed data (a long run of 'a' and a single 'b') gives a
	// two-symbol table with 1-bit codes and still has to round-trip.
	data := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaab")

	encoded, err := huffmanCompress(data)
	require.NoError(t, err)

	decoded, err := huffmanDecompress(encoded)
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestPKWareRoundTrip(t *testing.T) {
	data := []byte(`The quick brown fox jumps over the lazy dog. The quick brown fox jumps over the lazy dog again.`)

	encoded, err := pkwareCompress(data, dictSizeForLength(len(data)))
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	decoded, err := pkwareDecompress(encoded)
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestCompressDataWithCodecs(t *testing.T) {
	data := roundTripData()

	codecs := []Compressor{
		CompressorZlib,
		CompressorBzip2,
		CompressorPKWare,
		CompressorHuffman,
	}

	for _, codec := range codecs {
		codec := codec
		t.Run(codec.String(), func(t *testing.T) {
			compressed, err := compressDataWith(data, codec, 0)
			require.NoError(t, err)

			decompressed, err := decompressData(compressed, uint32(len(data)))
			require.NoError(t, err)
			require.Equal(t, data, decompressed)
		})
	}
}

func TestCompressDataWithLayeredCodecs(t *testing.T) {
	data := []byte("ABCABCABCABCABCABCABCABCABCABCABCABCABCABCABCABC")
	for i := 0; i < 7; i++ {
		data = append(data, data...)
	}

	compressed, err := compressDataWith(data, CompressorZlib|CompressorPKWare, 0)
	require.NoError(t, err)

	decompressed, err := decompressData(compressed, uint32(len(data)))
	require.NoError(t, err)
	require.Equal(t, data, decompressed)
}

func TestCompressDataWithNoneStoresRaw(t *testing.T) {
	data := roundTripData()

	out, err := compressDataWith(data, CompressorNone, 0)
	require.NoError(t, err)
	require.Equal(t, data, out)
}
