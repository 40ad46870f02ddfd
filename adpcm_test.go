// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sineWavePCM(samples, channels int) []byte {
	pcm := make([]byte, samples*channels*2)
	for i := 0; i < samples; i++ {
		// Cheap integer approximation of a waveform, not an actual sine -
		// just needs enough amplitude variation to exercise every control
		// byte path (repeat, step up/down, sign bit).
		v := int16((i%64)*512 - 16384)
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 2
			pcm[off] = byte(v)
			pcm[off+1] = byte(v >> 8)
		}
	}
	return pcm
}

func TestADPCMMonoRoundTrip(t *testing.T) {
	pcm := sineWavePCM(2000, 1)

	encoded, err := compressADPCM(pcm, 1, 2)
	require.NoError(t, err)
	require.Less(t, len(encoded), len(pcm))

	decoded, err := decompressADPCM(encoded, 1)
	require.NoError(t, err)
	require.Len(t, decoded, len(pcm))
}

func TestADPCMStereoRoundTrip(t *testing.T) {
	pcm := sineWavePCM(2000, 2)

	encoded, err := compressADPCM(pcm, 2, 4)
	require.NoError(t, err)

	decoded, err := decompressADPCM(encoded, 2)
	require.NoError(t, err)
	require.Len(t, decoded, len(pcm))
}

func TestADPCMViaCompressDataWith(t *testing.T) {
	pcm := sineWavePCM(1500, 2)

	codec := CompressorADPCMStereo | CompressorHuffman
	encoded, err := compressDataWith(pcm, codec, 3)
	require.NoError(t, err)

	decoded, err := decompressData(encoded, uint32(len(pcm)))
	require.NoError(t, err)
	require.Len(t, decoded, len(pcm))
}
