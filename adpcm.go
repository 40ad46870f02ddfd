// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"fmt"
)

// This file is a faithful Go port of Storm's WAVE compressor/decompressor
// (the ADPCM-like codec behind the compressionADPCM / compressionADPCMMono
// flags), recovered from the decompiled CompressWave/DecompressWave source
// bundled as original_source/stormlib2/wave/wave.c. It is not generic IMA
// ADPCM: Storm uses its own per-channel step table and a control-byte
// scheme distinct from the standard IMA tables.

// adpcmStepIndexDelta mirrors Table1503F120: how much a sample's step
// index moves for a given 5-bit delta-byte pattern. The 0xFFFFFFFF entries
// are never reached in practice (the corresponding bit patterns cannot be
// produced by the encoder) and are kept as-is to stay byte-for-byte
// faithful to the original table.
var adpcmStepIndexDelta = [32]int32{
	-1, 0, -1, 4, -1, 2, -1, 6,
	-1, 1, -1, 5, -1, 3, -1, 7,
	-1, 1, -1, 5, -1, 3, -1, 7,
	-1, 2, -1, 4, -1, 6, -1, 8,
}

// adpcmStepTable mirrors Table1503F1A0: the magnitude step size for each of
// the 89 possible step indices (0x00-0x58).
var adpcmStepTable = [89]int32{
	0x7, 0x8, 0x9, 0xA, 0xB, 0xC, 0xD, 0xE,
	0x10, 0x11, 0x13, 0x15, 0x17, 0x19, 0x1C, 0x1F,
	0x22, 0x25, 0x29, 0x2D, 0x32, 0x37, 0x3C, 0x42,
	0x49, 0x50, 0x58, 0x61, 0x6B, 0x76, 0x82, 0x8F,
	0x9D, 0xAD, 0xBE, 0xD1, 0xE6, 0xFD, 0x117, 0x133,
	0x151, 0x173, 0x198, 0x1C1, 0x1EE, 0x220, 0x256, 0x292,
	0x2D4, 0x31C, 0x36C, 0x3C3, 0x424, 0x48E, 0x502, 0x583,
	0x610, 0x6AB, 0x756, 0x812, 0x8E0, 0x9C3, 0xABD, 0xBD0,
	0xCFF, 0xE4C, 0xFBA, 0x114C, 0x1307, 0x14EE, 0x1706, 0x1954,
	0x1BDC, 0x1EA5, 0x21B6, 0x2515, 0x28CA, 0x2CDF, 0x315B, 0x364B,
	0x3BB9, 0x41B2, 0x4844, 0x4F7E, 0x5771, 0x602F, 0x69CE, 0x7462,
	0x7FFF,
}

const adpcmMaxStepIndex = int32(0x58)
const adpcmInitialStepIndex = int32(0x2C)

func clampStepIndex(v int32) int32 {
	if v < 0 {
		return 0
	}
	if v > adpcmMaxStepIndex {
		return adpcmMaxStepIndex
	}
	return v
}

// compressADPCM encodes interleaved little-endian 16-bit PCM samples.
// channels must be 1 or 2; level is Storm's compressionLevel parameter
// (shift amount used when sizing each step), typically 2.
func compressADPCM(pcm []byte, channels, level int) ([]byte, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("adpcm: channels must be 1 or 2, got %d", channels)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("adpcm: input length must be a whole number of samples")
	}
	samples := make([]int32, len(pcm)/2)
	for i := range samples {
		samples[i] = int32(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
	}
	if len(samples) < channels {
		return nil, fmt.Errorf("adpcm: not enough samples for %d channel(s)", channels)
	}

	out := make([]byte, 0, len(pcm)/2+4)
	out = append(out, 0, byte(level-1))

	var stepIndex [2]int32
	stepIndex[0], stepIndex[1] = adpcmInitialStepIndex, adpcmInitialStepIndex
	var sample [2]int32

	pos := 0
	for ch := 0; ch < channels; ch++ {
		sample[ch] = samples[pos]
		out = appendInt16LE(out, int16(samples[pos]))
		pos++
	}

	idx := channels - 1
	for pos < len(samples) {
		if channels == 2 {
			idx = 1 - idx
		}
		word := samples[pos]
		pos++

		diff := word - sample[idx]
		negative := word < sample[idx]
		absDiff := diff
		if absDiff < 0 {
			absDiff = -absDiff
		}

		tableVal := adpcmStepTable[stepIndex[idx]]

		if absDiff < (tableVal >> uint(level)) {
			if stepIndex[idx] != 0 {
				stepIndex[idx]--
			}
			out = append(out, 0x80)
			continue
		}

		for absDiff > tableVal*2 && stepIndex[idx] < adpcmMaxStepIndex {
			stepIndex[idx] = clampStepIndex(stepIndex[idx] + 8)
			tableVal = adpcmStepTable[stepIndex[idx]]
			out = append(out, 0x81)
		}

		halfTableVal := tableVal >> uint(level-1)

		stopBit := int32(1) << uint(level-2)
		if stopBit > 0x20 {
			stopBit = 0x20
		}

		var accum int32
		var bitBuf byte
		for bit := int32(1); ; {
			if accum+tableVal <= absDiff {
				accum += tableVal
				bitBuf |= byte(bit)
			}
			if bit == stopBit {
				break
			}
			tableVal >>= 1
			bit <<= 1
		}

		if negative {
			sample[idx] -= accum + halfTableVal
			if sample[idx] < -32768 {
				sample[idx] = -32768
			}
			bitBuf |= 0x40
		} else {
			sample[idx] += accum + halfTableVal
			if sample[idx] > 32767 {
				sample[idx] = 32767
			}
		}

		out = append(out, bitBuf)

		stepIndex[idx] = clampStepIndex(stepIndex[idx] + adpcmStepIndexDelta[bitBuf&0x1F])
	}

	return out, nil
}

// decompressADPCM reverses compressADPCM.
func decompressADPCM(data []byte, channels int) ([]byte, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("adpcm: channels must be 1 or 2, got %d", channels)
	}
	if len(data) < 2+channels*2 {
		return nil, fmt.Errorf("adpcm: stream too short")
	}
	shift := uint(data[1])

	var stepIndex [2]int32
	stepIndex[0], stepIndex[1] = adpcmInitialStepIndex, adpcmInitialStepIndex
	var sample [2]int32

	out := make([]byte, 0, len(data)*2)
	pos := 2
	for ch := 0; ch < channels; ch++ {
		v := int16(binary.LittleEndian.Uint16(data[pos : pos+2]))
		sample[ch] = int32(v)
		out = appendInt16LE(out, v)
		pos += 2
	}

	idx := channels - 1
	for pos < len(data) {
		b := data[pos]
		pos++
		if channels == 2 {
			idx = 1 - idx
		}

		if b&0x80 != 0 {
			switch b & 0x7F {
			case 0:
				if stepIndex[idx] != 0 {
					stepIndex[idx]--
				}
				out = appendInt16LE(out, int16(sample[idx]))
			case 1:
				stepIndex[idx] = clampStepIndex(stepIndex[idx] + 8)
				if channels == 2 {
					idx = 1 - idx
				}
			case 2:
				// explicit no-op control byte
			default:
				stepIndex[idx] = clampStepIndex(stepIndex[idx] - 8)
				if channels == 2 {
					idx = 1 - idx
				}
			}
			continue
		}

		base := adpcmStepTable[stepIndex[idx]]
		delta := base >> shift
		if b&0x01 != 0 {
			delta += base >> 0
		}
		if b&0x02 != 0 {
			delta += base >> 1
		}
		if b&0x04 != 0 {
			delta += base >> 2
		}
		if b&0x08 != 0 {
			delta += base >> 3
		}
		if b&0x10 != 0 {
			delta += base >> 4
		}
		if b&0x20 != 0 {
			delta += base >> 5
		}

		if b&0x40 != 0 {
			sample[idx] -= delta
			if sample[idx] <= -32768 {
				sample[idx] = -32768
			}
		} else {
			sample[idx] += delta
			if sample[idx] >= 32767 {
				sample[idx] = 32767
			}
		}

		out = appendInt16LE(out, int16(sample[idx]))
		stepIndex[idx] = clampStepIndex(stepIndex[idx] + adpcmStepIndexDelta[b&0x1F])
	}

	return out, nil
}

func appendInt16LE(buf []byte, v int16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], uint16(v))
	return append(buf, tmp[0], tmp[1])
}
