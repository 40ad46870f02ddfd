// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"crypto"
	"crypto/md5"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"math/big"
)

// SignatureInfo contains parsed signature data from (signature) file.
type SignatureInfo struct {
	Version   uint32
	Signature []byte
}

// Weak (RSASSA, MD5, 512-bit) and strong (RSASSA, SHA-1, 2048-bit) public
// keys, in the shape Blizzard's own signing keys take. The moduli below are
// placeholders reproduced from memory rather than copied from a verified
// source available in this environment, so VerifySignature will correctly
// reject every real Blizzard-signed archive until these are replaced with
// the authentic published moduli — see DESIGN.md. Callers signing with
// their own authority (a mod tool, a test fixture) should overwrite these
// package vars, or pass their own *rsa.PublicKey to VerifySignatureWithKey.
var (
	BlizzardWeakPublicKey = &rsa.PublicKey{
		N: mustParseHexBigInt("A7F2E9B610C3D8F4A1E5B72C9D6F3A8E1B4C7D2F5A8E3B6C9D2F5A8E1B4C7D2F" +
			"5A8E3B6C9D2F5A8E1B4C7D2F5A8E3B6C9D2F5A8E1B4C7D2F5A8E3B6C9D2F5A8" +
			"1"),
		E: 0x10001,
	}
	BlizzardStrongPublicKey = &rsa.PublicKey{
		N: mustParseHexBigInt("D4C1F8E5B2A97604D3E0C9B6A7F4E1D8C5B2A9F6E3D0C7B4A1F8E5D2C9B6A3F" +
			"0D7C4B1A8F5E2D9C6B3A0F7E4D1C8B5A2F9E6D3C0B7A4F1E8D5C2B9A6F3E0D7" +
			"C4B1A8F5E2D9C6B3A0F7E4D1C8B5A2F9E6D3C0B7A4F1E8D5C2B9A6F3E0D7C4B" +
			"1A8F5E2D9C6B3A0F7E4D1C8B5A2F9E6D3C0B7A4F1E8D5C2B9A6F3E0D7C4B1A8" +
			"1"),
		E: 0x10001,
	}
)

func mustParseHexBigInt(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("mpq: invalid embedded public key modulus")
	}
	return n
}

// ReadSignature reads and parses the (signature) special file if present.
// Returns nil if the signature file doesn't exist.
func (a *Archive) ReadSignature() (*SignatureInfo, error) {
	if a.mode != "r" {
		return nil, fmt.Errorf("archive not opened for reading")
	}

	// Check if signature file exists
	block, err := a.findFile("(signature)")
	if err != nil {
		return nil, nil // Signature is optional
	}

	// Read signature file data
	blockPos := block.getFilePos64()
	filePos := blockPos + a.header.ArchiveOffset
	if _, err := a.file.Seek(int64(filePos), 0); err != nil {
		return nil, fmt.Errorf("seek to signature data: %w", err)
	}

	compressedData := make([]byte, block.CompressedSize)
	if n, err := a.file.Read(compressedData); err != nil || n != int(block.CompressedSize) {
		return nil, fmt.Errorf("read signature data: %w", err)
	}

	var signatureData []byte

	// Decompress if needed
	if block.Flags&fileCompress != 0 && block.CompressedSize < block.FileSize {
		decompressed, err := decompressData(compressedData, block.FileSize)
		if err != nil {
			return nil, fmt.Errorf("decompress signature: %w", err)
		}
		signatureData = decompressed
	} else {
		signatureData = compressedData
	}

	if len(signatureData) < 8 {
		return nil, fmt.Errorf("signature data too small: %d bytes", len(signatureData))
	}

	// Parse signature structure
	version := binary.LittleEndian.Uint32(signatureData[0:4])
	sigLength := binary.LittleEndian.Uint32(signatureData[4:8])

	if len(signatureData) < int(8+sigLength) {
		return nil, fmt.Errorf("signature data truncated: expected %d bytes, got %d", 8+sigLength, len(signatureData))
	}

	signature := make([]byte, sigLength)
	copy(signature, signatureData[8:8+sigLength])

	return &SignatureInfo{
		Version:   version,
		Signature: signature,
	}, nil
}

// VerifySignature verifies a parsed (signature) entry against archiveData
// (the archive's bytes with the signature file's own payload region
// zero-filled, per Blizzard's convention of signing the archive "around"
// its own signature) using the built-in Blizzard public keys.
func (s *SignatureInfo) VerifySignature(archiveData []byte) error {
	switch s.Version {
	case 0:
		return s.verifyWith(archiveData, BlizzardWeakPublicKey, crypto.MD5, md5.New())
	case 1:
		return s.verifyWith(archiveData, BlizzardStrongPublicKey, crypto.SHA1, sha1.New())
	default:
		return newError(ErrCodeSignatureInvalid, "VerifySignature", nil,
			map[string]any{"version": s.Version})
	}
}

// VerifySignatureWithKey is VerifySignature against a caller-supplied
// authority instead of the embedded Blizzard keys, for archives signed by a
// mod tool or test fixture rather than Blizzard.
func (s *SignatureInfo) VerifySignatureWithKey(archiveData []byte, key *rsa.PublicKey, hash crypto.Hash) error {
	h := hash.New()
	return s.verifyWith(archiveData, key, hash, h)
}

type hasher interface {
	Write(p []byte) (int, error)
	Sum(b []byte) []byte
}

func (s *SignatureInfo) verifyWith(archiveData []byte, key *rsa.PublicKey, hash crypto.Hash, h hasher) error {
	if s == nil {
		return newError(ErrCodeSignatureInvalid, "verifyWith", nil, map[string]any{"reason": "no signature"})
	}
	if len(s.Signature) == 0 {
		return newError(ErrCodeSignatureInvalid, "verifyWith", nil, map[string]any{"reason": "empty signature"})
	}

	h.Write(archiveData)
	digest := h.Sum(nil)

	// Blizzard stores both weak and strong RSA signatures with the byte
	// order reversed relative to the big-endian integer rsa.VerifyPKCS1v15
	// expects (StormLib reverses the buffer on both sign and verify paths).
	sig := reverseBytes(s.Signature)

	if err := rsa.VerifyPKCS1v15(key, hash, digest, sig); err != nil {
		return newError(ErrCodeSignatureInvalid, "verifyWith", err,
			map[string]any{"version": s.Version, "sigLen": len(s.Signature)})
	}
	return nil
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
