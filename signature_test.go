// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestVerifySignatureWithKey exercises real RSA-PKCS1v15 verification
// against a locally generated key pair, since the embedded Blizzard keys
// are unverified placeholders (see DESIGN.md) and can't be expected to
// validate anything real.
func TestVerifySignatureWithKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	archiveData := []byte("pretend this is the archive bytes with the signature region zeroed")
	digest := sha1.Sum(archiveData)

	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA1, digest[:])
	require.NoError(t, err)

	info := &SignatureInfo{Version: 1, Signature: reverseBytes(sig)}

	require.NoError(t, info.VerifySignatureWithKey(archiveData, &key.PublicKey, crypto.SHA1))
}

func TestVerifySignatureWithKeyRejectsTamperedData(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	archiveData := []byte("original archive bytes")
	digest := sha1.Sum(archiveData)

	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA1, digest[:])
	require.NoError(t, err)

	info := &SignatureInfo{Version: 1, Signature: reverseBytes(sig)}

	tampered := []byte("tampered archive bytes")
	require.Error(t, info.VerifySignatureWithKey(tampered, &key.PublicKey, crypto.SHA1))
}

func TestVerifySignatureEmptyRejected(t *testing.T) {
	info := &SignatureInfo{Version: 1, Signature: nil}
	require.Error(t, info.VerifySignatureWithKey([]byte("data"), &rsa.PublicKey{}, crypto.SHA1))
}
