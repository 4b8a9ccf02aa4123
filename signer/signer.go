// Package signer produces and verifies the detached RSA signatures used
// throughout the certificate core, and computes the canonical SHA-256
// digests they cover.
//
// The signature scheme is RSA PKCS#1 v1.5 over SHA-256, applied
// identically at issuance and verification time.
package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	pcerrors "github.com/i-bosquet/petconnect/errors"
	"github.com/i-bosquet/petconnect/keyvault"
)

// Digest returns the lower-case hex SHA-256 digest of data. It is total:
// any byte sequence, including empty, digests cleanly.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Sign produces a detached base64 signature over data using the private
// key behind the given handle.
func Sign(handle *keyvault.Handle, data []byte) (string, error) {
	key, err := handle.Key()
	if err != nil {
		return "", err
	}
	hashed := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hashed[:])
	if err != nil {
		return "", pcerrors.SignatureGenerationFailedError("signing failed: %s", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a detached base64 signature over data against a public
// key. It is total: invalid base64, a wrong key, a nil key or tampered
// data all return false, never an error.
func Verify(pub *rsa.PublicKey, data []byte, sigB64 string) bool {
	if pub == nil || sigB64 == "" {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	hashed := sha256.Sum256(data)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, hashed[:], sig) == nil
}
