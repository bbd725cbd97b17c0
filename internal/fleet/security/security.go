// Package security implements Ed25519 command signing and verification
// for the fleet control plane.
package security

import (
	"crypto/ed25519"
	"errors"
)

// ErrInvalidKeyLength is returned when a signing key is not a raw
// 32-byte Ed25519 seed. This is a caller programming error and fails loudly
// rather than being silently defaulted.
var ErrInvalidKeyLength = errors.New("security: invalid private key length")

// Sign signs message with a raw 32-byte Ed25519 private key seed and
// returns the 64-byte signature.
func Sign(message, privateKey []byte) ([]byte, error) {
	if len(privateKey) != ed25519.SeedSize {
		return nil, ErrInvalidKeyLength
	}
	key := ed25519.NewKeyFromSeed(privateKey)
	return ed25519.Sign(key, message), nil
}

// Verify checks a signature against a raw 32-byte Ed25519 public key.
// It fails closed: wrong-length keys or signatures verify as false.
func Verify(message, signature, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

// VerifyTrusted checks a signature against a set of trusted public keys
// and succeeds when any key validates, so old and new keys can both be
// trusted during rotation. An empty key set disables trust checking and
// verifies unconditionally; see keys.Config for the explicit gate.
func VerifyTrusted(message, signature []byte, trustedKeys [][]byte) bool {
	if len(trustedKeys) == 0 {
		return true
	}
	for _, key := range trustedKeys {
		if Verify(message, signature, key) {
			return true
		}
	}
	return false
}
