package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func newKeyPair(t *testing.T) (seed, pub []byte) {
	t.Helper()
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return private.Seed(), public
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	seed, pub := newKeyPair(t)
	message := []byte("test command")

	signature, err := Sign(message, seed)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(signature) != ed25519.SignatureSize {
		t.Fatalf("expected %d byte signature, got %d", ed25519.SignatureSize, len(signature))
	}
	if !Verify(message, signature, pub) {
		t.Fatal("expected valid signature to verify")
	}
}

func TestVerifyTamperedMessage(t *testing.T) {
	seed, pub := newKeyPair(t)
	signature, err := Sign([]byte("test command"), seed)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if Verify([]byte("tampered command"), signature, pub) {
		t.Fatal("expected tampered message to fail verification")
	}
}

func TestVerifyWrongKey(t *testing.T) {
	seed, _ := newKeyPair(t)
	_, otherPub := newKeyPair(t)
	signature, err := Sign([]byte("test command"), seed)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if Verify([]byte("test command"), signature, otherPub) {
		t.Fatal("expected wrong key to fail verification")
	}
}

func TestVerifyFailsClosedOnBadLengths(t *testing.T) {
	seed, pub := newKeyPair(t)
	message := []byte("test command")
	signature, err := Sign(message, seed)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if Verify(message, signature, pub[:16]) {
		t.Fatal("expected short public key to fail closed")
	}
	if Verify(message, signature[:32], pub) {
		t.Fatal("expected short signature to fail closed")
	}
	if Verify(message, make([]byte, ed25519.SignatureSize), pub) {
		t.Fatal("expected zero signature to fail verification")
	}
}

func TestSignInvalidKeyLength(t *testing.T) {
	if _, err := Sign([]byte("test command"), []byte("too_short")); err != ErrInvalidKeyLength {
		t.Fatalf("expected ErrInvalidKeyLength, got %v", err)
	}
}

func TestVerifyTrusted(t *testing.T) {
	seed, pub := newKeyPair(t)
	_, otherPub := newKeyPair(t)
	message := []byte("test command")
	signature, err := Sign(message, seed)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if !VerifyTrusted(message, signature, [][]byte{otherPub, pub}) {
		t.Fatal("expected verification to succeed when any trusted key matches")
	}
	if VerifyTrusted(message, signature, [][]byte{otherPub}) {
		t.Fatal("expected verification to fail when no trusted key matches")
	}
	if !VerifyTrusted(message, signature, nil) {
		t.Fatal("expected empty trusted key set to verify unconditionally")
	}
}
