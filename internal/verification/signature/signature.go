// Package signature authenticates provider callbacks before any session
// state can move. Signatures cover the canonical byte form of the callback
// so a payload cannot be swapped under a valid signature.
package signature

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	dErrors "proofgate/pkg/domain-errors"
)

// Verifier checks a provider signature over a callback payload.
type Verifier interface {
	Verify(externalToken string, rawScore int, nonce string, signature string) error
}

// CanonicalBytes builds the exact byte sequence providers sign. The newline
// separators keep field boundaries unambiguous regardless of field content.
func CanonicalBytes(externalToken string, rawScore int, nonce string) []byte {
	return fmt.Appendf(nil, "%s\n%d\n%s", externalToken, rawScore, nonce)
}

// HMACVerifier validates hex-encoded HMAC-SHA256 signatures with a shared key.
type HMACVerifier struct {
	key []byte
}

func NewHMACVerifier(key []byte) *HMACVerifier {
	return &HMACVerifier{key: key}
}

func (v *HMACVerifier) Verify(externalToken string, rawScore int, nonce string, signature string) error {
	if len(v.key) == 0 {
		return dErrors.New(dErrors.CodeInvalidSignature, "callback signing key not configured")
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidSignature, "signature is not valid hex")
	}

	mac := hmac.New(sha256.New, v.key)
	_, _ = mac.Write(CanonicalBytes(externalToken, rawScore, nonce))
	if !hmac.Equal(mac.Sum(nil), provided) {
		return dErrors.New(dErrors.CodeInvalidSignature, "signature mismatch")
	}
	return nil
}

// Sign produces the signature a well-behaved provider would send. Used by
// tests and by the local provider simulator.
func (v *HMACVerifier) Sign(externalToken string, rawScore int, nonce string) string {
	mac := hmac.New(sha256.New, v.key)
	_, _ = mac.Write(CanonicalBytes(externalToken, rawScore, nonce))
	return hex.EncodeToString(mac.Sum(nil))
}

// Ed25519Verifier validates hex-encoded Ed25519 signatures against a
// provider public key. Used for providers that publish a key instead of
// sharing a secret.
type Ed25519Verifier struct {
	publicKey ed25519.PublicKey
}

func NewEd25519Verifier(publicKey ed25519.PublicKey) (*Ed25519Verifier, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(publicKey))
	}
	return &Ed25519Verifier{publicKey: publicKey}, nil
}

func (v *Ed25519Verifier) Verify(externalToken string, rawScore int, nonce string, signature string) error {
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidSignature, "signature is not valid hex")
	}
	if !ed25519.Verify(v.publicKey, CanonicalBytes(externalToken, rawScore, nonce), provided) {
		return dErrors.New(dErrors.CodeInvalidSignature, "signature mismatch")
	}
	return nil
}
