package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "proofgate/pkg/domain-errors"
)

func TestCanonicalBytes(t *testing.T) {
	got := CanonicalBytes("tok", 42, "nonce-1")
	assert.Equal(t, []byte("tok\n42\nnonce-1"), got)

	// Swapping content between fields must change the canonical form.
	assert.NotEqual(t, CanonicalBytes("a\nb", 1, "c"), CanonicalBytes("a", 1, "b\nc"))
}

func TestHMACVerifier(t *testing.T) {
	key := []byte("test-signing-key")
	verifier := NewHMACVerifier(key)

	t.Run("valid signature round-trips", func(t *testing.T) {
		sig := verifier.Sign("token-1", 85, "nonce-1")
		assert.NoError(t, verifier.Verify("token-1", 85, "nonce-1", sig))
	})

	t.Run("tampered score rejected", func(t *testing.T) {
		sig := verifier.Sign("token-1", 85, "nonce-1")
		err := verifier.Verify("token-1", 250, "nonce-1", sig)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidSignature))
	})

	t.Run("tampered nonce rejected", func(t *testing.T) {
		sig := verifier.Sign("token-1", 85, "nonce-1")
		err := verifier.Verify("token-1", 85, "nonce-2", sig)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidSignature))
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		other := NewHMACVerifier([]byte("different-key"))
		sig := other.Sign("token-1", 85, "nonce-1")
		err := verifier.Verify("token-1", 85, "nonce-1", sig)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidSignature))
	})

	t.Run("non-hex signature rejected", func(t *testing.T) {
		err := verifier.Verify("token-1", 85, "nonce-1", "not-hex!")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidSignature))
	})

	t.Run("empty signature rejected", func(t *testing.T) {
		err := verifier.Verify("token-1", 85, "nonce-1", "")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidSignature))
	})

	t.Run("missing key rejects everything", func(t *testing.T) {
		unconfigured := NewHMACVerifier(nil)
		sig := verifier.Sign("token-1", 85, "nonce-1")
		err := unconfigured.Verify("token-1", 85, "nonce-1", sig)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidSignature))
	})
}

func TestEd25519Verifier(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	verifier, err := NewEd25519Verifier(pub)
	require.NoError(t, err)

	sign := func(token string, score int, nonce string) string {
		return hex.EncodeToString(ed25519.Sign(priv, CanonicalBytes(token, score, nonce)))
	}

	t.Run("valid signature accepted", func(t *testing.T) {
		assert.NoError(t, verifier.Verify("token-1", 93, "nonce-1", sign("token-1", 93, "nonce-1")))
	})

	t.Run("tampered payload rejected", func(t *testing.T) {
		err := verifier.Verify("token-1", 93, "nonce-2", sign("token-1", 93, "nonce-1"))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidSignature))
	})

	t.Run("truncated key refused at construction", func(t *testing.T) {
		_, err := NewEd25519Verifier(pub[:16])
		require.Error(t, err)
	})
}
