package signing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignAndVerify(t *testing.T) {
	signer := NewSigner("test-signing-key")
	payload := []byte(`{"event":"key_rotated","new_key_id":"abc"}`)

	sig := signer.Sign(payload)
	assert.Len(t, sig, 64)

	t.Run("round trip verifies", func(t *testing.T) {
		assert.True(t, signer.Verify(payload, sig))
	})

	t.Run("tampered payload fails", func(t *testing.T) {
		assert.False(t, signer.Verify([]byte(`{"event":"key_rotated","new_key_id":"xyz"}`), sig))
	})

	t.Run("wrong key fails", func(t *testing.T) {
		other := NewSigner("other-key")
		assert.False(t, other.Verify(payload, sig))
	})

	t.Run("non-hex signature fails", func(t *testing.T) {
		assert.False(t, signer.Verify(payload, "not-hex!"))
	})
}

func TestKeyedHash(t *testing.T) {
	h1 := KeyedHash("pepper", "kg_secret_token")
	h2 := KeyedHash("pepper", "kg_secret_token")
	h3 := KeyedHash("other-pepper", "kg_secret_token")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}
