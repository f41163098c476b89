package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashThenEncodeProducesValidMultihash(t *testing.T) {
	encoded, err := HashThenEncode([]byte("content"), SHA256Code)
	require.NoError(t, err)

	raw, err := Decode(encoded)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	// base64url multibase strings start with 'u'
	assert.Equal(t, byte('u'), encoded[0])
}

func TestDecodeRejectsGarbage(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "not multibase", input: "\x00\x01"},
		{name: "multibase but not multihash", input: "uAA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestCommitmentMatchesRevealHash(t *testing.T) {
	commitment, err := Commitment("reveal-value", SHA256Code)
	require.NoError(t, err)

	again, err := Commitment("reveal-value", SHA256Code)
	require.NoError(t, err)
	assert.Equal(t, commitment, again)

	other, err := Commitment("other-value", SHA256Code)
	require.NoError(t, err)
	assert.NotEqual(t, commitment, other)
}

func TestIsValidHash(t *testing.T) {
	content := []byte("chunk file bytes")
	encoded, err := HashThenEncode(content, SHA256Code)
	require.NoError(t, err)

	assert.True(t, IsValidHash(content, encoded))
	assert.False(t, IsValidHash([]byte("tampered"), encoded))
	assert.False(t, IsValidHash(content, "not-a-hash"))
}

func TestHashObjectIsDeterministic(t *testing.T) {
	type sample struct {
		A string `json:"a"`
		B int    `json:"b"`
	}

	first, err := HashObject(sample{A: "x", B: 1}, SHA256Code)
	require.NoError(t, err)
	second, err := HashObject(sample{A: "x", B: 1}, SHA256Code)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
