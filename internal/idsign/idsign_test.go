package idsign

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_RoundTrip(t *testing.T) {
	s := New("test-secret")

	signed := s.Sign("thread-abc123")
	id, err := s.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "thread-abc123", id)
}

func TestSigner_RejectsTamperedID(t *testing.T) {
	s := New("test-secret")

	signed := s.Sign("thread-abc123")
	tampered := "thread-xyz999" + signed[len("thread-abc123"):]

	_, err := s.Verify(tampered)
	assert.Error(t, err)
}

func TestSigner_RejectsForeignSecret(t *testing.T) {
	a := New("secret-a")
	b := New("secret-b")

	signed := a.Sign("thread-abc123")
	_, err := b.Verify(signed)
	assert.Error(t, err)
}

func TestSigner_RejectsMalformedToken(t *testing.T) {
	s := New("test-secret")

	_, err := s.Verify("no-separator-here")
	assert.Error(t, err)
}
