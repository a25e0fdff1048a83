package signer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlake2bSigner_SignAndVerify(t *testing.T) {
	s, err := NewBlake2bSigner("segredo-de-teste", "pal")
	require.NoError(t, err)

	payload := []byte("c1|o1|acme|s1|10|EUR|2026-03-10T09:00:00Z")
	sig := s.Sign(payload)

	assert.Len(t, sig, 64)
	assert.Equal(t, sig, s.Sign(payload), "assinatura determinística")
	assert.True(t, s.Verify(payload, sig))
	assert.False(t, s.Verify([]byte("c1|o1|acme|s1|11|EUR|2026-03-10T09:00:00Z"), sig))
	assert.False(t, s.Verify(payload, "zz"))
}

func TestBlake2bSigner_KeyMatters(t *testing.T) {
	a, err := NewBlake2bSigner("chave-a", "")
	require.NoError(t, err)
	b, err := NewBlake2bSigner("chave-b", "")
	require.NoError(t, err)

	payload := []byte("x")
	assert.False(t, b.Verify(payload, a.Sign(payload)))
}

func TestBlake2bSigner_LongKey(t *testing.T) {
	s, err := NewBlake2bSigner(strings.Repeat("k", 200), "")
	require.NoError(t, err)
	assert.True(t, s.Verify([]byte("x"), s.Sign([]byte("x"))))
}

func TestBlake2bSigner_EmptyKey(t *testing.T) {
	_, err := NewBlake2bSigner("", "PAL")
	assert.Error(t, err)
}

func TestBlake2bSigner_QRCode(t *testing.T) {
	s, err := NewBlake2bSigner("k", "pal")
	require.NoError(t, err)

	a, b := s.NewQRCode(), s.NewQRCode()

	assert.True(t, strings.HasPrefix(a, "PAL-"))
	assert.Len(t, a, len("PAL-")+32)
	assert.NotEqual(t, a, b)
}
