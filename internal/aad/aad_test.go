package aad

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildIsOrderIndependent(t *testing.T) {
	a := NewBuilder().Str("kid", "abc").Int("createdAt", 100).Bool("flag", true)
	b := NewBuilder().Bool("flag", true).Int("createdAt", 100).Str("kid", "abc")

	ab, err := a.Build()
	require.NoError(t, err)
	bb, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, ab, bb)
	assert.True(t, Equal(a, b))
}

func TestBuildKeysSortedLexicographically(t *testing.T) {
	b := NewBuilder().Str("zeta", "1").Str("alpha", "2").Str("mu", "3")
	out, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"2","mu":"3","zeta":"1"}`, string(out))
}

func TestBytesFieldIsBase64URLEncoded(t *testing.T) {
	b := NewBuilder().Bytes("credentialId", []byte{0xff, 0x00, 0x10})
	out, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, `{"credentialId":"_wAQ"}`, string(out))
}

func TestBytesFieldEmptySliceEncodesEmptyString(t *testing.T) {
	b := NewBuilder().Bytes("x", nil)
	out, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, `{"x":""}`, string(out))
}

func TestDifferingValuesProduceDifferentOutput(t *testing.T) {
	a := NewBuilder().Str("purpose", "vapid")
	b := NewBuilder().Str("purpose", "uak")
	assert.False(t, Equal(a, b))
}

func TestDifferingKeySetsProduceDifferentOutput(t *testing.T) {
	a := NewBuilder().Str("purpose", "vapid")
	b := NewBuilder().Str("purpose", "vapid").Str("extra", "x")
	assert.False(t, Equal(a, b))
}

func TestWrappedKeyAADShape(t *testing.T) {
	// Mirrors the WrappedKey AAD fields from spec.md §3: {kmsVersion, kid,
	// alg, purpose, createdAt, keyType}.
	b := NewBuilder().
		Int("kmsVersion", 2).
		Str("kid", "4S9x...").
		Str("alg", "A256GCM").
		Str("purpose", "vapid").
		Int("createdAt", 1732999999).
		Str("keyType", "EC-P256")
	out, err := b.Build()
	require.NoError(t, err)
	assert.JSONEq(t, `{"alg":"A256GCM","createdAt":1732999999,"keyType":"EC-P256","kid":"4S9x...","kmsVersion":2,"purpose":"vapid"}`, string(out))
}
