package codec

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBase64URLRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		{0x00},
		{0xff, 0xfe, 0xfd},
		[]byte("the quick brown fox"),
	}
	for _, c := range cases {
		encoded := B64URLEncode(c)
		decoded, err := B64URLDecode(encoded)
		require.NoError(t, err)
		if len(c) == 0 {
			assert.Empty(t, decoded)
		} else {
			assert.Equal(t, c, decoded)
		}
	}
}

func TestHexRoundTrip(t *testing.T) {
	b := []byte{0x01, 0xab, 0xff, 0x00}
	enc := HexEncode(b)
	assert.Equal(t, "01abff00", enc)
	dec, err := HexDecode(enc)
	require.NoError(t, err)
	assert.Equal(t, b, dec)
}

func TestP1363DERRoundTrip(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	r, s, err := ecdsa.Sign(rand.Reader, priv, []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	der, err := marshalDERSignature(r, s)
	require.NoError(t, err)

	p1363, err := DERToP1363(der)
	require.NoError(t, err)
	assert.Len(t, p1363, 64)

	der2, err := P1363ToDER(p1363)
	require.NoError(t, err)

	r2, s2, err := parseDERSignature(der2)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Cmp(r2))
	assert.Equal(t, 0, s.Cmp(s2))
}

func TestP1363ToDERRejectsWrongLength(t *testing.T) {
	_, err := P1363ToDER(make([]byte, 63))
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestDERToP1363LeadingZeroPadding(t *testing.T) {
	// An r value with the high bit set requires DER positivity padding;
	// verify the P-1363 conversion still yields exactly 32 bytes for it.
	r := new(big.Int).SetBytes(append([]byte{0xff}, make([]byte, 31)...))
	s := big.NewInt(1)
	der, err := marshalDERSignature(r, s)
	require.NoError(t, err)

	p1363, err := DERToP1363(der)
	require.NoError(t, err)
	assert.Len(t, p1363, 64)
	assert.Equal(t, byte(0xff), p1363[0])
}

func TestRawP256ToJWKAndThumbprint(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	raw := elliptic.Marshal(elliptic.P256(), priv.PublicKey.X, priv.PublicKey.Y)
	require.Len(t, raw, 65)
	require.Equal(t, byte(0x04), raw[0])

	jwk, err := RawP256ToJWK(raw)
	require.NoError(t, err)
	assert.Equal(t, "EC", jwk.Kty)
	assert.Equal(t, "P-256", jwk.Crv)

	kid1, err := JWKThumbprint(jwk)
	require.NoError(t, err)
	assert.NotEmpty(t, kid1)

	kid2, err := ThumbprintFromRawP256(raw)
	require.NoError(t, err)
	assert.Equal(t, kid1, kid2)

	// Thumbprint is content-derived: a different key must yield a different kid.
	priv2, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	raw2 := elliptic.Marshal(elliptic.P256(), priv2.PublicKey.X, priv2.PublicKey.Y)
	kid3, err := ThumbprintFromRawP256(raw2)
	require.NoError(t, err)
	assert.NotEqual(t, kid1, kid3)
}

func TestRawP256ToJWKRejectsBadPrefix(t *testing.T) {
	raw := make([]byte, 65)
	raw[0] = 0x02
	_, err := RawP256ToJWK(raw)
	assert.ErrorIs(t, err, ErrInvalidLength)
}
