package lease

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJWTPayloadValidateRejectsNonHTTPSAud(t *testing.T) {
	p := JWTPayload{Aud: "http://example.com", Sub: "mailto:a@x", Exp: time.Now().Add(time.Hour).Unix(), Jti: "j1"}
	assert.Error(t, p.validate(time.Now()))
}

func TestJWTPayloadValidateRejectsBadSub(t *testing.T) {
	p := JWTPayload{Aud: "https://example.com", Sub: "ftp://a@x", Exp: time.Now().Add(time.Hour).Unix(), Jti: "j1"}
	assert.Error(t, p.validate(time.Now()))
}

func TestJWTPayloadValidateRejectsMissingJti(t *testing.T) {
	p := JWTPayload{Aud: "https://example.com", Sub: "mailto:a@x", Exp: time.Now().Add(time.Hour).Unix()}
	assert.Error(t, p.validate(time.Now()))
}

func TestJWTPayloadValidateRejectsExpTooFar(t *testing.T) {
	p := JWTPayload{Aud: "https://example.com", Sub: "mailto:a@x", Exp: time.Now().Add(48 * time.Hour).Unix(), Jti: "j1"}
	assert.Error(t, p.validate(time.Now()))
}

func TestJWTPayloadValidateAcceptsHTTPSSub(t *testing.T) {
	p := JWTPayload{Aud: "https://example.com", Sub: "https://a.example.com", Exp: time.Now().Add(time.Hour).Unix(), Jti: "j1"}
	assert.NoError(t, p.validate(time.Now()))
}

func TestNonceWindowDetectsReplayWithinWindow(t *testing.T) {
	w := newNonceWindow()
	now := time.Now()
	assert.False(t, w.seenOrRecord("j1", now))
	assert.True(t, w.seenOrRecord("j1", now.Add(time.Minute)))
}

func TestNonceWindowAllowsReuseAfterWindowExpires(t *testing.T) {
	w := newNonceWindow()
	now := time.Now()
	assert.False(t, w.seenOrRecord("j1", now))
	assert.False(t, w.seenOrRecord("j1", now.Add(replayWindow+time.Second)))
}

func TestWrapAndUnwrapLeaseKeyRoundTrips(t *testing.T) {
	kek := make([]byte, 32)
	aadBytes, err := leaseKeyAAD("lease-1", "kid-1")
	assert.NoError(t, err)

	scalar := []byte("0123456789abcdef0123456789abcdef")
	ciphertext, iv, err := wrapLeaseKey(kek, scalar, aadBytes)
	assert.NoError(t, err)

	plain, err := unwrapLeaseKey(kek, ciphertext, iv, aadBytes)
	assert.NoError(t, err)
	assert.Equal(t, scalar, plain)
}

func TestUnwrapLeaseKeyFailsOnAADMismatch(t *testing.T) {
	kek := make([]byte, 32)
	aadBytes, _ := leaseKeyAAD("lease-1", "kid-1")
	scalar := []byte("0123456789abcdef0123456789abcdef")
	ciphertext, iv, _ := wrapLeaseKey(kek, scalar, aadBytes)

	wrongAAD, _ := leaseKeyAAD("lease-2", "kid-1")
	_, err := unwrapLeaseKey(kek, ciphertext, iv, wrongAAD)
	assert.Error(t, err)
}
