package auth

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRejoinTokenRoundTrip(t *testing.T) {
	s, err := NewRejoinSigner(time.Hour)
	require.NoError(t, err)

	token, err := s.IssueRejoinToken("123456", "player-1")
	require.NoError(t, err)

	room, player, err := s.ParseRejoinToken(token)
	require.NoError(t, err)
	assert.Equal(t, "123456", room)
	assert.Equal(t, "player-1", player)
}

func TestRejoinTokenExpires(t *testing.T) {
	s, err := NewRejoinSigner(time.Minute)
	require.NoError(t, err)
	issued := time.Now()
	s.now = func() time.Time { return issued }

	token, err := s.IssueRejoinToken("123456", "player-1")
	require.NoError(t, err)

	s.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, _, err = s.ParseRejoinToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestRejoinTokenFromOtherKeyIsRejected(t *testing.T) {
	a, err := NewRejoinSigner(time.Hour)
	require.NoError(t, err)
	b, err := NewRejoinSigner(time.Hour)
	require.NoError(t, err)

	token, err := a.IssueRejoinToken("123456", "player-1")
	require.NoError(t, err)
	_, _, err = b.ParseRejoinToken(token)
	assert.Error(t, err)

	_, _, err = a.ParseRejoinToken("not-a-jwt")
	assert.Error(t, err)
}

func TestRejoinTokenWithoutRoomIsRejected(t *testing.T) {
	s, err := NewRejoinSigner(time.Hour)
	require.NoError(t, err)

	claims := jwt.MapClaims{"sub": "player-1", "exp": time.Now().Add(time.Hour).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.privateKey)
	require.NoError(t, err)

	_, _, err = s.ParseRejoinToken(token)
	assert.ErrorIs(t, err, ErrMalformedClaims)
}

func TestSignerFromPath(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	dir := t.TempDir()
	privPath := filepath.Join(dir, "key")
	pubPath := filepath.Join(dir, "key.pub")
	require.NoError(t, os.WriteFile(privPath, priv, 0o600))
	require.NoError(t, os.WriteFile(pubPath, pub, 0o644))

	s, err := NewRejoinSignerFromPath(privPath, pubPath, 0)
	require.NoError(t, err)
	token, err := s.IssueRejoinToken("654321", "p")
	require.NoError(t, err)
	room, _, err := s.ParseRejoinToken(token)
	require.NoError(t, err)
	assert.Equal(t, "654321", room)

	_, err = NewRejoinSignerFromPath(filepath.Join(dir, "missing"), pubPath, 0)
	assert.Error(t, err)
}
