// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultRejoinTTL bounds how long a rejoin token stays usable. Sessions are
// removed a few minutes after they finish, so this only needs to outlive a
// game.
const DefaultRejoinTTL = 6 * time.Hour

// ErrMalformedClaims is returned for correctly signed tokens that do not
// carry a room code and player id.
var ErrMalformedClaims = errors.New("rejoin token is missing room or player")

// RejoinSigner issues and verifies EdDSA-signed rejoin tokens. A token binds a
// room code to a player id; presenting it on a new connection takes that
// player over.
type RejoinSigner struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	ttl        time.Duration
	now        func() time.Time
}

// NewRejoinSigner generates a fresh ed25519 key pair at runtime. Tokens do
// not survive a restart, and neither do the sessions they point at.
func NewRejoinSigner(ttl time.Duration) (*RejoinSigner, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return newSigner(priv, pub, ttl), nil
}

// NewRejoinSignerFromPath reads raw ed25519 private/public keys from file, for
// deployments that want tokens to stay valid across instances.
func NewRejoinSignerFromPath(privatePath, publicPath string, ttl time.Duration) (*RejoinSigner, error) {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize || len(publicKeyData) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("ed25519 key files have the wrong size")
	}
	return newSigner(ed25519.PrivateKey(privateKeyData), ed25519.PublicKey(publicKeyData), ttl), nil
}

func newSigner(priv ed25519.PrivateKey, pub ed25519.PublicKey, ttl time.Duration) *RejoinSigner {
	if ttl <= 0 {
		ttl = DefaultRejoinTTL
	}
	return &RejoinSigner{privateKey: priv, publicKey: pub, ttl: ttl, now: time.Now}
}

// IssueRejoinToken creates a signed JWT with "sub" = playerID and "room" =
// roomCode.
func (s *RejoinSigner) IssueRejoinToken(roomCode, playerID string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":  playerID,
		"room": roomCode,
		"iat":  now.Unix(),
		"exp":  now.Add(s.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(s.privateKey)
}

// ParseRejoinToken verifies a token and returns the room code and player id
// it was issued for.
func (s *RejoinSigner) ParseRejoinToken(tokenString string) (string, string, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.publicKey, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return "", "", fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return "", "", fmt.Errorf("invalid token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", ErrMalformedClaims
	}
	playerID, _ := claims["sub"].(string)
	roomCode, _ := claims["room"].(string)
	if playerID == "" || roomCode == "" {
		return "", "", ErrMalformedClaims
	}
	return roomCode, playerID, nil
}
