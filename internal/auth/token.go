// Package auth integrates the external OIDC identity provider and issues the
// server's own sealed session tokens. The provider is only consulted at
// login; afterwards the token alone authenticates HTTP requests and the
// WebSocket handshake.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

// Claims is the authenticated identity carried inside a session token.
type Claims struct {
	UserID      string `json:"sub"`
	DisplayName string `json:"name"`
	IssuedAt    int64  `json:"iat"`
	ExpiresAt   int64  `json:"exp"`
}

// ErrTokenInvalid covers malformed or tampered tokens; ErrTokenExpired means
// the token was genuine but past its expiry.
var (
	ErrTokenInvalid = fmt.Errorf("invalid session token")
	ErrTokenExpired = fmt.Errorf("session token expired")
)

// TokenSealer seals and opens session tokens with an AEAD keyed from the
// configured session secret.
type TokenSealer struct {
	key []byte
	ttl time.Duration
}

// NewTokenSealer derives the AEAD key from the secret. The secret must be
// non-empty; its length is otherwise unconstrained.
func NewTokenSealer(secret string, ttl time.Duration) (*TokenSealer, error) {
	if secret == "" {
		return nil, fmt.Errorf("session secret is empty")
	}
	sum := sha256.Sum256([]byte(secret))
	return &TokenSealer{key: sum[:], ttl: ttl}, nil
}

// Seal issues a token for the identity, valid for the configured TTL.
func (s *TokenSealer) Seal(userID, displayName string, now time.Time) (string, error) {
	claims := Claims{
		UserID:      userID,
		DisplayName: displayName,
		IssuedAt:    now.Unix(),
		ExpiresAt:   now.Add(s.ttl).Unix(),
	}
	plain, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshalling claims: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("building aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("drawing nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plain, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open verifies a token and returns its claims.
func (s *TokenSealer) Open(token string, now time.Time) (*Claims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("building aead: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return nil, ErrTokenInvalid
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	var claims Claims
	if err := json.Unmarshal(plain, &claims); err != nil {
		return nil, ErrTokenInvalid
	}
	if now.Unix() >= claims.ExpiresAt {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}

// TTL returns the configured token lifetime.
func (s *TokenSealer) TTL() time.Duration {
	return s.ttl
}
