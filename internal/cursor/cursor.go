// Package cursor signs and verifies continuation tokens.
//
// A token is a compact HMAC-signed JWT binding three claims: the issuing
// backend, a fingerprint of the query parameters, and an opaque
// backend-defined position. Signing makes tokens tamper-evident; the
// fingerprint claim is what lets a backend reject a token replayed against a
// different query.
//
// # What this package must NOT do
//
//   - Interpret the position payload. Only the issuing backend can.
//   - Import grantkit or any sibling package.
package cursor

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalid marks a token that is malformed or fails signature
	// verification.
	ErrInvalid = errors.New("token invalid")
	// ErrQueryMismatch marks a structurally valid token presented with
	// query parameters different from the ones that produced it.
	ErrQueryMismatch = errors.New("token query mismatch")
)

// Codec issues and verifies tokens for one backend instance. The signing key
// is random by default, which scopes token validity to the instance
// lifetime; backends that must honor tokens across restarts pass a stable
// key.
type Codec struct {
	backend string
	key     []byte
}

// New builds a Codec for the named backend. An empty key is replaced with a
// fresh random one.
func New(backend string, key []byte) *Codec {
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic("cursor: entropy unavailable: " + err.Error())
		}
	}
	return &Codec{backend: backend, key: key}
}

// Encode signs a token carrying the query fingerprint and position.
func (c *Codec) Encode(fingerprint, position string) (string, error) {
	claims := jwt.MapClaims{
		"bk":  c.backend,
		"qf":  fingerprint,
		"pos": position,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
}

// Decode verifies a token and returns its position payload. The supplied
// fingerprint must match the one the token was issued for.
func (c *Codec) Decode(token, fingerprint string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalid
		}
		return c.key, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalid
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalid
	}
	if bk, _ := claims["bk"].(string); bk != c.backend {
		return "", ErrQueryMismatch
	}
	if qf, _ := claims["qf"].(string); qf != fingerprint {
		return "", ErrQueryMismatch
	}
	pos, ok := claims["pos"].(string)
	if !ok {
		return "", ErrInvalid
	}
	return pos, nil
}

// Fingerprint hashes the canonical form of query parameters. Order matters:
// callers pass fields in a fixed sequence so equal queries always produce
// equal fingerprints.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}
