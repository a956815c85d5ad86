// Package token mints the compact signed access tokens handed to room
// participants and used to authenticate server calls to the room provider.
//
// A token is three base64url segments (no padding) joined by '.': the JSON
// header, the JSON claims, and an HMAC-SHA256 signature over
// "header.claims".  Only the issuing side lives here; verification happens
// at the room provider, which holds the same secret.
package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingSecret is returned by NewSigner when no secret is configured.
// Callers treat it as a fatal startup error.
var ErrMissingSecret = errors.New("token: signing secret is not configured")

// Header is the first token segment.
type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// DefaultHeader is the header of every token this package produces.
var DefaultHeader = Header{Alg: "HS256", Typ: "JWT"}

// Signer holds the symmetric key.  It has no other state, so one value can be
// shared by every request goroutine.
type Signer struct {
	secret []byte
}

// NewSigner returns a Signer for the given shared secret.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign returns the raw HMAC-SHA256 of payload.
func (s *Signer) Sign(payload []byte) ([]byte, error) {
	sig, err := jwt.SigningMethodHS256.Sign(string(payload), s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign payload: %w", err)
	}
	return sig, nil
}

// Encode serializes header and claims and appends the signature segment.
// The output depends only on its inputs and the secret.
func (s *Signer) Encode(header Header, claims any) (string, error) {
	hb, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("marshal header: %w", err)
	}
	cb, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	signing := encodeSegment(hb) + "." + encodeSegment(cb)
	sig, err := s.Sign([]byte(signing))
	if err != nil {
		return "", err
	}
	return signing + "." + encodeSegment(sig), nil
}

// encodeSegment is base64url without padding, i.e. '+' becomes '-' and '/'
// becomes '_'.
func encodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
