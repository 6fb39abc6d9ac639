// Package token signs and verifies the stateless tracking tokens embedded in
// rendered ads. Tokens are HS256 JWTs; the audience claim carries the token
// kind and each kind is signed with its own key derived from the server
// secret, so a token minted for one purpose never verifies for another.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind scopes a token to one use.
type Kind string

const (
	// KindPixel tokens correlate load/view beacons. Short-lived.
	KindPixel Kind = "pixel"
	// KindRedirect tokens back click-through links. Usually unbounded.
	KindRedirect Kind = "redirect"
)

var (
	ErrInvalidSignature = errors.New("token: invalid signature")
	ErrExpired          = errors.New("token: expired")
	ErrMalformed        = errors.New("token: malformed")
	ErrNoSecret         = errors.New("token: secret is required")
)

// Payload is the data carried by a tracking token. ID is assigned on sign.
type Payload struct {
	ID         string `json:"id,omitempty"`
	Hash       string `json:"hash"`
	CampaignID string `json:"cid,omitempty"`
	URL        string `json:"url,omitempty"`
}

type claims struct {
	Hash       string `json:"hash"`
	CampaignID string `json:"cid,omitempty"`
	URL        string `json:"url,omitempty"`
	jwt.RegisteredClaims
}

// Signer mints and verifies tokens. It is safe for concurrent use.
type Signer struct {
	keys map[Kind][]byte
	now  func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides the time source used for issuing and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// NewSigner derives per-kind signing keys from secret.
func NewSigner(secret string, opts ...Option) (*Signer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	s := &Signer{
		keys: map[Kind][]byte{
			KindPixel:    deriveKey(secret, KindPixel),
			KindRedirect: deriveKey(secret, KindRedirect),
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func deriveKey(secret string, kind Kind) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("fortnight-tracking:" + string(kind)))
	return mac.Sum(nil)
}

// Sign returns a signed token for p. A ttl of zero yields a token without
// an expiry.
func (s *Signer) Sign(kind Kind, p Payload, ttl time.Duration) (string, error) {
	key, ok := s.keys[kind]
	if !ok {
		return "", fmt.Errorf("token: unknown kind %q", kind)
	}
	if p.Hash == "" {
		return "", fmt.Errorf("%w: hash is required", ErrMalformed)
	}
	now := s.now()
	c := claims{
		Hash:       p.Hash,
		CampaignID: p.CampaignID,
		URL:        p.URL,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			Audience: jwt.ClaimStrings{string(kind)},
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, expiry and shape of raw and returns its
// payload. Failures wrap ErrInvalidSignature, ErrExpired or ErrMalformed.
func (s *Signer) Verify(kind Kind, raw string) (Payload, error) {
	key, ok := s.keys[kind]
	if !ok {
		return Payload{}, fmt.Errorf("%w: unknown kind %q", ErrMalformed, kind)
	}
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c,
		func(*jwt.Token) (interface{}, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(string(kind)),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return Payload{}, fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if c.Hash == "" {
		return Payload{}, fmt.Errorf("%w: missing hash", ErrMalformed)
	}
	return Payload{ID: c.ID, Hash: c.Hash, CampaignID: c.CampaignID, URL: c.URL}, nil
}

// Reason returns a short label for a verification failure.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrExpired):
		return "expired"
	default:
		return "malformed"
	}
}
