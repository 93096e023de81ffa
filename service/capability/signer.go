package capability

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

// TokenLength is the length of every hex-encoded token.
const TokenLength = 2 * sha256.Size

// Capability grants read access to exactly one path until ExpiresAt.
// It is never stored: the three fields plus the secret are enough to check it.
type Capability struct {
	Path      string
	ExpiresAt int64
	Token     string
}

func (c Capability) Expires() time.Time {
	return time.Unix(c.ExpiresAt, 0)
}

// Signer issues and verifies capability tokens.
// The secret is copied on construction and never changes afterwards,
// so a Signer can be shared by all request handlers.
type Signer struct {
	secret     []byte
	defaultTTL time.Duration
	now        func() time.Time
}

type Option func(*Signer)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

func NewSigner(secret []byte, defaultTTL time.Duration, opts ...Option) (*Signer, error) {
	if len(secret) == 0 {
		return nil, errors.New("signing secret must not be empty")
	}
	if defaultTTL <= 0 {
		return nil, errors.New("default token ttl must be positive")
	}
	s := &Signer{
		secret:     append([]byte(nil), secret...),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Signer) DefaultTTL() time.Duration {
	return s.defaultTTL
}

// Sign issues a token for relativePath that expires ttl from now.
// A non-positive ttl selects the default.
// The path must already be canonical: tokens only verify against the exact same string.
func (s *Signer) Sign(relativePath string, ttl time.Duration) Capability {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	expiresAt := s.now().Unix() + seconds
	return Capability{
		Path:      relativePath,
		ExpiresAt: expiresAt,
		Token:     hex.EncodeToString(s.mac(relativePath, expiresAt)),
	}
}

// Verify reports whether token grants access to relativePath right now.
// It fails closed: any absent or malformed input and any expired token yield false.
// A token is still valid in the second it expires.
func (s *Signer) Verify(relativePath, token, expires string) bool {
	if relativePath == "" || token == "" || expires == "" {
		return false
	}
	if len(token) != TokenLength {
		return false
	}
	expiresAt, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || strconv.FormatInt(expiresAt, 10) != expires {
		return false
	}
	if s.now().Unix() > expiresAt {
		return false
	}
	expected := hex.EncodeToString(s.mac(relativePath, expiresAt))
	// compare the encoded form, so that case variants of a valid token are rejected
	return hmac.Equal([]byte(token), []byte(expected))
}

// mac computes HMAC-SHA256(secret, path ":" expiresAt).
func (s *Signer) mac(relativePath string, expiresAt int64) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(relativePath))
	h.Write([]byte{':'})
	h.Write(strconv.AppendInt(nil, expiresAt, 10))
	return h.Sum(nil)
}
