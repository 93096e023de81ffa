package capability_test

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tweag/asset-relay/service/capability"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newSigner(t *testing.T, clock *fakeClock) *capability.Signer {
	t.Helper()
	s, err := capability.NewSigner([]byte("test-secret-0123456789"), 300*time.Second, capability.WithClock(clock.Now))
	require.NoError(t, err)
	return s
}

func expires(c capability.Capability) string {
	return strconv.FormatInt(c.ExpiresAt, 10)
}

func TestSignThenVerify(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := newSigner(t, clock)

	for _, p := range []string{"private/a.png", "private/docs/report.pdf", "public/x", "private/ünïcode.txt"} {
		for _, ttl := range []time.Duration{time.Second, time.Minute, 24 * time.Hour} {
			c := s.Sign(p, ttl)
			assert.Len(t, c.Token, capability.TokenLength)
			assert.Equal(t, clock.now.Unix()+int64(ttl/time.Second), c.ExpiresAt)
			assert.True(t, s.Verify(p, c.Token, expires(c)), "%s %s", p, ttl)
		}
	}
}

func TestDefaultTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := newSigner(t, clock)
	c := s.Sign("private/a.png", 0)
	assert.Equal(t, clock.now.Unix()+300, c.ExpiresAt)
	assert.Equal(t, 300*time.Second, s.DefaultTTL())
}

func TestTokenIsBoundToPath(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := newSigner(t, clock)
	c := s.Sign("private/a.png", time.Minute)

	for _, other := range []string{"private/b.png", "private/a.png ", "private/A.png", "public/a.png", "private/a.pn"} {
		assert.False(t, s.Verify(other, c.Token, expires(c)), other)
	}
}

func TestExpiryBoundary(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := newSigner(t, clock)
	c := s.Sign("private/a.png", time.Minute)

	clock.now = time.Unix(c.ExpiresAt, 0)
	assert.True(t, s.Verify("private/a.png", c.Token, expires(c)), "valid at expiry")

	clock.now = time.Unix(c.ExpiresAt+1, 0)
	assert.False(t, s.Verify("private/a.png", c.Token, expires(c)), "invalid after expiry")
}

func TestExtendedExpiryFails(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := newSigner(t, clock)
	c := s.Sign("private/a.png", time.Minute)
	assert.False(t, s.Verify("private/a.png", c.Token, strconv.FormatInt(c.ExpiresAt+3600, 10)))
}

func TestSingleCharacterFlips(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := newSigner(t, clock)
	c := s.Sign("private/a.png", time.Minute)

	for i := range c.Token {
		for _, replacement := range []byte("0123456789abcdefABCDEF") {
			if replacement == c.Token[i] {
				continue
			}
			flipped := []byte(c.Token)
			flipped[i] = replacement
			require.False(t, s.Verify("private/a.png", string(flipped), expires(c)), "position %d -> %c", i, replacement)
		}
	}
}

func TestMalformedInputFailsClosed(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := newSigner(t, clock)
	c := s.Sign("private/a.png", time.Minute)
	exp := expires(c)

	cases := []struct{ path, token, expires string }{
		{"private/a.png", "", exp},
		{"private/a.png", c.Token, ""},
		{"", c.Token, exp},
		{"private/a.png", c.Token[:10], exp},
		{"private/a.png", c.Token + "00", exp},
		{"private/a.png", "zz" + c.Token[2:], exp},
		{"private/a.png", c.Token, "soon"},
		{"private/a.png", c.Token, "+" + exp},
		{"private/a.png", c.Token, "0" + exp},
		{"private/a.png", c.Token, exp + ".0"},
		{"private/a.png", c.Token, "99999999999999999999999"},
	}
	for _, tc := range cases {
		assert.False(t, s.Verify(tc.path, tc.token, tc.expires), "%+v", tc)
	}
}

func TestDifferentSecretsDisagree(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	a := newSigner(t, clock)
	b, err := capability.NewSigner([]byte("another-secret-9876543210"), time.Minute, capability.WithClock(clock.Now))
	require.NoError(t, err)

	c := a.Sign("private/a.png", time.Minute)
	assert.False(t, b.Verify("private/a.png", c.Token, expires(c)))
}

func TestKnownVector(t *testing.T) {
	// HMAC-SHA256("key", "private/a.png:1700000300")
	s, err := capability.NewSigner([]byte("key"), time.Minute, capability.WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }))
	require.NoError(t, err)
	c := s.Sign("private/a.png", 300*time.Second)
	assert.Equal(t, int64(1_700_000_300), c.ExpiresAt)
	assert.Regexp(t, "^[0-9a-f]{64}$", c.Token)
	assert.Equal(t, c.Token, s.Sign("private/a.png", 300*time.Second).Token, "signing is deterministic")
}

func TestNewSignerRejectsEmptySecret(t *testing.T) {
	_, err := capability.NewSigner(nil, time.Minute)
	assert.Error(t, err)
	_, err = capability.NewSigner([]byte("x"), 0)
	assert.Error(t, err)
}
