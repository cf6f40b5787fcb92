package session

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fileshare/internal/catalog"
)

func newStore(t *testing.T, ttl time.Duration) (*Store, *time.Time) {
	t.Helper()
	cat, err := catalog.Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(cat.DB(), ttl)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestIssue_ValidUntilExpiry(t *testing.T) {
	ctx := context.Background()
	for _, ttl := range []time.Duration{time.Second, time.Minute, time.Hour, 24 * time.Hour} {
		s, now := newStore(t, ttl)
		start := *now

		tok, err := s.Issue(ctx)
		require.NoError(t, err)
		assert.Equal(t, CookieName, tok.Name)
		assert.Equal(t, start.Add(ttl), tok.ExpiresAt)

		*now = start.Add(ttl - time.Millisecond)
		ok, err := s.Valid(ctx, tok.Value)
		require.NoError(t, err)
		assert.True(t, ok, "ttl=%s before expiry", ttl)

		*now = start.Add(ttl)
		ok, err = s.Valid(ctx, tok.Value)
		require.NoError(t, err)
		assert.False(t, ok, "ttl=%s at expiry", ttl)

		*now = start.Add(ttl + time.Hour)
		ok, err = s.Valid(ctx, tok.Value)
		require.NoError(t, err)
		assert.False(t, ok, "ttl=%s after expiry", ttl)
	}
}

func TestValid_UnknownAndEmpty(t *testing.T) {
	s, _ := newStore(t, time.Hour)
	ctx := context.Background()

	ok, err := s.Valid(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Valid(ctx, "nosuchtoken")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIssue_ManyConcurrentlyValid(t *testing.T) {
	s, _ := newStore(t, time.Hour)
	ctx := context.Background()

	var toks []Token
	for i := 0; i < 5; i++ {
		tok, err := s.Issue(ctx)
		require.NoError(t, err)
		toks = append(toks, tok)
	}
	for _, tok := range toks {
		ok, err := s.Valid(ctx, tok.Value)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestPurgeExpired(t *testing.T) {
	s, now := newStore(t, time.Minute)
	ctx := context.Background()

	old, err := s.Issue(ctx)
	require.NoError(t, err)
	*now = now.Add(2 * time.Minute)
	fresh, err := s.Issue(ctx)
	require.NoError(t, err)

	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ok, err := s.Valid(ctx, fresh.Value)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Valid(ctx, old.Value)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewTokenValue(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		v, err := NewTokenValue()
		require.NoError(t, err)
		n, err := strconv.ParseUint(v, 36, 64)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, uint64(1<<63-1))
		assert.False(t, seen[v])
		seen[v] = true
	}
}
