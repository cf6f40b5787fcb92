package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"fileshare/internal/config"
	"fileshare/internal/session"
)

type fakeSessions struct {
	valid  map[string]bool
	issued int
	err    error
}

func (f *fakeSessions) Issue(ctx context.Context) (session.Token, error) {
	f.issued++
	v := "tok" + string(rune('a'+f.issued))
	f.valid[v] = true
	return session.Token{Name: session.CookieName, Value: v, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeSessions) Valid(ctx context.Context, value string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.valid[value], nil
}

func TestTokenFromCookie(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"id=abc123", "abc123", true},
		{"id=abc123; theme=dark", "abc123", true},
		{"theme=dark; id=zz9", "zz9", true},
		{"theme=dark", "", false},
		{"id=", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := TokenFromCookie(tc.header)
		assert.Equal(t, tc.ok, ok, tc.header)
		assert.Equal(t, tc.want, got, tc.header)
	}
}

func TestCheck_NoLoginRequired(t *testing.T) {
	g := NewGuard(config.Default(), &fakeSessions{valid: map[string]bool{}})
	st, err := g.Check(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, Authenticated, st)
}

func TestCheck_LoginRequired(t *testing.T) {
	cfg := config.Default()
	cfg.RequireLogin = true
	cfg.Password = "secret"
	fs := &fakeSessions{valid: map[string]bool{"good": true}}
	g := NewGuard(cfg, fs)
	ctx := context.Background()

	st, _ := g.Check(ctx, "")
	assert.Equal(t, Unauthenticated, st)
	st, _ = g.Check(ctx, "id=bad")
	assert.Equal(t, Unauthenticated, st)
	st, _ = g.Check(ctx, "id=good")
	assert.Equal(t, Authenticated, st)

	fs.err = errors.New("db down")
	st, err := g.Check(ctx, "id=good")
	assert.Equal(t, Unauthenticated, st)
	assert.Error(t, err)
}

func TestLogin_PlainPassword(t *testing.T) {
	cfg := config.Default()
	cfg.RequireLogin = true
	cfg.Password = "secret"
	fs := &fakeSessions{valid: map[string]bool{}}
	g := NewGuard(cfg, fs)
	ctx := context.Background()

	_, err := g.Login(ctx, "wrong")
	assert.ErrorIs(t, err, ErrBadPassword)
	assert.Equal(t, 0, fs.issued)

	tok, err := g.Login(ctx, "secret")
	require.NoError(t, err)
	st, err := g.Check(ctx, "id="+tok.Value)
	require.NoError(t, err)
	assert.Equal(t, Authenticated, st)
}

func TestLogin_BcryptPassword(t *testing.T) {
	h, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.RequireLogin = true
	cfg.Password = "ignored"
	cfg.PasswordBcrypt = string(h)
	g := NewGuard(cfg, &fakeSessions{valid: map[string]bool{}})

	_, err = g.Login(context.Background(), "ignored")
	assert.ErrorIs(t, err, ErrBadPassword)
	_, err = g.Login(context.Background(), "s3cret")
	assert.NoError(t, err)
}

func TestLogin_NoPasswordConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.RequireLogin = true
	fs := &fakeSessions{valid: map[string]bool{}}
	g := NewGuard(cfg, fs)
	for _, pw := range []string{"", "anything"} {
		_, err := g.Login(context.Background(), pw)
		assert.ErrorIs(t, err, ErrBadPassword, "password %q", pw)
	}
	assert.Equal(t, 0, fs.issued)
}
