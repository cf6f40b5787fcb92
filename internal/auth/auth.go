package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"fileshare/internal/config"
	"fileshare/internal/session"
)

var ErrBadPassword = errors.New("auth: wrong password")

type State int

const (
	Unauthenticated State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// Sessions is the part of the session store the guard needs.
type Sessions interface {
	Issue(ctx context.Context) (session.Token, error)
	Valid(ctx context.Context, value string) (bool, error)
}

// Guard decides whether a request may proceed.
type Guard struct {
	cfg      config.Config
	sessions Sessions
}

func NewGuard(cfg config.Config, sessions Sessions) *Guard {
	return &Guard{cfg: cfg, sessions: sessions}
}

func HasAuth(cfg config.Config) bool {
	return cfg.RequireLogin
}

// Check classifies a request by its Cookie header value.
// A store failure is returned alongside Unauthenticated.
func (g *Guard) Check(ctx context.Context, cookieHeader string) (State, error) {
	if !HasAuth(g.cfg) {
		return Authenticated, nil
	}
	tok, ok := TokenFromCookie(cookieHeader)
	if !ok {
		return Unauthenticated, nil
	}
	valid, err := g.sessions.Valid(ctx, tok)
	if err != nil {
		return Unauthenticated, err
	}
	if !valid {
		return Unauthenticated, nil
	}
	return Authenticated, nil
}

// Login checks the submitted password and issues a new token on success.
func (g *Guard) Login(ctx context.Context, password string) (session.Token, error) {
	if !g.passwordMatches(password) {
		return session.Token{}, ErrBadPassword
	}
	return g.sessions.Issue(ctx)
}

func (g *Guard) passwordMatches(p string) bool {
	if g.cfg.PasswordBcrypt != "" {
		return bcrypt.CompareHashAndPassword([]byte(g.cfg.PasswordBcrypt), []byte(p)) == nil
	}
	if g.cfg.Password == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(g.cfg.Password), []byte(p)) == 1
}

// TokenFromCookie takes whatever follows the first "id=" in the header, up to
// the next ';'. This is a single-token lookup, not a cookie parser.
func TokenFromCookie(header string) (string, bool) {
	const marker = session.CookieName + "="
	i := strings.Index(header, marker)
	if i < 0 {
		return "", false
	}
	v := header[i+len(marker):]
	if j := strings.IndexByte(v, ';'); j >= 0 {
		v = v[:j]
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	return v, true
}
