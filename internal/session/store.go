// Package session keeps login tokens in the catalog database.
package session

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"
)

// CookieName is the single logical cookie carrying the token.
const CookieName = "id"

type Token struct {
	Name      string
	Value     string
	ExpiresAt time.Time
}

// Store issues and checks tokens. Any number of tokens may be valid at once.
// Rows are never updated; expired rows are only removed by PurgeExpired.
type Store struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

func New(db *sql.DB, ttl time.Duration) *Store {
	return &Store{db: db, ttl: ttl, now: time.Now}
}

// Issue creates a token that expires ttl from now.
func (s *Store) Issue(ctx context.Context) (Token, error) {
	v, err := NewTokenValue()
	if err != nil {
		return Token{}, err
	}
	t := Token{Name: CookieName, Value: v, ExpiresAt: s.now().Add(s.ttl)}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (name, value, expires_at) VALUES (?, ?, ?)`,
		t.Name, t.Value, t.ExpiresAt.UnixMilli())
	if err != nil {
		return Token{}, fmt.Errorf("insert session: %w", err)
	}
	return t, nil
}

// Valid reports whether value names a stored token that has not expired.
func (s *Store) Valid(ctx context.Context, value string) (bool, error) {
	if value == "" {
		return false, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sessions WHERE name=? AND value=? AND expires_at > ?`,
		CookieName, value, s.now().UnixMilli()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query session: %w", err)
	}
	return n > 0, nil
}

// PurgeExpired deletes expired rows and returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}

// NewTokenValue returns a random non-negative 63-bit integer in base 36.
func NewTokenValue() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint64(b[:]) >> 1
	return strconv.FormatUint(n, 36), nil
}
