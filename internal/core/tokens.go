package core

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agritrace/fieldmap/internal/model"
)

// DefaultTokenTTL is how long a cached credential stays usable offline.
const DefaultTokenTTL = 24 * time.Hour

// SaveToken caches a credential for username, replacing any previous one.
// ttl <= 0 selects DefaultTokenTTL.
func (s *Store) SaveToken(ctx context.Context, username, token, userType, role string, ttl time.Duration) (*model.AuthToken, error) {
	if username == "" {
		return nil, fmt.Errorf("failed to save token: empty username")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	t := &model.AuthToken{
		Username:  username,
		Token:     token,
		UserType:  userType,
		Role:      role,
		ExpiresAt: s.now().Add(ttl).UnixMilli(),
		IsOffline: true,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO auth_tokens (username, token, user_type, role, expires_at, is_offline)
		VALUES (?, ?, ?, ?, ?, 1)
	`, t.Username, t.Token, t.UserType, t.Role, t.ExpiresAt)
	if err != nil {
		return nil, storageErr("save token", err)
	}
	return t, nil
}

// GetToken returns the cached credential for username, or nil if there is
// none. An expired credential is deleted and reported as absent.
func (s *Store) GetToken(ctx context.Context, username string) (*model.AuthToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t model.AuthToken
	var offline int
	err := s.db.QueryRowContext(ctx, `
		SELECT username, token, user_type, role, expires_at, is_offline
		FROM auth_tokens WHERE username = ?
	`, username).Scan(&t.Username, &t.Token, &t.UserType, &t.Role, &t.ExpiresAt, &offline)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("read token", err)
	}
	t.IsOffline = offline != 0

	if t.Expired(s.now()) {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE username = ?`, username); err != nil {
			return nil, storageErr("purge expired token", err)
		}
		return nil, nil
	}
	return &t, nil
}

// ValidTokens returns every cached credential that has not expired.
func (s *Store) ValidTokens(ctx context.Context) ([]*model.AuthToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT username, token, user_type, role, expires_at, is_offline
		FROM auth_tokens WHERE expires_at > ?
		ORDER BY username ASC
	`, s.now().UnixMilli())
	if err != nil {
		return nil, storageErr("list tokens", err)
	}
	defer rows.Close()

	var tokens []*model.AuthToken
	for rows.Next() {
		var t model.AuthToken
		var offline int
		if err := rows.Scan(&t.Username, &t.Token, &t.UserType, &t.Role, &t.ExpiresAt, &offline); err != nil {
			return nil, storageErr("scan token", err)
		}
		t.IsOffline = offline != 0
		tokens = append(tokens, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list tokens", err)
	}
	return tokens, nil
}

// DeleteToken removes the credential cached for username.
func (s *Store) DeleteToken(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE username = ?`, username); err != nil {
		return storageErr("delete token", err)
	}
	return nil
}

func (s *Store) countTokens(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM auth_tokens`).Scan(&n); err != nil {
		return 0, storageErr("count tokens", err)
	}
	return n, nil
}
