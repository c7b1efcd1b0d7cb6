package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcpanvil/core/internal/domain/auth"
	"github.com/mcpanvil/core/internal/domain/session"
)

// SessionStore is a SQLite-backed session.Store.
type SessionStore struct {
	db *sql.DB
}

func encodeRoles(roles []auth.Role) (string, error) {
	type encoded struct {
		Kind int      `json:"kind"`
		Data roleData `json:"data"`
	}
	out := make([]encoded, 0, len(roles))
	for _, r := range roles {
		kind, raw, err := encodeRole(r)
		if err != nil {
			return "", err
		}
		var data roleData
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return "", err
		}
		out = append(out, encoded{Kind: kind, Data: data})
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeRoles(raw string) ([]auth.Role, error) {
	type encoded struct {
		Kind int      `json:"kind"`
		Data roleData `json:"data"`
	}
	var rows []encoded
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil, err
	}
	roles := make([]auth.Role, 0, len(rows))
	for _, e := range rows {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		role, err := decodeRole(e.Kind, string(data))
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func (s *SessionStore) Create(ctx context.Context, sess *session.Session) error {
	roles, err := encodeRoles(sess.Roles)
	if err != nil {
		return fmt.Errorf("sqlstore: encode roles: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, api_key_id, roles, ip, refresh_token,
			created_at, expires_at, last_access)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.APIKeyID, roles, sess.IP, sess.RefreshToken,
		sess.CreatedAt.UTC().Format(time.RFC3339Nano),
		sess.ExpiresAt.UTC().Format(time.RFC3339Nano),
		sess.LastAccess.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: insert session: %w", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, api_key_id, roles, ip, refresh_token, created_at,
			expires_at, last_access
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *SessionStore) GetByRefreshToken(ctx context.Context, refreshToken string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, api_key_id, roles, ip, refresh_token, created_at,
			expires_at, last_access
		FROM sessions WHERE refresh_token = ?`, refreshToken)
	return scanSession(row)
}

func (s *SessionStore) Update(ctx context.Context, sess *session.Session) error {
	roles, err := encodeRoles(sess.Roles)
	if err != nil {
		return fmt.Errorf("sqlstore: encode roles: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET user_id = ?, api_key_id = ?, roles = ?, ip = ?,
			refresh_token = ?, expires_at = ?, last_access = ?
		WHERE id = ?`,
		sess.UserID, sess.APIKeyID, roles, sess.IP, sess.RefreshToken,
		sess.ExpiresAt.UTC().Format(time.RFC3339Nano),
		sess.LastAccess.UTC().Format(time.RFC3339Nano), sess.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: update session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: rows affected: %w", err)
	}
	if n == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlstore: delete session: %w", err)
	}
	return nil
}

func (s *SessionStore) ListByUser(ctx context.Context, userID string) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, api_key_id, roles, ip, refresh_token, created_at,
			expires_at, last_access
		FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list sessions by user: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *SessionStore) ListExpired(ctx context.Context, cutoff time.Time) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, api_key_id, roles, ip, refresh_token, created_at,
			expires_at, last_access
		FROM sessions WHERE expires_at < ?`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list expired sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		sess                                   session.Session
		rolesRaw, createdAtRaw, expiresAtRaw    string
		lastAccessRaw                           string
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.APIKeyID, &rolesRaw, &sess.IP,
		&sess.RefreshToken, &createdAtRaw, &expiresAtRaw, &lastAccessRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("sqlstore: scan session: %w", err)
	}

	roles, err := decodeRoles(rolesRaw)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: decode roles: %w", err)
	}
	sess.Roles = roles

	if sess.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtRaw); err != nil {
		return nil, fmt.Errorf("sqlstore: decode created_at: %w", err)
	}
	if sess.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAtRaw); err != nil {
		return nil, fmt.Errorf("sqlstore: decode expires_at: %w", err)
	}
	if sess.LastAccess, err = time.Parse(time.RFC3339Nano, lastAccessRaw); err != nil {
		return nil, fmt.Errorf("sqlstore: decode last_access: %w", err)
	}

	return &sess, nil
}

func scanSessions(rows *sql.Rows) ([]*session.Session, error) {
	var out []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

var _ session.Store = (*SessionStore)(nil)
