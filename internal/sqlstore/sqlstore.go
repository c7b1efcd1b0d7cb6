// Package sqlstore provides optional durable backends for auth.KeyStore and
// session.Store on top of modernc.org/sqlite (a pure-Go driver, so the demo
// binary stays CGO-free). Intended for single-node deployments that want
// key/session persistence without standing up a separate database server.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, registers "sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	secret_hash  TEXT NOT NULL,
	salt         TEXT NOT NULL,
	role_kind    INTEGER NOT NULL,
	role_data    TEXT NOT NULL,
	ip_whitelist TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	expires_at   TEXT,
	last_used    TEXT,
	active       INTEGER NOT NULL,
	usage_count  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	api_key_id    TEXT NOT NULL,
	roles         TEXT NOT NULL,
	ip            TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	expires_at    TEXT NOT NULL,
	last_access   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_refresh_token ON sessions(refresh_token);
CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
`

// DB wraps a *sql.DB opened against a SQLite file, with the schema applied
// and connection limits set the way a single-writer embedded database
// requires.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// applies the schema. path may be a file path or "file::memory:?cache=shared"
// for an in-process database.
func Open(ctx context.Context, path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}

	// SQLite supports only one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent access from this process.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlstore: apply schema: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// KeyStore returns an auth.KeyStore backed by this database.
func (d *DB) KeyStore() *KeyStore {
	return &KeyStore{db: d.conn}
}

// SessionStore returns a session.Store backed by this database.
func (d *DB) SessionStore() *SessionStore {
	return &SessionStore{db: d.conn}
}
