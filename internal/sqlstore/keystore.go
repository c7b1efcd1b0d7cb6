package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcpanvil/core/internal/domain/auth"
)

// roleData is the JSON-encoded payload for Role.AllowedDevices/CustomPerms,
// since SQLite has no native set type.
type roleData struct {
	AllowedDevices []string `json:"allowed_devices,omitempty"`
	CustomPerms    []string `json:"custom_perms,omitempty"`
}

func encodeRole(r auth.Role) (int, string, error) {
	data := roleData{}
	switch r.Kind {
	case auth.RoleDevice:
		for d := range r.AllowedDevices {
			data.AllowedDevices = append(data.AllowedDevices, d)
		}
	case auth.RoleCustom:
		for p := range r.CustomPerms {
			data.CustomPerms = append(data.CustomPerms, p)
		}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return 0, "", err
	}
	return int(r.Kind), string(raw), nil
}

func decodeRole(kind int, raw string) (auth.Role, error) {
	var data roleData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return auth.Role{}, err
	}
	switch auth.RoleKind(kind) {
	case auth.RoleAdmin:
		return auth.NewAdminRole(), nil
	case auth.RoleOperator:
		return auth.NewOperatorRole(), nil
	case auth.RoleMonitor:
		return auth.NewMonitorRole(), nil
	case auth.RoleDevice:
		return auth.NewDeviceRole(data.AllowedDevices...), nil
	case auth.RoleCustom:
		return auth.NewCustomRole(data.CustomPerms...), nil
	default:
		return auth.Role{}, fmt.Errorf("sqlstore: unknown role kind %d", kind)
	}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// KeyStore is a SQLite-backed auth.KeyStore.
type KeyStore struct {
	db *sql.DB
}

func (s *KeyStore) Create(ctx context.Context, key *auth.ApiKey) error {
	kind, roleRaw, err := encodeRole(key.Role)
	if err != nil {
		return fmt.Errorf("sqlstore: encode role: %w", err)
	}
	whitelist, err := json.Marshal(key.IPWhitelist.Strings())
	if err != nil {
		return fmt.Errorf("sqlstore: encode whitelist: %w", err)
	}

	active := 0
	if key.Active {
		active = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, name, secret_hash, salt, role_kind, role_data,
			ip_whitelist, created_at, expires_at, last_used, active, usage_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.Name, key.SecretHash, key.Salt, kind, roleRaw,
		string(whitelist), key.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(key.ExpiresAt), nullableTime(key.LastUsed), active, key.UsageCount,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: insert api_key: %w", err)
	}
	return nil
}

func (s *KeyStore) Get(ctx context.Context, id string) (*auth.ApiKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, secret_hash, salt, role_kind, role_data, ip_whitelist,
			created_at, expires_at, last_used, active, usage_count
		FROM api_keys WHERE id = ?`, id)
	key, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (s *KeyStore) List(ctx context.Context) ([]*auth.ApiKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, secret_hash, salt, role_kind, role_data, ip_whitelist,
			created_at, expires_at, last_used, active, usage_count
		FROM api_keys`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list api_keys: %w", err)
	}
	defer rows.Close()

	var out []*auth.ApiKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func (s *KeyStore) Update(ctx context.Context, key *auth.ApiKey) error {
	kind, roleRaw, err := encodeRole(key.Role)
	if err != nil {
		return fmt.Errorf("sqlstore: encode role: %w", err)
	}
	whitelist, err := json.Marshal(key.IPWhitelist.Strings())
	if err != nil {
		return fmt.Errorf("sqlstore: encode whitelist: %w", err)
	}
	active := 0
	if key.Active {
		active = 1
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET name = ?, secret_hash = ?, salt = ?, role_kind = ?,
			role_data = ?, ip_whitelist = ?, expires_at = ?, last_used = ?,
			active = ?, usage_count = ?
		WHERE id = ?`,
		key.Name, key.SecretHash, key.Salt, kind, roleRaw, string(whitelist),
		nullableTime(key.ExpiresAt), nullableTime(key.LastUsed), active, key.UsageCount, key.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: update api_key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: rows affected: %w", err)
	}
	if n == 0 {
		return auth.ErrKeyNotFound
	}
	return nil
}

func (s *KeyStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlstore: delete api_key: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row rowScanner) (*auth.ApiKey, error) {
	var (
		key                         auth.ApiKey
		roleKind                    int
		roleRaw, whitelistRaw       string
		createdAtRaw                string
		expiresAtRaw, lastUsedRaw   sql.NullString
		active                      int
	)
	if err := row.Scan(&key.ID, &key.Name, &key.SecretHash, &key.Salt, &roleKind,
		&roleRaw, &whitelistRaw, &createdAtRaw, &expiresAtRaw, &lastUsedRaw,
		&active, &key.UsageCount); err != nil {
		return nil, err
	}

	role, err := decodeRole(roleKind, roleRaw)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: decode role: %w", err)
	}
	key.Role = role

	var whitelistEntries []string
	if err := json.Unmarshal([]byte(whitelistRaw), &whitelistEntries); err != nil {
		return nil, fmt.Errorf("sqlstore: decode whitelist: %w", err)
	}
	key.IPWhitelist = auth.NewIPWhitelist(whitelistEntries...)

	createdAt, err := time.Parse(time.RFC3339Nano, createdAtRaw)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: decode created_at: %w", err)
	}
	key.CreatedAt = createdAt

	if key.ExpiresAt, err = parseNullableTime(expiresAtRaw); err != nil {
		return nil, fmt.Errorf("sqlstore: decode expires_at: %w", err)
	}
	if key.LastUsed, err = parseNullableTime(lastUsedRaw); err != nil {
		return nil, fmt.Errorf("sqlstore: decode last_used: %w", err)
	}
	key.Active = active != 0

	return &key, nil
}

var _ auth.KeyStore = (*KeyStore)(nil)
