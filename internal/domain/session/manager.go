package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mcpanvil/core/internal/domain/auth"
)

// DefaultIdleTimeout and DefaultMaxDuration bound a session's lifetime:
// ExpiresAt extends by DefaultIdleTimeout on each access but never past
// CreatedAt+DefaultMaxDuration.
const (
	DefaultIdleTimeout = 30 * time.Minute
	DefaultMaxDuration = 12 * time.Hour
	DefaultMaxPerUser  = 5
)

// ErrTooManySessions is returned by Create when userID already holds
// MaxSessionsPerUser live sessions.
var ErrTooManySessions = errors.New("session: too many concurrent sessions for user")

// Config tunes a Manager's lifetime and capacity policy.
type Config struct {
	IdleTimeout        time.Duration
	MaxDuration        time.Duration
	MaxSessionsPerUser int
	Issuer             string
	Secret             []byte
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.MaxDuration == 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.MaxSessionsPerUser == 0 {
		cfg.MaxSessionsPerUser = DefaultMaxPerUser
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "mcpanvil"
	}
	return cfg
}

// Claims is the JWT payload embedded in a session access token (spec §3:
// "{sub, sid, roles, api_key_id?, ip?, scope}").
type Claims struct {
	jwt.RegisteredClaims
	SessionID string   `json:"sid"`
	Roles     []string `json:"roles"`
	APIKeyID  string   `json:"api_key_id,omitempty"`
	IP        string   `json:"ip,omitempty"`
	Scope     string   `json:"scope,omitempty"`
}

// Manager issues and validates sessions: JWT access tokens plus opaque
// UUIDv4 refresh tokens, with per-user session caps and a background
// reaper for expired records (spec §3 C5).
type Manager struct {
	store  Store
	config Config
}

// NewManager builds a Manager over store under cfg.
func NewManager(store Store, cfg Config) *Manager {
	return &Manager{store: store, config: cfg.withDefaults()}
}

// Create mints a new session for authCtx, enforcing the per-user session
// cap, and returns the session plus its signed access token and opaque
// refresh token.
func (m *Manager) Create(ctx context.Context, authCtx *auth.AuthContext, ip string) (*Session, string, error) {
	if authCtx.UserID != "" {
		existing, err := m.store.ListByUser(ctx, authCtx.UserID)
		if err != nil {
			return nil, "", err
		}
		if len(existing) >= m.config.MaxSessionsPerUser {
			return nil, "", ErrTooManySessions
		}
	}

	id, err := randomHex(32)
	if err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()
	s := &Session{
		ID:           id,
		UserID:       authCtx.UserID,
		APIKeyID:     authCtx.APIKeyID,
		Roles:        authCtx.Roles,
		IP:           ip,
		RefreshToken: uuid.NewString(),
		CreatedAt:    now,
		LastAccess:   now,
	}
	s.ExtendAccess(m.config.IdleTimeout, m.config.MaxDuration)

	if err := m.store.Create(ctx, s); err != nil {
		return nil, "", err
	}

	token, err := m.issueAccessToken(s)
	if err != nil {
		return nil, "", err
	}
	return s, token, nil
}

// Validate parses and verifies an access token, confirming the underlying
// session still exists and has not expired, then touches last_accessed and
// extends expires_at per the resolved always-on extend-on-access policy
// (spec §3 C5, clamped to CreatedAt+MaxDuration by TouchAndExtend).
func (m *Manager) Validate(ctx context.Context, accessToken string) (*Session, *Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(accessToken, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("session: unexpected signing method %v", t.Header["alg"])
		}
		return m.config.Secret, nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("session: invalid token: %w", err)
	}

	s, err := m.store.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if s.IsExpired() {
		_ = m.store.Delete(ctx, s.ID)
		return nil, nil, ErrSessionNotFound
	}
	if err := m.TouchAndExtend(ctx, s); err != nil {
		return nil, nil, err
	}
	return s, claims, nil
}

// TouchAndExtend records access and extends expiry (clamped to max
// duration), persisting the change.
func (m *Manager) TouchAndExtend(ctx context.Context, s *Session) error {
	s.ExtendAccess(m.config.IdleTimeout, m.config.MaxDuration)
	return m.store.Update(ctx, s)
}

// Refresh exchanges a refresh token for a new access token without
// requiring re-authentication, extending the session's expiry.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*Session, string, error) {
	s, err := m.store.GetByRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, "", err
	}
	if s.IsExpired() {
		_ = m.store.Delete(ctx, s.ID)
		return nil, "", ErrSessionNotFound
	}
	s.ExtendAccess(m.config.IdleTimeout, m.config.MaxDuration)
	if err := m.store.Update(ctx, s); err != nil {
		return nil, "", err
	}
	token, err := m.issueAccessToken(s)
	if err != nil {
		return nil, "", err
	}
	return s, token, nil
}

// Terminate ends a single session.
func (m *Manager) Terminate(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// TerminateUser ends every session held by userID (e.g. on key revocation).
func (m *Manager) TerminateUser(ctx context.Context, userID string) error {
	sessions, err := m.store.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if err := m.store.Delete(ctx, s.ID); err != nil {
			return err
		}
	}
	return nil
}

// CleanupExpired reaps sessions expired as of now, returning the count removed.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	expired, err := m.store.ListExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	for _, s := range expired {
		if err := m.store.Delete(ctx, s.ID); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}

// StartCleanupTask runs CleanupExpired on interval until ctx is cancelled.
// The returned channel closes once the goroutine has exited, so callers
// can wait for a clean shutdown.
func (m *Manager) StartCleanupTask(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = m.CleanupExpired(ctx)
			}
		}
	}()
	return done
}

func (m *Manager) issueAccessToken(s *Session) (string, error) {
	roles := make([]string, len(s.Roles))
	for i, r := range s.Roles {
		roles[i] = r.Kind.String()
	}
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(s.LastAccess),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
		SessionID: s.ID,
		Roles:     roles,
		APIKeyID:  s.APIKeyID,
		IP:        s.IP,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.config.Secret)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
