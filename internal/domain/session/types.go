// Package session manages authenticated sessions across MCP requests:
// JWT access tokens, opaque refresh tokens, per-user session caps, and
// extend-on-access expiry clamped to a hard maximum (spec §3 C5).
package session

import (
	"time"

	"github.com/mcpanvil/core/internal/domain/auth"
)

// Session tracks an authenticated principal's context across requests.
type Session struct {
	ID           string
	UserID       string
	APIKeyID     string
	Roles        []auth.Role
	IP           string
	RefreshToken string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastAccess   time.Time
}

// IsExpired reports whether the session has exceeded its current expiry.
func (s *Session) IsExpired() bool {
	return time.Now().UTC().After(s.ExpiresAt)
}

// ExtendAccess bumps ExpiresAt by idleTimeout from now, clamped so it never
// exceeds CreatedAt+maxDuration (spec §9 design note: extend-on-access is
// capped at the session's hard lifetime, not unbounded).
func (s *Session) ExtendAccess(idleTimeout, maxDuration time.Duration) {
	now := time.Now().UTC()
	s.LastAccess = now
	hardLimit := s.CreatedAt.Add(maxDuration)
	candidate := now.Add(idleTimeout)
	if candidate.After(hardLimit) {
		candidate = hardLimit
	}
	s.ExpiresAt = candidate
}
