package middleware

import (
	"context"
	"strings"

	"github.com/mcpanvil/core/internal/domain/auth"
	"github.com/mcpanvil/core/internal/domain/session"
	"github.com/mcpanvil/core/internal/protocol"
)

// credentialHeaders are tried in order until one yields a non-empty
// credential (spec §6: "Authorization: Bearer …, X-API-Key, X-Auth-Token,
// X-MCP-Auth").
var credentialHeaders = []string{"X-API-Key", "X-Auth-Token", "X-MCP-Auth"}

// extractCredential pulls a bearer token or one of the api-key headers out
// of rc.Headers. The Authorization header wins when present.
func extractCredential(rc *RequestContext) string {
	if authz := rc.Header("Authorization"); authz != "" {
		if token, ok := strings.CutPrefix(authz, "Bearer "); ok {
			return token
		}
	}
	for _, h := range credentialHeaders {
		if v := rc.Header(h); v != "" {
			return v
		}
	}
	return ""
}

// AuthStage resolves a bearer token / api-key header into an AuthContext
// and attaches it to the RequestContext (spec §4.6). initialize and ping
// are exempt — they negotiate capabilities without granting or requiring
// rights (spec §4.7) — so the stage skips resolution entirely for them.
type AuthStage struct {
	keys     *auth.Manager
	sessions *session.Manager
}

// NewAuthStage builds an AuthStage over the given key and session managers.
// Either may be nil if that credential kind is not configured for this
// deployment.
func NewAuthStage(keys *auth.Manager, sessions *session.Manager) *AuthStage {
	return &AuthStage{keys: keys, sessions: sessions}
}

// Handle implements PreStage.
func (a *AuthStage) Handle(ctx context.Context, rc *RequestContext) *protocol.Error {
	if rc.Request.Method == "initialize" || rc.Request.Method == "ping" {
		return nil
	}

	// Mcp-Session-Id identifies the transport-level session (routing for
	// HTTP+SSE, spec §4.8); it is not itself a credential, so only the
	// headers below establish an AuthContext here.
	credential := extractCredential(rc)
	if credential == "" {
		return nil
	}

	if a.sessions != nil {
		if sess, claims, err := a.sessions.Validate(ctx, credential); err == nil {
			rc.Session = sess
			rc.Auth = &auth.AuthContext{UserID: sess.UserID, Roles: sess.Roles, APIKeyID: claims.APIKeyID}
			return nil
		}
	}

	if a.keys != nil {
		authCtx, err := a.keys.Validate(ctx, credential, rc.ClientIP)
		if err != nil {
			return mapAuthFailure(err)
		}
		rc.Auth = authCtx
		return nil
	}

	return protocol.Unauthorized("no credential validator configured", 0)
}

func mapAuthFailure(err error) *protocol.Error {
	if f, ok := err.(*auth.Failure); ok {
		if f.RateLimited {
			return protocol.Unauthorized("authentication rate limited", int(f.RetryAfter.Seconds()))
		}
		return protocol.Unauthorized("invalid credential", 0)
	}
	return protocol.Unauthorized("invalid credential", 0)
}

var _ PreStage = (*AuthStage)(nil)
