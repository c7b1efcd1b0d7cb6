package middleware

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcpanvil/core/internal/domain/ratelimit"
	"github.com/mcpanvil/core/internal/protocol"
)

// SecurityConfig bounds the shape of an inbound message (spec §4.6:
// "per-message size caps, parameter counts, string lengths, and a
// per-method rate limit").
type SecurityConfig struct {
	MaxMessageBytes int
	MaxParamCount   int
	MaxStringLength int
	MethodLimit     ratelimit.RateLimitConfig
}

// DefaultSecurityConfig is a conservative default; deployments override it
// via the typed configuration layer.
var DefaultSecurityConfig = SecurityConfig{
	MaxMessageBytes: 1 << 20, // 1 MiB
	MaxParamCount:   64,
	MaxStringLength: 32 * 1024,
	MethodLimit:     ratelimit.RateLimitConfig{Rate: 100, Burst: 100, Period: 0},
}

// SecurityValidator is the first pre-stage in the pipeline. It rejects
// oversized or malformed-shape requests before auth runs, and enforces a
// per-method rate limit shared across all callers of that method.
type SecurityValidator struct {
	cfg     SecurityConfig
	limiter ratelimit.RateLimiter
}

// NewSecurityValidator builds a SecurityValidator over limiter (shared
// with other rate-limited stages) under cfg.
func NewSecurityValidator(cfg SecurityConfig, limiter ratelimit.RateLimiter) *SecurityValidator {
	return &SecurityValidator{cfg: cfg, limiter: limiter}
}

// Handle implements PreStage.
func (v *SecurityValidator) Handle(ctx context.Context, rc *RequestContext) *protocol.Error {
	if v.cfg.MaxMessageBytes > 0 && rc.RawSize > v.cfg.MaxMessageBytes {
		return protocol.InvalidRequest(fmt.Sprintf("message exceeds maximum size of %d bytes", v.cfg.MaxMessageBytes))
	}

	if rc.Request.Params != nil {
		var params interface{}
		if err := json.Unmarshal(rc.Request.Params, &params); err != nil {
			return protocol.InvalidParams("params must be valid JSON")
		}
		if err := v.checkShape(params, 0); err != nil {
			return err
		}
	}

	if v.limiter != nil && v.cfg.MethodLimit.Rate > 0 {
		key := ratelimit.FormatKey(ratelimit.KeyTypeMethod, rc.Request.Method)
		result, err := v.limiter.Allow(ctx, key, v.cfg.MethodLimit)
		if err == nil && !result.Allowed {
			return protocol.Unauthorized("method rate limit exceeded", int(result.RetryAfter.Seconds()))
		}
	}

	return nil
}

// checkShape recursively enforces param-count and string-length caps over
// an arbitrary decoded JSON value.
func (v *SecurityValidator) checkShape(value interface{}, depth int) *protocol.Error {
	const maxDepth = 32
	if depth > maxDepth {
		return protocol.InvalidParams("params nested too deeply")
	}

	switch val := value.(type) {
	case string:
		if v.cfg.MaxStringLength > 0 && len(val) > v.cfg.MaxStringLength {
			return protocol.InvalidParams("string parameter exceeds maximum length")
		}
	case []interface{}:
		if v.cfg.MaxParamCount > 0 && len(val) > v.cfg.MaxParamCount {
			return protocol.InvalidParams("array parameter exceeds maximum element count")
		}
		for _, item := range val {
			if err := v.checkShape(item, depth+1); err != nil {
				return err
			}
		}
	case map[string]interface{}:
		if v.cfg.MaxParamCount > 0 && len(val) > v.cfg.MaxParamCount {
			return protocol.InvalidParams("object parameter exceeds maximum field count")
		}
		for _, item := range val {
			if err := v.checkShape(item, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

var _ PreStage = (*SecurityValidator)(nil)
