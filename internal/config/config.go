// Package config provides the typed configuration schema for mcpanvild.
//
// internal/protocol, internal/domain/..., internal/middleware,
// internal/handler, and internal/transport/... never read the
// environment or a config file themselves (SPEC_FULL §2: "the core
// accepts a strongly-typed configuration object and never reads the
// environment itself") — only this package and cmd/mcpanvild are allowed
// to touch os.Getenv/viper, and they do so to build a Config that the
// rest of the module consumes as plain Go values.
package config

import "time"

// Config is the top-level configuration for mcpanvild.
type Config struct {
	// Server configures which transport(s) the binary serves.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Security configures the pipeline's size/shape caps and per-method
	// rate limit (spec §4.6).
	Security SecurityConfig `yaml:"security" mapstructure:"security"`

	// Auth configures API key storage and the failure-tracking policy
	// behind login rate limiting (spec §4.4).
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Session configures JWT session issuance (spec §4.5, §6).
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// RateLimit configures the shared in-memory rate limiter backing the
	// security stage's per-method limit. The auth failure tracker is
	// configured by Auth, not by this block.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Monitoring configures metrics, tracing, and alert rules (spec §4.10).
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`

	// Storage holds the SQLite database path used for keys and sessions
	// when Auth.Backend is "sqlite" (spec §4.3/§4.5 "durable backends
	// slot in").
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// DevMode relaxes startup checks: SetDevDefaults seeds an insecure
	// session secret, and Validate skips the auth-backend and
	// session-secret checks. No API key is seeded.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig selects and configures the transport(s) mcpanvild serves.
type ServerConfig struct {
	// Transport is "stdio" or "httpsse". Defaults to "stdio".
	Transport string `yaml:"transport" mapstructure:"transport" validate:"omitempty,oneof=stdio httpsse"`

	// HTTPAddr is the listen address for the httpsse transport (e.g.
	// "127.0.0.1:8080"). Ignored for stdio. Defaults to "127.0.0.1:8080".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// CertFile/KeyFile enable TLS on the httpsse listener. Both or
	// neither must be set.
	CertFile string `yaml:"cert_file" mapstructure:"cert_file"`
	KeyFile  string `yaml:"key_file" mapstructure:"key_file"`

	// AllowedOrigins is the Origin allowlist enforced before a JSON-RPC
	// response is ever formed (spec §4.8). Empty means any origin.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`

	// RequireBearer rejects httpsse requests with no Authorization:
	// Bearer header at the transport layer, ahead of auth-stage
	// credential validation (spec §4.8).
	RequireBearer bool `yaml:"require_bearer" mapstructure:"require_bearer"`

	// SessionTimeoutSeconds bounds how long an idle HTTP+SSE
	// TransportSession survives before the background reaper closes it.
	// Defaults to 300 (5m).
	SessionTimeoutSeconds int `yaml:"session_timeout_seconds" mapstructure:"session_timeout_seconds" validate:"omitempty,min=1"`

	// RequestTimeoutSeconds bounds one backend invocation (spec §5,
	// "each request carries a deadline derived from request_timeout").
	// Defaults to 30.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" mapstructure:"request_timeout_seconds" validate:"omitempty,min=1"`

	// LogLevel sets the minimum log level: debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// SecurityConfig mirrors middleware.SecurityConfig's shape so the
// operator can tune it without importing that package.
type SecurityConfig struct {
	MaxMessageBytes int `yaml:"max_message_bytes" mapstructure:"max_message_bytes" validate:"omitempty,min=1"`
	MaxParamCount   int `yaml:"max_param_count" mapstructure:"max_param_count" validate:"omitempty,min=1"`
	MaxStringLength int `yaml:"max_string_length" mapstructure:"max_string_length" validate:"omitempty,min=1"`

	// MethodRate/MethodBurst/MethodPeriodSeconds configure the shared
	// per-method rate limit applied ahead of auth.
	MethodRate          int `yaml:"method_rate" mapstructure:"method_rate" validate:"omitempty,min=1"`
	MethodBurst         int `yaml:"method_burst" mapstructure:"method_burst" validate:"omitempty,min=1"`
	MethodPeriodSeconds int `yaml:"method_period_seconds" mapstructure:"method_period_seconds" validate:"omitempty,min=1"`
}

// AuthConfig selects the API key store backend and the failure-tracking
// policy that feeds the account-lockout side of spec §4.4.
type AuthConfig struct {
	// Required gates whether the dispatch table demands a validated
	// AuthContext at all (spec.md §8 scenario 1 runs with no Authorization
	// header and expects a 200, matching original_source/mcp-transport's
	// `require_auth: false` default). A credential presented when Required
	// is false is still validated normally if one is sent; this only
	// controls what happens when none is.
	Required bool `yaml:"required" mapstructure:"required"`

	// Backend is "memory", "env", "file", or "sqlite". Defaults to "memory".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=memory env file sqlite"`

	// EnvVar names the environment variable holding the key blob when
	// Backend is "env".
	EnvVar string `yaml:"env_var" mapstructure:"env_var"`

	// FilePath is the encrypted key file path when Backend is "file". It is
	// not consulted for other backends; "sqlite" uses
	// StorageConfig.SQLitePath.
	FilePath string `yaml:"file_path" mapstructure:"file_path"`

	// Passphrase decrypts FilePath. Read from the MCPANVIL_AUTH_PASSPHRASE
	// env var in practice; present here only so a config file can set it
	// for local development.
	Passphrase string `yaml:"passphrase" mapstructure:"passphrase"`

	// MaxFailures/LockoutSeconds/WindowSeconds configure
	// ratelimit.FailurePolicy (spec §4.4's account-lockout tracker).
	MaxFailures    int `yaml:"max_failures" mapstructure:"max_failures" validate:"omitempty,min=1"`
	LockoutSeconds int `yaml:"lockout_seconds" mapstructure:"lockout_seconds" validate:"omitempty,min=1"`
	WindowSeconds  int `yaml:"window_seconds" mapstructure:"window_seconds" validate:"omitempty,min=1"`
}

// SessionConfig configures session.Manager (spec §4.5, §6).
type SessionConfig struct {
	// Secret signs session JWTs (golang-jwt/jwt/v5, HMAC). Read from the
	// MCPANVIL_SESSION_SECRET env var in practice.
	Secret string `yaml:"secret" mapstructure:"secret"`

	IdleTimeoutSeconds  int    `yaml:"idle_timeout_seconds" mapstructure:"idle_timeout_seconds" validate:"omitempty,min=1"`
	MaxDurationSeconds  int    `yaml:"max_duration_seconds" mapstructure:"max_duration_seconds" validate:"omitempty,min=1"`
	MaxSessionsPerUser  int    `yaml:"max_sessions_per_user" mapstructure:"max_sessions_per_user" validate:"omitempty,min=1"`
	Issuer              string `yaml:"issuer" mapstructure:"issuer"`
}

// RateLimitConfig configures the shared in-memory GCRA limiter.
type RateLimitConfig struct {
	Enabled               bool `yaml:"enabled" mapstructure:"enabled"`
	CleanupIntervalSeconds int `yaml:"cleanup_interval_seconds" mapstructure:"cleanup_interval_seconds" validate:"omitempty,min=1"`
	MaxTTLSeconds          int `yaml:"max_ttl_seconds" mapstructure:"max_ttl_seconds" validate:"omitempty,min=1"`
}

// MonitoringConfig configures C10: Prometheus metrics, OpenTelemetry
// tracing, and the CEL-based alert-rule evaluator.
type MonitoringConfig struct {
	// MetricsAddr, when non-empty, serves /metrics on this address.
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`

	// TracingEnabled turns on the stdout span exporter (spec §2.1: "stdout
	// exporters for the demo binary").
	TracingEnabled bool `yaml:"tracing_enabled" mapstructure:"tracing_enabled"`

	// AlertEvalIntervalSeconds is how often alert rules are evaluated.
	// Defaults to 15.
	AlertEvalIntervalSeconds int `yaml:"alert_eval_interval_seconds" mapstructure:"alert_eval_interval_seconds" validate:"omitempty,min=1"`

	// Rules are operator-supplied CEL boolean expressions over a metrics
	// snapshot (spec §4.10 "pluggable rule evaluator").
	Rules []AlertRuleConfig `yaml:"rules" mapstructure:"rules" validate:"omitempty,dive"`
}

// AlertRuleConfig is one operator-supplied alert rule.
type AlertRuleConfig struct {
	Name            string `yaml:"name" mapstructure:"name" validate:"required"`
	Expression      string `yaml:"expression" mapstructure:"expression" validate:"required"`
	Severity        string `yaml:"severity" mapstructure:"severity" validate:"omitempty,oneof=info warning critical"`
	CooldownSeconds int    `yaml:"cooldown_seconds" mapstructure:"cooldown_seconds" validate:"omitempty,min=1"`
}

// StorageConfig configures durable persistence for keys and sessions.
type StorageConfig struct {
	// SQLitePath is the database file backing both the key store and the
	// session store (internal/sqlstore) when Auth.Backend is "sqlite". It
	// is not consulted for any other backend.
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// IdleTimeout, MaxDuration, etc. convert the config's second-granularity
// fields to time.Duration for cmd/mcpanvild, which wires them into the
// domain packages' own Config types.

func (c SessionConfig) IdleTimeout() time.Duration { return time.Duration(c.IdleTimeoutSeconds) * time.Second }
func (c SessionConfig) MaxDuration() time.Duration { return time.Duration(c.MaxDurationSeconds) * time.Second }

func (c RateLimitConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}
func (c RateLimitConfig) MaxTTL() time.Duration { return time.Duration(c.MaxTTLSeconds) * time.Second }

func (c ServerConfig) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c MonitoringConfig) AlertEvalInterval() time.Duration {
	return time.Duration(c.AlertEvalIntervalSeconds) * time.Second
}

func (c AuthConfig) LockoutDuration() time.Duration { return time.Duration(c.LockoutSeconds) * time.Second }
func (c AuthConfig) WindowDuration() time.Duration  { return time.Duration(c.WindowSeconds) * time.Second }

func (c AlertRuleConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

func (c SecurityConfig) MethodPeriod() time.Duration {
	return time.Duration(c.MethodPeriodSeconds) * time.Second
}

// SetDefaults applies sensible defaults to fields left unset.
func (c *Config) SetDefaults() {
	if c.Server.Transport == "" {
		c.Server.Transport = "stdio"
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.SessionTimeoutSeconds == 0 {
		c.Server.SessionTimeoutSeconds = 300
	}
	if c.Server.RequestTimeoutSeconds == 0 {
		c.Server.RequestTimeoutSeconds = 30
	}

	if c.Security.MaxMessageBytes == 0 {
		c.Security.MaxMessageBytes = 1 << 20
	}
	if c.Security.MaxParamCount == 0 {
		c.Security.MaxParamCount = 64
	}
	if c.Security.MaxStringLength == 0 {
		c.Security.MaxStringLength = 32 * 1024
	}
	if c.Security.MethodRate == 0 {
		c.Security.MethodRate = 100
	}
	if c.Security.MethodBurst == 0 {
		c.Security.MethodBurst = c.Security.MethodRate
	}
	if c.Security.MethodPeriodSeconds == 0 {
		c.Security.MethodPeriodSeconds = 60
	}

	if c.Auth.Backend == "" {
		c.Auth.Backend = "memory"
	}
	if c.Auth.EnvVar == "" {
		c.Auth.EnvVar = "MCPANVIL_API_KEYS"
	}
	if c.Auth.MaxFailures == 0 {
		c.Auth.MaxFailures = 5
	}
	if c.Auth.LockoutSeconds == 0 {
		c.Auth.LockoutSeconds = 900
	}
	if c.Auth.WindowSeconds == 0 {
		c.Auth.WindowSeconds = 900
	}

	if c.Session.IdleTimeoutSeconds == 0 {
		c.Session.IdleTimeoutSeconds = 1800
	}
	if c.Session.MaxDurationSeconds == 0 {
		c.Session.MaxDurationSeconds = 43200
	}
	if c.Session.MaxSessionsPerUser == 0 {
		c.Session.MaxSessionsPerUser = 5
	}
	if c.Session.Issuer == "" {
		c.Session.Issuer = "mcpanvil"
	}

	if c.RateLimit.CleanupIntervalSeconds == 0 {
		c.RateLimit.CleanupIntervalSeconds = 300
	}
	if c.RateLimit.MaxTTLSeconds == 0 {
		c.RateLimit.MaxTTLSeconds = 3600
	}

	if c.Monitoring.AlertEvalIntervalSeconds == 0 {
		c.Monitoring.AlertEvalIntervalSeconds = 15
	}
	for i := range c.Monitoring.Rules {
		if c.Monitoring.Rules[i].Severity == "" {
			c.Monitoring.Rules[i].Severity = "warning"
		}
		if c.Monitoring.Rules[i].CooldownSeconds == 0 {
			c.Monitoring.Rules[i].CooldownSeconds = 300
		}
	}
}

// SetDevDefaults seeds permissive development values, applied only when
// DevMode is set and only before validation runs (mirroring the
// teacher's SetDevDefaults contract).
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.Session.Secret == "" {
		c.Session.Secret = "dev-insecure-session-secret-do-not-use-in-production"
	}
	if c.Auth.Backend == "" {
		c.Auth.Backend = "memory"
	}
}
