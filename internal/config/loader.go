package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// envPrefix is the prefix for every environment-variable override, e.g.
// MCPANVIL_SERVER_HTTP_ADDR overrides server.http_addr.
const envPrefix = "MCPANVIL"

// InitViper initializes viper against configFile, or against
// "mcpanvil.yaml"/".yml" found in the working directory, $HOME/.mcpanvil,
// or /etc/mcpanvil when configFile is empty. An explicit extension is
// required so viper's name-based search never matches the mcpanvild
// binary itself.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		viper.SetConfigName("mcpanvil")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{".", filepath.Join(home, ".mcpanvil"), "/etc/mcpanvil"}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "mcpanvil"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds every scalar config key so automatic env
// overrides work for nested fields viper's plain AutomaticEnv would
// otherwise miss. Array-valued fields (allowed_origins, rules) are left
// to the config file, matching the teacher's treatment of its own
// array-valued fields (policies, identities).
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.transport")
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.cert_file")
	_ = viper.BindEnv("server.key_file")
	_ = viper.BindEnv("server.require_bearer")
	_ = viper.BindEnv("server.session_timeout_seconds")
	_ = viper.BindEnv("server.request_timeout_seconds")
	_ = viper.BindEnv("server.log_level")

	_ = viper.BindEnv("security.max_message_bytes")
	_ = viper.BindEnv("security.max_param_count")
	_ = viper.BindEnv("security.max_string_length")
	_ = viper.BindEnv("security.method_rate")
	_ = viper.BindEnv("security.method_burst")
	_ = viper.BindEnv("security.method_period_seconds")

	_ = viper.BindEnv("auth.required")
	_ = viper.BindEnv("auth.backend")
	_ = viper.BindEnv("auth.env_var")
	_ = viper.BindEnv("auth.file_path")
	_ = viper.BindEnv("auth.passphrase")
	_ = viper.BindEnv("auth.max_failures")
	_ = viper.BindEnv("auth.lockout_seconds")
	_ = viper.BindEnv("auth.window_seconds")

	_ = viper.BindEnv("session.secret")
	_ = viper.BindEnv("session.idle_timeout_seconds")
	_ = viper.BindEnv("session.max_duration_seconds")
	_ = viper.BindEnv("session.max_sessions_per_user")
	_ = viper.BindEnv("session.issuer")

	_ = viper.BindEnv("rate_limit.enabled")
	_ = viper.BindEnv("rate_limit.cleanup_interval_seconds")
	_ = viper.BindEnv("rate_limit.max_ttl_seconds")

	_ = viper.BindEnv("monitoring.metrics_addr")
	_ = viper.BindEnv("monitoring.tracing_enabled")
	_ = viper.BindEnv("monitoring.alert_eval_interval_seconds")

	_ = viper.BindEnv("storage.sqlite_path")

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the config file (if any), applies env overrides,
// fills in defaults, applies dev defaults, and validates the result.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads and defaults the config but does not apply dev
// defaults or validate, so callers can apply CLI flag overrides (e.g.
// --dev) first.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path viper loaded, or "" if none was found.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
