package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks struct tags plus the cross-field rules a tag alone
// can't express.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateTLSPair(); err != nil {
		return err
	}
	if err := c.validateAuthBackend(); err != nil {
		return err
	}
	if err := c.validateSessionSecret(); err != nil {
		return err
	}
	return nil
}

// validateTLSPair ensures CertFile and KeyFile are set together or not at all.
func (c *Config) validateTLSPair() error {
	hasCert := c.Server.CertFile != ""
	hasKey := c.Server.KeyFile != ""
	if hasCert != hasKey {
		return errors.New("server: cert_file and key_file must both be set, or neither")
	}
	return nil
}

// validateAuthBackend ensures the selected key-store backend has the
// configuration it needs, unless dev mode seeds a default.
func (c *Config) validateAuthBackend() error {
	if c.DevMode {
		return nil
	}
	switch c.Auth.Backend {
	case "file":
		if c.Auth.FilePath == "" {
			return errors.New("auth: backend \"file\" requires file_path")
		}
		if c.Auth.Passphrase == "" {
			return errors.New("auth: backend \"file\" requires passphrase")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return errors.New("auth: backend \"sqlite\" requires storage.sqlite_path")
		}
	}
	return nil
}

// validateSessionSecret requires an explicit secret outside dev mode —
// the dev default is intentionally weak and must never reach production.
func (c *Config) validateSessionSecret() error {
	if c.DevMode {
		return nil
	}
	if strings.TrimSpace(c.Session.Secret) == "" {
		return errors.New("session: secret is required outside dev_mode")
	}
	return nil
}

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		messages := make([]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
