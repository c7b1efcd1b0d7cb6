package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mcpanvil/core/internal/adapter/outbound/memory"
	"github.com/mcpanvil/core/internal/config"
	"github.com/mcpanvil/core/internal/domain/auth"
	"github.com/mcpanvil/core/internal/domain/session"
	"github.com/mcpanvil/core/internal/keystore"
	"github.com/mcpanvil/core/internal/sqlstore"
)

// stores bundles the key and session stores selected for one run, plus a
// single close func releasing whatever resource backs them (a SQLite
// connection shared by both, when cfg.Auth.Backend is "sqlite").
type stores struct {
	keys     auth.KeyStore
	sessions session.Store
	close    func() error
}

// buildStores selects and opens the auth/session store backend named by
// cfg.Auth.Backend. Both "mcpanvild run" and "mcpanvild keys" call this so a
// key minted by one is visible to the other.
func buildStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	switch cfg.Auth.Backend {
	case "env":
		keyStore := keystore.NewEnvStore(cfg.Auth.EnvVar)
		if err := keyStore.Load(); err != nil {
			return nil, fmt.Errorf("load env key store: %w", err)
		}
		sessionStore := memory.NewSessionStore()
		return &stores{keys: keyStore, sessions: sessionStore, close: func() error { sessionStore.Stop(); return nil }}, nil

	case "file":
		keyStore := keystore.NewFileStore(cfg.Auth.FilePath, []byte(cfg.Auth.Passphrase), logger)
		if err := keyStore.Load(); err != nil {
			return nil, fmt.Errorf("load file key store: %w", err)
		}
		sessionStore := memory.NewSessionStore()
		return &stores{keys: keyStore, sessions: sessionStore, close: func() error { sessionStore.Stop(); return nil }}, nil

	case "sqlite":
		db, err := sqlstore.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return &stores{keys: db.KeyStore(), sessions: db.SessionStore(), close: db.Close}, nil

	case "memory", "":
		sessionStore := memory.NewSessionStore()
		return &stores{keys: memory.NewAuthStore(), sessions: sessionStore, close: func() error { sessionStore.Stop(); return nil }}, nil

	default:
		return nil, fmt.Errorf("unknown auth backend %q", cfg.Auth.Backend)
	}
}
