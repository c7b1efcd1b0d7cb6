package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpanvil/core/internal/config"
	"github.com/mcpanvil/core/internal/domain/auth"
	"github.com/mcpanvil/core/internal/domain/ratelimit"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys against the configured key store",
}

var (
	keyCreateRole    string
	keyCreateExpires string
)

var keysCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Mint a new API key",
	Long: `Create mints a new API key against the key store backend named by
auth.backend, printing the plaintext secret exactly once.

Examples:
  mcpanvild keys create my-agent
  mcpanvild keys create my-agent --role operator
  mcpanvild keys create my-agent --role admin --expires 720h`,
	Args: cobra.ExactArgs(1),
	RunE: runKeysCreate,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys (no plaintext secrets)",
	RunE:  runKeysList,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

func init() {
	keysCreateCmd.Flags().StringVar(&keyCreateRole, "role", "operator", "role for the new key: admin, operator, or monitor")
	keysCreateCmd.Flags().StringVar(&keyCreateExpires, "expires", "", "key lifetime (e.g. 720h); empty means no expiry")
	keysCmd.AddCommand(keysCreateCmd, keysListCmd, keysRevokeCmd)
	rootCmd.AddCommand(keysCmd)
}

func loadConfigForKeyCommand() (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func parseRole(name string) (auth.Role, error) {
	switch strings.ToLower(name) {
	case "admin":
		return auth.NewAdminRole(), nil
	case "operator":
		return auth.NewOperatorRole(), nil
	case "monitor":
		return auth.NewMonitorRole(), nil
	default:
		return auth.Role{}, fmt.Errorf("unknown role %q: must be admin, operator, or monitor", name)
	}
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigForKeyCommand()
	if err != nil {
		return err
	}
	role, err := parseRole(keyCreateRole)
	if err != nil {
		return err
	}
	var expiresAt *time.Time
	if keyCreateExpires != "" {
		d, err := time.ParseDuration(keyCreateExpires)
		if err != nil {
			return fmt.Errorf("invalid --expires duration %q: %w", keyCreateExpires, err)
		}
		t := time.Now().UTC().Add(d)
		expiresAt = &t
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	st, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open key store: %w", err)
	}
	defer st.close()

	manager := auth.NewManager(st.keys, ratelimit.FailurePolicy{
		MaxFailedAttempts: cfg.Auth.MaxFailures,
		Window:            cfg.Auth.WindowDuration(),
		BlockDuration:     cfg.Auth.LockoutDuration(),
	})

	key, err := manager.CreateKey(ctx, args[0], role, expiresAt, auth.IPWhitelist{})
	if err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}

	fmt.Printf("id:     %s\n", key.ID)
	fmt.Printf("secret: %s\n", key.Secret)
	fmt.Printf("role:   %s\n", role.Kind)
	fmt.Println("\nThe secret above is shown once and is not recoverable; store it now.")
	return nil
}

func runKeysList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigForKeyCommand()
	if err != nil {
		return err
	}
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	st, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open key store: %w", err)
	}
	defer st.close()

	manager := auth.NewManager(st.keys, ratelimit.FailurePolicy{
		MaxFailedAttempts: cfg.Auth.MaxFailures,
		Window:            cfg.Auth.WindowDuration(),
		BlockDuration:     cfg.Auth.LockoutDuration(),
	})
	keys, err := manager.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}
	if len(keys) == 0 {
		fmt.Println("no keys found")
		return nil
	}
	for _, k := range keys {
		status := "active"
		if !k.Valid() {
			status = "inactive"
		}
		fmt.Printf("%-24s %-10s %-8s created=%s\n", k.ID, k.Role.Kind, status, k.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigForKeyCommand()
	if err != nil {
		return err
	}
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	st, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open key store: %w", err)
	}
	defer st.close()

	manager := auth.NewManager(st.keys, ratelimit.FailurePolicy{
		MaxFailedAttempts: cfg.Auth.MaxFailures,
		Window:            cfg.Auth.WindowDuration(),
		BlockDuration:     cfg.Auth.LockoutDuration(),
	})
	if err := manager.Revoke(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to revoke key %s: %w", args[0], err)
	}
	fmt.Printf("revoked %s\n", args[0])
	return nil
}
