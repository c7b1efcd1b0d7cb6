package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mcpanvil/core/internal/adapter/outbound/memory"
	"github.com/mcpanvil/core/internal/backend"
	"github.com/mcpanvil/core/internal/backend/echo"
	"github.com/mcpanvil/core/internal/config"
	"github.com/mcpanvil/core/internal/domain/auth"
	"github.com/mcpanvil/core/internal/domain/ratelimit"
	"github.com/mcpanvil/core/internal/domain/session"
	"github.com/mcpanvil/core/internal/handler"
	"github.com/mcpanvil/core/internal/middleware"
	"github.com/mcpanvil/core/internal/monitoring"
	"github.com/mcpanvil/core/internal/transport/httpsse"
	"github.com/mcpanvil/core/internal/transport/stdio"
)

var devMode bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the server",
	Long: `Run starts mcpanvild with the demonstration echo backend behind the
transport named by server.transport (stdio or httpsse).

Examples:
  mcpanvild run
  mcpanvild --config ./mcpanvil.yaml run
  mcpanvild run --dev`,
	RunE: runServe,
}

func init() {
	runCmd.Flags().BoolVar(&devMode, "dev", false, "enable development mode (insecure session secret, relaxed validation)")
	rootCmd.AddCommand(runCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

// serve wires the auth/session/rate-limit services, the middleware
// pipeline, the monitoring stack, and the configured transport, then blocks
// until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open stores: %w", err)
	}
	defer func() {
		if closeErr := st.close(); closeErr != nil {
			logger.Warn("failed to close stores", "error", closeErr)
		}
	}()

	failurePolicy := ratelimit.FailurePolicy{
		MaxFailedAttempts: cfg.Auth.MaxFailures,
		Window:            cfg.Auth.WindowDuration(),
		BlockDuration:     cfg.Auth.LockoutDuration(),
	}
	authManager := auth.NewManager(st.keys, failurePolicy)

	if cfg.Session.Secret == "" {
		return fmt.Errorf("session.secret must be set (config validation should have caught this)")
	}
	sessionManager := session.NewManager(st.sessions, session.Config{
		IdleTimeout:        cfg.Session.IdleTimeout(),
		MaxDuration:        cfg.Session.MaxDuration(),
		MaxSessionsPerUser: cfg.Session.MaxSessionsPerUser,
		Issuer:             cfg.Session.Issuer,
		Secret:             []byte(cfg.Session.Secret),
	})

	var rateLimiter ratelimit.RateLimiter
	if cfg.RateLimit.Enabled {
		memLimiter := memory.NewRateLimiterWithConfig(cfg.RateLimit.CleanupInterval(), cfg.RateLimit.MaxTTL())
		memLimiter.StartCleanup(ctx)
		defer memLimiter.Stop()
		rateLimiter = memLimiter
	} else {
		memLimiter := memory.NewRateLimiter()
		memLimiter.StartCleanup(ctx)
		defer memLimiter.Stop()
		rateLimiter = memLimiter
	}

	registry := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(registry)

	securityCfg := middleware.SecurityConfig{
		MaxMessageBytes: cfg.Security.MaxMessageBytes,
		MaxParamCount:   cfg.Security.MaxParamCount,
		MaxStringLength: cfg.Security.MaxStringLength,
		MethodLimit: ratelimit.RateLimitConfig{
			Rate:   cfg.Security.MethodRate,
			Burst:  cfg.Security.MethodBurst,
			Period: cfg.Security.MethodPeriod(),
		},
	}

	pipeline := middleware.NewPipeline(
		[]middleware.PreStage{
			middleware.NewSecurityValidator(securityCfg, rateLimiter),
			middleware.NewAuthStage(authManager, sessionManager),
		},
		[]middleware.PostStage{
			middleware.NewMonitoringStage(metrics),
		},
	)

	b := selectBackend()
	if err := b.Initialize(ctx, backend.Config{}); err != nil {
		return fmt.Errorf("failed to initialize backend: %w", err)
	}

	h := handler.New(b, pipeline, cfg.Server.RequestTimeout(), logger)
	h.SetAuthRequired(cfg.Auth.Required)

	var tracerShutdown func(context.Context) error
	if cfg.Monitoring.TracingEnabled {
		provider, shutdown, err := monitoring.NewStdoutTracerProvider("mcpanvild")
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		tracerShutdown = shutdown
		h.SetTracer(monitoring.NewTracer(provider))
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracerShutdown(shutCtx); err != nil {
				logger.Warn("failed to shut down tracer provider", "error", err)
			}
		}()
	}

	if len(cfg.Monitoring.Rules) > 0 {
		rules := make([]monitoring.AlertRule, len(cfg.Monitoring.Rules))
		for i, r := range cfg.Monitoring.Rules {
			rules[i] = monitoring.AlertRule{
				Name:       r.Name,
				Expression: r.Expression,
				Severity:   r.Severity,
				Cooldown:   r.Cooldown(),
			}
		}
		evaluator, err := monitoring.NewRuleEvaluator(rules)
		if err != nil {
			return fmt.Errorf("failed to compile alert rules: %w", err)
		}
		alertSink := monitoring.Sink(func(_ context.Context, alert monitoring.Alert) error {
			logger.Warn("alert fired", "rule", alert.Rule.Name, "severity", alert.Rule.Severity, "fired_at", alert.FiredAt)
			return nil
		})
		engine := monitoring.NewAlertEngine(evaluator, metrics, cfg.Monitoring.AlertEvalInterval(), logger, alertSink)
		go engine.Run(ctx)
	}

	var metricsServer *http.Server
	if cfg.Monitoring.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		metricsServer = &http.Server{Addr: cfg.Monitoring.MetricsAddr, Handler: mux}
		go func() {
			logger.Info("metrics server listening", "addr", cfg.Monitoring.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutCtx)
		}()
	}

	logger.Info("mcpanvild starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"transport", cfg.Server.Transport,
		"auth_backend", cfg.Auth.Backend,
	)

	switch cfg.Server.Transport {
	case "stdio":
		t := stdio.New(h, logger)
		return t.Run(ctx, os.Stdin, os.Stdout)

	case "httpsse":
		t := httpsse.New(h, httpsse.Config{
			Addr:           cfg.Server.HTTPAddr,
			CertFile:       cfg.Server.CertFile,
			KeyFile:        cfg.Server.KeyFile,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RequireBearer:  cfg.Server.RequireBearer,
			SessionTimeout: cfg.Server.SessionTimeout(),
		}, logger)
		logger.Info("transport listening", "addr", cfg.Server.HTTPAddr)
		return t.Run(ctx)

	default:
		return fmt.Errorf("unknown transport %q", cfg.Server.Transport)
	}
}

// selectBackend returns the application backend to serve. The demonstration
// binary ships only the echo backend (internal/backend/echo); a real
// deployment replaces this with its own backend.Backend implementation.
func selectBackend() backend.Backend {
	return echo.New()
}

// parseLogLevel converts a string log level to slog.Level, defaulting to
// Info for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
