// Package main is the entry point for the form relay service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shineum/form-relay/internal/config"
	"github.com/shineum/form-relay/internal/delivery"
	"github.com/shineum/form-relay/internal/form"
	"github.com/shineum/form-relay/internal/provider"
	"github.com/shineum/form-relay/internal/provider/graph"
	"github.com/shineum/form-relay/internal/provider/sendmail"
	"github.com/shineum/form-relay/internal/provider/ses"
	"github.com/shineum/form-relay/internal/provider/stdout"
	"github.com/shineum/form-relay/internal/smtp"
)

// shutdownTimeout bounds how long in-flight requests may run after a signal.
const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	relayCfg, err := cfg.ConnectionConfig()
	if err != nil {
		slog.Error("failed to setup relay TLS", "error", err)
		os.Exit(1)
	}

	fallback, err := selectFallback(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to create fallback provider", "error", err)
		os.Exit(1)
	}

	orchestrator := delivery.New(smtp.NewClient(relayCfg), fallback)

	handler := form.NewHandler(orchestrator, form.Settings{
		To:             cfg.Mail.To,
		From:           cfg.Mail.From,
		FromName:       cfg.Mail.FromName,
		Site:           cfg.Mail.Domain,
		SuccessURL:     cfg.HTTP.SuccessURL,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})
	app := form.NewApp(handler)

	fallbackName := "none"
	if fallback != nil {
		fallbackName = fallback.Name()
	}
	slog.Info("starting form-relay",
		"listen", cfg.HTTP.Listen,
		"relay", relayCfg.Addr(),
		"relay_enabled", cfg.RelayConfigured(),
		"implicit_tls", relayCfg.ImplicitTLS,
		"fallback", fallbackName,
	)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(cfg.HTTP.Listen)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		slog.Info("received signal, initiating shutdown")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}

	slog.Info("form-relay stopped")
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// selectFallback builds the transport tried when the relay is skipped or
// fails. It returns nil for "none".
func selectFallback(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Fallback.Provider {
	case config.ProviderSendmail:
		p := sendmail.New(cfg.Fallback.SendmailPath)
		slog.Info("using sendmail fallback", "path", cfg.Fallback.SendmailPath)
		return p, nil

	case config.ProviderSES:
		if !cfg.SESConfigured() {
			return nil, errors.New("SES fallback selected but SES_REGION is required")
		}
		slog.Info("using AWS SES fallback",
			"region", cfg.Fallback.SES.Region,
			"sender", cfg.Fallback.SES.Sender,
		)
		return ses.New(ctx, ses.Config{
			Region:          cfg.Fallback.SES.Region,
			AccessKeyID:     cfg.Fallback.SES.AccessKeyID,
			SecretAccessKey: cfg.Fallback.SES.SecretAccessKey,
			Sender:          cfg.Fallback.SES.Sender,
		})

	case config.ProviderGraph:
		if !cfg.GraphConfigured() {
			return nil, errors.New("Graph fallback selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET, and GRAPH_SENDER are required")
		}
		slog.Info("using Microsoft Graph fallback",
			"sender", cfg.Fallback.Graph.Sender,
		)
		return graph.New(graph.Config{
			TenantID:     cfg.Fallback.Graph.TenantID,
			ClientID:     cfg.Fallback.Graph.ClientID,
			ClientSecret: cfg.Fallback.Graph.ClientSecret,
			Sender:       cfg.Fallback.Graph.Sender,
		}), nil

	case config.ProviderStdout:
		slog.Info("using stdout fallback")
		return stdout.New(), nil

	case config.ProviderNone:
		slog.Info("fallback disabled")
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown fallback provider %q", cfg.Fallback.Provider)
	}
}
