// Package main is the CLI entry point for Pulse, the realtime
// notification fan-out and scheduling engine.
//
// Start the server:
//
//	pulse serve --config pulse.yaml
//
// Issue a development token:
//
//	pulse token --config pulse.yaml --user u1
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/pulse/internal/auth"
	"github.com/haasonsaas/pulse/internal/config"
	"github.com/haasonsaas/pulse/internal/dispatch"
	"github.com/haasonsaas/pulse/internal/mail"
	"github.com/haasonsaas/pulse/internal/observability"
	"github.com/haasonsaas/pulse/internal/registry"
	"github.com/haasonsaas/pulse/internal/scheduler"
	"github.com/haasonsaas/pulse/internal/store"
	"github.com/haasonsaas/pulse/internal/web"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "pulse",
		Short:        "Pulse - realtime notification fan-out and scheduling engine",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd(), buildTokenCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Pulse server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "pulse.yaml", "Path to configuration file")
	return cmd
}

func buildTokenCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			stores, err := openStores(cfg, slog.Default())
			if err != nil {
				return err
			}
			defer stores.Close()

			service := auth.NewService(cfg.Auth.JWTSecret, stores.Users, slog.Default())
			token, err := service.IssueToken(userID, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "pulse.yaml", "Path to configuration file")
	cmd.Flags().StringVar(&userID, "user", "", "Subject user id")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

// loadConfig reads the config file, falling back to defaults when the
// default path does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && path == "pulse.yaml" {
			return config.Default(), nil
		}
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return config.Load(path)
}

func openStores(cfg *config.Config, logger *slog.Logger) (store.StoreSet, error) {
	switch cfg.Storage.Driver {
	case "memory":
		logger.Warn("memory storage configured, notifications will not survive restart")
		return store.NewMemoryStores(), nil
	case "postgres":
		return store.NewPostgresStores(cfg.Storage.DSN, nil)
	default:
		return store.NewSQLiteStores(cfg.Storage.Path)
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	slog.SetDefault(logger)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(promRegistry)

	stores, err := openStores(cfg, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer stores.Close()

	authService := auth.NewService(cfg.Auth.JWTSecret, stores.Users, logger)
	if !authService.Enabled() {
		logger.Warn("auth.jwt_secret not set, every handshake and API call will be rejected")
	}

	hub := registry.NewHub(logger, metrics)

	var mailer mail.Mailer
	if cfg.Mail.Enabled {
		mailer, err = mail.NewAPIMailer(mail.APIConfig{
			Endpoint: cfg.Mail.Endpoint,
			Secret:   cfg.Mail.Secret,
			From:     cfg.Mail.From,
			Timeout:  cfg.Mail.Timeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("configure mail: %w", err)
		}
	} else {
		mailer = mail.NewLogMailer(logger)
	}

	dispatcher := dispatch.New(stores, hub, logger,
		dispatch.WithMailer(mailer),
		dispatch.WithMetrics(metrics),
	)

	jobRegistry := scheduler.NewRegistry(logger,
		scheduler.WithMetrics(metrics),
		scheduler.WithTickInterval(cfg.Scheduler.TickInterval),
	)
	jobs := scheduler.NewJobSet(cfg.Scheduler, stores, dispatcher, logger, nil)
	if err := jobs.RegisterAll(jobRegistry); err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}
	if cfg.Scheduler.Enabled {
		jobRegistry.Start()
		defer func() {
			jobRegistry.Stop()
			jobRegistry.Wait()
		}()
	}

	handler := web.NewHandler(&web.Config{
		AuthService:     authService,
		Dispatcher:      dispatcher,
		Hub:             hub,
		Scheduler:       jobRegistry,
		Handshake:       registry.NewHandshake(hub, authService, logger),
		Gatherer:        promRegistry,
		Logger:          logger,
		ServerStartTime: time.Now(),
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler.Mount(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", server.Addr, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}
	dispatcher.Wait()
	return nil
}
