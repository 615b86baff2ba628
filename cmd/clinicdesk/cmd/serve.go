package cmd

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

	"github.com/spf13/cobra"

	"github.com/jmcleod/clinicdesk/config"
	"github.com/jmcleod/clinicdesk/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the window server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, closeLog, err := cfg.Log.NewLogger(os.Stderr)
		if err != nil {
			return err
		}
		defer closeLog()
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	clinic, closeRepo, err := openClinic(ctx, cfg)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger, clinic)
	if err != nil {
		closeRepo()
		return err
	}
	a.closers = append(a.closers, closeRepo)
	defer a.Close()

	if err := a.writeArtifacts(); err != nil {
		logger.Warn("failed to write artifacts", "error", err)
	}

	ts := transport.New(a.router,
		transport.WithLogger(logger),
		transport.WithGatherer(a.registry),
		transport.WithOriginPatterns(cfg.Transport.OriginPatterns...),
	)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           ts.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("server failed: %w", err)
			return
		}
		done <- nil
	}()
	go a.sweep(ctx)

	printBanner(os.Stdout)
	logger.Info("window server listening",
		"addr", cfg.Addr,
		"storage", cfg.Storage.Driver,
		"data_dir", cfg.DataDir,
		"backend", cfg.BackendURL(),
		"channels", len(a.router.Channels()),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-done:
		return err
	}
}

// sweep evicts expired sessions and stale login attempts until ctx ends.
func (a *app) sweep(ctx context.Context) {
	interval := a.cfg.Session.SweepInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions := a.sessions.ClearExpired()
			attempts := a.service.Sweep()
			if sessions > 0 || attempts > 0 {
				a.logger.Debug("swept expired state", "sessions", sessions, "login_attempts", attempts)
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Loopback address to listen on")
	serveCmd.Flags().String("data-dir", "", "Directory for persistent data")
	serveCmd.Flags().String("storage", "", "Storage driver: memory, bbolt, sqlite or postgres")
	serveCmd.Flags().String("dsn", "", "Postgres connection string")
	serveCmd.Flags().StringSlice("out", nil, "Directories receiving the channel tree and declarations")
	serveCmd.Flags().String("log-level", "", "Log level: debug, info, warn or error")
	serveCmd.Flags().String("backend-url", "", "Remote backend base URL")
}
