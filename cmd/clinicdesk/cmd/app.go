package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jmcleod/clinicdesk/backend"
	"github.com/jmcleod/clinicdesk/config"
	"github.com/jmcleod/clinicdesk/handlers"
	"github.com/jmcleod/clinicdesk/ipc"
	"github.com/jmcleod/clinicdesk/records"
	"github.com/jmcleod/clinicdesk/routes"
	"github.com/jmcleod/clinicdesk/session"
	"github.com/jmcleod/clinicdesk/storage"
	bboltstorage "github.com/jmcleod/clinicdesk/storage/bbolt"
	"github.com/jmcleod/clinicdesk/storage/memory"
	"github.com/jmcleod/clinicdesk/storage/postgres"
	"github.com/jmcleod/clinicdesk/storage/sqlite"
	"github.com/jmcleod/clinicdesk/typegen"
)

// app is the wired process: sessions, records, handlers and the router
// they are registered on.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	sessions *session.Store
	registry *prometheus.Registry
	router   *ipc.Router
	service  *handlers.Service
	modules  []routes.Module
	closers  []func() error
}

// newApp wires the process. Without clinic the record handlers are still
// registered, which is enough to describe the channels.
func newApp(cfg *config.Config, logger *slog.Logger, clinic *records.Clinic) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		sessions: session.NewStore(session.WithTTL(cfg.Session.TTL)),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metrics, err := ipc.NewMetrics(a.registry, a.sessions)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}
	opts := []ipc.Option{ipc.WithLogger(logger), ipc.WithMetrics(metrics)}
	if cfg.Transport.TokenArguments {
		opts = append(opts, ipc.WithTokenArguments())
	}
	a.router = ipc.NewRouter(a.sessions, opts...)

	var client *backend.Client
	if url := cfg.BackendURL(); url != "" {
		client = backend.New(url, backend.WithLogger(logger))
	}
	a.service = handlers.New(handlers.Deps{
		Sessions: a.sessions,
		Clinic:   clinic,
		Backend:  client,
		Logger:   logger,
		Registry: a.registry,
	})
	a.modules = a.service.Modules()
	n := routes.Register(a.router, a.modules, routes.WithSessions(a.sessions), routes.WithLogger(logger))
	logger.Debug("registered channels", "count", n)
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

// openClinic opens the configured repository and the record store on top
// of it. The returned close function releases the repository.
func openClinic(ctx context.Context, cfg *config.Config) (*records.Clinic, func() error, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	key, err := records.LoadKey(cfg.KeyPath())
	if err != nil {
		closeRepo()
		return nil, nil, fmt.Errorf("failed to load data key: %w", err)
	}
	return records.NewClinic(records.NewStore(repo, key)), closeRepo, nil
}

func openRepository(ctx context.Context, cfg *config.Config) (storage.Repository, func() error, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		return memory.NewRepository(), func() error { return nil }, nil
	case config.DriverBolt:
		repo, err := bboltstorage.NewRepositoryFromFile(cfg.StoragePath(), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bbolt storage: %w", err)
		}
		return repo, repo.Close, nil
	case config.DriverSQLite:
		repo, err := sqlite.Open(cfg.StoragePath())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		return repo, repo.Close, nil
	case config.DriverPostgres:
		repo, err := postgres.NewRepositoryFromDSN(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		return repo, repo.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

// writeArtifacts writes the namespace tree and the type declarations into
// every configured artifact directory.
func (a *app) writeArtifacts() error {
	dirs := a.cfg.Artifacts.Dirs
	if _, err := a.router.WriteTree(dirs...); err != nil {
		return err
	}
	decls, err := typegen.Generate(a.modules)
	if err != nil {
		return fmt.Errorf("generating declarations: %w", err)
	}
	ipc.WriteArtifact(a.cfg.Artifacts.TypesFile, decls, dirs, a.logger)
	return nil
}
