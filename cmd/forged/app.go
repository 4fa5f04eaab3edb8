package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/softwareforge/forge/internal/config"
	"github.com/softwareforge/forge/internal/events"
	forgehttp "github.com/softwareforge/forge/internal/http"
	"github.com/softwareforge/forge/internal/membership"
	"github.com/softwareforge/forge/internal/project"
	"github.com/softwareforge/forge/internal/services"
	"github.com/softwareforge/forge/internal/store"
	"github.com/softwareforge/forge/internal/telemetry"
	"github.com/softwareforge/forge/internal/tfs"
	"github.com/softwareforge/forge/internal/tfsdb"
)

// app holds the wired daemon.
type app struct {
	http       *forgehttp.Server
	controller *tfs.Controller
	registry   *prometheus.Registry
	logger     *zap.Logger

	closers []func() error
}

// newApp opens the store, connects the optional collaborators and wires
// the controller and HTTP server. On error everything opened so far is
// closed again.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, tel *telemetry.Telemetry) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	db, err := store.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.closers = append(a.closers, func() error { return store.Close(db) })

	if err := store.Migrate(db, &project.Project{}, &membership.InvitationRequest{}); err != nil {
		return nil, err
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.Enabled {
		nc, err := events.Connect(cfg.Events.NATSURL, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, nc.Drain)
		publisher = events.NewNATSPublisher(nc, cfg.Events.SubjectPrefix, logger.Named("events"))
		logger.Info("publishing events", zap.String("url", cfg.Events.NATSURL))
	}

	creds, err := tfs.NewCredentials(cfg.TFS)
	if err != nil {
		return nil, fmt.Errorf("failed to build credentials: %w", err)
	}

	remover, closeRemover, err := tfsdb.Open(cfg.CollectionDB, logger.Named("tfsdb"))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeRemover)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	projects := project.NewManager(db)

	a.controller, err = tfs.NewController(ctx, tfs.Deps{
		Server:    tfs.NewAzDoServer(cfg.TFS.ServerURL, creds, cfg.TFS.RequestTimeout, logger.Named("azdo")),
		Servicer:  tfs.NewSOAPServicer(cfg.TFS.ServerURL, creds, cfg.TFS.RequestTimeout, logger.Named("soap")),
		Databases: remover,
		Projects:  projects,
		Publisher: publisher,
		Limiter:   rate.NewLimiter(rate.Limit(cfg.TFS.RequestsPerSecond), cfg.TFS.Burst),
		Tracer:    tel.Tracer("github.com/softwareforge/forge/internal/tfs"),
		Metrics:   tfs.NewMetrics(a.registry),
		Logger:    logger.Named("tfs"),
	}, tfs.OptionsFromConfig(cfg.TFS))
	if err != nil {
		return nil, err
	}

	reg := services.NewRegistry(services.Options{
		TFS:         a.controller,
		Projects:    projects,
		Invitations: membership.NewService(db, projects, publisher, logger.Named("membership")),
	})

	a.http, err = forgehttp.NewServer(reg, logger.Named("http"), &forgehttp.Config{
		Host:     cfg.Server.Host,
		Port:     cfg.Server.Port,
		Gatherer: a.registry,
		Metrics:  forgehttp.NewHTTPMetrics(logger),
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases everything newApp opened, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
