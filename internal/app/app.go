// Package app assembles the settings stack from process configuration. The
// server and the setman CLI both start from New.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"setman/internal/platform/config"
	"setman/internal/platform/postgres"
	redisclient "setman/internal/platform/redis"
	"setman/internal/schema"
	"setman/internal/settings/audit"
	"setman/internal/settings/cache"
	"setman/internal/settings/host"
	"setman/internal/settings/lazy"
	settingsmetrics "setman/internal/settings/metrics"
	"setman/internal/settings/service"
	"setman/internal/settings/store/record"
	"setman/pkg/platform/circuit"
)

// App holds the wired settings stack and the connections it owns.
type App struct {
	Config   config.Server
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Schema   *schema.Schema
	Service  *service.Service
	Settings *lazy.Settings

	db     *sql.DB
	redis  *redisclient.Client
	kafka  *audit.KafkaPublisher
	closed bool
}

// New connects to PostgreSQL (applying migrations), optionally to Redis and
// Kafka, loads the schema and host configuration and builds the root settings
// view.
func New(ctx context.Context, cfg config.Server, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sch, err := schema.Load(cfg.SchemaPath)
	if err != nil {
		return nil, err
	}
	a.Schema = sch

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.db = db
	if err := postgres.Migrate(db); err != nil {
		a.Close()
		return nil, err
	}

	resolution, err := a.resolutionCache(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	m := settingsmetrics.New(a.Registry)
	svc, err := service.New(sch, record.NewPostgres(db, sch), resolution,
		service.WithLogger(logger),
		service.WithMetrics(m),
		service.WithTxRunner(postgres.NewTxRunner(db)),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Service = svc

	hostConfig, err := host.NewViper(cfg.HostConfigPath)
	if err != nil {
		a.Close()
		return nil, err
	}

	publisher, err := a.auditPublisher(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Settings = lazy.New(svc, hostConfig,
		lazy.WithLogger(logger),
		lazy.WithMetrics(m),
		lazy.WithAuditPublisher(publisher),
	)
	return a, nil
}

func (a *App) resolutionCache(ctx context.Context) (service.Cache, error) {
	client, err := redisclient.New(ctx, a.Config.Redis)
	if err != nil {
		return nil, err
	}
	if client == nil {
		a.Logger.Info("resolution cache kept in process memory")
		return cache.NewMemory(), nil
	}
	a.redis = client
	a.Logger.Info("resolution cache shared through redis")
	breaker := circuit.New("resolution-cache")
	return cache.NewGuarded(cache.NewRedis(client.Client), breaker, a.Logger), nil
}

func (a *App) auditPublisher(ctx context.Context) (audit.Publisher, error) {
	if len(a.Config.Kafka.Brokers) == 0 {
		return audit.NewLogPublisher(a.Logger), nil
	}
	p, err := audit.NewKafkaPublisher(a.Config.Kafka.Brokers, a.Config.Kafka.Topic)
	if err != nil {
		return nil, err
	}
	if err := p.EnsureTopic(ctx, 1, 1); err != nil {
		a.Logger.WarnContext(ctx, "could not ensure audit topic", "topic", a.Config.Kafka.Topic, "error", err)
	}
	a.kafka = p
	return p, nil
}

// Health reports whether the database and, when configured, Redis respond.
func (a *App) Health(ctx context.Context) error {
	var errs *multierror.Error
	if err := a.db.PingContext(ctx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("postgres: %w", err))
	}
	if a.redis != nil {
		if err := a.redis.Health(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// Close releases every connection. It is safe to call more than once.
func (a *App) Close() {
	if a.closed {
		return
	}
	a.closed = true
	if a.Settings != nil {
		a.Settings.Close()
	}
	if a.kafka != nil {
		a.kafka.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
