package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/teemow/receptionist/internal/appointments"
	"github.com/teemow/receptionist/internal/calendar"
	"github.com/teemow/receptionist/internal/clock"
	"github.com/teemow/receptionist/internal/config"
	"github.com/teemow/receptionist/internal/crm"
	"github.com/teemow/receptionist/internal/dispatch"
	"github.com/teemow/receptionist/internal/google"
	"github.com/teemow/receptionist/internal/holds"
	"github.com/teemow/receptionist/internal/instrumentation"
	"github.com/teemow/receptionist/internal/normalize"
	"github.com/teemow/receptionist/internal/server"
	"github.com/teemow/receptionist/internal/storage/postgres"
	"github.com/teemow/receptionist/internal/storage/redis"
	"github.com/teemow/receptionist/internal/tools"
)

// app is the wired object graph shared by serve and sweep.
type app struct {
	store        *holds.Store
	gateway      calendar.Gateway
	crm          *crm.Service
	orchestrator *appointments.Orchestrator
	invoker      *tools.Invoker
	normalizer   *normalize.Normalizer
	checks       []server.Check

	closers []func()
}

// Close releases backend connections.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp connects the configured backends and wires the workflows.
// gateway overrides the configured calendar backend when non-nil.
func buildApp(ctx context.Context, cfg config.Config, provider *instrumentation.Provider, gateway calendar.Gateway, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	metrics := &instrumentation.Metrics{}
	if provider != nil {
		metrics = provider.Metrics()
	}

	var pool *pgxpool.Pool
	if cfg.Holds.Backend == config.BackendPostgres || cfg.CRM.Backend == config.BackendPostgres {
		pool, err = postgres.Open(ctx, cfg.Postgres())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		a.checks = append(a.checks, server.Check{Name: "postgres", Ping: pool.Ping})

		if cfg.Database.AutoMigrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				return nil, err
			}
		}
	}

	var backend holds.Backend
	switch cfg.Holds.Backend {
	case config.BackendPostgres:
		backend = postgres.NewHoldBackend(pool)
	case config.BackendRedis:
		rc := cfg.RedisClient()
		var client *goredis.Client
		client, err = redis.NewClient(ctx, rc)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.checks = append(a.checks, server.Check{
			Name: "redis",
			Ping: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
		backend = redis.NewHoldBackend(client, rc.KeyPrefix, cfg.Redis.LockTTL)
	default:
		backend = holds.NewMemoryBackend()
	}

	a.store = holds.NewStore(backend,
		holds.WithTTL(cfg.Holds.TTL),
		holds.WithRecorder(metrics),
		holds.WithLogger(logger),
	)

	if gateway == nil {
		gateway, err = newGateway(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}
	a.gateway = calendar.Instrument(gateway, metrics)

	phones := crm.NewPhoneNormalizer(cfg.CRM.PhoneRegion)
	var repo crm.Repository = crm.NewMemoryRepository()
	if cfg.CRM.Backend == config.BackendPostgres {
		repo = postgres.NewCRMRepository(pool)
	}
	a.crm = crm.NewService(repo, phones, clock.NewSystem(), logger)

	a.orchestrator = appointments.New(a.store, a.gateway, a.crm, appointments.Config{
		TimeZone:       cfg.Location(),
		OptionsLimit:   cfg.Calendar.OptionsLimit,
		SearchWindow:   cfg.Calendar.SearchWindow,
		GatewayTimeout: cfg.Calendar.GatewayTimeout,
	}, logger)

	var audit *instrumentation.AuditLogger
	if provider != nil && provider.Enabled() {
		audit = instrumentation.NewAuditLoggerWithConfig(logger, cfg.InstrumentationConfig(version).AuditLogging)
	}
	a.invoker = tools.NewInvoker(dispatch.New(a.orchestrator, a.crm, phones, logger), metrics, audit)

	aliases := normalize.DefaultAliases()
	if cfg.AliasesFile != "" {
		aliases, err = normalize.LoadAliases(cfg.AliasesFile)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded tool aliases", slog.String("file", cfg.AliasesFile), slog.Int("count", aliases.Len()))
	}
	a.normalizer = normalize.New(aliases)

	return a, nil
}

func newGateway(ctx context.Context, cfg config.Config, logger *slog.Logger) (calendar.Gateway, error) {
	switch cfg.Calendar.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory calendar, appointments are not persisted")
		return calendar.NewMemoryGateway(cfg.SlotRules()), nil
	case config.BackendGoogle:
		client, err := google.NewHTTPClient(ctx, cfg.GoogleCredentials())
		if err != nil {
			return nil, fmt.Errorf("failed to create Google credentials: %w", err)
		}
		return calendar.NewGoogleGateway(ctx, client, calendar.GoogleConfig{
			CalendarID: cfg.Calendar.ID,
			Rules:      cfg.SlotRules(),
			Logger:     logger,
		})
	default:
		return nil, errors.New("unsupported calendar backend: " + cfg.Calendar.Backend)
	}
}
