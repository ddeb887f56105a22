package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/trailpost/billing/pkg/catalog"
	"github.com/trailpost/billing/pkg/config"
	"github.com/trailpost/billing/pkg/gamification"
	"github.com/trailpost/billing/pkg/gateway"
	"github.com/trailpost/billing/pkg/httpserver"
	"github.com/trailpost/billing/pkg/logger"
	"github.com/trailpost/billing/pkg/metrics"
	"github.com/trailpost/billing/pkg/mongo"
	"github.com/trailpost/billing/pkg/pg"
	"github.com/trailpost/billing/pkg/redis"
	"github.com/trailpost/billing/pkg/subscription"
	"github.com/trailpost/billing/svc/lifecycle"
	"github.com/trailpost/billing/svc/reporting"
)

var ErrUnknownBackend = errors.New("unknown backend")

// app holds the wired engine and everything that has to be closed with it.
type app struct {
	cfg      appConfig
	logger   *slog.Logger
	catalog  *catalog.Catalog
	manager  *lifecycle.Manager
	reporter *reporting.Reporter
	parser   gateway.EventParser
	registry *prometheus.Registry
	checks   map[string]httpserver.Check
	closers  []func()
}

// loadApp parses the environment and wires the app. Logs go to logs so
// command output on stdout stays machine readable.
func loadApp(ctx context.Context, logs io.Writer) (*app, error) {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	a, err := newApp(ctx, cfg, logs)
	if err != nil {
		return nil, err
	}
	logger.SetAsDefault(a.logger)
	return a, nil
}

func newApp(ctx context.Context, cfg appConfig, logs io.Writer) (_ *app, err error) {
	l, err := logger.FromConfig(cfg.Log,
		logger.WithOutput(logs),
		logger.WithContextValue("request_id", middleware.RequestIDKey),
	)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   l,
		registry: prometheus.NewRegistry(),
		checks:   make(map[string]httpserver.Check),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if a.catalog, err = loadCatalog(ctx, cfg.CatalogFile); err != nil {
		return nil, err
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	locker, err := a.openLocker(ctx)
	if err != nil {
		return nil, err
	}
	gw, err := a.openGateway()
	if err != nil {
		return nil, err
	}
	awarder, err := gamification.New(cfg.Points, l)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = awarder.Close() })

	a.manager = lifecycle.New(store, a.catalog, gw,
		lifecycle.WithConfig(cfg.Lifecycle),
		lifecycle.WithLogger(l),
		lifecycle.WithLocker(locker),
		lifecycle.WithAwarder(awarder),
		lifecycle.WithMetrics(metrics.New(a.registry)),
	)
	// Wait for in-flight point awards before the awarder closes.
	a.closers = append(a.closers, a.manager.Wait)
	a.reporter = reporting.New(store, a.catalog, reporting.WithLogger(l))
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func loadCatalog(ctx context.Context, path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(ctx, catalog.NewYAMLSource(os.DirFS(filepath.Dir(path)), filepath.Base(path)))
}

func (a *app) openStore(ctx context.Context) (lifecycle.Repository, error) {
	switch a.cfg.Store {
	case storeMemory:
		return subscription.NewMemoryStore(), nil

	case storePostgres:
		cfg, err := config.Parse[pg.Config]()
		if err != nil {
			return nil, err
		}
		pool, err := pg.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		if err := pg.Migrate(ctx, pool, cfg, a.logger); err != nil {
			return nil, err
		}
		a.checks[storePostgres] = pg.Healthcheck(pool)
		return pg.NewSubscriptionStore(pool), nil

	case storeMongo:
		cfg, err := config.Parse[mongo.Config]()
		if err != nil {
			return nil, err
		}
		store, client, err := mongo.NewSubscriptionStoreFromConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Disconnect(context.Background()) })
		a.checks[storeMongo] = mongo.Healthcheck(client)
		return store, nil
	}
	return nil, fmt.Errorf("%w: store %q", ErrUnknownBackend, a.cfg.Store)
}

func (a *app) openLocker(ctx context.Context) (subscription.Locker, error) {
	switch a.cfg.Locker {
	case lockerMemory:
		return subscription.NewMemoryLocker(), nil

	case lockerRedis:
		cfg, err := config.Parse[redis.Config]()
		if err != nil {
			return nil, err
		}
		client, err := redis.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.checks[lockerRedis] = redis.Healthcheck(client)
		return redis.NewLocker(client, cfg), nil
	}
	return nil, fmt.Errorf("%w: locker %q", ErrUnknownBackend, a.cfg.Locker)
}

// openGateway returns the charging gateway behind a circuit breaker and
// keeps the provider itself as the webhook parser.
func (a *app) openGateway() (gateway.Gateway, error) {
	var (
		gw  gateway.Gateway
		err error
	)
	switch a.cfg.Gateway {
	case gatewayMock:
		mock := gateway.NewMockGateway()
		gw, a.parser = mock, mock

	case gatewayStripe:
		cfg, perr := config.Parse[gateway.StripeConfig]()
		if perr != nil {
			return nil, perr
		}
		stripe, serr := gateway.NewStripeGateway(cfg)
		gw, a.parser, err = stripe, stripe, serr

	case gatewayPaddle:
		cfg, perr := config.Parse[gateway.PaddleConfig]()
		if perr != nil {
			return nil, perr
		}
		paddle, serr := gateway.NewPaddleGateway(cfg)
		gw, a.parser, err = paddle, paddle, serr

	default:
		return nil, fmt.Errorf("%w: gateway %q", ErrUnknownBackend, a.cfg.Gateway)
	}
	if err != nil {
		return nil, err
	}
	return gateway.NewBreakerGateway(gw, a.cfg.Breaker, a.logger), nil
}
