// Package app wires configuration into a ready dispatcher.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/tiger4589/cqrs-lib"
	"github.com/tiger4589/cqrs-lib/bus"
	busmemory "github.com/tiger4589/cqrs-lib/bus/memory"
	busnats "github.com/tiger4589/cqrs-lib/bus/nats"
	"github.com/tiger4589/cqrs-lib/bus/rabbit"
	"github.com/tiger4589/cqrs-lib/internal/config"
	"github.com/tiger4589/cqrs-lib/internal/user"
	"github.com/tiger4589/cqrs-lib/internal/user/cache"
	"github.com/tiger4589/cqrs-lib/internal/user/storage/memory"
	"github.com/tiger4589/cqrs-lib/internal/user/storage/postgres"
	"github.com/tiger4589/cqrs-lib/internal/user/storage/sqlite"
	"go.uber.org/zap"
)

// Store is a user.Repository that owns a connection.
type Store interface {
	user.Repository
	Close() error
}

// Container holds the wired dependencies of the demo application.
type Container struct {
	Config     *config.Config
	Logger     *zap.Logger
	Store      Store
	Events     bus.Bus
	Cache      *cache.Redis
	Registry   *cqrs.Registry
	Dispatcher *cqrs.Dispatcher
}

// New connects the configured backends and registers the user handlers.
// In development an unreachable redis or broker degrades to no cache and the
// in-process bus.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: log}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.Store = store
	log.Info("opened user store", zap.String("driver", cfg.StoreDriver))

	if cfg.RedisURL != "" {
		rc, err := cache.Dial(ctx, cfg.RedisURL, cfg.RedisCacheTTL, log.Named("cache"))
		switch {
		case err == nil:
			c.Cache = rc
			log.Info("connected to Redis")
		case cfg.IsDevelopment():
			log.Warn("Redis not available, user queries are not cached", zap.Error(err))
		default:
			c.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
	}

	events, err := openBus(ctx, cfg, log)
	if err != nil {
		if !cfg.IsDevelopment() {
			c.Close()
			return nil, err
		}
		log.Warn("broker not available, using in-process bus", zap.Error(err))
		events = busmemory.New(log.Named("bus"))
	}
	c.Events = bus.NewBreaker(events, bus.BreakerConfig{
		Name:             "events",
		MaxRequests:      1,
		Interval:         bus.DefaultBreakerConfig().Interval,
		Timeout:          cfg.BreakerTimeout,
		FailureThreshold: cfg.BreakerFailureThreshold,
	}, log)

	if err := user.SubscribeAudit(c.Events, log.Named("audit")); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe audit log: %w", err)
	}

	deps := user.Dependencies{Repository: c.Store, Events: c.Events, Log: log}
	if c.Cache != nil {
		deps.Cache = c.Cache
	}

	b := cqrs.NewBuilder()
	user.Register(b, deps)
	c.Registry, err = b.Build()
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Dispatcher = cqrs.NewDispatcher(c.Registry, cqrs.WithLogger(log.Named("cqrs")))
	return c, nil
}

func openStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		return sqlite.Open(ctx, cfg.SQLitePath)
	case config.StorePostgres:
		return postgres.Open(ctx, cfg.DatabaseURL)
	case config.StoreMemory, "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func openBus(ctx context.Context, cfg *config.Config, log *zap.Logger) (bus.Bus, error) {
	switch cfg.BusDriver {
	case config.BusNATS:
		b, err := busnats.New(busnats.Config{URL: cfg.NATSURL, Name: cfg.OTelServiceName}, log.Named("nats"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		return b, nil
	case config.BusRabbitMQ:
		b, err := rabbit.New(ctx, rabbit.Config{URL: cfg.RabbitMQURL, Exchange: cfg.RabbitMQExchange}, log.Named("rabbitmq"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		return b, nil
	case config.BusMemory, "":
		return busmemory.New(log.Named("bus")), nil
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.BusDriver)
	}
}

// Close releases every backend that was opened.
func (c *Container) Close() error {
	var errs []error
	if c.Events != nil {
		errs = append(errs, c.Events.Close())
	}
	if c.Cache != nil {
		errs = append(errs, c.Cache.Close())
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	return errors.Join(errs...)
}
