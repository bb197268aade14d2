package main

import (
	"context"
	"fmt"

	"github.com/okian/zikir/internal/adapters/membership"
	"github.com/okian/zikir/internal/adapters/mq/relay"
	"github.com/okian/zikir/internal/adapters/repository"
	app "github.com/okian/zikir/internal/app"
	"github.com/okian/zikir/internal/config"
	"github.com/okian/zikir/pkg/logger"
)

// backends are the storage collaborators selected by store_backend.
type backends struct {
	store   repository.Store
	members membership.Registry
}

func (b backends) close() {
	if b.members != nil {
		_ = b.members.Close()
	}
	if b.store != nil {
		_ = b.store.Close()
	}
}

// openBackends connects the counter store and the membership registry.
// Both share one pool or client.
func openBackends(ctx context.Context, cfg *config.Config, log logger.Logger) (backends, error) {
	loc, err := cfg.Location()
	if err != nil {
		return backends{}, err
	}
	storeOpts := []repository.Option{repository.WithLocation(loc)}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := repository.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return backends{}, err
		}
		if cfg.MigrateOnStart {
			if err := repository.Migrate(ctx, pool); err != nil {
				pool.Close()
				return backends{}, err
			}
			log.Info(ctx, "database schema applied")
		}
		return backends{
			store:   repository.NewPostgresStore(pool, storeOpts...),
			members: membership.NewPostgresRegistry(pool),
		}, nil

	case config.BackendRedis:
		client, err := repository.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return backends{}, err
		}
		return backends{
			store:   repository.NewRedisStore(client, storeOpts...),
			members: membership.NewRedisRegistry(client),
		}, nil

	case config.BackendMemory, "":
		storeOpts = append(storeOpts, repository.WithDedupeSize(cfg.DedupeSize))
		return backends{
			store:   repository.NewMemoryStore(storeOpts...),
			members: membership.NewMemoryRegistry(),
		}, nil

	default:
		return backends{}, fmt.Errorf("%w: unknown store_backend %q", config.ErrInvalidConfig, cfg.StoreBackend)
	}
}

// openRelay connects to NATS when nats_url is set. A nil relay keeps room
// events on this instance.
func openRelay(cfg *config.Config, log logger.Logger) (*relay.Relay, error) {
	if cfg.NATSURL == "" {
		return nil, nil
	}
	nc, err := relay.Connect(cfg.NATSURL)
	if err != nil {
		return nil, err
	}
	return relay.New(nc,
		relay.WithSubject(cfg.NATSSubject),
		relay.WithOwnedConn(),
		relay.WithLogger(log.Named("relay")),
	), nil
}

// newService wires the backends, the relay and the broadcaster into the room
// service and starts it.
func newService(ctx context.Context, cfg *config.Config, b app.Broadcaster, log logger.Logger) (*app.Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	be, err := openBackends(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	opts := []app.Option{
		app.WithStore(be.store),
		app.WithMembership(be.members),
		app.WithBroadcaster(b),
		app.WithWorkerCount(cfg.DispatchWorkers),
		app.WithQueueSize(cfg.DispatchQueueSize),
		app.WithMaxBulkCount(cfg.MaxBulkCount),
		app.WithLocation(loc),
		app.WithLogger(log.Named("service")),
	}

	r, err := openRelay(cfg, log)
	if err != nil {
		be.close()
		return nil, err
	}
	if r != nil {
		opts = append(opts, app.WithRelay(r))
	}

	svc := app.New(opts...)
	if err := svc.Start(ctx); err != nil {
		if r != nil {
			_ = r.Close()
		}
		be.close()
		return nil, fmt.Errorf("start service: %w", err)
	}
	return svc, nil
}
