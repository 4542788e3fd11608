package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/featurestore/pkg/features"
	"github.com/platinummonkey/featurestore/pkg/observability"
)

// Backend is an opened store together with its lifecycle hooks
type Backend struct {
	Store   features.Store
	Manager *Manager      // nil unless Type is dynamodb
	Redis   *redis.Client // nil unless caching with Redis

	ping    func(context.Context) error
	closers []func() error
	logger  *observability.Logger
}

// Ping checks the primary backend
func (b *Backend) Ping(ctx context.Context) error {
	return b.ping(ctx)
}

// HealthCheck reports whether the primary backend is reachable. DynamoDB
// backends answer through Manager.HealthCheck.
func (b *Backend) HealthCheck(ctx context.Context) bool {
	if b.Manager != nil {
		return b.Manager.HealthCheck(ctx)
	}
	if err := b.ping(ctx); err != nil {
		b.logger.WithError(err).Warn("Store health check failed")
		return false
	}
	return true
}

// Close releases the cache and client handles
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open builds the backend selected by config.Type. factory is only used
// for dynamodb and may be nil for the default client.
func Open(ctx context.Context, config Config, factory ClientFactory, metrics *observability.Metrics, logger *observability.Logger) (*Backend, error) {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	b := &Backend{logger: logger}

	switch config.Type {
	case BackendDynamoDB, "":
		mgr := NewManager(config, factory, metrics, logger)
		b.Manager = mgr
		b.Store = NewDynamoStore(mgr)
		b.ping = mgr.Ping
		b.closers = append(b.closers, mgr.Close)
	case BackendFilesystem:
		fs, err := NewFileSystemStore(config.FilesystemRoot)
		if err != nil {
			return nil, err
		}
		b.Store = fs
		b.ping = fs.Ping
	default:
		return nil, fmt.Errorf("unknown storage type: %s", config.Type)
	}

	if !config.CacheEnabled {
		return b, nil
	}

	if config.RedisURL != "" {
		client, err := NewRedisClient(ctx, config)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Redis = client
	}

	cached := NewCachedStore(b.Store, b.Redis, config, metrics, logger)
	b.Store = cached
	b.closers = append(b.closers, cached.Close)
	return b, nil
}
