package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/featurestore/pkg/features"
	"github.com/platinummonkey/featurestore/pkg/observability"
)

// Cache layer labels for featurestore_cache_requests_total
const (
	CacheLayerL1 = "l1"
	CacheLayerL2 = "redis"
)

var codec = sonic.ConfigStd

// NewRedisClient creates a Redis client from storage config and checks the
// connection.
func NewRedisClient(ctx context.Context, config Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB > 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

type cachedRecord struct {
	Data     map[string]interface{} `json:"data"`
	Metadata features.Metadata      `json:"metadata"`
}

// CachedStore is a read-through, write-through cache in front of another
// features.Store: an in-process expirable LRU, then Redis. Misses are not
// cached. Cache failures are logged and the call falls through to the
// backing store.
type CachedStore struct {
	backend features.Store
	redis   *redis.Client
	l1      *lru.LRU[string, cachedRecord]
	ttl     time.Duration
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewCachedStore wraps backend. redisClient may be nil for an L1-only cache.
func NewCachedStore(backend features.Store, redisClient *redis.Client, config Config, metrics *observability.Metrics, logger *observability.Logger) *CachedStore {
	size := config.L1CacheSize
	if size <= 0 {
		size = 10000
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &CachedStore{
		backend: backend,
		redis:   redisClient,
		l1:      lru.NewLRU[string, cachedRecord](size, nil, config.L1CacheTTL),
		ttl:     config.CacheTTL,
		metrics: metrics,
		logger:  logger,
	}
}

func cacheKey(entityType features.EntityType, entityValue, category string) string {
	return fmt.Sprintf("featurestore:%s:%s:%s",
		url.PathEscape(string(entityType)),
		url.PathEscape(category),
		url.PathEscape(entityValue),
	)
}

func (c cachedRecord) toRecord(entityType features.EntityType, entityValue, category string) *features.Record {
	data := make(map[string]interface{}, len(c.Data))
	for k, v := range c.Data {
		data[k] = v
	}
	return &features.Record{
		EntityType:  entityType,
		EntityValue: entityValue,
		Category:    category,
		Data:        data,
		Metadata:    c.Metadata,
	}
}

func toCached(record *features.Record) cachedRecord {
	data := make(map[string]interface{}, len(record.Data))
	for k, v := range record.Data {
		data[k] = v
	}
	return cachedRecord{Data: data, Metadata: record.Metadata}
}

// Get implements features.Store
func (s *CachedStore) Get(ctx context.Context, entityType features.EntityType, entityValue, category string) (*features.Record, error) {
	key := cacheKey(entityType, entityValue, category)

	if cached, ok := s.l1.Get(key); ok {
		s.metrics.CacheResult(CacheLayerL1, true)
		return cached.toRecord(entityType, entityValue, category), nil
	}
	s.metrics.CacheResult(CacheLayerL1, false)

	if cached, ok := s.getRedis(ctx, key); ok {
		s.l1.Add(key, cached)
		return cached.toRecord(entityType, entityValue, category), nil
	}

	record, err := s.backend.Get(ctx, entityType, entityValue, category)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, features.ErrRecordNotFound
	}

	s.fill(ctx, key, toCached(record))
	return record, nil
}

// Put implements features.Store. The cache is updated only after the
// backing store accepted the write.
func (s *CachedStore) Put(ctx context.Context, record *features.Record) error {
	if record == nil {
		return errors.New("nil record")
	}
	if err := s.backend.Put(ctx, record); err != nil {
		return err
	}

	s.fill(ctx, cacheKey(record.EntityType, record.EntityValue, record.Category), toCached(record))
	return nil
}

// Invalidate drops one key from both layers
func (s *CachedStore) Invalidate(ctx context.Context, entityType features.EntityType, entityValue, category string) error {
	key := cacheKey(entityType, entityValue, category)
	s.l1.Remove(key)
	if s.redis == nil {
		return nil
	}
	return s.redis.Del(ctx, key).Err()
}

func (s *CachedStore) getRedis(ctx context.Context, key string) (cachedRecord, bool) {
	if s.redis == nil {
		return cachedRecord{}, false
	}

	raw, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		s.metrics.CacheResult(CacheLayerL2, false)
		return cachedRecord{}, false
	}
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Redis cache read failed")
		s.metrics.CacheResult(CacheLayerL2, false)
		return cachedRecord{}, false
	}

	var cached cachedRecord
	if err := codec.Unmarshal(raw, &cached); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Dropping corrupt cache entry")
		s.redis.Del(ctx, key)
		s.metrics.CacheResult(CacheLayerL2, false)
		return cachedRecord{}, false
	}

	s.metrics.CacheResult(CacheLayerL2, true)
	return cached, true
}

func (s *CachedStore) fill(ctx context.Context, key string, cached cachedRecord) {
	s.l1.Add(key, cached)
	if s.redis == nil {
		return
	}

	raw, err := codec.Marshal(cached)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Failed to encode cache entry")
		return
	}
	if err := s.redis.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Redis cache write failed")
	}
}

// Close closes the Redis client, if any
func (s *CachedStore) Close() error {
	s.l1.Purge()
	if s.redis == nil {
		return nil
	}
	return s.redis.Close()
}

var _ features.Store = (*CachedStore)(nil)
