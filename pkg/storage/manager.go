package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/platinummonkey/featurestore/pkg/apperrors"
	"github.com/platinummonkey/featurestore/pkg/features"
	"github.com/platinummonkey/featurestore/pkg/observability"
)

// ClientFactory builds the pooled DynamoDB client
type ClientFactory func(ctx context.Context, cfg Config) (DynamoAPI, error)

// NewDynamoClient is the default ClientFactory. Static credentials are used
// when both keys are set; otherwise the default AWS credential chain applies.
func NewDynamoClient(ctx context.Context, cfg Config) (DynamoAPI, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, awsconfig.WithRetryMaxAttempts(cfg.MaxRetries))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, awsconfig.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(cfg.Timeout)))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

type clientHandle struct {
	api DynamoAPI
}

type tableCache map[features.EntityType]*Table

// Manager owns the pooled DynamoDB client and one Table handle per entity
// type. Both are created on first use.
//
// Reads go through atomic snapshots and never lock. Construction runs
// under mu with a second check, so concurrent first callers build exactly
// one client and one handle per entity type. Table needs the client while
// already holding mu, so it calls clientLocked rather than Client.
//
// A failed construction is returned to the caller and not remembered; the
// next call tries again.
type Manager struct {
	cfg     Config
	factory ClientFactory
	metrics *observability.Metrics
	logger  *observability.Logger

	mu     sync.Mutex
	client atomic.Pointer[clientHandle]
	tables atomic.Pointer[tableCache]
}

// NewManager creates a manager. Nothing is dialled until first use.
func NewManager(cfg Config, factory ClientFactory, metrics *observability.Metrics, logger *observability.Logger) *Manager {
	if factory == nil {
		factory = NewDynamoClient
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	m := &Manager{
		cfg:     cfg,
		factory: factory,
		metrics: metrics,
		logger:  logger,
	}
	m.tables.Store(&tableCache{})
	return m
}

// Client returns the pooled client, creating it on first call
func (m *Manager) Client(ctx context.Context) (DynamoAPI, error) {
	if h := m.client.Load(); h != nil {
		return h.api, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientLocked(ctx)
}

// clientLocked must be called with m.mu held
func (m *Manager) clientLocked(ctx context.Context) (DynamoAPI, error) {
	if h := m.client.Load(); h != nil {
		return h.api, nil
	}

	api, err := m.factory(ctx, m.cfg)
	if err == nil && api == nil {
		err = errors.New("client factory returned no client")
	}
	if err != nil {
		m.logger.WithError(err).Error("Failed to initialize DynamoDB client")
		return nil, apperrors.ServiceUnavailable(err, "failed to initialize dynamodb client")
	}

	m.client.Store(&clientHandle{api: api})
	m.logger.WithField("region", m.cfg.Region).Info("DynamoDB client initialized")
	return api, nil
}

// Table returns the handle for entityType, creating it on first call
func (m *Manager) Table(ctx context.Context, entityType features.EntityType) (*Table, error) {
	if !entityType.Valid() {
		return nil, apperrors.Validationf("invalid entity_type '%s'", entityType)
	}

	if t := (*m.tables.Load())[entityType]; t != nil {
		return t, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := *m.tables.Load()
	if t := current[entityType]; t != nil {
		return t, nil
	}

	name := m.cfg.TableNames[entityType]
	if name == "" {
		return nil, apperrors.ServiceUnavailable(
			fmt.Errorf("no table configured for entity_type %s", entityType),
			"storage is not configured",
		)
	}

	api, err := m.clientLocked(ctx)
	if err != nil {
		return nil, err
	}

	t := newTable(api, name, entityType, m.cfg.ConsistentRead, m.metrics)

	next := make(tableCache, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[entityType] = t
	m.tables.Store(&next)

	m.logger.WithFields(map[string]interface{}{
		"entity_type": entityType,
		"table":       name,
	}).Debug("DynamoDB table handle created")
	return t, nil
}

// TableNames returns the configured table per entity type
func (m *Manager) TableNames() map[features.EntityType]string {
	out := make(map[features.EntityType]string, len(m.cfg.TableNames))
	for k, v := range m.cfg.TableNames {
		out[k] = v
	}
	return out
}

// Ping describes the primary table. It creates the client if needed.
func (m *Manager) Ping(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = observability.MustRecover(r)
		}
	}()

	api, err := m.Client(ctx)
	if err != nil {
		return err
	}

	name := m.cfg.TableNames[features.EntityBrightUID]
	if name == "" {
		return errors.New("no primary table configured")
	}
	_, err = api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
	return err
}

// HealthCheck reports whether the store is reachable. It never fails.
func (m *Manager) HealthCheck(ctx context.Context) bool {
	if err := m.Ping(ctx); err != nil {
		m.logger.WithError(err).Warn("DynamoDB health check failed")
		return false
	}
	return true
}

// Close drops the cached client and table handles. A later call to Client
// or Table builds fresh ones.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.client.Store(nil)
	m.tables.Store(&tableCache{})
	return nil
}
