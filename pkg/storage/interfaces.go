package storage

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/platinummonkey/featurestore/pkg/features"
)

// Backend types
const (
	BackendDynamoDB   = "dynamodb"
	BackendFilesystem = "filesystem"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
// *dynamodb.Client satisfies it.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

var _ DynamoAPI = (*dynamodb.Client)(nil)

// Config for storage backend
type Config struct {
	Type string // "dynamodb" or "filesystem"

	// Filesystem config
	FilesystemRoot string

	// DynamoDB config
	Region          string
	Endpoint        string // DynamoDB Local or other override
	AccessKeyID     string
	SecretAccessKey string
	TableNames      map[features.EntityType]string
	Timeout         time.Duration
	MaxRetries      int
	ConsistentRead  bool

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Cache config
	CacheEnabled bool
	CacheTTL     time.Duration
	L1CacheSize  int
	L1CacheTTL   time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:           BackendDynamoDB,
		FilesystemRoot: "/tmp/featurestore",
		Region:         "us-west-2",
		TableNames: map[features.EntityType]string{
			features.EntityBrightUID: "featuers_poc",
			features.EntityAccountID: "features_account_id",
		},
		Timeout:         5 * time.Second,
		MaxRetries:      3,
		ConsistentRead:  true,
		RedisMaxRetries: 3,
		RedisPoolSize:   10,
		CacheEnabled:    false,
		CacheTTL:        5 * time.Minute,
		L1CacheSize:     10000,
		L1CacheTTL:      30 * time.Second,
	}
}
