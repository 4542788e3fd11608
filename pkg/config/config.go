package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/featurestore/pkg/events"
	"github.com/platinummonkey/featurestore/pkg/features"
	"github.com/platinummonkey/featurestore/pkg/observability"
	"github.com/platinummonkey/featurestore/pkg/policy"
	"github.com/platinummonkey/featurestore/pkg/storage"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "FEATURESTORE_"

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Event publishing configuration
	Events events.Config

	// Category access policy
	Policy PolicyConfig

	// Feature service tuning
	Features FeaturesConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	MaxBodyBytes       int64
	CORSAllowedOrigins []string
}

// PolicyConfig selects where the category whitelists come from. When File
// is set it takes precedence over the inline lists.
type PolicyConfig struct {
	File            string
	Watch           bool
	WriteCategories []string
	ReadCategories  []string
}

// FeaturesConfig tunes the feature service
type FeaturesConfig struct {
	BatchReadConcurrency int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// Dependency probes, cron spec; empty disables
	HealthProbeSchedule string

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Events:        loadEventsConfig(),
		Policy:        loadPolicyConfig(),
		Features:      loadFeaturesConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:               getEnv("HOST", "0.0.0.0"),
		Port:               getEnv("PORT", "8080"),
		ReadTimeout:        getEnvDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:       getEnvDuration("WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:        getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:         getEnv("HEALTH_PORT", "9090"),
		MaxBodyBytes:       getEnvInt64("MAX_BODY_BYTES", 1<<20),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if storageType := getEnv("STORAGE_TYPE", ""); storageType != "" {
		cfg.Type = storageType
	}
	if fsRoot := getEnv("FILESYSTEM_ROOT", ""); fsRoot != "" {
		cfg.FilesystemRoot = fsRoot
	}

	// DynamoDB config
	cfg.Region = getEnv("AWS_REGION", cfg.Region)
	cfg.Endpoint = getEnv("DYNAMODB_ENDPOINT", "")
	cfg.AccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.SecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	if name := getEnv("TABLE_NAME_BRIGHT_UID", ""); name != "" {
		cfg.TableNames[features.EntityBrightUID] = name
	}
	if name := getEnv("TABLE_NAME_ACCOUNT_ID", ""); name != "" {
		cfg.TableNames[features.EntityAccountID] = name
	}
	if timeout := getEnvDuration("DYNAMODB_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}
	if retries := getEnvInt("DYNAMODB_MAX_RETRIES", 0); retries > 0 {
		cfg.MaxRetries = retries
	}
	cfg.ConsistentRead = getEnvBool("DYNAMODB_CONSISTENT_READ", cfg.ConsistentRead)

	// Redis config
	if redisURL := getEnv("REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Cache config
	cfg.CacheEnabled = getEnvBool("CACHE_ENABLED", cfg.CacheEnabled)
	if ttl := getEnvDuration("CACHE_TTL", 0); ttl > 0 {
		cfg.CacheTTL = ttl
	}
	if l1CacheSize := getEnvInt("L1_CACHE_SIZE", 0); l1CacheSize > 0 {
		cfg.L1CacheSize = l1CacheSize
	}
	if l1TTL := getEnvDuration("L1_CACHE_TTL", 0); l1TTL > 0 {
		cfg.L1CacheTTL = l1TTL
	}

	return cfg
}

// loadEventsConfig loads event publishing configuration from environment
func loadEventsConfig() events.Config {
	cfg := events.DefaultConfig()
	cfg.Enabled = getEnvBool("EVENTS_ENABLED", cfg.Enabled)
	cfg.Brokers = getEnvList("KAFKA_BROKERS")
	cfg.Topic = getEnv("KAFKA_TOPIC", cfg.Topic)
	cfg.ClientID = getEnv("KAFKA_CLIENT_ID", cfg.ClientID)
	if retries := getEnvInt("KAFKA_MAX_RETRIES", -1); retries >= 0 {
		cfg.MaxRetries = retries
	}
	return cfg
}

// loadPolicyConfig loads the category policy source from environment
func loadPolicyConfig() PolicyConfig {
	return PolicyConfig{
		File:            getEnv("CATEGORY_POLICY_FILE", ""),
		Watch:           getEnvBool("CATEGORY_POLICY_WATCH", false),
		WriteCategories: policy.SplitList(getEnv("WRITE_CATEGORIES", "")),
		ReadCategories:  policy.SplitList(getEnv("READ_CATEGORIES", "")),
	}
}

// loadFeaturesConfig loads feature service tuning from environment
func loadFeaturesConfig() FeaturesConfig {
	return FeaturesConfig{
		BatchReadConcurrency: getEnvInt("BATCH_READ_CONCURRENCY", 8),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:            parseLogLevel(getEnv("LOG_LEVEL", "info")),
		MetricsEnabled:      getEnvBool("METRICS_ENABLED", true),
		HealthProbeSchedule: getEnvAllowEmpty("HEALTH_PROBE_SCHEDULE", "@every 30s"),
		OTelEnabled:         getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:        getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:     getEnv("OTEL_SERVICE_NAME", "feature-store-api"),
		OTelServiceVersion:  getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:        getEnvBool("OTEL_INSECURE", true),
		OTelSampleRatio:     getEnvFloat("OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate storage config based on type
	switch c.Storage.Type {
	case storage.BackendFilesystem:
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem storage")
		}
	case storage.BackendDynamoDB:
		if c.Storage.Region == "" {
			return fmt.Errorf("AWS region is required for dynamodb storage")
		}
		for _, et := range features.EntityTypes {
			if c.Storage.TableNames[et] == "" {
				return fmt.Errorf("table name is required for entity type %s", et)
			}
		}
		if (c.Storage.AccessKeyID == "") != (c.Storage.SecretAccessKey == "") {
			return fmt.Errorf("AWS access key id and secret access key must be set together")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be dynamodb or filesystem)", c.Storage.Type)
	}

	if c.Storage.CacheEnabled && c.Storage.L1CacheSize <= 0 {
		return fmt.Errorf("L1 cache size must be positive when caching is enabled")
	}

	// Validate events config
	if c.Events.Enabled {
		if len(c.Events.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required when events are enabled")
		}
		if c.Events.Topic == "" {
			return fmt.Errorf("kafka topic is required when events are enabled")
		}
	}

	// Validate policy config
	if c.Policy.File == "" {
		if len(c.Policy.WriteCategories) == 0 && len(c.Policy.ReadCategories) == 0 {
			return fmt.Errorf("a category policy file or write/read category lists are required")
		}
		if c.Policy.Watch {
			return fmt.Errorf("category policy watch requires a policy file")
		}
	}

	if c.Features.BatchReadConcurrency <= 0 {
		return fmt.Errorf("batch read concurrency must be positive")
	}

	if c.Observability.HealthProbeSchedule != "" {
		if _, err := cron.ParseStandard(c.Observability.HealthProbeSchedule); err != nil {
			return fmt.Errorf("invalid health probe schedule: %w", err)
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// OTel returns the OpenTelemetry settings
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAllowEmpty is getEnv, except that a variable set to the empty
// string returns the empty string
func getEnvAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(EnvPrefix + key); ok {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable as a trimmed
// list, dropping empty entries
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(EnvPrefix+key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
