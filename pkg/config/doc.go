// Package config provides application configuration management from environment variables.
//
// # Overview
//
// Every setting is read from a FEATURESTORE_ prefixed environment variable
// with a default, then validated as a whole.
//
// # Configuration Structure
//
// Server settings:
//
//	FEATURESTORE_HOST="0.0.0.0"
//	FEATURESTORE_PORT="8080"
//	FEATURESTORE_HEALTH_PORT="9090"
//	FEATURESTORE_READ_TIMEOUT="15s"
//	FEATURESTORE_MAX_BODY_BYTES="1048576"
//
// Storage settings:
//
//	FEATURESTORE_STORAGE_TYPE="dynamodb"  # dynamodb, filesystem
//	FEATURESTORE_AWS_REGION="us-west-2"
//	FEATURESTORE_DYNAMODB_ENDPOINT="http://localhost:8000"
//	FEATURESTORE_TABLE_NAME_BRIGHT_UID="featuers_poc"
//	FEATURESTORE_TABLE_NAME_ACCOUNT_ID="features_account_id"
//
// Cache settings:
//
//	FEATURESTORE_CACHE_ENABLED="true"
//	FEATURESTORE_REDIS_URL="redis://localhost:6379"
//	FEATURESTORE_L1_CACHE_SIZE="10000"
//
// Category policy:
//
//	FEATURESTORE_WRITE_CATEGORIES="user_features,account_features"
//	FEATURESTORE_READ_CATEGORIES="user_features,account_features"
//	FEATURESTORE_CATEGORY_POLICY_FILE="/etc/featurestore/policy.yaml"
//	FEATURESTORE_CATEGORY_POLICY_WATCH="true"
//
// Events:
//
//	FEATURESTORE_EVENTS_ENABLED="true"
//	FEATURESTORE_KAFKA_BROKERS="kafka-1:9092,kafka-2:9092"
//	FEATURESTORE_KAFKA_TOPIC="feature-availability"
//
// Observability settings:
//
//	FEATURESTORE_LOG_LEVEL="info"  # debug, info, warn, error
//	FEATURESTORE_METRICS_ENABLED="true"
//	FEATURESTORE_HEALTH_PROBE_SCHEDULE="@every 30s"
//	FEATURESTORE_OTEL_ENABLED="true"
//	FEATURESTORE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Storage: %s\n", cfg.Storage.Type)
package config
