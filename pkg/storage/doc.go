// Package storage provides the persistence backends for feature records.
//
// # Overview
//
// Every backend implements features.Store: Get loads the record for
// (entity_type, entity_value, category) and Put replaces it wholesale.
// A missing record is reported as features.ErrRecordNotFound; transport
// and service failures are returned as apperrors ServiceUnavailable errors.
//
// # DynamoDB
//
// Manager owns the pooled DynamoDB client and one Table per entity type.
// Neither exists until the first request that needs it, and a failure to
// build either is reported to that request rather than at startup:
//
//	mgr := storage.NewManager(cfg, nil, metrics, logger)
//	store := storage.NewDynamoStore(mgr)
//	rec, err := store.Get(ctx, features.EntityBrightUID, "u-123", "user_features")
//
// Each entity type has its own table. The partition key attribute is named
// after the entity type and the sort key is "category". The feature data
// and metadata live in a single "features" map attribute:
//
//	{
//	  "bright_uid": "u-123",
//	  "category":   "user_features",
//	  "features": {
//	    "data":     {"score": 0.92, "segment": "b"},
//	    "metadata": {"created_at": "...", "updated_at": "...", "compute_id": "job-7"}
//	  }
//	}
//
// Reads are strongly consistent unless Config.ConsistentRead is false.
//
// # Filesystem
//
// FileSystemStore keeps one JSON file per record under a root directory.
// It is meant for local development and tests.
//
//	store, err := storage.NewFileSystemStore("/var/lib/featurestore")
//
// # Caching
//
// CachedStore wraps any features.Store with an in-process expirable LRU and
// an optional Redis layer. Reads fill both layers on a miss; writes update
// them after the backing store succeeds.
//
//	client, err := storage.NewRedisClient(ctx, cfg)
//	cached := storage.NewCachedStore(store, client, cfg, metrics, logger)
//
// Open builds the backend selected by Config.Type, with caching applied
// when Config.CacheEnabled is set.
package storage
