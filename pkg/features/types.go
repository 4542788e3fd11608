package features

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/featurestore/pkg/apperrors"
)

// EntityType selects the table a record lives in. It routes only and is
// never stored as a data attribute.
type EntityType string

const (
	// EntityBrightUID is the primary identity space
	EntityBrightUID EntityType = "bright_uid"
	// EntityAccountID is the account identity space
	EntityAccountID EntityType = "account_id"
)

// EntityTypes lists every supported entity type
var EntityTypes = []EntityType{EntityBrightUID, EntityAccountID}

// Valid reports whether t is a supported entity type
func (t EntityType) Valid() bool {
	switch t {
	case EntityBrightUID, EntityAccountID:
		return true
	}
	return false
}

// ParseEntityType validates a raw entity type
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	if !t.Valid() {
		return "", apperrors.Validationf("invalid entity_type '%s': must be one of bright_uid, account_id", s)
	}
	return t, nil
}

// Metadata describes a stored record as a whole. It is never filtered by
// projection.
type Metadata struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ComputeID *string   `json:"compute_id"`
}

// Record is one persisted category of features for an entity
type Record struct {
	EntityType  EntityType             `json:"entity_type"`
	EntityValue string                 `json:"entity_value"`
	Category    string                 `json:"category"`
	Data        map[string]interface{} `json:"data"`
	Metadata    Metadata               `json:"metadata"`
}

// FeatureNames returns the data keys in unspecified order
func (r *Record) FeatureNames() []string {
	names := make([]string, 0, len(r.Data))
	for k := range r.Data {
		names = append(names, k)
	}
	return names
}

// WriteInput is a validated-at-the-edge write request
type WriteInput struct {
	EntityType  EntityType
	EntityValue string
	Category    string
	Data        map[string]interface{}
	ComputeID   *string
}

// Selector chooses which features of a category to return
type Selector struct {
	all  bool
	keys map[string]struct{}
}

// AllFeatures is the wildcard selector
func AllFeatures() Selector {
	return Selector{all: true}
}

// FeatureKeys selects an explicit set of feature names
func FeatureKeys(keys ...string) Selector {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return Selector{keys: set}
}

// IsWildcard reports whether s selects every feature
func (s Selector) IsWildcard() bool {
	return s.all
}

// Keys returns the explicit keys, nil for the wildcard
func (s Selector) Keys() []string {
	if s.all {
		return nil
	}
	keys := make([]string, 0, len(s.keys))
	for k := range s.keys {
		keys = append(keys, k)
	}
	return keys
}

// CategorySelection pairs a category with the features requested from it
type CategorySelection struct {
	Category string
	Selector Selector
}

// Item is one category's projected result in a batch read
type Item struct {
	Data     map[string]interface{} `json:"data"`
	Metadata Metadata               `json:"metadata"`
}

// BatchResult is the outcome of a multi-category read. Both fields are
// always non-nil.
type BatchResult struct {
	EntityType  EntityType
	EntityValue string
	Items       map[string]Item
	Unavailable []string
}

// FeatureAvailableEvent announces that a category was written
type FeatureAvailableEvent struct {
	EntityType  EntityType
	EntityValue string
	Category    string
	Features    []string
	ComputeID   *string
	Timestamp   time.Time
}

// ErrRecordNotFound is returned by a Store when no record exists for a key
var ErrRecordNotFound = errors.New("feature record not found")

// Store persists records. Get returns ErrRecordNotFound for absent keys;
// Put fully replaces any existing record.
type Store interface {
	Get(ctx context.Context, entityType EntityType, entityValue, category string) (*Record, error)
	Put(ctx context.Context, record *Record) error
}

// Publisher delivers feature availability events
type Publisher interface {
	Publish(ctx context.Context, event FeatureAvailableEvent) error
}
