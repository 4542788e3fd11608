package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/featurestore/pkg/apperrors"
	"github.com/platinummonkey/featurestore/pkg/features"
	"github.com/platinummonkey/featurestore/pkg/observability"
)

// Item attribute names. The partition key attribute is named after the
// entity type ("bright_uid" or "account_id").
const (
	attrCategory = "category"
	attrFeatures = "features"
)

// featuresAttr is the document stored under the "features" attribute
type featuresAttr struct {
	Data     map[string]interface{} `dynamodbav:"data"`
	Metadata metadataAttr           `dynamodbav:"metadata"`
}

type metadataAttr struct {
	CreatedAt storedTime `dynamodbav:"created_at"`
	UpdatedAt storedTime `dynamodbav:"updated_at"`
	ComputeID *string    `dynamodbav:"compute_id"`
}

// legacyNoComputeID is the compute_id older writers stored when none was given
const legacyNoComputeID = "None"

// Older items carry naive ISO 8601 timestamps; those are read as UTC.
var naiveTimeLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// storedTime is a timestamp attribute. It is written as RFC 3339 and read
// from RFC 3339 or a naive ISO 8601 string.
type storedTime time.Time

func parseStoredTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range naiveTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// MarshalDynamoDBAttributeValue implements attributevalue.Marshaler
func (t storedTime) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberS{Value: time.Time(t).UTC().Format(time.RFC3339Nano)}, nil
}

// UnmarshalDynamoDBAttributeValue implements attributevalue.Unmarshaler
func (t *storedTime) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		parsed, err := parseStoredTime(v.Value)
		if err != nil {
			return err
		}
		*t = storedTime(parsed)
	case *types.AttributeValueMemberNULL:
		*t = storedTime(time.Time{})
	default:
		return fmt.Errorf("timestamp attribute must be a string, got %T", av)
	}
	return nil
}

func decodeComputeID(id *string) *string {
	if id == nil || *id == legacyNoComputeID {
		return nil
	}
	return id
}

// Table is the handle for one entity type's DynamoDB table
type Table struct {
	api            DynamoAPI
	name           string
	entityType     features.EntityType
	consistentRead bool
	metrics        *observability.Metrics
}

func newTable(api DynamoAPI, name string, entityType features.EntityType, consistentRead bool, metrics *observability.Metrics) *Table {
	return &Table{
		api:            api,
		name:           name,
		entityType:     entityType,
		consistentRead: consistentRead,
		metrics:        metrics,
	}
}

// Name returns the DynamoDB table name
func (t *Table) Name() string {
	return t.name
}

func (t *Table) key(entityValue, category string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		string(t.entityType): &types.AttributeValueMemberS{Value: entityValue},
		attrCategory:         &types.AttributeValueMemberS{Value: category},
	}
}

// Get loads one record. Returns features.ErrRecordNotFound when no item exists.
func (t *Table) Get(ctx context.Context, entityValue, category string) (*features.Record, error) {
	ctx, span := observability.Tracer().Start(ctx, "DynamoDB.GetItem",
		trace.WithAttributes(
			attribute.String("db.system", "dynamodb"),
			attribute.String("db.operation", "GetItem"),
			attribute.String("dynamodb.table", t.name),
			attribute.String("feature.category", category),
		),
	)
	defer span.End()

	start := time.Now()
	out, err := t.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(t.name),
		Key:            t.key(entityValue, category),
		ConsistentRead: aws.Bool(t.consistentRead),
	})
	if err != nil {
		t.metrics.ObserveStore(observability.OpStoreGetItem, string(t.entityType), "error", start)
		span.RecordError(err)
		span.SetStatus(codes.Error, "get_item failed")
		return nil, apperrors.ServiceUnavailable(err, "dynamodb get_item failed")
	}
	t.metrics.ObserveStore(observability.OpStoreGetItem, string(t.entityType), "success", start)

	if len(out.Item) == 0 {
		span.SetAttributes(attribute.Bool("dynamodb.item_found", false))
		return nil, features.ErrRecordNotFound
	}
	span.SetAttributes(attribute.Bool("dynamodb.item_found", true))

	raw, ok := out.Item[attrFeatures]
	if !ok {
		err := fmt.Errorf("item %s/%s in %s has no %s attribute", entityValue, category, t.name, attrFeatures)
		span.RecordError(err)
		span.SetStatus(codes.Error, "corrupt item")
		return nil, apperrors.Internal(err, "corrupt feature record")
	}

	var doc featuresAttr
	if err := attributevalue.Unmarshal(raw, &doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, apperrors.Internal(fmt.Errorf("failed to decode features: %w", err), "corrupt feature record")
	}

	data := doc.Data
	if data == nil {
		data = map[string]interface{}{}
	}

	span.SetStatus(codes.Ok, "item loaded")
	return &features.Record{
		EntityType:  t.entityType,
		EntityValue: entityValue,
		Category:    category,
		Data:        data,
		Metadata: features.Metadata{
			CreatedAt: time.Time(doc.Metadata.CreatedAt),
			UpdatedAt: time.Time(doc.Metadata.UpdatedAt),
			ComputeID: decodeComputeID(doc.Metadata.ComputeID),
		},
	}, nil
}

// Put replaces the item for the record's key unconditionally
func (t *Table) Put(ctx context.Context, record *features.Record) error {
	ctx, span := observability.Tracer().Start(ctx, "DynamoDB.PutItem",
		trace.WithAttributes(
			attribute.String("db.system", "dynamodb"),
			attribute.String("db.operation", "PutItem"),
			attribute.String("dynamodb.table", t.name),
			attribute.String("feature.category", record.Category),
			attribute.Int("feature.count", len(record.Data)),
		),
	)
	defer span.End()

	featuresAV, err := attributevalue.Marshal(featuresAttr{
		Data: record.Data,
		Metadata: metadataAttr{
			CreatedAt: storedTime(record.Metadata.CreatedAt),
			UpdatedAt: storedTime(record.Metadata.UpdatedAt),
			ComputeID: record.Metadata.ComputeID,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return apperrors.Validationf("feature data cannot be stored: %v", err)
	}

	item := t.key(record.EntityValue, record.Category)
	item[attrFeatures] = featuresAV

	start := time.Now()
	_, err = t.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.name),
		Item:      item,
	})
	if err != nil {
		t.metrics.ObserveStore(observability.OpStorePutItem, string(t.entityType), "error", start)
		span.RecordError(err)
		span.SetStatus(codes.Error, "put_item failed")
		return apperrors.ServiceUnavailable(err, "dynamodb put_item failed")
	}
	t.metrics.ObserveStore(observability.OpStorePutItem, string(t.entityType), "success", start)

	span.SetStatus(codes.Ok, "item stored")
	return nil
}

// DynamoStore implements features.Store on DynamoDB, routing each call to
// the table for its entity type.
type DynamoStore struct {
	manager *Manager
}

// NewDynamoStore creates a store backed by the manager's tables
func NewDynamoStore(manager *Manager) *DynamoStore {
	return &DynamoStore{manager: manager}
}

// Get implements features.Store
func (s *DynamoStore) Get(ctx context.Context, entityType features.EntityType, entityValue, category string) (*features.Record, error) {
	table, err := s.manager.Table(ctx, entityType)
	if err != nil {
		return nil, err
	}
	return table.Get(ctx, entityValue, category)
}

// Put implements features.Store
func (s *DynamoStore) Put(ctx context.Context, record *features.Record) error {
	if record == nil {
		return errors.New("nil record")
	}
	table, err := s.manager.Table(ctx, record.EntityType)
	if err != nil {
		return err
	}
	return table.Put(ctx, record)
}

// Ping checks DynamoDB connectivity
func (s *DynamoStore) Ping(ctx context.Context) error {
	return s.manager.Ping(ctx)
}

var _ features.Store = (*DynamoStore)(nil)
