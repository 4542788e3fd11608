package events

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/platinummonkey/featurestore/pkg/features"
	"github.com/platinummonkey/featurestore/pkg/observability"
)

const (
	// EventTypeFeatureAvailable is the event_type of every published event
	EventTypeFeatureAvailable = "feature_available"
	// ResourceTypeFeature is the resource_type of every published event
	ResourceTypeFeature = "feature"
	// PartitionKeyMetadata is the message metadata key used as the Kafka key
	PartitionKeyMetadata = "partition_key"
)

// ErrPublisherClosed is returned by Publish after Close
var ErrPublisherClosed = errors.New("event publisher is closed")

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// Config holds event publishing configuration
type Config struct {
	Enabled    bool
	Brokers    []string
	Topic      string
	ClientID   string
	MaxRetries int
}

// DefaultConfig returns the default event configuration
func DefaultConfig() Config {
	return Config{
		Enabled:    false,
		Topic:      "feature-availability",
		ClientID:   "feature-store-api",
		MaxRetries: 3,
	}
}

// Payload is the JSON body of a feature_available message
type Payload struct {
	EventID      string   `json:"event_id"`
	EventType    string   `json:"event_type"`
	Timestamp    string   `json:"timestamp"`
	EntityType   string   `json:"entity_type"`
	EntityID     string   `json:"entity_id"`
	ResourceType string   `json:"resource_type"`
	ResourceName string   `json:"resource_name"`
	ComputeID    string   `json:"compute_id"`
	Features     []string `json:"features"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newEventID(ts time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(ts), entropy).String()
}

// NewPayload builds the message body for event. A missing compute id is
// replaced by a random one.
func NewPayload(event features.FeatureAvailableEvent) Payload {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	computeID := uuid.NewString()
	if event.ComputeID != nil && *event.ComputeID != "" {
		computeID = *event.ComputeID
	}

	names := event.Features
	if names == nil {
		names = []string{}
	}

	return Payload{
		EventID:      newEventID(ts),
		EventType:    EventTypeFeatureAvailable,
		Timestamp:    ts.UTC().Format(time.RFC3339Nano),
		EntityType:   string(event.EntityType),
		EntityID:     event.EntityValue,
		ResourceType: ResourceTypeFeature,
		ResourceName: event.Category,
		ComputeID:    computeID,
		Features:     names,
	}
}

// Publisher sends feature_available events to a topic. The underlying
// watermill publisher is created on first Publish; a failed connect is
// returned and tried again on the next call.
type Publisher struct {
	cfg    Config
	logger *observability.Logger

	mu     sync.Mutex
	pub    message.Publisher
	closed bool
}

// NewPublisher returns a Publisher for cfg, or a no-op publisher when
// events are disabled.
func NewPublisher(cfg Config, logger *observability.Logger) features.Publisher {
	if !cfg.Enabled {
		return NopPublisher{}
	}
	return NewKafkaPublisher(cfg, logger)
}

// NewKafkaPublisher creates a Kafka publisher. Nothing is dialled until the
// first Publish.
func NewKafkaPublisher(cfg Config, logger *observability.Logger) *Publisher {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Publisher{cfg: cfg, logger: logger}
}

func (p *Publisher) connect() (message.Publisher, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPublisherClosed
	}
	if p.pub != nil {
		return p.pub, nil
	}
	if len(p.cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}

	saramaCfg := kafka.DefaultSaramaSyncPublisherConfig()
	if p.cfg.ClientID != "" {
		saramaCfg.ClientID = p.cfg.ClientID
	}
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = p.cfg.MaxRetries
	saramaCfg.Producer.Retry.Backoff = 100 * time.Millisecond
	saramaCfg.Producer.Compression = sarama.CompressionSnappy

	pub, err := PublisherFactory(kafka.PublisherConfig{
		Brokers: p.cfg.Brokers,
		Marshaler: kafka.NewWithPartitioningMarshaler(func(topic string, msg *message.Message) (string, error) {
			return msg.Metadata.Get(PartitionKeyMetadata), nil
		}),
		OverwriteSaramaConfig: saramaCfg,
	}, NewWatermillLogger(p.logger))
	if err != nil {
		p.logger.WithError(err).Error("Failed to initialize Kafka publisher")
		return nil, fmt.Errorf("failed to initialize kafka publisher: %w", err)
	}

	p.pub = pub
	p.logger.WithFields(map[string]interface{}{
		"topic":   p.cfg.Topic,
		"brokers": p.cfg.Brokers,
	}).Info("Kafka publisher initialized")
	return pub, nil
}

// Publish implements features.Publisher
func (p *Publisher) Publish(ctx context.Context, event features.FeatureAvailableEvent) error {
	pub, err := p.connect()
	if err != nil {
		return err
	}

	payload := NewPayload(event)
	body, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	msg := message.NewMessage(payload.EventID, body)
	msg.Metadata.Set(PartitionKeyMetadata, payload.EntityID)
	msg.Metadata.Set("event_type", payload.EventType)
	msg.SetContext(ctx)

	if err := pub.Publish(p.cfg.Topic, msg); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", p.cfg.Topic, err)
	}

	p.logger.WithFields(map[string]interface{}{
		"event_id":    payload.EventID,
		"entity_type": payload.EntityType,
		"category":    payload.ResourceName,
	}).Debug("Published feature_available event")
	return nil
}

// Close flushes and closes the underlying publisher
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.pub == nil {
		return nil
	}
	err := p.pub.Close()
	p.pub = nil
	return err
}

// NopPublisher drops every event
type NopPublisher struct{}

// Publish implements features.Publisher
func (NopPublisher) Publish(context.Context, features.FeatureAvailableEvent) error { return nil }

var (
	_ features.Publisher = (*Publisher)(nil)
	_ features.Publisher = NopPublisher{}
)
