package features

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/featurestore/pkg/apperrors"
	"github.com/platinummonkey/featurestore/pkg/observability"
	"github.com/platinummonkey/featurestore/pkg/policy"
)

const defaultBatchConcurrency = 8

// Service implements the feature write and read paths on top of a Store.
//
// Upsert is a read followed by an independent write. Two concurrent writers
// to the same key may race on created_at; the store is assumed to have a
// single authoritative writer per key.
type Service struct {
	store     Store
	policies  policy.Source
	publisher Publisher
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	batchConcurrency int
}

// Option configures a Service
type Option func(*Service)

// WithPublisher sets the event publisher
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBatchConcurrency bounds concurrent lookups in GetCategories
func WithBatchConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchConcurrency = n
		}
	}
}

// NewService creates a feature service
func NewService(store Store, policies policy.Source, opts ...Option) *Service {
	s := &Service{
		store:            store,
		policies:         policies,
		logger:           observability.NewLogger(observability.InfoLevel, nil),
		now:              time.Now,
		batchConcurrency: defaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateKey(entityType EntityType, entityValue, category string) error {
	if !entityType.Valid() {
		return apperrors.Validationf("invalid entity_type '%s': must be one of bright_uid, account_id", entityType)
	}
	if strings.TrimSpace(entityValue) == "" {
		return apperrors.Validation("entity_value cannot be empty")
	}
	if strings.TrimSpace(category) == "" {
		return apperrors.Validation("category cannot be empty")
	}
	return nil
}

// Upsert writes data for a key, preserving created_at of an existing record
// and refreshing updated_at. data replaces the stored features wholesale.
// A feature_available event is published afterwards; publish failures are
// logged and never fail the write.
func (s *Service) Upsert(ctx context.Context, in WriteInput) (rec *Record, err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation(observability.OpWriteItem, string(in.EntityType), statusLabel(err), start)
	}()

	if err := validateKey(in.EntityType, in.EntityValue, in.Category); err != nil {
		return nil, err
	}
	if err := s.policies.Current().ValidateForWrite(in.Category); err != nil {
		return nil, err
	}
	if len(in.Data) == 0 {
		return nil, apperrors.Validation("features cannot be empty: a write must add or replace at least one feature")
	}

	existing, err := s.store.Get(ctx, in.EntityType, in.EntityValue, in.Category)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return nil, apperrors.Classify(err)
	}

	now := s.now().UTC()
	meta := Metadata{
		CreatedAt: now,
		UpdatedAt: now,
		ComputeID: in.ComputeID,
	}
	if existing != nil {
		meta.CreatedAt = existing.Metadata.CreatedAt
		// A backwards clock step must not make updated_at go backwards.
		if now.Before(existing.Metadata.UpdatedAt) {
			meta.UpdatedAt = existing.Metadata.UpdatedAt
		}
	}

	data := make(map[string]interface{}, len(in.Data))
	for k, v := range in.Data {
		data[k] = v
	}

	rec = &Record{
		EntityType:  in.EntityType,
		EntityValue: in.EntityValue,
		Category:    in.Category,
		Data:        data,
		Metadata:    meta,
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return nil, apperrors.Classify(err)
	}

	if s.metrics != nil {
		s.metrics.FeatureCount.WithLabelValues(in.Category, string(in.EntityType)).Observe(float64(len(data)))
	}

	s.publish(ctx, rec)
	return rec, nil
}

func (s *Service) publish(ctx context.Context, rec *Record) {
	if s.publisher == nil {
		return
	}
	logger := s.requestLogger(ctx).WithFields(map[string]interface{}{
		"entity_type": rec.EntityType,
		"category":    rec.Category,
	})
	defer observability.RecoverPanic(logger, "feature event publish")

	event := FeatureAvailableEvent{
		EntityType:  rec.EntityType,
		EntityValue: rec.EntityValue,
		Category:    rec.Category,
		Features:    rec.FeatureNames(),
		ComputeID:   rec.Metadata.ComputeID,
		Timestamp:   rec.Metadata.UpdatedAt,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.WithError(err).Warn("Failed to publish feature_available event")
		s.metrics.EventPublished("failure")
		return
	}
	s.metrics.EventPublished("success")
}

// GetCategory reads one category. A disallowed category is rejected before
// the store is touched; an absent record is a NotFound error.
func (s *Service) GetCategory(ctx context.Context, entityType EntityType, entityValue, category string) (rec *Record, err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation(observability.OpReadSingleItem, string(entityType), statusLabel(err), start)
	}()

	if err := validateKey(entityType, entityValue, category); err != nil {
		return nil, err
	}
	if err := s.policies.Current().ValidateForRead(category); err != nil {
		return nil, err
	}

	rec, err = s.store.Get(ctx, entityType, entityValue, category)
	if errors.Is(err, ErrRecordNotFound) || (err == nil && rec == nil) {
		return nil, apperrors.NotFoundf("item not found for %s '%s' in category '%s'", entityType, entityValue, category)
	}
	if err != nil {
		return nil, apperrors.Classify(err)
	}
	return rec, nil
}

// GetCategories resolves each selection independently. Disallowed
// categories are reported unavailable without a lookup; allowed categories
// cost exactly one lookup each and are unavailable when absent or when the
// lookup fails. Only invalid entity input fails the call as a whole.
//
// Unavailable lists missing allowed categories first, then disallowed ones,
// each in request order.
func (s *Service) GetCategories(ctx context.Context, entityType EntityType, entityValue string, selections []CategorySelection) (res *BatchResult, err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation(observability.OpReadMultiCategory, string(entityType), statusLabel(err), start)
	}()

	if !entityType.Valid() {
		return nil, apperrors.Validationf("invalid entity_type '%s': must be one of bright_uid, account_id", entityType)
	}
	if strings.TrimSpace(entityValue) == "" {
		return nil, apperrors.Validation("entity_value cannot be empty")
	}

	categories := make([]string, len(selections))
	selectors := make(map[string]Selector, len(selections))
	for i, sel := range selections {
		categories[i] = sel.Category
		selectors[sel.Category] = sel.Selector
	}

	allowed, disallowed := s.policies.Current().PartitionForRead(categories)

	res = &BatchResult{
		EntityType:  entityType,
		EntityValue: entityValue,
		Items:       make(map[string]Item, len(allowed)),
		Unavailable: make([]string, 0, len(categories)),
	}
	if len(disallowed) > 0 && s.metrics != nil {
		s.metrics.UnavailableTotal.WithLabelValues("disallowed").Add(float64(len(disallowed)))
	}

	found := make([]*Record, len(allowed))
	failed := make([]bool, len(allowed))
	logger := s.requestLogger(ctx)

	var g errgroup.Group
	g.SetLimit(s.batchConcurrency)
	for i, category := range allowed {
		i, category := i, category
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					failed[i] = true
					logger.WithError(observability.MustRecover(r)).WithField("category", category).Error("Category lookup panicked")
				}
			}()

			rec, err := s.store.Get(ctx, entityType, entityValue, category)
			switch {
			case errors.Is(err, ErrRecordNotFound):
			case err != nil:
				failed[i] = true
				logger.WithError(err).WithField("category", category).Warn("Category lookup failed, reporting unavailable")
			default:
				found[i] = rec
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, category := range allowed {
		rec := found[i]
		if rec == nil {
			res.Unavailable = append(res.Unavailable, category)
			if s.metrics != nil {
				reason := "missing"
				if failed[i] {
					reason = "lookup_error"
				}
				s.metrics.UnavailableTotal.WithLabelValues(reason).Inc()
			}
			continue
		}
		projected := Project(rec, selectors[category])
		res.Items[category] = Item{Data: projected.Data, Metadata: projected.Metadata}
	}
	res.Unavailable = append(res.Unavailable, disallowed...)

	return res, nil
}

func (s *Service) requestLogger(ctx context.Context) *observability.Logger {
	logger := s.logger
	if id := observability.GetRequestID(ctx); id != "" {
		logger = logger.WithField("request_id", id)
	}
	return observability.UpdateLoggerWithTraceContext(ctx, logger)
}

func statusLabel(err error) string {
	if err == nil {
		return "success"
	}
	if e, ok := apperrors.As(err); ok {
		return strings.ToLower(e.Kind.Code())
	}
	return "error"
}
