package api

import (
	"context"
	"net/http"

	"github.com/platinummonkey/featurestore/pkg/apperrors"
	"github.com/platinummonkey/featurestore/pkg/features"
	"github.com/platinummonkey/featurestore/pkg/httputil"
	"github.com/platinummonkey/featurestore/pkg/observability"
)

// writeItem handles POST /items
func (s *Server) writeItem(w http.ResponseWriter, r *http.Request) {
	var req WriteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if req.Meta.Source != SourcePredictionService {
		httputil.WriteValidationError(w, "only prediction_service is allowed for write operations")
		return
	}
	if err := httputil.RequireNonEmpty(req.Data.EntityType, "entity_type"); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	entityType, err := features.ParseEntityType(req.Data.EntityType)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	rec, err := s.service.Upsert(r.Context(), features.WriteInput{
		EntityType:  entityType,
		EntityValue: req.Data.EntityValue,
		Category:    req.Data.Category,
		Data:        req.Data.Features,
		ComputeID:   req.Meta.ComputeID,
	})
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	httputil.WriteSuccess(w, WriteResponse{
		Message:      "features written successfully",
		EntityValue:  rec.EntityValue,
		EntityType:   string(rec.EntityType),
		Category:     rec.Category,
		FeatureCount: len(rec.Data),
	})
}

// getItem handles GET /get/item/{entity_value}/{category}
func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	entityValue, err := httputil.ParsePathString(r, "entity_value")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	category, err := httputil.ParsePathString(r, "category")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	entityType, err := features.ParseEntityType(httputil.ParseQueryString(r, "entity_type", string(features.EntityBrightUID)))
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	rec, err := s.service.GetCategory(r.Context(), entityType, entityValue, category)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	httputil.WriteSuccess(w, ItemResponse{
		EntityValue: rec.EntityValue,
		EntityType:  string(entityType),
		Category:    rec.Category,
		Data:        rec.Data,
		Metadata:    rec.Metadata,
	})
}

// getItems handles POST /get/items
func (s *Server) getItems(w http.ResponseWriter, r *http.Request) {
	var req ReadRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := httputil.RequireNonEmpty(req.Meta.Source, "meta.source"); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if err := httputil.RequireNonEmpty(req.Data.EntityType, "entity_type"); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	entityType, err := features.ParseEntityType(req.Data.EntityType)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	selections, err := features.ParseFeatureList(req.Data.FeatureList)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	res, err := s.service.GetCategories(r.Context(), entityType, req.Data.EntityValue, selections)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	httputil.WriteSuccess(w, ItemsResponse{
		EntityValue:           res.EntityValue,
		EntityType:            string(res.EntityType),
		Items:                 res.Items,
		UnavailableCategories: res.Unavailable,
	})
}

// health handles GET /health. It always answers 200; the body carries the
// store status.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	connected := false
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), defaultHealthTimeout)
		defer cancel()
		connected = s.store.HealthCheck(ctx)
	}

	resp := HealthResponse{
		Status:             observability.StatusUnhealthy,
		DynamoDBConnection: connected,
		TablesAvailable:    []string{},
		Timestamp:          s.now().UTC(),
	}
	if connected {
		resp.Status = observability.StatusHealthy
		resp.TablesAvailable = append(resp.TablesAvailable, s.tables...)
	}
	httputil.WriteSuccess(w, resp)
}

// writeError logs server side failures and writes the classified response
func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	appErr := apperrors.Classify(err)
	if appErr.Kind == apperrors.KindInternal || appErr.Kind == apperrors.KindServiceUnavailable {
		logger := s.logger
		if id := observability.GetRequestID(ctx); id != "" {
			logger = logger.WithField("request_id", id)
		}
		observability.UpdateLoggerWithTraceContext(ctx, logger).WithError(err).Error("Request failed")
	}
	httputil.WriteAppError(w, appErr)
}
