package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/featurestore/pkg/features"
	"github.com/platinummonkey/featurestore/pkg/httputil"
	"github.com/platinummonkey/featurestore/pkg/observability"
	"github.com/platinummonkey/featurestore/pkg/policy"
)

type storeKey struct {
	entityType  features.EntityType
	entityValue string
	category    string
}

// memStore is an in-memory features.Store that counts lookups per category
type memStore struct {
	mu      sync.Mutex
	records map[storeKey]features.Record
	gets    map[string]int
	puts    int
	getErr  error
	pingErr error
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[storeKey]features.Record),
		gets:    make(map[string]int),
	}
}

func (m *memStore) Get(ctx context.Context, entityType features.EntityType, entityValue, category string) (*features.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets[category]++
	if m.getErr != nil {
		return nil, m.getErr
	}
	rec, ok := m.records[storeKey{entityType, entityValue, category}]
	if !ok {
		return nil, features.ErrRecordNotFound
	}
	return &rec, nil
}

func (m *memStore) Put(ctx context.Context, record *features.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.records[storeKey{record.EntityType, record.EntityValue, record.Category}] = *record
	return nil
}

func (m *memStore) HealthCheck(ctx context.Context) bool {
	return m.pingErr == nil
}

func (m *memStore) lookups(category string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets[category]
}

type testServer struct {
	store   *memStore
	metrics *observability.Metrics
	server  *Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := newMemStore()
	metrics := observability.NewNopMetrics()
	logger := observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})

	svc := features.NewService(store,
		policy.New(
			[]string{"user_features", "d0_unauth_features"},
			[]string{"user_features", "d0_unauth_features", "account_features"},
		),
		features.WithLogger(logger),
		features.WithMetrics(metrics),
	)

	return &testServer{
		store:   store,
		metrics: metrics,
		server: NewServer(Options{
			Service:      svc,
			Store:        store,
			Tables:       []string{"features_account_id", "featuers_poc"},
			Logger:       logger,
			Metrics:      metrics,
			MaxBodyBytes: 1 << 10,
		}),
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.server.ServeHTTP(w, req)
	return w
}

func writeBody(category string, data map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"meta": map[string]interface{}{"source": SourcePredictionService},
		"data": map[string]interface{}{
			"entity_type":  "bright_uid",
			"entity_value": "u-1",
			"category":     category,
			"features":     data,
		},
	}
}

func readBody(featureList ...string) map[string]interface{} {
	return map[string]interface{}{
		"meta": map[string]interface{}{"source": "recommendation_service"},
		"data": map[string]interface{}{
			"entity_type":  "bright_uid",
			"entity_value": "u-1",
			"feature_list": featureList,
		},
	}
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) httputil.ErrorBody {
	t.Helper()
	var resp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestWriteThenReadItem(t *testing.T) {
	ts := newTestServer(t)

	body := writeBody("user_features", map[string]interface{}{"age": 30, "city": "SF"})
	body["meta"] = map[string]interface{}{"source": SourcePredictionService, "compute_id": "run-42"}

	w := ts.do(t, "POST", "/api/v1/items", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var wr WriteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &wr))
	assert.Equal(t, "u-1", wr.EntityValue)
	assert.Equal(t, "bright_uid", wr.EntityType)
	assert.Equal(t, "user_features", wr.Category)
	assert.Equal(t, 2, wr.FeatureCount)

	w = ts.do(t, "GET", "/api/v1/get/item/u-1/user_features", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var item ItemResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &item))
	assert.Equal(t, "user_features", item.Category)
	assert.Equal(t, float64(30), item.Data["age"])
	assert.Equal(t, "SF", item.Data["city"])
	require.NotNil(t, item.Metadata.ComputeID)
	assert.Equal(t, "run-42", *item.Metadata.ComputeID)
	assert.False(t, item.Metadata.CreatedAt.IsZero())
}

func TestWriteItem_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		body   interface{}
		detail string
	}{
		{
			name: "wrong source",
			body: map[string]interface{}{
				"meta": map[string]interface{}{"source": "api"},
				"data": map[string]interface{}{"entity_type": "bright_uid", "entity_value": "u-1", "category": "user_features", "features": map[string]interface{}{"a": 1}},
			},
			detail: "only prediction_service",
		},
		{
			name:   "disallowed category",
			body:   writeBody("account_features", map[string]interface{}{"a": 1}),
			detail: "not allowed for write",
		},
		{
			name: "invalid entity type",
			body: map[string]interface{}{
				"meta": map[string]interface{}{"source": SourcePredictionService},
				"data": map[string]interface{}{"entity_type": "device_id", "entity_value": "u-1", "category": "user_features", "features": map[string]interface{}{"a": 1}},
			},
			detail: "invalid entity_type",
		},
		{
			name: "missing entity type",
			body: map[string]interface{}{
				"meta": map[string]interface{}{"source": SourcePredictionService},
				"data": map[string]interface{}{"entity_value": "u-1", "category": "user_features", "features": map[string]interface{}{"a": 1}},
			},
			detail: "entity_type is required",
		},
		{
			name:   "empty features",
			body:   writeBody("user_features", map[string]interface{}{}),
			detail: "features cannot be empty",
		},
		{
			name:   "malformed json",
			body:   `{"meta": {`,
			detail: "invalid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)

			w := ts.do(t, "POST", "/api/v1/items", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			body := decodeErr(t, w)
			assert.Equal(t, "VALIDATION_ERROR", body.ErrorCode)
			assert.Equal(t, http.StatusBadRequest, body.StatusCode)
			assert.Contains(t, body.Detail, tt.detail)
			assert.Zero(t, ts.store.puts)
		})
	}
}

func TestWriteItem_BodyTooLarge(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "POST", "/api/v1/items", writeBody("user_features", map[string]interface{}{"blob": strings.Repeat("x", 4096)}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeErr(t, w).Detail, "at most 1024 bytes")
}

func TestWriteItem_WrongContentType(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/v1/items", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	ts.server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetItem_Errors(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		ts := newTestServer(t)
		w := ts.do(t, "GET", "/api/v1/get/item/u-404/user_features", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "ITEM_NOT_FOUND", decodeErr(t, w).ErrorCode)
	})

	t.Run("disallowed category skips the store", func(t *testing.T) {
		ts := newTestServer(t)
		w := ts.do(t, "GET", "/api/v1/get/item/u-1/secret_features", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Zero(t, ts.store.lookups("secret_features"))
	})

	t.Run("invalid entity type", func(t *testing.T) {
		ts := newTestServer(t)
		w := ts.do(t, "GET", "/api/v1/get/item/u-1/user_features?entity_type=email", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Zero(t, ts.store.lookups("user_features"))
	})

	t.Run("store unavailable", func(t *testing.T) {
		ts := newTestServer(t)
		ts.store.getErr = errors.New("dynamodb: connection refused")
		w := ts.do(t, "GET", "/api/v1/get/item/u-1/user_features", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "SERVICE_UNAVAILABLE", decodeErr(t, w).ErrorCode)
	})
}

func TestGetItem_EntityTypeQuery(t *testing.T) {
	ts := newTestServer(t)
	ts.store.records[storeKey{features.EntityAccountID, "acct-9", "account_features"}] = features.Record{
		EntityType:  features.EntityAccountID,
		EntityValue: "acct-9",
		Category:    "account_features",
		Data:        map[string]interface{}{"tier": "gold"},
	}

	w := ts.do(t, "GET", "/api/v1/get/item/acct-9/account_features?entity_type=account_id", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var item ItemResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &item))
	assert.Equal(t, "account_id", item.EntityType)
	assert.Equal(t, "gold", item.Data["tier"])

	// the same key under the default entity type does not exist
	w = ts.do(t, "GET", "/api/v1/get/item/acct-9/account_features", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetItems_PartialResults(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "POST", "/api/v1/items", writeBody("user_features", map[string]interface{}{"age": 30, "city": "SF", "income": 60000}))
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, "POST", "/api/v1/get/items", readBody(
		"user_features:age",
		"user_features:city",
		"secret_features:*",
		"account_features:*",
	))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ItemsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "u-1", resp.EntityValue)
	require.Contains(t, resp.Items, "user_features")
	assert.Equal(t, map[string]interface{}{"age": float64(30), "city": "SF"}, resp.Items["user_features"].Data)
	assert.False(t, resp.Items["user_features"].Metadata.CreatedAt.IsZero())
	assert.Equal(t, []string{"account_features", "secret_features"}, resp.UnavailableCategories)

	assert.Zero(t, ts.store.lookups("secret_features"))
	assert.Equal(t, 1, ts.store.lookups("account_features"))
}

func TestGetItems_EmptyResultShape(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "POST", "/api/v1/get/items", readBody("secret_features:*"))
	require.Equal(t, http.StatusOK, w.Code)

	assert.JSONEq(t, `{"entity_value":"u-1","entity_type":"bright_uid","items":{},"unavailable_categories":["secret_features"]}`, w.Body.String())
}

func TestGetItems_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
	}{
		{"bad selector", readBody("user_features")},
		{"empty feature list", readBody()},
		{"missing source", map[string]interface{}{
			"data": map[string]interface{}{"entity_type": "bright_uid", "entity_value": "u-1", "feature_list": []string{"user_features:*"}},
		}},
		{"invalid entity type", map[string]interface{}{
			"meta": map[string]interface{}{"source": "svc"},
			"data": map[string]interface{}{"entity_type": "cookie", "entity_value": "u-1", "feature_list": []string{"user_features:*"}},
		}},
		{"empty entity value", map[string]interface{}{
			"meta": map[string]interface{}{"source": "svc"},
			"data": map[string]interface{}{"entity_type": "bright_uid", "entity_value": " ", "feature_list": []string{"user_features:*"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			w := ts.do(t, "POST", "/api/v1/get/items", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Zero(t, ts.store.lookups("user_features"))
		})
	}
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		ts := newTestServer(t)
		w := ts.do(t, "GET", "/api/v1/health", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp.Status)
		assert.True(t, resp.DynamoDBConnection)
		assert.Equal(t, []string{"featuers_poc", "features_account_id"}, resp.TablesAvailable)
	})

	t.Run("unhealthy", func(t *testing.T) {
		ts := newTestServer(t)
		ts.store.pingErr = errors.New("dial tcp: connection refused")
		w := ts.do(t, "GET", "/api/v1/health", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "unhealthy", resp.Status)
		assert.False(t, resp.DynamoDBConnection)
		assert.Empty(t, resp.TablesAvailable)
		assert.NotNil(t, resp.TablesAvailable)
	})

	t.Run("no store", func(t *testing.T) {
		srv := NewServer(Options{Service: features.NewService(newMemStore(), policy.New(nil, nil))})
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/health", nil))
		assert.Contains(t, w.Body.String(), `"status":"unhealthy"`)
	})
}

func TestRouting(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "GET", "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, "GET", "/api/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ITEM_NOT_FOUND", decodeErr(t, w).ErrorCode)

	// Routes are only served under the versioned prefix
	w = ts.do(t, "GET", "/get/item/u-1/user_features", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, "DELETE", "/api/v1/items", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "METHOD_NOT_ALLOWED", decodeErr(t, w).ErrorCode)
}

func TestSpanName(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		method string
		path   string
		want   string
	}{
		{"GET", "/api/v1/get/item/u-123/user_features", "GET /api/v1/get/item/{entity_value}/{category}"},
		{"POST", "/api/v1/get/items", "POST /api/v1/get/items"},
		{"GET", "/api/v1/health", "GET /api/v1/health"},
		{"GET", "/users/u-123", "GET unmatched"},
		{"DELETE", "/api/v1/items", "DELETE unmatched"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := ts.server.spanName("", httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, "u-123")
		})
	}
}

func TestRequestIDAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "GET", "/api/v1/get/item/u-404/user_features", nil)
	assert.NotEmpty(t, w.Header().Get(httputil.RequestIDHeader))

	count := testutil.ToFloat64(ts.metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/get/item/{entity_value}/{category}", "404"))
	assert.Equal(t, float64(1), count)
}
