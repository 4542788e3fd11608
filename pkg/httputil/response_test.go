package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/featurestore/pkg/apperrors"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteAppError(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	original := Now
	Now = func() time.Time { return fixed }
	defer func() { Now = original }()

	tests := []struct {
		name   string
		err    error
		status int
		code   string
		detail string
	}{
		{"validation", apperrors.Validation("category 'x' not allowed for write"), 400, "VALIDATION_ERROR", "category 'x' not allowed for write"},
		{"not found", apperrors.NotFound("item not found"), 404, "ITEM_NOT_FOUND", "item not found"},
		{"unavailable", apperrors.ServiceUnavailable(errors.New("dial tcp"), "dynamodb get_item failed"), 503, "SERVICE_UNAVAILABLE", "dynamodb get_item failed: dial tcp"},
		{"classified", errors.New("connection reset by peer"), 503, "SERVICE_UNAVAILABLE", "connection reset by peer"},
		{"unknown", errors.New("boom"), 500, "INTERNAL_SERVER_ERROR", "internal error: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteAppError(w, tt.err)

			assert.Equal(t, tt.status, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, tt.status, body.StatusCode)
			assert.Equal(t, tt.code, body.ErrorCode)
			assert.Equal(t, tt.detail, body.Detail)
			assert.Equal(t, "2024-05-01T08:00:00Z", body.Timestamp)
		})
	}
}

func TestWriteAppError_Nil(t *testing.T) {
	w := httptest.NewRecorder()
	WriteAppError(w, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWriteValidationError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteValidationError(w, "invalid input")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid input", decodeError(t, w).Detail)
}

func TestWriteNotFoundError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteNotFoundError(w, "item not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ITEM_NOT_FOUND", decodeError(t, w).ErrorCode)
}

func TestWriteInternalError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalError(w)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", decodeError(t, w).Detail)
}

func TestWriteServiceUnavailable(t *testing.T) {
	w := httptest.NewRecorder()

	WriteServiceUnavailable(w, "store unreachable")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", decodeError(t, w).ErrorCode)
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]int{"id": 123}

	err := WriteCreated(w, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "123")
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteSuccess(w, map[string]string{"status": "ok"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
}
