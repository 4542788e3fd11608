package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/featurestore/pkg/apperrors"
)

// ParseJSON decodes a single JSON document from the request body into dest.
// Malformed or oversized bodies are validation errors.
func ParseJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return apperrors.Validation("request body is required")
	}

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dest); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperrors.Validationf("request body must be at most %d bytes", maxErr.Limit)
		case errors.Is(err, io.EOF):
			return apperrors.Validation("request body is required")
		default:
			return apperrors.Validationf("invalid JSON: %v", err)
		}
	}
	if dec.More() {
		return apperrors.Validation("invalid JSON: unexpected data after document")
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes error response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteAppError(w, err)
		return false
	}
	return true
}

// ParsePathString extracts a string path parameter
func ParsePathString(r *http.Request, key string) (string, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return "", apperrors.Validationf("missing path parameter: %s", key)
	}
	return str, nil
}

// ParseQueryString extracts a string query parameter
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// RequireNonEmpty validates that a string field is not empty
func RequireNonEmpty(value, fieldName string) error {
	if value == "" {
		return apperrors.Validation(fmt.Sprintf("%s is required", fieldName))
	}
	return nil
}
