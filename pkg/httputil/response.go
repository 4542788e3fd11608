package httputil

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/platinummonkey/featurestore/pkg/apperrors"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// ErrorBody is the body of every error response
type ErrorBody struct {
	StatusCode int    `json:"status_code"`
	Detail     string `json:"detail"`
	ErrorCode  string `json:"error_code"`
	Timestamp  string `json:"timestamp"`
}

// ErrorResponse wraps ErrorBody under an "error" key
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Now is the clock used for error timestamps
var Now = time.Now

// WriteAppError classifies err and writes the matching error response
func WriteAppError(w http.ResponseWriter, err error) {
	appErr := apperrors.Classify(err)
	if appErr == nil {
		appErr = apperrors.Internal(nil, "unknown error")
	}
	writeErrorBody(w, appErr.Kind, appErr.Message)
}

// WriteErrorMessage writes an error response of the given kind
func WriteErrorMessage(w http.ResponseWriter, kind apperrors.Kind, message string) {
	writeErrorBody(w, kind, message)
}

func writeErrorBody(w http.ResponseWriter, kind apperrors.Kind, message string) {
	status := kind.StatusCode()
	WriteJSON(w, status, ErrorResponse{
		Error: ErrorBody{
			StatusCode: status,
			Detail:     message,
			ErrorCode:  kind.Code(),
			Timestamp:  Now().UTC().Format(time.RFC3339Nano),
		},
	})
}

// WriteValidationError writes a validation error response (400 Bad Request)
func WriteValidationError(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, apperrors.KindValidation, message)
}

// WriteNotFoundError writes a not found error response (404 Not Found)
func WriteNotFoundError(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, apperrors.KindNotFound, message)
}

// WriteInternalError writes an internal server error response (500). The
// cause is not exposed to the client.
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorMessage(w, apperrors.KindInternal, "internal server error")
}

// WriteServiceUnavailable writes a service unavailable error (503)
func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, apperrors.KindServiceUnavailable, message)
}
