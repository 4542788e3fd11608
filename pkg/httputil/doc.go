// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteSuccess(w, result)
//	httputil.WriteJSON(w, http.StatusCreated, result)
//
// Errors are written in a single envelope. WriteAppError runs the error
// through apperrors.Classify to pick the status and code:
//
//	if err != nil {
//		httputil.WriteAppError(w, err)
//		return
//	}
//
// produces, for a disallowed category:
//
//	{"error": {"status_code": 400, "detail": "category 'x' not allowed for write",
//	           "error_code": "VALIDATION_ERROR", "timestamp": "..."}}
//
// # Request Parsing
//
//	var req WriteRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Malformed JSON, an empty body or a body over the MaxBytesMiddleware limit
// are all validation errors (400).
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.CORSMiddleware(origins),
//		httputil.MaxBytesMiddleware(1 << 20),
//	)(router)
package httputil
