package apperrors

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"strings"
)

// Patterns are matched case-insensitively against the error message.
var (
	notFoundPatterns = []string{
		"not found",
		"does not exist",
		"no such",
	}

	unavailablePatterns = []string{
		"dynamodb",
		"connection",
		"timeout",
		"timed out",
		"deadline exceeded",
		"unavailable",
		"unreachable",
		"endpoint",
		"dial",
		"broken pipe",
		"no route to host",
		"throttl",
	}

	forbiddenPatterns = []string{
		"permission",
		"forbidden",
		"access denied",
		"accessdenied",
		"not authorized",
		"unauthorized operation",
	}

	validationPatterns = []string{
		"invalid",
		"missing",
		"required",
		"must be",
		"cannot be empty",
		"out of range",
		"malformed",
		"unexpected type",
		"key error",
	}
)

// Classify maps err onto exactly one Kind. Rules are evaluated in a fixed order
// and the first match wins:
//
//  1. an *Error anywhere in the chain is returned unchanged
//  2. missing target -> NotFound
//  3. store or transport failure -> ServiceUnavailable
//  4. permission denial -> Forbidden
//  5. malformed input or a decode/conversion failure -> Validation
//  6. anything else -> Internal wrapping err
//
// Classify(nil) returns nil. It never panics.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	if typed, ok := As(err); ok {
		return typed
	}

	msg := strings.ToLower(err.Error())

	if containsAny(msg, notFoundPatterns) {
		return &Error{Kind: KindNotFound, Message: err.Error(), Err: err}
	}

	if isTransportFailure(err) || containsAny(msg, unavailablePatterns) {
		return &Error{Kind: KindServiceUnavailable, Message: err.Error(), Err: err}
	}

	if containsAny(msg, forbiddenPatterns) {
		return &Error{Kind: KindForbidden, Message: err.Error(), Err: err}
	}

	if isDecodeFailure(err) || containsAny(msg, validationPatterns) {
		return &Error{Kind: KindValidation, Message: err.Error(), Err: err}
	}

	return &Error{Kind: KindInternal, Message: "internal error: " + err.Error(), Err: err}
}

func containsAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func isTransportFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isDecodeFailure(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var numErr *strconv.NumError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.As(err, &numErr)
}
