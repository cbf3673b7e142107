// Package apperr defines the error taxonomy shared by the API, the worker
// runtime and the generation pipeline.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure. Codes are stable and safe to return to
// clients.
type Code string

const (
	CodeInvalidRequest   Code = "invalid_request"
	CodeCircuitOpen      Code = "circuit_open"
	CodeProviderTimeout  Code = "provider_timeout"
	CodeProviderError    Code = "provider_error"
	CodeRateLimited      Code = "rate_limited"
	CodeSchemaInvalid    Code = "schema_invalid"
	CodeStoreUnavailable Code = "store_unavailable"
	CodeNotFound         Code = "not_found"
	CodeInternal         Code = "internal"
	// CodeJobStalled marks a job whose worker lost its lock mid-run.
	CodeJobStalled Code = "job_stalled"
)

// Error carries a code, a client-safe message and the underlying cause.
type Error struct {
	Code      Code
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with the default retry policy for the code.
func New(code Code, message string, err error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: defaultRetryable(code),
		Err:       err,
	}
}

func defaultRetryable(code Code) bool {
	switch code {
	case CodeProviderTimeout, CodeProviderError, CodeRateLimited, CodeStoreUnavailable, CodeInternal:
		return true
	default:
		return false
	}
}

// CodeOf returns the code of the first *Error in err's chain. Context
// deadline errors map to provider_timeout; anything else is internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeProviderTimeout
	}
	return CodeInternal
}

// IsRetryable reports whether a job that failed with err should be retried
// under its queue's attempt policy.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return true
}

// HTTPStatus maps a code to the response status used by the API.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeCircuitOpen, CodeStoreUnavailable, CodeRateLimited:
		return http.StatusServiceUnavailable
	case CodeProviderTimeout:
		return http.StatusGatewayTimeout
	case CodeProviderError, CodeSchemaInvalid:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the generic text shown to clients for a code. Raw
// provider output and internal details never reach the response body.
func PublicMessage(code Code) string {
	switch code {
	case CodeInvalidRequest:
		return "request payload is invalid"
	case CodeNotFound:
		return "resource not found"
	case CodeCircuitOpen:
		return "service temporarily unavailable, try again later"
	case CodeRateLimited:
		return "service is busy, try again later"
	case CodeStoreUnavailable:
		return "service is degraded, try again later"
	case CodeProviderTimeout:
		return "analysis timed out"
	case CodeProviderError, CodeSchemaInvalid:
		return "analysis could not be completed"
	case CodeJobStalled:
		return "analysis was interrupted, try again"
	default:
		return "internal error"
	}
}
