package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Subhanamir19/faccely-sub002/internal/apperr"
)

// classify turns a raw SDK error into a coded error. status is the HTTP
// status when the SDK exposes one.
func classify(name string, status int, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.New(apperr.CodeProviderTimeout, name+" call timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if status == http.StatusTooManyRequests || strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit") {
		return apperr.New(apperr.CodeRateLimited, name+" rate limited", err)
	}
	if status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout {
		return apperr.New(apperr.CodeProviderTimeout, name+" call timed out", err)
	}
	e := apperr.New(apperr.CodeProviderError, name+" call failed", err)
	if status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden {
		e.Retryable = false
	}
	return e
}
