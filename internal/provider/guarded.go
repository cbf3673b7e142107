package provider

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/Subhanamir19/faccely-sub002/internal/apperr"
	"github.com/Subhanamir19/faccely-sub002/internal/breaker"
)

// IsRateLimit reports whether err is a rate-limit class failure. The
// breaker opens immediately on these.
func IsRateLimit(err error) bool {
	return apperr.CodeOf(err) == apperr.CodeRateLimited
}

// CountsAgainstBreaker excludes caller cancellation and request errors that
// say nothing about provider health.
func CountsAgainstBreaker(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Code == apperr.CodeProviderError && !ae.Retryable {
		return false
	}
	return true
}

// Guarded wraps a Provider with a breaker, a token bucket and a per-call
// timeout.
type Guarded struct {
	inner   Provider
	breaker *breaker.Breaker
	limiter *rate.Limiter
	timeout time.Duration
}

func NewGuarded(inner Provider, br *breaker.Breaker, limiter *rate.Limiter, timeout time.Duration) *Guarded {
	return &Guarded{inner: inner, breaker: br, limiter: limiter, timeout: timeout}
}

func (g *Guarded) Breaker() *breaker.Breaker { return g.breaker }

func (g *Guarded) Complete(ctx context.Context, p Prompt) (Completion, error) {
	if !g.breaker.Ready() {
		return Completion{}, apperr.New(apperr.CodeCircuitOpen, "provider circuit open", breaker.ErrOpen)
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return Completion{}, apperr.New(apperr.CodeProviderTimeout, "rate limiter wait", err)
		}
	}

	var out Completion
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		callCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		var err error
		out, err = g.inner.Complete(callCtx, p)
		if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return apperr.New(apperr.CodeProviderTimeout, "provider call timed out", err)
		}
		return err
	})
	if errors.Is(err, breaker.ErrOpen) {
		return Completion{}, apperr.New(apperr.CodeCircuitOpen, "provider circuit open", err)
	}
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInternal && !errors.Is(err, context.Canceled) {
			err = apperr.New(apperr.CodeProviderError, "provider call failed", err)
		}
		return Completion{}, err
	}
	return out, nil
}
