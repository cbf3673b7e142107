package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/Subhanamir19/faccely-sub002/internal/apperr"
	"github.com/Subhanamir19/faccely-sub002/internal/breaker"
)

func newBreaker(threshold int) *breaker.Breaker {
	return breaker.New(breaker.Config{
		Name:             "provider",
		FailureThreshold: threshold,
		Timeout:          time.Hour,
		IsRateLimit:      IsRateLimit,
		IsFailure:        CountsAgainstBreaker,
	})
}

func TestClassify(t *testing.T) {
	assert.Equal(t, apperr.CodeRateLimited, apperr.CodeOf(classify("x", http.StatusTooManyRequests, errors.New("slow down"))))
	assert.Equal(t, apperr.CodeRateLimited, apperr.CodeOf(classify("x", 0, errors.New("Error 429, RESOURCE_EXHAUSTED"))))
	assert.Equal(t, apperr.CodeProviderTimeout, apperr.CodeOf(classify("x", 0, context.DeadlineExceeded)))
	assert.Equal(t, apperr.CodeProviderError, apperr.CodeOf(classify("x", http.StatusInternalServerError, errors.New("oops"))))

	bad := classify("x", http.StatusBadRequest, errors.New("invalid image"))
	assert.False(t, apperr.IsRetryable(bad))
	assert.ErrorIs(t, classify("x", 0, context.Canceled), context.Canceled)
}

func TestGuarded_Success(t *testing.T) {
	inner := Func(func(_ context.Context, p Prompt) (Completion, error) {
		return Completion{Text: "{}", FinishReason: FinishStop, Model: "m"}, nil
	})
	g := NewGuarded(inner, newBreaker(3), rate.NewLimiter(rate.Inf, 1), time.Second)

	out, err := g.Complete(context.Background(), Prompt{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "{}", out.Text)
}

func TestGuarded_TimeoutIsCoded(t *testing.T) {
	inner := Func(func(ctx context.Context, _ Prompt) (Completion, error) {
		<-ctx.Done()
		return Completion{}, ctx.Err()
	})
	g := NewGuarded(inner, newBreaker(3), nil, 10*time.Millisecond)

	_, err := g.Complete(context.Background(), Prompt{})
	assert.Equal(t, apperr.CodeProviderTimeout, apperr.CodeOf(err))
	assert.True(t, apperr.IsRetryable(err))
}

func TestGuarded_RateLimitOpensBreaker(t *testing.T) {
	calls := 0
	inner := Func(func(context.Context, Prompt) (Completion, error) {
		calls++
		return Completion{}, classify("gemini", http.StatusTooManyRequests, errors.New("quota"))
	})
	br := newBreaker(5)
	g := NewGuarded(inner, br, nil, time.Second)

	_, err := g.Complete(context.Background(), Prompt{})
	assert.Equal(t, apperr.CodeRateLimited, apperr.CodeOf(err))
	assert.Equal(t, breaker.Open, br.State())

	_, err = g.Complete(context.Background(), Prompt{})
	assert.Equal(t, apperr.CodeCircuitOpen, apperr.CodeOf(err))
	assert.Equal(t, 1, calls, "open breaker short-circuits")
}

func TestGuarded_UncodedErrorsBecomeProviderErrors(t *testing.T) {
	inner := Func(func(context.Context, Prompt) (Completion, error) {
		return Completion{}, errors.New("socket closed")
	})
	g := NewGuarded(inner, newBreaker(3), nil, time.Second)

	_, err := g.Complete(context.Background(), Prompt{})
	assert.Equal(t, apperr.CodeProviderError, apperr.CodeOf(err))
}

func TestGuarded_BadRequestDoesNotTripBreaker(t *testing.T) {
	inner := Func(func(context.Context, Prompt) (Completion, error) {
		return Completion{}, classify("anthropic", http.StatusBadRequest, errors.New("bad image"))
	})
	br := newBreaker(1)
	g := NewGuarded(inner, br, nil, time.Second)

	_, err := g.Complete(context.Background(), Prompt{})
	require.Error(t, err)
	assert.Equal(t, breaker.Closed, br.State())
}

func TestFinishMapping(t *testing.T) {
	assert.Equal(t, FinishLength, geminiFinish("MAX_TOKENS"))
	assert.Equal(t, FinishStop, geminiFinish("STOP"))
	assert.Equal(t, FinishOther, geminiFinish("RECITATION"))
	assert.Equal(t, FinishLength, anthropicFinish("max_tokens"))
	assert.Equal(t, FinishSafety, anthropicFinish("refusal"))
}
