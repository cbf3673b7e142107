package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")
var errRateLimited = errors.New("429 too many requests")

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*Breaker, *clock) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	b := New(cfg)
	b.now = c.now
	return b, c
}

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, Timeout: time.Second})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Execute(ctx, fail), errBoom)
		assert.Equal(t, Closed, b.State())
	}
	assert.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	assert.Equal(t, Open, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "open breaker must not invoke the call")
}

func TestBreaker_HalfOpenAfterTimeoutThenCloses(t *testing.T) {
	b, c := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Second})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	require.Equal(t, Open, b.State())

	c.advance(9 * time.Second)
	assert.False(t, b.IsAllowed())
	assert.Equal(t, Open, b.State())

	c.advance(time.Second)
	assert.True(t, b.Ready())
	require.NoError(t, b.Execute(ctx, succeed))
	assert.Equal(t, HalfOpen, b.State())
	require.NoError(t, b.Execute(ctx, succeed))
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenCapsTrialCalls(t *testing.T) {
	b, c := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Second})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	c.advance(time.Second)

	require.True(t, b.IsAllowed())
	assert.Equal(t, HalfOpen, b.State())
	assert.False(t, b.Ready())

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen, "a second trial waits for the first to finish")
	assert.False(t, called)

	b.Record(nil)
	assert.Equal(t, HalfOpen, b.State())
	assert.True(t, b.Ready())
	require.NoError(t, b.Execute(ctx, succeed))
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenMaxAdmitsConcurrentTrials(t *testing.T) {
	b, c := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, HalfOpenMax: 2, Timeout: time.Second})

	_ = b.Execute(context.Background(), fail)
	c.advance(time.Second)

	assert.True(t, b.IsAllowed())
	assert.True(t, b.IsAllowed())
	assert.False(t, b.IsAllowed())

	b.Record(errBoom)
	assert.Equal(t, Open, b.State())
	b.Record(nil)
	assert.Equal(t, Open, b.State(), "a late success does not close a reopened breaker")
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, c := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 3, Timeout: time.Second})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	c.advance(time.Second)
	require.NoError(t, b.Execute(ctx, succeed))
	require.Equal(t, HalfOpen, b.State())

	_ = b.Execute(ctx, fail)
	assert.Equal(t, Open, b.State())
	assert.False(t, b.IsAllowed())
}

func TestBreaker_RateLimitOpensImmediately(t *testing.T) {
	b, _ := newTestBreaker(Config{
		FailureThreshold: 5,
		IsRateLimit:      func(err error) bool { return errors.Is(err, errRateLimited) },
	})

	_ = b.Execute(context.Background(), func(context.Context) error { return errRateLimited })
	assert.Equal(t, Open, b.State())
}

func TestBreaker_FailureCountDecays(t *testing.T) {
	b, c := newTestBreaker(Config{FailureThreshold: 3, FailureWindow: time.Minute})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	assert.Equal(t, 2, b.Snapshot().FailureCount)

	c.advance(61 * time.Second)
	assert.Equal(t, 0, b.Snapshot().FailureCount)

	_ = b.Execute(ctx, fail)
	assert.Equal(t, Closed, b.State(), "stale failures no longer count toward the threshold")
	assert.Equal(t, 1, b.Snapshot().FailureCount)
}

func TestBreaker_IgnoredErrorsDoNotCount(t *testing.T) {
	errCaller := errors.New("bad input")
	b, _ := newTestBreaker(Config{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, errCaller) },
	})

	_ = b.Execute(context.Background(), func(context.Context) error { return errCaller })
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_ResetAndHook(t *testing.T) {
	var seen []string
	b, _ := newTestBreaker(Config{
		Name:             "provider",
		FailureThreshold: 1,
		OnStateChange: func(name string, from, to State) {
			seen = append(seen, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = b.Execute(context.Background(), fail)
	b.Reset()

	assert.Equal(t, Closed, b.State())
	assert.Equal(t, []string{"provider:closed->open", "provider:open->closed"}, seen)

	snap := b.Snapshot()
	assert.Equal(t, "provider", snap.Name)
	assert.Equal(t, "closed", snap.State)
	assert.Zero(t, snap.FailureCount)
	assert.Nil(t, snap.LastFailureAt, "reset clears the last failure")
	require.NotNil(t, snap.LastTransitionAt)

	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "last_failure_at")
	assert.Contains(t, string(raw), "last_transition_at")
}
