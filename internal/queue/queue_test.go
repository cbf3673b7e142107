package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Subhanamir19/faccely-sub002/internal/logging"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue(t *testing.T, pol Policy) (*Queue, *miniredis.Miniredis, *testClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	q := New(client, Config{
		Prefix:      "t",
		LookupOrder: []string{"analyze", "explain", "routine"},
		Extra:       []string{"dead-letter"},
		Defaults:    pol,
	}, logging.Discard())
	q.now = clock.now
	return q, mr, clock
}

func TestEnqueueAndStatus(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, DefaultPolicy())

	h, err := q.Enqueue(ctx, "routine", map[string]string{"goal": "jaw"}, Options{IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, "routine", h.Queue)
	assert.NotEmpty(t, h.ID)

	snap, err := q.Status(ctx, h.ID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, snap.Status)
	assert.Equal(t, "routine", snap.Queue)
	assert.Equal(t, 3, snap.MaxAttempts)
	assert.Equal(t, "k1", snap.IdempotencyKey)

	_, err = q.Status(ctx, h.ID, "analyze")
	assert.ErrorIs(t, err, ErrNotFound)

	snap, err = q.Status(ctx, "missing", "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, StatusUnknown, snap.Status)
}

func TestEnqueue_ExplicitIDIsDeduplicated(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, DefaultPolicy())

	first, err := q.Enqueue(ctx, "analyze", 1, Options{JobID: "fixed"})
	require.NoError(t, err)
	assert.False(t, first.Existing)

	second, err := q.Enqueue(ctx, "analyze", 2, Options{JobID: "fixed"})
	require.NoError(t, err)
	assert.True(t, second.Existing)

	job, err := q.Get(ctx, "analyze", "fixed")
	require.NoError(t, err)
	assert.JSONEq(t, "1", string(job.Payload))
	assert.EqualValues(t, 1, q.Health(ctx).Queues["analyze"].Waiting)
}

func TestFetchCompleteLifecycle(t *testing.T) {
	ctx := context.Background()
	q, _, clock := newTestQueue(t, DefaultPolicy())

	h, err := q.Enqueue(ctx, "analyze", map[string]int{"n": 1}, Options{})
	require.NoError(t, err)

	clock.advance(time.Second)
	job, err := q.Fetch(ctx, "analyze", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, h.ID, job.ID)
	assert.Equal(t, 1, job.AttemptsMade)
	assert.Equal(t, StatusActive, DeriveStatus(job, clock.now()))

	require.NoError(t, q.UpdateProgress(ctx, job, 40))
	snap, _ := q.Status(ctx, h.ID, "analyze")
	assert.Equal(t, 40, snap.Progress)

	require.NoError(t, q.Complete(ctx, job, json.RawMessage(`{"overall":71}`)))

	snap, err = q.Status(ctx, h.ID, "analyze")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.JSONEq(t, `{"overall":71}`, string(snap.Result))
	assert.Equal(t, 100, snap.Progress)

	counts := q.Health(ctx).Queues["analyze"]
	assert.EqualValues(t, 0, counts.Active)
	assert.EqualValues(t, 1, counts.Completed)

	next, err := q.Fetch(ctx, "analyze", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestFailRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	pol := DefaultPolicy()
	pol.Attempts = 2
	q, _, clock := newTestQueue(t, pol)

	h, err := q.Enqueue(ctx, "routine", "p", Options{})
	require.NoError(t, err)

	job, err := q.Fetch(ctx, "routine", time.Minute)
	require.NoError(t, err)
	out, err := q.Fail(ctx, job, "provider_timeout", false)
	require.NoError(t, err)
	assert.True(t, out.Retried)
	assert.Equal(t, time.Second, out.Delay)

	snap, _ := q.Status(ctx, h.ID, "")
	assert.Equal(t, StatusDelayed, snap.Status)
	assert.Nil(t, snap.ProcessedAt)

	none, err := q.Fetch(ctx, "routine", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none, "delayed job is not yet due")

	clock.advance(1500 * time.Millisecond)
	job, err = q.Fetch(ctx, "routine", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.AttemptsMade)
	assert.Equal(t, "provider_timeout", job.LastError)

	out, err = q.Fail(ctx, job, "provider_timeout", false)
	require.NoError(t, err)
	assert.False(t, out.Retried)

	snap, _ = q.Status(ctx, h.ID, "")
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "provider_timeout", snap.Error)
}

func TestFailTerminalSkipsRetry(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, DefaultPolicy())

	h, _ := q.Enqueue(ctx, "routine", "p", Options{})
	job, _ := q.Fetch(ctx, "routine", time.Minute)

	out, err := q.Fail(ctx, job, "schema_invalid", true)
	require.NoError(t, err)
	assert.False(t, out.Retried)

	snap, _ := q.Status(ctx, h.ID, "routine")
	assert.Equal(t, StatusFailed, snap.Status)
}

func TestEnqueueWithDelay(t *testing.T) {
	ctx := context.Background()
	q, _, clock := newTestQueue(t, DefaultPolicy())

	h, err := q.Enqueue(ctx, "explain", "p", Options{Delay: 10 * time.Second})
	require.NoError(t, err)

	snap, _ := q.Status(ctx, h.ID, "")
	assert.Equal(t, StatusDelayed, snap.Status)

	clock.advance(11 * time.Second)
	n, err := q.PromoteDelayed(ctx, "explain")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap, _ = q.Status(ctx, h.ID, "")
	assert.Equal(t, StatusWaiting, snap.Status)
}

func TestRecoverStalled(t *testing.T) {
	ctx := context.Background()
	pol := DefaultPolicy()
	pol.Attempts = 1
	q, mr, _ := newTestQueue(t, pol)

	a, _ := q.Enqueue(ctx, "analyze", "a", Options{Attempts: 2})
	b, _ := q.Enqueue(ctx, "analyze", "b", Options{})

	_, err := q.Fetch(ctx, "analyze", time.Second)
	require.NoError(t, err)
	_, err = q.Fetch(ctx, "analyze", time.Second)
	require.NoError(t, err)

	report, err := q.RecoverStalled(ctx, "analyze")
	require.NoError(t, err)
	assert.Empty(t, report.Requeued, "locked jobs are left alone")

	mr.FastForward(2 * time.Second)
	report, err = q.RecoverStalled(ctx, "analyze")
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, report.Requeued)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, b.ID, report.Failed[0].ID)

	snapA, _ := q.Status(ctx, a.ID, "")
	assert.Equal(t, StatusWaiting, snapA.Status)
	snapB, _ := q.Status(ctx, b.ID, "")
	assert.Equal(t, StatusFailed, snapB.Status)
	assert.Equal(t, "job_stalled", snapB.Error)
}

func TestRetentionCountCap(t *testing.T) {
	ctx := context.Background()
	pol := DefaultPolicy()
	pol.KeepCompleted = Retention{Age: time.Hour, Count: 2}
	q, _, clock := newTestQueue(t, pol)

	var ids []string
	for i := 0; i < 3; i++ {
		h, err := q.Enqueue(ctx, "explain", i, Options{})
		require.NoError(t, err)
		ids = append(ids, h.ID)
	}
	for i := 0; i < 3; i++ {
		clock.advance(time.Second)
		job, err := q.Fetch(ctx, "explain", time.Minute)
		require.NoError(t, err)
		require.NoError(t, q.Complete(ctx, job, json.RawMessage(`{}`)))
	}

	assert.EqualValues(t, 2, q.Health(ctx).Queues["explain"].Completed)
	_, err := q.Get(ctx, "explain", ids[0])
	assert.ErrorIs(t, err, ErrNotFound, "oldest completed job is removed")
}

func TestRetentionAgeSweep(t *testing.T) {
	ctx := context.Background()
	q, mr, _ := newTestQueue(t, DefaultPolicy())

	h, _ := q.Enqueue(ctx, "explain", 1, Options{KeepCompleted: &Retention{Age: time.Minute, Count: 10}})
	job, _ := q.Fetch(ctx, "explain", time.Minute)
	require.NoError(t, q.Complete(ctx, job, json.RawMessage(`{}`)))

	mr.FastForward(2 * time.Minute)
	require.NoError(t, q.Prune(ctx, "explain"))

	assert.EqualValues(t, 0, q.Health(ctx).Queues["explain"].Completed)
	_, err := q.Status(ctx, h.ID, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPruneTrimsWaiting(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, DefaultPolicy())
	q.cfg.Policies = map[string]Policy{"dead-letter": {Attempts: 1, MaxWaiting: 2}}

	for i := 0; i < 4; i++ {
		_, err := q.Enqueue(ctx, "dead-letter", i, Options{})
		require.NoError(t, err)
	}
	require.NoError(t, q.Prune(ctx, "dead-letter"))

	jobs, err := q.Waiting(ctx, "dead-letter", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.JSONEq(t, "3", string(jobs[0].Payload), "newest first")
}

func TestHealth_Unreachable(t *testing.T) {
	ctx := context.Background()
	q, mr, _ := newTestQueue(t, DefaultPolicy())
	mr.Close()

	h := q.Health(ctx)
	assert.False(t, h.OK)
	assert.NotContains(t, h.Error, "127.0.0.1")
	assert.ErrorIs(t, q.Ping(ctx), ErrUnavailable)
}

func TestFetch_DropsDanglingIDs(t *testing.T) {
	ctx := context.Background()
	q, mr, _ := newTestQueue(t, DefaultPolicy())

	_, err := mr.Lpush("t:routine:wait", "ghost")
	require.NoError(t, err)
	h, err := q.Enqueue(ctx, "routine", "real", Options{})
	require.NoError(t, err)

	job, err := q.Fetch(ctx, "routine", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, h.ID, job.ID, "the id without a job hash is skipped")
	assert.False(t, mr.Exists("t:routine:job:ghost"), "claiming must not recreate the hash")
	assert.False(t, mr.Exists("t:routine:lock:ghost"))

	active, err := mr.List("t:routine:active")
	require.NoError(t, err)
	assert.Equal(t, []string{h.ID}, active)
}

func TestFetch_OnlyDanglingIDs(t *testing.T) {
	ctx := context.Background()
	q, mr, _ := newTestQueue(t, DefaultPolicy())

	_, err := mr.Lpush("t:routine:wait", "ghost")
	require.NoError(t, err)

	job, err := q.Fetch(ctx, "routine", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.EqualValues(t, 0, q.Health(ctx).Queues["routine"].Active)
}

func TestEnqueue_FailureLeavesIDFree(t *testing.T) {
	ctx := context.Background()
	q, mr, _ := newTestQueue(t, DefaultPolicy())

	mr.Close()
	_, err := q.Enqueue(ctx, "analyze", 1, Options{JobID: "fixed"})
	require.ErrorIs(t, err, ErrUnavailable)
	require.NoError(t, mr.Restart())

	h, err := q.Enqueue(ctx, "analyze", 1, Options{JobID: "fixed"})
	require.NoError(t, err)
	assert.False(t, h.Existing)
	assert.EqualValues(t, 1, q.Health(ctx).Queues["analyze"].Waiting)
}

func TestPrune_ExpiresUnconsumedJobs(t *testing.T) {
	ctx := context.Background()
	q, mr, _ := newTestQueue(t, DefaultPolicy())
	q.cfg.Policies = map[string]Policy{"dead-letter": {Attempts: 1, WaitingAge: time.Hour, MaxWaiting: 10}}

	old, err := q.Enqueue(ctx, "dead-letter", "old", Options{})
	require.NoError(t, err)
	mr.FastForward(2 * time.Hour)
	fresh, err := q.Enqueue(ctx, "dead-letter", "fresh", Options{})
	require.NoError(t, err)

	require.NoError(t, q.Prune(ctx, "dead-letter"))

	jobs, err := q.Waiting(ctx, "dead-letter", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, fresh.ID, jobs[0].ID)
	assert.EqualValues(t, 1, q.Health(ctx).Queues["dead-letter"].Waiting)

	_, err = q.Get(ctx, "dead-letter", old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
