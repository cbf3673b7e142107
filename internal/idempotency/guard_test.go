package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Subhanamir19/faccely-sub002/internal/apperr"
	"github.com/Subhanamir19/faccely-sub002/internal/coord"
	"github.com/Subhanamir19/faccely-sub002/internal/logging"
)

func newGuard(t *testing.T, store coord.Store) *Guard {
	t.Helper()
	return NewGuard(store, Options{
		TTL:         time.Hour,
		AbandonTTL:  time.Millisecond,
		ReadRetries: 3,
		RetryDelay:  time.Millisecond,
	}, logging.Discard(), nil)
}

func TestGuard_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	g := newGuard(t, coord.NewMemoryStore(100))
	ctx := context.Background()
	req := Request{Method: "POST", Path: "/routine", Body: []byte(`{"goal":"jaw"}`)}

	const n = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[Outcome]int{}
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d, err := g.Resolve(ctx, req)
			assert.NoError(t, err)
			mu.Lock()
			outcomes[d.Outcome]++
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, outcomes[Claimed])
	assert.Equal(t, n-1, outcomes[ReplayPending])
}

func TestGuard_PendingThenCompletedReplay(t *testing.T) {
	g := newGuard(t, coord.NewMemoryStore(100))
	ctx := context.Background()
	req := Request{ClientKey: "client-1"}

	d, err := g.Resolve(ctx, req)
	require.NoError(t, err)
	require.Equal(t, Claimed, d.Outcome)
	assert.Equal(t, "client-1", d.Key)

	require.NoError(t, g.SetPending(ctx, d.Key, JobRef{JobID: "job-1", StatusURL: "/jobs/job-1?queue=routine", Queue: "routine"}))

	d, err = g.Resolve(ctx, req)
	require.NoError(t, err)
	require.Equal(t, ReplayPending, d.Outcome)
	assert.Equal(t, "job-1", d.Record.JobID)
	assert.Equal(t, "routine", d.Record.Queue)

	require.NoError(t, g.SetCompleted(ctx, d.Key, json.RawMessage(`{"ok":true}`)))

	d, err = g.Resolve(ctx, req)
	require.NoError(t, err)
	require.Equal(t, ReplayCompleted, d.Outcome)
	assert.JSONEq(t, `{"ok":true}`, string(d.Record.Body))
	assert.Equal(t, "job-1", d.Record.JobID)
}

func TestGuard_SetCompletedOnce(t *testing.T) {
	g := newGuard(t, coord.NewMemoryStore(100))
	ctx := context.Background()

	require.NoError(t, g.SetCompleted(ctx, "k", json.RawMessage(`{"v":1}`)))
	require.NoError(t, g.SetCompleted(ctx, "k", json.RawMessage(`{"v":2}`)))

	rec, err := g.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(rec.Body))
}

func TestGuard_AbandonMakesKeyReclaimable(t *testing.T) {
	g := newGuard(t, coord.NewMemoryStore(100))
	ctx := context.Background()
	req := Request{ClientKey: "k"}

	d, err := g.Resolve(ctx, req)
	require.NoError(t, err)
	require.Equal(t, Claimed, d.Outcome)

	require.NoError(t, g.Abandon(ctx, d.Key))
	time.Sleep(5 * time.Millisecond)

	d, err = g.Resolve(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, Claimed, d.Outcome)
}

func TestGuard_AbandonKeepsCompleted(t *testing.T) {
	g := newGuard(t, coord.NewMemoryStore(100))
	ctx := context.Background()

	require.NoError(t, g.SetCompleted(ctx, "k", json.RawMessage(`{}`)))
	require.NoError(t, g.Abandon(ctx, "k"))
	time.Sleep(5 * time.Millisecond)

	rec, err := g.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StateCompleted, rec.State)
}

type downStore struct{ coord.Store }

func (downStore) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, coord.ErrUnavailable
}

func TestGuard_StoreErrorIsCoded(t *testing.T) {
	g := newGuard(t, downStore{})
	_, err := g.Resolve(context.Background(), Request{ClientKey: "k"})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeStoreUnavailable, apperr.CodeOf(err))
	assert.ErrorIs(t, err, coord.ErrUnavailable)
}
