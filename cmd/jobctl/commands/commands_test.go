package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Subhanamir19/faccely-sub002/internal/deadletter"
	"github.com/Subhanamir19/faccely-sub002/internal/jobs"
	"github.com/Subhanamir19/faccely-sub002/internal/logging"
	"github.com/Subhanamir19/faccely-sub002/internal/queue"
)

type testBackend struct {
	*queue.Queue
	archived []deadletter.Record
}

func (b testBackend) Archived(context.Context, int) ([]deadletter.Record, error) {
	if b.archived == nil {
		return nil, errNoArchive
	}
	return b.archived, nil
}

func (testBackend) Close() error { return nil }

func setup(t *testing.T) (*queue.Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := queue.New(client, queue.Config{
		Prefix:      "t",
		LookupOrder: jobs.LookupOrder,
		Extra:       []string{jobs.QueueDeadLetter},
	}, logging.Discard())

	prev := openBackend
	openBackend = func(context.Context) (backend, error) { return testBackend{Queue: q}, nil }
	t.Cleanup(func() { openBackend = prev })
	return q, mr
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStatus(t *testing.T) {
	q, _ := setup(t)
	h, err := q.Enqueue(context.Background(), jobs.QueueExplain, map[string]int{"score": 1}, queue.Options{})
	require.NoError(t, err)

	out, err := run(t, "status", h.ID)
	require.NoError(t, err)
	var snap queue.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, queue.StatusWaiting, snap.Status)
	assert.Equal(t, "explain", snap.Queue)

	_, err = run(t, "status", h.ID, "--queue", "routine")
	assert.ErrorContains(t, err, "not found")

	_, err = run(t, "status")
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	_, mr := setup(t)

	out, err := run(t, "health")
	require.NoError(t, err)
	assert.Contains(t, out, `"ok": true`)
	assert.Contains(t, out, `"dead-letter"`)

	mr.Close()
	_, err = run(t, "health")
	assert.ErrorContains(t, err, "unhealthy")
}

func TestDLQTail(t *testing.T) {
	q, _ := setup(t)
	sink := deadletter.NewQueueSink(q)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		rec := deadletter.NewRecord("routine", id, 3, time.Second, "JOB_ERROR", "provider_error", time.Now())
		require.NoError(t, sink.Publish(ctx, rec))
	}

	out, err := run(t, "dlq", "tail", "-n", "2")
	require.NoError(t, err)
	var recs []deadletter.Record
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].JobID, "newest first")

	_, err = run(t, "dlq", "tail", "--archive")
	assert.ErrorIs(t, err, errNoArchive)

	_, err = run(t, "dlq", "tail", "-n", "0")
	assert.Error(t, err)
}
