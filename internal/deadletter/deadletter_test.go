package deadletter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Subhanamir19/faccely-sub002/internal/logging"
	"github.com/Subhanamir19/faccely-sub002/internal/queue"
)

var ts = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestNewRecord_ClipsError(t *testing.T) {
	long := strings.Repeat("é", 400) // 800 bytes
	rec := NewRecord("routine", "j1", 3, 1500*time.Millisecond, "schema_invalid", long, ts)

	assert.LessOrEqual(t, len(rec.Error), MaxErrorBytes)
	assert.True(t, strings.HasPrefix(long, rec.Error))
	assert.Equal(t, int64(1500), rec.LatencyMS)
	assert.Equal(t, "routine", rec.Queue)
}

type recordingSink struct {
	got []Record
	err error
}

func (r *recordingSink) Publish(_ context.Context, rec Record) error {
	r.got = append(r.got, rec)
	return r.err
}

func TestMulti_AttemptsAllSinks(t *testing.T) {
	a := &recordingSink{err: errors.New("sqs down")}
	b := &recordingSink{}

	err := Multi{a, b}.Publish(context.Background(), Record{JobID: "j"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqs down")
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
}

func TestQueueSink_OneRecordPerJob(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := queue.New(client, queue.Config{Prefix: "t", Extra: []string{QueueName}}, logging.Discard())

	sink := NewQueueSink(q)
	rec := NewRecord("analyze", "j1", 3, time.Second, "provider_error", "boom", ts)
	require.NoError(t, sink.Publish(ctx, rec))
	require.NoError(t, sink.Publish(ctx, rec))

	jobs, err := q.Waiting(ctx, QueueName, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	var stored Record
	require.NoError(t, json.Unmarshal(jobs[0].Payload, &stored))
	assert.Equal(t, rec, stored)
	assert.Equal(t, 1, jobs[0].MaxAttempts)
}

type fakePublisher struct {
	body  []byte
	attrs map[string]string
}

func (f *fakePublisher) Publish(_ context.Context, body []byte, attrs map[string]string) error {
	f.body, f.attrs = body, attrs
	return nil
}

func TestSQSSink_Publish(t *testing.T) {
	pub := &fakePublisher{}
	rec := NewRecord("routine", "j2", 3, time.Second, "schema_invalid", "bad", ts)

	require.NoError(t, NewSQSSink(pub).Publish(context.Background(), rec))
	assert.Equal(t, map[string]string{"queue": "routine", "code": "schema_invalid", "attempts": "3"}, pub.attrs)
	assert.Contains(t, string(pub.body), `"job_id":"j2"`)
}

type fakeDB struct {
	query string
	args  []any
	err   error
}

func (f *fakeDB) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.query, f.args = query, args
	return nil, f.err
}

func (f *fakeDB) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("not implemented")
}

func TestPostgresSink_Publish(t *testing.T) {
	db := &fakeDB{}
	rec := NewRecord("analyze", "j3", 2, 250*time.Millisecond, "provider_timeout", "slow", ts)

	require.NoError(t, NewPostgresSink(db).Publish(context.Background(), rec))
	assert.Contains(t, db.query, "INSERT INTO dead_letters")
	assert.Equal(t, []any{"analyze", "j3", 2, int64(250), "slow", "provider_timeout", ts}, db.args)
}

func TestPostgresSink_DuplicateIsIgnored(t *testing.T) {
	db := &fakeDB{err: &pgconn.PgError{Code: pgUniqueViolation}}
	assert.NoError(t, NewPostgresSink(db).Publish(context.Background(), Record{}))

	db.err = errors.New("connection refused")
	assert.Error(t, NewPostgresSink(db).Publish(context.Background(), Record{}))
}

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	body, err := fs.ReadFile(migrations, files[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), "-- +goose Up")
	assert.Contains(t, string(body), "dead_letters")
}
