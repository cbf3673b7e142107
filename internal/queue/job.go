package queue

import (
	"encoding/json"
	"strconv"
	"time"
)

// Status is derived from a job's timestamps; it is never stored.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusDelayed   Status = "delayed"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusUnknown   Status = "unknown"
)

type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
)

type Backoff struct {
	Type  BackoffType
	Delay time.Duration
}

// After returns the wait before the next attempt once attemptsMade attempts
// have run.
func (b Backoff) After(attemptsMade int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if b.Type == BackoffFixed || attemptsMade <= 1 {
		return b.Delay
	}
	shift := attemptsMade - 1
	if shift > 20 {
		shift = 20
	}
	return b.Delay * time.Duration(1<<shift)
}

// Retention caps how long and how many finished jobs are kept.
type Retention struct {
	Age   time.Duration
	Count int
}

type Job struct {
	ID             string
	Queue          string
	Payload        json.RawMessage
	AttemptsMade   int
	MaxAttempts    int
	Backoff        Backoff
	KeepCompleted  Retention
	KeepFailed     Retention
	CreatedAt      time.Time
	ProcessedAt    *time.Time
	FinishedAt     *time.Time
	DelayedUntil   *time.Time
	Progress       int
	Result         json.RawMessage
	FailureReason  string
	LastError      string
	IdempotencyKey string
}

// DeriveStatus maps populated timestamps to a status. A nil job or one
// without a creation time is unknown.
func DeriveStatus(job *Job, now time.Time) Status {
	if job == nil || job.CreatedAt.IsZero() {
		return StatusUnknown
	}
	switch {
	case job.FinishedAt != nil && job.FailureReason != "":
		return StatusFailed
	case job.FinishedAt != nil:
		return StatusCompleted
	case job.ProcessedAt != nil:
		return StatusActive
	case job.DelayedUntil != nil && job.DelayedUntil.After(now):
		return StatusDelayed
	default:
		return StatusWaiting
	}
}

// Snapshot is the normalized view returned by status lookups.
type Snapshot struct {
	ID             string          `json:"id"`
	Queue          string          `json:"queue"`
	Status         Status          `json:"status"`
	Progress       int             `json:"progress"`
	AttemptsMade   int             `json:"attempts_made"`
	MaxAttempts    int             `json:"max_attempts"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	IdempotencyKey string          `json:"-"`
	CreatedAt      *time.Time      `json:"created_at,omitempty"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	DelayedUntil   *time.Time      `json:"delayed_until,omitempty"`
}

func (j *Job) Snapshot(now time.Time) Snapshot {
	s := Snapshot{
		ID:             j.ID,
		Queue:          j.Queue,
		Status:         DeriveStatus(j, now),
		Progress:       j.Progress,
		AttemptsMade:   j.AttemptsMade,
		MaxAttempts:    j.MaxAttempts,
		IdempotencyKey: j.IdempotencyKey,
		ProcessedAt:    j.ProcessedAt,
		FinishedAt:     j.FinishedAt,
		DelayedUntil:   j.DelayedUntil,
	}
	if !j.CreatedAt.IsZero() {
		created := j.CreatedAt
		s.CreatedAt = &created
	}
	switch s.Status {
	case StatusCompleted:
		s.Result = j.Result
	case StatusFailed:
		s.Error = j.FailureReason
	}
	return s
}

// Hash field names.
const (
	fID             = "id"
	fQueue          = "queue"
	fPayload        = "payload"
	fAttemptsMade   = "attempts_made"
	fMaxAttempts    = "max_attempts"
	fBackoffType    = "backoff_type"
	fBackoffDelay   = "backoff_delay_ms"
	fKeepDoneAge    = "keep_completed_age_ms"
	fKeepDoneCount  = "keep_completed_count"
	fKeepFailAge    = "keep_failed_age_ms"
	fKeepFailCount  = "keep_failed_count"
	fCreatedAt      = "created_at"
	fProcessedAt    = "processed_at"
	fFinishedAt     = "finished_at"
	fDelayedUntil   = "delayed_until"
	fProgress       = "progress"
	fResult         = "result"
	fFailureReason  = "failure_reason"
	fLastError      = "last_error"
	fIdempotencyKey = "idempotency_key"
)

func (j *Job) fields() map[string]any {
	m := map[string]any{
		fID:            j.ID,
		fQueue:         j.Queue,
		fPayload:       string(j.Payload),
		fAttemptsMade:  j.AttemptsMade,
		fMaxAttempts:   j.MaxAttempts,
		fBackoffType:   string(j.Backoff.Type),
		fBackoffDelay:  j.Backoff.Delay.Milliseconds(),
		fKeepDoneAge:   j.KeepCompleted.Age.Milliseconds(),
		fKeepDoneCount: j.KeepCompleted.Count,
		fKeepFailAge:   j.KeepFailed.Age.Milliseconds(),
		fKeepFailCount: j.KeepFailed.Count,
		fCreatedAt:     millis(j.CreatedAt),
		fProgress:      j.Progress,
	}
	if j.DelayedUntil != nil {
		m[fDelayedUntil] = millis(*j.DelayedUntil)
	}
	if j.IdempotencyKey != "" {
		m[fIdempotencyKey] = j.IdempotencyKey
	}
	return m
}

func parseJob(h map[string]string) *Job {
	j := &Job{
		ID:             h[fID],
		Queue:          h[fQueue],
		AttemptsMade:   atoi(h[fAttemptsMade]),
		MaxAttempts:    atoi(h[fMaxAttempts]),
		Progress:       atoi(h[fProgress]),
		FailureReason:  h[fFailureReason],
		LastError:      h[fLastError],
		IdempotencyKey: h[fIdempotencyKey],
		Backoff: Backoff{
			Type:  BackoffType(h[fBackoffType]),
			Delay: msDuration(h[fBackoffDelay]),
		},
		KeepCompleted: Retention{Age: msDuration(h[fKeepDoneAge]), Count: atoi(h[fKeepDoneCount])},
		KeepFailed:    Retention{Age: msDuration(h[fKeepFailAge]), Count: atoi(h[fKeepFailCount])},
		ProcessedAt:   msTime(h[fProcessedAt]),
		FinishedAt:    msTime(h[fFinishedAt]),
		DelayedUntil:  msTime(h[fDelayedUntil]),
	}
	if p := h[fPayload]; p != "" {
		j.Payload = json.RawMessage(p)
	}
	if r := h[fResult]; r != "" {
		j.Result = json.RawMessage(r)
	}
	if t := msTime(h[fCreatedAt]); t != nil {
		j.CreatedAt = *t
	}
	return j
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func msDuration(s string) time.Duration {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return time.Duration(n) * time.Millisecond
}

func msTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return nil
	}
	t := time.UnixMilli(n).UTC()
	return &t
}
