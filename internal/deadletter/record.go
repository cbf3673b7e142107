// Package deadletter publishes one compact record per job that failed
// terminally.
package deadletter

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"
)

// MaxErrorBytes bounds the error text carried by a record.
const MaxErrorBytes = 512

type Record struct {
	Queue     string    `json:"queue"`
	JobID     string    `json:"job_id"`
	Attempts  int       `json:"attempts"`
	LatencyMS int64     `json:"latency_ms"`
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRecord builds a record with the error text clipped to MaxErrorBytes on
// a rune boundary.
func NewRecord(queue, jobID string, attempts int, latency time.Duration, code, errText string, now time.Time) Record {
	return Record{
		Queue:     queue,
		JobID:     jobID,
		Attempts:  attempts,
		LatencyMS: latency.Milliseconds(),
		Error:     clip(errText, MaxErrorBytes),
		Code:      code,
		Timestamp: now.UTC(),
	}
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Sink accepts dead-letter records.
type Sink interface {
	Publish(ctx context.Context, rec Record) error
}

// Multi fans a record out to every sink. All sinks are attempted; their
// errors are joined.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
