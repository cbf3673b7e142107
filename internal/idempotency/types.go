package idempotency

import (
	"encoding/json"
	"time"
)

// HeaderKey is the request header carrying a client key and the response
// header echoing the resolved key.
const HeaderKey = "Idempotency-Key"

// Record states. A key moves PENDING to COMPLETED at most once per TTL window.
const (
	StatePending   = "PENDING"
	StateCompleted = "COMPLETED"
)

// Record is the value stored under an idempotency key.
type Record struct {
	Key       string          `json:"key"`
	State     string          `json:"state"`
	JobID     string          `json:"job_id,omitempty"`
	StatusURL string          `json:"status_url,omitempty"`
	Queue     string          `json:"queue,omitempty"`
	ClaimedAt time.Time       `json:"claimed_at"`
	Body      json.RawMessage `json:"body,omitempty"`
}

// JobRef points a pending record at the job doing the work.
type JobRef struct {
	JobID     string
	StatusURL string
	Queue     string
}

type Outcome int

const (
	// Claimed means the caller owns the key and must do the work.
	Claimed Outcome = iota
	// ReplayPending means another request owns the key and is still running.
	ReplayPending
	// ReplayCompleted means the stored body is the answer.
	ReplayCompleted
)

func (o Outcome) String() string {
	switch o {
	case Claimed:
		return "claimed"
	case ReplayPending:
		return "replay_pending"
	case ReplayCompleted:
		return "replay_completed"
	default:
		return "unknown"
	}
}

// Decision is the result of Resolve. Record is nil for Claimed.
type Decision struct {
	Outcome Outcome
	Key     string
	Record  *Record
}
