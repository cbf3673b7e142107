package deadletter

import (
	"context"
	"fmt"

	"github.com/Subhanamir19/faccely-sub002/internal/queue"
)

// QueueName is the queue holding dead-letter records. Nothing consumes it;
// operators read it with jobctl.
const QueueName = "dead-letter"

type enqueuer interface {
	Enqueue(ctx context.Context, queue string, payload any, opts queue.Options) (queue.Handle, error)
}

// QueueSink stores records as single-attempt jobs on the dead-letter queue.
type QueueSink struct {
	q enqueuer
}

func NewQueueSink(q enqueuer) *QueueSink {
	return &QueueSink{q: q}
}

func (s *QueueSink) Publish(ctx context.Context, rec Record) error {
	_, err := s.q.Enqueue(ctx, QueueName, rec, queue.Options{
		// One record per terminal failure even if publishing is retried.
		JobID:    rec.Queue + ":" + rec.JobID,
		Attempts: 1,
	})
	if err != nil {
		return fmt.Errorf("enqueue dead letter: %w", err)
	}
	return nil
}
