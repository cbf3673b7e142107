package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

type publisher interface {
	Publish(ctx context.Context, body []byte, attributes map[string]string) error
}

// SQSSink mirrors records to an SQS queue for alerting outside the cluster.
type SQSSink struct {
	pub publisher
}

func NewSQSSink(pub publisher) *SQSSink {
	return &SQSSink{pub: pub}
}

func (s *SQSSink) Publish(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	return s.pub.Publish(ctx, body, map[string]string{
		"queue":    rec.Queue,
		"code":     rec.Code,
		"attempts": strconv.Itoa(rec.Attempts),
	})
}
