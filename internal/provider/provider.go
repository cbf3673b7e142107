// Package provider adapts generative model APIs to one completion call and
// guards that call with a circuit breaker, a rate limiter and a timeout.
package provider

import "context"

type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishSafety FinishReason = "safety"
	FinishOther  FinishReason = "other"
)

type Image struct {
	MIMEType string
	Data     []byte
}

type Prompt struct {
	System      string
	User        string
	Images      []Image
	MaxTokens   int
	Temperature float32
	// JSON asks the model for a JSON document.
	JSON bool
}

type Completion struct {
	Text         string
	FinishReason FinishReason
	Model        string
}

type Provider interface {
	Complete(ctx context.Context, p Prompt) (Completion, error)
}

// Func adapts a plain function to Provider.
type Func func(ctx context.Context, p Prompt) (Completion, error)

func (f Func) Complete(ctx context.Context, p Prompt) (Completion, error) {
	return f(ctx, p)
}
