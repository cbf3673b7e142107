package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/Subhanamir19/faccely-sub002/internal/generation"
)

type Kind string

const (
	KindAnalyze Kind = "analyze"
	KindExplain Kind = "explain"
	KindRoutine Kind = "routine"
)

// Result is the tagged union stored as a job result and as the replay body
// of a completed idempotency record. Exactly the member named by Kind is set.
type Result struct {
	Kind    Kind                      `json:"kind"`
	Analyze *generation.AnalyzeResult `json:"analyze,omitempty"`
	Explain *generation.ExplainResult `json:"explain,omitempty"`
	Routine *generation.RoutinePlan   `json:"routine,omitempty"`
}

func (r Result) check() error {
	set := 0
	for _, ok := range []bool{r.Analyze != nil, r.Explain != nil, r.Routine != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("result of kind %q has %d members set", r.Kind, set)
	}
	switch {
	case r.Kind == KindAnalyze && r.Analyze != nil,
		r.Kind == KindExplain && r.Explain != nil,
		r.Kind == KindRoutine && r.Routine != nil:
		return nil
	}
	return fmt.Errorf("result kind %q does not match its member", r.Kind)
}

func Encode(r Result) (json.RawMessage, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return b, nil
}

// DecodeResult parses a stored job result.
func DecodeResult(raw json.RawMessage) (*Result, error) {
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if err := r.check(); err != nil {
		return nil, err
	}
	return &r, nil
}
