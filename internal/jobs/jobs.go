// Package jobs connects the queues to the generation pipeline: queue names,
// payload decoding, task functions and the result union read back by status
// lookups.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/Subhanamir19/faccely-sub002/internal/apperr"
	"github.com/Subhanamir19/faccely-sub002/internal/deadletter"
	"github.com/Subhanamir19/faccely-sub002/internal/generation"
	"github.com/Subhanamir19/faccely-sub002/internal/provider"
)

const (
	QueueAnalyze    = "analyze"
	QueueExplain    = "explain"
	QueueRoutine    = "routine"
	QueueDeadLetter = deadletter.QueueName
)

// LookupOrder is the order in which status lookups without a queue hint search.
var LookupOrder = []string{QueueAnalyze, QueueExplain, QueueRoutine}

type Image struct {
	MIMEType string `json:"mime_type" validate:"required,oneof=image/jpeg image/png image/webp"`
	Data     []byte `json:"data" validate:"min=1"`
}

func (i Image) provider() provider.Image {
	return provider.Image{MIMEType: i.MIMEType, Data: i.Data}
}

type AnalyzePayload struct {
	Frontal Image  `json:"frontal"`
	Side    *Image `json:"side,omitempty"`
}

type ExplainPayload = generation.ExplainInput

type RoutinePayload = generation.RoutineInput

// Generator is the part of the pipeline the tasks call.
type Generator interface {
	Analyze(ctx context.Context, in generation.AnalyzeInput) (*generation.AnalyzeResult, error)
	Explain(ctx context.Context, in generation.ExplainInput) (*generation.ExplainResult, error)
	GenerateRoutine(ctx context.Context, in generation.RoutineInput) (*generation.RoutinePlan, error)
}

// Func runs one job. progress accepts values from 0 to 100.
type Func func(ctx context.Context, payload json.RawMessage, progress func(int)) (json.RawMessage, error)

type Tasks struct {
	gen      Generator
	validate *validator.Validate
}

func NewTasks(gen Generator) *Tasks {
	return &Tasks{gen: gen, validate: validator.New()}
}

// Lookup returns the task for a queue.
func (t *Tasks) Lookup(queue string) (Func, error) {
	switch queue {
	case QueueAnalyze:
		return t.Analyze, nil
	case QueueExplain:
		return t.Explain, nil
	case QueueRoutine:
		return t.Routine, nil
	default:
		return nil, fmt.Errorf("no task for queue %q", queue)
	}
}

func (t *Tasks) Analyze(ctx context.Context, payload json.RawMessage, progress func(int)) (json.RawMessage, error) {
	var in AnalyzePayload
	if err := t.decode(payload, &in); err != nil {
		return nil, err
	}
	progress(10)

	input := generation.AnalyzeInput{Frontal: in.Frontal.provider()}
	if in.Side != nil {
		side := in.Side.provider()
		input.Side = &side
	}
	res, err := t.gen.Analyze(ctx, input)
	if err != nil {
		return nil, err
	}
	progress(90)
	return Encode(Result{Kind: KindAnalyze, Analyze: res})
}

func (t *Tasks) Explain(ctx context.Context, payload json.RawMessage, progress func(int)) (json.RawMessage, error) {
	var in ExplainPayload
	if err := t.decode(payload, &in); err != nil {
		return nil, err
	}
	progress(10)

	res, err := t.gen.Explain(ctx, in)
	if err != nil {
		return nil, err
	}
	progress(90)
	return Encode(Result{Kind: KindExplain, Explain: res})
}

func (t *Tasks) Routine(ctx context.Context, payload json.RawMessage, progress func(int)) (json.RawMessage, error) {
	var in RoutinePayload
	if err := t.decode(payload, &in); err != nil {
		return nil, err
	}
	progress(10)

	plan, err := t.gen.GenerateRoutine(ctx, in)
	if err != nil {
		return nil, err
	}
	progress(90)
	return Encode(Result{Kind: KindRoutine, Routine: plan})
}

// decode rejects unknown fields and invalid values. A payload that fails
// here can never succeed, so the error is not retryable.
func (t *Tasks) decode(payload json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.New(apperr.CodeInvalidRequest, "malformed job payload", err)
	}
	if err := t.validate.Struct(v); err != nil {
		return apperr.New(apperr.CodeInvalidRequest, "invalid job payload", err)
	}
	return nil
}
