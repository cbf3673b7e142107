// Package generation turns provider completions into validated results. Each
// operation makes a direct attempt and, only if that fails, one repair
// attempt.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"

	"github.com/Subhanamir19/faccely-sub002/internal/apperr"
	"github.com/Subhanamir19/faccely-sub002/internal/aws"
	"github.com/Subhanamir19/faccely-sub002/internal/provider"
)

var ErrSchemaInvalid = errors.New("generated output failed schema validation")

type Options struct {
	RoutineDays      int
	TasksPerDay      int
	MaxResponseBytes int
	MaxAdvisoryBytes int
	StrictVocabulary bool
	MaxTokens        int
	Temperature      float32
}

type Pipeline struct {
	provider provider.Provider
	catalog  *Catalog
	opts     Options
	validate *validator.Validate
	logger   *log.Logger
	metrics  aws.Recorder
}

func New(p provider.Provider, catalog *Catalog, opts Options, logger *log.Logger, metrics aws.Recorder) *Pipeline {
	if opts.RoutineDays <= 0 {
		opts.RoutineDays = 7
	}
	if opts.TasksPerDay <= 0 {
		opts.TasksPerDay = 3
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = 64 << 10
	}
	if opts.MaxAdvisoryBytes <= 0 {
		opts.MaxAdvisoryBytes = 4 << 10
	}
	if metrics == nil {
		metrics = aws.NopRecorder{}
	}
	return &Pipeline{
		provider: p,
		catalog:  catalog,
		opts:     opts,
		validate: validator.New(),
		logger:   logger,
		metrics:  metrics,
	}
}

// Analyze scores the supplied photos.
func (p *Pipeline) Analyze(ctx context.Context, in AnalyzeInput) (*AnalyzeResult, error) {
	if len(in.Frontal.Data) == 0 {
		return nil, apperr.New(apperr.CodeInvalidRequest, "frontal image is required", nil)
	}
	res, model, err := generateJSON(ctx, p, "analyze", p.analyzePrompt(in), analyzeSchema, checkAnalyze)
	if err != nil {
		return nil, err
	}
	out := *res
	out.ModelVersion = model
	return &out, nil
}

// GenerateRoutine builds a multi-day plan from the activity catalog.
func (p *Pipeline) GenerateRoutine(ctx context.Context, in RoutineInput) (*RoutinePlan, error) {
	if err := p.validate.Struct(in); err != nil {
		return nil, apperr.New(apperr.CodeInvalidRequest, "invalid routine input", err)
	}
	plan, _, err := generateJSON(ctx, p, "routine", p.routinePrompt(in), routineSchema, p.checkRoutine(ctx))
	return plan, err
}

// Explain returns advisory text for one metric. Text longer than the
// advisory ceiling is cut at a word boundary rather than rejected.
func (p *Pipeline) Explain(ctx context.Context, in ExplainInput) (*ExplainResult, error) {
	if err := p.validate.Struct(in); err != nil {
		return nil, apperr.New(apperr.CodeInvalidRequest, "invalid explain input", err)
	}

	direct := p.explainPrompt(in)
	comp, err := p.provider.Complete(ctx, direct)
	if err != nil {
		return nil, err
	}
	res, firstErr := p.acceptAdvisory(comp, in.Metric)
	if firstErr == nil {
		return res, nil
	}
	p.logAttempt("explain", "direct", comp, firstErr)

	comp, err = p.provider.Complete(ctx, p.explainRepairPrompt(direct, firstErr))
	if err != nil {
		return nil, err
	}
	res, secondErr := p.acceptAdvisory(comp, in.Metric)
	if secondErr == nil {
		return res, nil
	}
	p.logAttempt("explain", "repair", comp, secondErr)
	return nil, schemaInvalid("explain", firstErr, secondErr)
}

func (p *Pipeline) acceptAdvisory(comp provider.Completion, metric string) (*ExplainResult, error) {
	if err := checkFinish(comp); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(comp.Text)
	if text == "" {
		return nil, errors.New("empty response")
	}
	out := &ExplainResult{Metric: metric, Text: text}
	if len(text) > p.opts.MaxAdvisoryBytes {
		out.Text = TruncateAtWord(text, p.opts.MaxAdvisoryBytes)
		out.Truncated = true
	}
	return out, nil
}

// generateJSON runs the direct attempt and at most one repair attempt.
// Provider errors end the run immediately; only output problems trigger the
// repair.
func generateJSON[T any](ctx context.Context, p *Pipeline, kind string, direct provider.Prompt, schema string, check func(*T) error) (*T, string, error) {
	comp, err := p.provider.Complete(ctx, direct)
	if err != nil {
		return nil, "", err
	}
	v, firstErr := decodeAttempt(p, comp, check)
	if firstErr == nil {
		return v, comp.Model, nil
	}
	p.logAttempt(kind, "direct", comp, firstErr)

	comp, err = p.provider.Complete(ctx, p.repairPrompt(direct, schema, comp.Text, firstErr))
	if err != nil {
		return nil, "", err
	}
	v, secondErr := decodeAttempt(p, comp, check)
	if secondErr == nil {
		p.logger.Info().Str("kind", kind).Msg("repair attempt succeeded")
		return v, comp.Model, nil
	}
	p.logAttempt(kind, "repair", comp, secondErr)
	return nil, "", schemaInvalid(kind, firstErr, secondErr)
}

func decodeAttempt[T any](p *Pipeline, comp provider.Completion, check func(*T) error) (*T, error) {
	if err := checkFinish(comp); err != nil {
		return nil, err
	}
	if len(comp.Text) > p.opts.MaxResponseBytes {
		return nil, fmt.Errorf("response is %d bytes, ceiling is %d", len(comp.Text), p.opts.MaxResponseBytes)
	}

	dec := json.NewDecoder(bytes.NewReader(stripFence(comp.Text)))
	dec.DisallowUnknownFields()
	var v T
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if dec.More() {
		return nil, errors.New("parse: trailing data after JSON object")
	}
	if err := p.validate.Struct(&v); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	if err := check(&v); err != nil {
		return nil, fmt.Errorf("invariants: %w", err)
	}
	return &v, nil
}

func checkFinish(comp provider.Completion) error {
	switch comp.FinishReason {
	case provider.FinishLength:
		return errors.New("response truncated by the token limit")
	case provider.FinishSafety:
		return errors.New("response blocked by provider safety filter")
	}
	return nil
}

// stripFence removes a single surrounding markdown code fence.
func stripFence(text string) []byte {
	t := strings.TrimSpace(text)
	if strings.HasPrefix(t, "```") {
		if nl := strings.IndexByte(t, '\n'); nl >= 0 {
			t = t[nl+1:]
		}
		t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	}
	return []byte(strings.TrimSpace(t))
}

func schemaInvalid(kind string, first, second error) error {
	return apperr.New(apperr.CodeSchemaInvalid, kind+" output invalid after repair",
		fmt.Errorf("%w: direct: %v; repair: %v", ErrSchemaInvalid, first, second))
}

func (p *Pipeline) logAttempt(kind, stage string, comp provider.Completion, err error) {
	p.logger.Warn().
		Str("kind", kind).
		Str("stage", stage).
		Str("finish_reason", string(comp.FinishReason)).
		Int("raw_bytes", len(comp.Text)).
		Err(err).
		Msg("generation attempt rejected")
}

// TruncateAtWord cuts s to at most max bytes, backing up to the last
// whitespace so no word or rune is split.
func TruncateAtWord(s string, max int) string {
	if len(s) <= max {
		return s
	}
	head := clipUTF8(s, max)
	if idx := strings.LastIndexFunc(head, unicode.IsSpace); idx > 0 {
		head = head[:idx]
	}
	return strings.TrimRightFunc(head, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == ':'
	})
}

// clipUTF8 cuts s to at most max bytes without splitting a rune.
func clipUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
