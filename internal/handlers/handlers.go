// Package handlers exposes the generation API over gin. Every expensive
// request is resolved through the idempotency guard before any work starts.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/phuslu/log"

	"github.com/Subhanamir19/faccely-sub002/internal/apperr"
	"github.com/Subhanamir19/faccely-sub002/internal/breaker"
	"github.com/Subhanamir19/faccely-sub002/internal/idempotency"
	"github.com/Subhanamir19/faccely-sub002/internal/jobs"
	"github.com/Subhanamir19/faccely-sub002/internal/queue"
	"github.com/Subhanamir19/faccely-sub002/internal/validation"
)

// JobQueue is the queue surface the API needs.
type JobQueue interface {
	Enqueue(ctx context.Context, queue string, payload any, opts queue.Options) (queue.Handle, error)
	Status(ctx context.Context, id, hint string) (queue.Snapshot, error)
	Health(ctx context.Context) queue.Health
}

// Guard is the idempotency surface the API needs.
type Guard interface {
	Resolve(ctx context.Context, req idempotency.Request) (idempotency.Decision, error)
	SetPending(ctx context.Context, key string, ref idempotency.JobRef) error
	SetCompleted(ctx context.Context, key string, body json.RawMessage) error
	Abandon(ctx context.Context, key string) error
}

// HandlerConfig groups dependencies for the API routes.
type HandlerConfig struct {
	Queue     JobQueue
	Guard     Guard
	Generator jobs.Generator
	Breaker   *breaker.Breaker
	// Degraded reports whether the shared coordination store is down and
	// the guard is running on local memory.
	Degraded       func() bool
	MaxUploadBytes int64
	Logger         *log.Logger
}

type api struct {
	cfg HandlerConfig
	v   *validatorv10.Validate
}

// RegisterRoutes registers every API route on r.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	if cfg.Degraded == nil {
		cfg.Degraded = func() bool { return false }
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 12 << 20
	}
	a := &api{cfg: cfg, v: validation.New()}

	r.GET("/health", a.health)
	r.GET("/health/ready", a.ready)

	r.POST("/analyze", a.analyze)
	r.POST("/explain", a.explain)
	r.POST("/routine", a.routine)
	r.GET("/jobs/:id", a.jobStatus)

	r.POST("/admin/circuit/reset", a.resetCircuit)
}

func fingerprint(c *gin.Context, body []byte, parts []idempotency.Part) idempotency.Request {
	query := url.Values{}
	if c.Request.URL != nil {
		query = c.Request.URL.Query()
	}
	return idempotency.Request{
		ClientKey: c.GetHeader(idempotency.HeaderKey),
		Method:    c.Request.Method,
		Path:      c.FullPath(),
		Query:     query,
		Body:      body,
		Parts:     parts,
	}
}

// resolve runs the guard and answers replays. It returns the claimed key and
// true when the caller owns the work.
func (a *api) resolve(c *gin.Context, req idempotency.Request) (string, bool) {
	dec, err := a.cfg.Guard.Resolve(c.Request.Context(), req)
	if err != nil {
		a.fail(c, err)
		return "", false
	}
	c.Header(idempotency.HeaderKey, dec.Key)

	switch dec.Outcome {
	case idempotency.Claimed:
		return dec.Key, true
	case idempotency.ReplayCompleted:
		c.Data(http.StatusOK, "application/json", dec.Record.Body)
	case idempotency.ReplayPending:
		if dec.Record.JobID == "" {
			// A synchronous request with this key is still running.
			c.JSON(http.StatusAccepted, gin.H{"status": "processing"})
			return "", false
		}
		c.JSON(http.StatusAccepted, accepted{
			JobID:     dec.Record.JobID,
			StatusURL: dec.Record.StatusURL,
			Queue:     dec.Record.Queue,
		})
	}
	return "", false
}

type accepted struct {
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
	Queue     string `json:"queue"`
}

func statusURL(id, q string) string {
	return "/jobs/" + url.PathEscape(id) + "?queue=" + url.QueryEscape(q)
}

// enqueue starts an async job for a claimed key and answers 202. On failure
// the claim is abandoned so a retry can succeed.
func (a *api) enqueue(c *gin.Context, key, q string, payload any) {
	ctx := c.Request.Context()
	h, err := a.cfg.Queue.Enqueue(ctx, q, payload, queue.Options{IdempotencyKey: key})
	if err != nil {
		a.abandon(c, key)
		if errors.Is(err, queue.ErrUnavailable) {
			err = apperr.New(apperr.CodeStoreUnavailable, "enqueue job", err)
		}
		a.fail(c, err)
		return
	}

	ref := idempotency.JobRef{JobID: h.ID, StatusURL: statusURL(h.ID, h.Queue), Queue: h.Queue}
	if err := a.cfg.Guard.SetPending(ctx, key, ref); err != nil {
		// The job runs regardless; a duplicate will wait out the claim.
		a.cfg.Logger.Warn().Err(err).Str("idempotency_key", key).Str("job_id", h.ID).Msg("record pending job failed")
	}
	c.JSON(http.StatusAccepted, accepted{JobID: ref.JobID, StatusURL: ref.StatusURL, Queue: ref.Queue})
}

// complete stores body as the replay for key and answers 200.
func (a *api) complete(c *gin.Context, key string, body json.RawMessage) {
	if err := a.cfg.Guard.SetCompleted(c.Request.Context(), key, body); err != nil {
		a.cfg.Logger.Warn().Err(err).Str("idempotency_key", key).Msg("store replay body failed")
	}
	c.Data(http.StatusOK, "application/json", body)
}

func (a *api) abandon(c *gin.Context, key string) {
	if err := a.cfg.Guard.Abandon(c.Request.Context(), key); err != nil {
		a.cfg.Logger.Warn().Err(err).Str("idempotency_key", key).Msg("abandon claim failed")
	}
}

// fail writes a coded error. Clients only ever see the generic message.
func (a *api) fail(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)
	ev := a.cfg.Logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = a.cfg.Logger.Error()
	}
	ev.Err(err).Str("path", c.FullPath()).Str("code", string(code)).Int("status", status).Msg("request failed")

	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": apperr.PublicMessage(code)})
}
