package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Subhanamir19/faccely-sub002/internal/apperr"
	"github.com/Subhanamir19/faccely-sub002/internal/jobs"
	"github.com/Subhanamir19/faccely-sub002/internal/queue"
)

type jobResponse struct {
	ID           string       `json:"id"`
	Queue        string       `json:"queue"`
	Status       queue.Status `json:"status"`
	Progress     int          `json:"progress"`
	AttemptsMade int          `json:"attempts_made"`
	Result       any          `json:"result,omitempty"`
	Error        string       `json:"error,omitempty"`
	CreatedAt    *time.Time   `json:"created_at,omitempty"`
	ProcessedAt  *time.Time   `json:"processed_at,omitempty"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
}

// jobStatus returns the normalized job view. A completed job's result is
// written through to its idempotency record so later duplicates replay it
// even if the worker's completion hook was lost.
func (a *api) jobStatus(c *gin.Context) {
	ctx := c.Request.Context()
	snap, err := a.cfg.Queue.Status(ctx, c.Param("id"), c.Query("queue"))
	switch {
	case errors.Is(err, queue.ErrNotFound):
		a.fail(c, apperr.New(apperr.CodeNotFound, "job not found", err))
		return
	case errors.Is(err, queue.ErrUnavailable):
		a.fail(c, apperr.New(apperr.CodeStoreUnavailable, "job status", err))
		return
	case err != nil:
		a.fail(c, err)
		return
	}

	resp := jobResponse{
		ID:           snap.ID,
		Queue:        snap.Queue,
		Status:       snap.Status,
		Progress:     snap.Progress,
		AttemptsMade: snap.AttemptsMade,
		Error:        snap.Error,
		CreatedAt:    snap.CreatedAt,
		ProcessedAt:  snap.ProcessedAt,
		FinishedAt:   snap.FinishedAt,
	}
	if snap.Status == queue.StatusCompleted && len(snap.Result) > 0 {
		if res, err := jobs.DecodeResult(snap.Result); err == nil {
			resp.Result = res
		} else {
			a.cfg.Logger.Warn().Err(err).Str("job_id", snap.ID).Msg("stored result does not decode")
			resp.Result = snap.Result
		}
		if snap.IdempotencyKey != "" {
			if err := a.cfg.Guard.SetCompleted(ctx, snap.IdempotencyKey, snap.Result); err != nil {
				a.cfg.Logger.Warn().Err(err).Str("job_id", snap.ID).Msg("idempotency write-through failed")
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}
