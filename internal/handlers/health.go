package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (a *api) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ready reports queue health and breaker state. It never writes.
func (a *api) ready(c *gin.Context) {
	h := a.cfg.Queue.Health(c.Request.Context())
	body := gin.H{
		"status":   "ok",
		"queue":    h,
		"degraded": a.cfg.Degraded(),
	}
	if a.cfg.Breaker != nil {
		body["circuit"] = a.cfg.Breaker.Snapshot()
	}

	status := http.StatusOK
	if !h.OK {
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
	}
	c.JSON(status, body)
}

// resetCircuit forces the provider breaker closed.
func (a *api) resetCircuit(c *gin.Context) {
	if a.cfg.Breaker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no circuit configured"})
		return
	}
	a.cfg.Breaker.Reset()
	a.cfg.Logger.Warn().Str("breaker", a.cfg.Breaker.Snapshot().Name).Msg("circuit reset by operator")
	c.JSON(http.StatusOK, a.cfg.Breaker.Snapshot())
}
