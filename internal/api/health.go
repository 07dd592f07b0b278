package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nitesh/factoura_service/internal/analysis"
	"github.com/nitesh/factoura_service/internal/queue"
)

type component struct {
	Status string       `json:"status"`
	Error  string       `json:"error,omitempty"`
	Queue  *queue.Stats `json:"queue,omitempty"`
}

// Healthz: GET /healthz
// Database and Redis failures make the service unhealthy; the analysis
// service and task queue depth are advisory and only reported.
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}

	db := component{Status: "ok"}
	if err := h.svc.Ping(ctx); err != nil {
		db = component{Status: "down", Error: err.Error()}
		status = http.StatusServiceUnavailable
	}
	checks["database"] = db

	if h.opts.RedisPing != nil {
		rc := component{Status: "ok"}
		if err := h.opts.RedisPing(ctx); err != nil {
			rc = component{Status: "down", Error: err.Error()}
			status = http.StatusServiceUnavailable
		}
		checks["redis"] = rc
	}

	if h.opts.QueueStats != nil {
		qc := component{Status: "ok"}
		if st, err := h.opts.QueueStats(ctx); err != nil {
			qc = component{Status: "degraded", Error: err.Error()}
		} else {
			qc.Queue = &st
		}
		checks["tasks"] = qc
	}

	ac := component{Status: "ok"}
	if health := h.svc.AnalysisHealth(ctx); health.Status != analysis.StatusAvailable {
		ac = component{Status: "degraded", Error: health.Error}
	}
	checks["analysis"] = ac

	overall := "ok"
	if status != http.StatusOK {
		overall = "down"
	}
	c.JSON(status, gin.H{"status": overall, "checks": checks})
}
