package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/student-directory/internal/queue"
	"github.com/stemsi/student-directory/internal/response"
)

// HealthCheck checks one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler reports dependency status and the purge backlog.
type HealthHandler struct {
	checks []HealthCheck
	queue  queue.PurgeQueue
	log    zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler. q may be nil.
func NewHealthHandler(q queue.PurgeQueue, log zerolog.Logger, checks ...HealthCheck) *HealthHandler {
	return &HealthHandler{
		checks: checks,
		queue:  q,
		log:    log.With().Str("component", "health_handler").Logger(),
	}
}

// Health godoc
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := gin.H{}
	healthy := true
	for _, chk := range h.checks {
		if err := chk.Check(ctx); err != nil {
			h.log.Warn().Err(err).Str("check", chk.Name).Msg("Health check failed")
			status[chk.Name] = "down"
			healthy = false
			continue
		}
		status[chk.Name] = "ok"
	}

	body := gin.H{"status": "ok", "checks": status}
	if h.queue != nil {
		if n, err := h.queue.Len(ctx); err == nil {
			body["pending_purges"] = n
		}
	}

	if !healthy {
		body["status"] = "degraded"
		response.FailWithData(c, http.StatusServiceUnavailable, response.ErrUnavailable, body)
		return
	}
	response.Success(c, http.StatusOK, body)
}
