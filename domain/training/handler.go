package training

import (
	"fmt"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/perimetric/facegate/internal/server"
	"github.com/perimetric/facegate/pkg/apperror"
)

// Handler handles HTTP requests for the training pipeline
type Handler struct {
	queue   *Queue
	worker  *Worker
	janitor *Janitor
}

// NewHandler creates a new training handler
func NewHandler(queue *Queue, worker *Worker, janitor *Janitor) *Handler {
	return &Handler{queue: queue, worker: worker, janitor: janitor}
}

// Stats handles GET /api/training/stats
func (h *Handler) Stats(c echo.Context) error {
	queueStats, err := h.queue.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return server.OK(c, StatsResponse{
		Queue:  queueStats,
		Worker: h.worker.Stats(),
	})
}

// CleanupDuplicates handles POST /api/training/cleanup-duplicates
//
// The optional hours parameter overrides the configured dwell; it is
// clamped to [1, 168] hours before use.
func (h *Handler) CleanupDuplicates(c echo.Context) error {
	var dwell time.Duration
	if raw := c.QueryParam("hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil {
			return apperror.NewBadRequest(fmt.Sprintf("invalid hours value %q", raw))
		}
		dwell = time.Duration(hours) * time.Hour
	}
	resp, err := h.janitor.CleanupDuplicates(c.Request().Context(), dwell)
	if err != nil {
		return err
	}
	return server.OK(c, resp)
}

// RecoverJobs handles POST /api/training/recover
// Forces a stale-job recovery pass outside the scheduled cadence.
func (h *Handler) RecoverJobs(c echo.Context) error {
	requeued, failed, err := h.queue.Recover(c.Request().Context())
	if err != nil {
		return err
	}
	return server.OK(c, map[string]int{
		"requeued": requeued,
		"failed":   failed,
	})
}
