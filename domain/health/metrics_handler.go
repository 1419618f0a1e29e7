package health

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"

	"github.com/perimetric/facegate/domain/scheduler"
)

// MetricsHandler serves operator-facing queue and task metrics.
type MetricsHandler struct {
	db    *bun.DB
	sched *scheduler.Scheduler
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(db *bun.DB, sched *scheduler.Scheduler) *MetricsHandler {
	return &MetricsHandler{
		db:    db,
		sched: sched,
	}
}

// JobQueueMetrics represents the training job queue counters.
type JobQueueMetrics struct {
	Queued      int64 `json:"queued"`
	Started     int64 `json:"started"`
	Done        int64 `json:"done"`
	Failed      int64 `json:"failed"`
	Duplicate   int64 `json:"duplicate"`
	Total       int64 `json:"total"`
	LastHour    int64 `json:"last_hour"`
	Last24Hours int64 `json:"last_24_hours"`
}

// EventMetrics represents the presence event log counters.
type EventMetrics struct {
	Entries     int64 `json:"entries"`
	Exits       int64 `json:"exits"`
	Unknown     int64 `json:"unknown"`
	Total       int64 `json:"total"`
	LastHour    int64 `json:"last_hour"`
	Last24Hours int64 `json:"last_24_hours"`
}

// AllMetrics joins the queue and event counters.
type AllMetrics struct {
	Jobs      JobQueueMetrics `json:"jobs"`
	Events    EventMetrics    `json:"events"`
	Timestamp string          `json:"timestamp"`
}

// JobMetrics returns training queue and presence event metrics
func (h *MetricsHandler) JobMetrics(c echo.Context) error {
	ctx := c.Request().Context()

	var jobs JobQueueMetrics
	err := h.db.NewRaw(`
		SELECT
			COUNT(*) FILTER (WHERE status = 'queued')    AS queued,
			COUNT(*) FILTER (WHERE status = 'started')   AS started,
			COUNT(*) FILTER (WHERE status = 'done')      AS done,
			COUNT(*) FILTER (WHERE status = 'failed')    AS failed,
			COUNT(*) FILTER (WHERE status = 'duplicate') AS duplicate,
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '1 hour') AS last_hour,
			COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '24 hours') AS last_24_hours
		FROM fg.embedding_jobs`).
		Scan(ctx, &jobs)
	if err != nil {
		return err
	}

	var events EventMetrics
	err = h.db.NewRaw(`
		SELECT
			COUNT(*) FILTER (WHERE event_type = 'entry')             AS entries,
			COUNT(*) FILTER (WHERE event_type = 'exit')              AS exits,
			COUNT(*) FILTER (WHERE event_type = 'unknown_detection') AS unknown,
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE occurred_at > NOW() - INTERVAL '1 hour') AS last_hour,
			COUNT(*) FILTER (WHERE occurred_at > NOW() - INTERVAL '24 hours') AS last_24_hours
		FROM fg.presence_events`).
		Scan(ctx, &events)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, AllMetrics{
		Jobs:      jobs,
		Events:    events,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SchedulerMetrics returns the registered tasks and their next runs
func (h *MetricsHandler) SchedulerMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"running": h.sched.IsRunning(),
		"tasks":   h.sched.GetTaskInfo(),
	})
}
