package presence

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/perimetric/facegate/domain/recognition"
	"github.com/perimetric/facegate/internal/server"
	"github.com/perimetric/facegate/pkg/apperror"
)

// Handler handles HTTP requests for presence state and analytics
type Handler struct {
	engine  *Engine
	repo    *Repository
	manager *recognition.Manager
}

// NewHandler creates a new presence handler
func NewHandler(engine *Engine, repo *Repository, manager *recognition.Manager) *Handler {
	return &Handler{engine: engine, repo: repo, manager: manager}
}

// statusResponse joins the live occupancy view with the camera states so
// one call answers "who is inside and are the eyes open".
type statusResponse struct {
	OverallStatus
	Cameras []recognition.CameraStatus `json:"cameras"`
}

// Status handles GET /api/status
func (h *Handler) Status(c echo.Context) error {
	return server.OK(c, statusResponse{
		OverallStatus: h.engine.OverallStatus(),
		Cameras:       h.manager.Status(),
	})
}

// CampusStatus handles GET /api/campus/:id/status
func (h *Handler) CampusStatus(c echo.Context) error {
	return server.OK(c, h.engine.CampusStatus(c.Param("id")))
}

// CampusEvents handles GET /api/campus/:id/events
func (h *Handler) CampusEvents(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return apperror.NewBadRequest("limit must be an integer")
		}
		limit = n
	}

	eventType := c.QueryParam("type")
	switch eventType {
	case "", EventEntry, EventExit, EventUnknown:
	default:
		return apperror.NewBadRequest("unknown event type: " + eventType)
	}

	events, err := h.repo.Events(c.Request().Context(), c.Param("id"), eventType, limit)
	if err != nil {
		return err
	}
	return server.OK(c, EventList{Events: events, Count: len(events)})
}

// CampusPeople handles GET /api/campus/:id/people
func (h *Handler) CampusPeople(c echo.Context) error {
	status := c.QueryParam("status")
	if status == "" {
		status = StatusInside
	}
	switch status {
	case StatusInside, StatusOutside, "all":
	default:
		return apperror.NewBadRequest("status must be inside, outside or all")
	}

	people := h.engine.People(c.Param("id"), status)
	return server.OK(c, PeopleList{People: people, Count: len(people)})
}

// CampusAnalytics handles GET /api/campus/:id/analytics
func (h *Handler) CampusAnalytics(c echo.Context) error {
	days := 7
	if raw := c.QueryParam("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return apperror.NewBadRequest("days must be a positive integer")
		}
		days = n
	}

	rows, err := h.repo.Analytics(c.Request().Context(), c.Param("id"), days)
	if err != nil {
		return err
	}
	return server.OK(c, AnalyticsList{Days: rows, Count: len(rows)})
}

// CampusUnknowns handles GET /api/campus/:id/unknown
func (h *Handler) CampusUnknowns(c echo.Context) error {
	return server.OK(c, h.engine.Unknowns(c.Param("id")))
}

// Person handles GET /api/person/:id
func (h *Handler) Person(c echo.Context) error {
	id := c.Param("id")
	st, ok := h.engine.Person(id)
	if !ok {
		return apperror.NewNotFound("person", id)
	}
	return server.OK(c, st)
}

// Summary handles GET /api/analytics/summary
func (h *Handler) Summary(c echo.Context) error {
	return server.OK(c, h.engine.Summary())
}
