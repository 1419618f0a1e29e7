package presence

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers presence and analytics routes
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/api/status", h.Status)
	e.GET("/api/person/:id", h.Person)
	e.GET("/api/analytics/summary", h.Summary)

	g := e.Group("/api/campus/:id")
	g.GET("/status", h.CampusStatus)
	g.GET("/events", h.CampusEvents)
	g.GET("/people", h.CampusPeople)
	g.GET("/analytics", h.CampusAnalytics)
	g.GET("/unknown", h.CampusUnknowns)
}
