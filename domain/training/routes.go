package training

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers training routes
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/training")

	// Queue and worker counters
	g.GET("/stats", h.Stats)

	// Operator escape hatches
	g.POST("/cleanup-duplicates", h.CleanupDuplicates)
	g.POST("/recover", h.RecoverJobs)
}
