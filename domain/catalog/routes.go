package catalog

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers catalog routes
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/embeddings")

	// Force a full catalog reload
	g.POST("/sync", h.ForceSync)

	// In-memory view and record counts
	g.GET("/stats", h.Stats)
}
