package recognition

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers camera control routes
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/cameras")

	g.GET("", h.Cameras)
	g.POST("/start", h.Start)
	g.POST("/stop", h.Stop)
}
