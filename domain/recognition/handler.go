package recognition

import (
	"github.com/labstack/echo/v4"

	"github.com/perimetric/facegate/internal/server"
)

// Handler handles HTTP requests for the camera pipelines
type Handler struct {
	manager *Manager
}

// NewHandler creates a new recognition handler
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// Cameras handles GET /api/cameras
func (h *Handler) Cameras(c echo.Context) error {
	return server.OK(c, h.manager.Status())
}

// Start handles POST /api/cameras/start
func (h *Handler) Start(c echo.Context) error {
	if err := h.manager.StartAll(); err != nil {
		return err
	}
	return server.OK(c, h.manager.Status())
}

// Stop handles POST /api/cameras/stop
func (h *Handler) Stop(c echo.Context) error {
	if err := h.manager.StopAll(c.Request().Context()); err != nil {
		return err
	}
	return server.OK(c, h.manager.Status())
}
