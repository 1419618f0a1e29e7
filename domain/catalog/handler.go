package catalog

import (
	"github.com/labstack/echo/v4"

	"github.com/perimetric/facegate/internal/server"
)

// Handler handles HTTP requests for the embedding catalog
type Handler struct {
	store *Store
	repo  *Repository
}

// NewHandler creates a new catalog handler
func NewHandler(store *Store, repo *Repository) *Handler {
	return &Handler{store: store, repo: repo}
}

// ForceSync handles POST /api/embeddings/sync
// Drops the incremental watermark and reloads the full catalog.
func (h *Handler) ForceSync(c echo.Context) error {
	if err := h.store.Resync(c.Request().Context()); err != nil {
		return err
	}
	return server.OK(c, h.store.Stats())
}

// Stats handles GET /api/embeddings/stats
func (h *Handler) Stats(c echo.Context) error {
	counts, err := h.repo.Counts(c.Request().Context())
	if err != nil {
		return err
	}
	return server.OK(c, StatsResponse{
		Store:   h.store.Stats(),
		Records: counts,
	})
}
