package faces

import (
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/eleven-am/see-server/internal/shared"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	store  *Store
	logger *slog.Logger
}

func NewHandler(store *Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger.With("handler", "faces")}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/:id/image", h.Image)
	g.DELETE("/:id", h.Delete)
}

func (h *Handler) List(c echo.Context) error {
	faces, err := h.store.List(c.Request().Context())
	if err != nil {
		h.logger.Error("failed to list faces", "error", err)
		return shared.InternalError("store_error", "failed to list faces")
	}
	return c.JSON(http.StatusOK, faces)
}

func (h *Handler) Image(c echo.Context) error {
	face, err := h.store.GetByID(c.Request().Context(), c.Param("id"))
	if errors.Is(err, shared.ErrNotFound) {
		return shared.NotFound("face_not_found", "face not found")
	}
	if err != nil {
		return shared.InternalError("store_error", "failed to load face")
	}
	return c.File(filepath.Join(h.store.Dir(), face.FileName))
}

func (h *Handler) Delete(c echo.Context) error {
	err := h.store.Delete(c.Request().Context(), c.Param("id"))
	if errors.Is(err, shared.ErrNotFound) {
		return shared.NotFound("face_not_found", "face not found")
	}
	if err != nil {
		h.logger.Error("failed to delete face", "error", err)
		return shared.InternalError("store_error", "failed to delete face")
	}
	return c.NoContent(http.StatusNoContent)
}
