package vision

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/eleven-am/see-server/internal/shared"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	sampler *Sampler
	store   *Store
	logger  *slog.Logger
}

func NewHandler(sampler *Sampler, store *Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sampler: sampler,
		store:   store,
		logger:  logger.With("component", "vision-handler"),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/detections/recent", h.HandleRecent)
	e.GET("/detections/stream", h.HandleStream)
	e.GET("/frames/latest", h.HandleLatestFrame)
}

type FrameInfo struct {
	Seq       uint64 `json:"seq"`
	Timestamp int64  `json:"timestamp"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

func (h *Handler) HandleRecent(c echo.Context) error {
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return shared.BadRequest("invalid_limit", "limit must be a positive integer")
		}
		limit = n
	}

	reports, err := h.store.Recent(c.Request().Context(), limit)
	if err != nil {
		h.logger.Error("failed to load detections", "error", err)
		return shared.InternalError("store_error", "failed to load detections")
	}
	return c.JSON(http.StatusOK, reports)
}

// HandleLatestFrame returns the current frame as PNG, or its metadata when
// the client asks for JSON.
func (h *Handler) HandleLatestFrame(c echo.Context) error {
	frame, ok := h.sampler.Current()
	if !ok {
		return shared.NotFound("no_frame", "no frame available")
	}

	if c.QueryParam("format") == "json" {
		return c.JSON(http.StatusOK, FrameInfo{
			Seq:       frame.Seq,
			Timestamp: frame.Timestamp,
			Width:     frame.Width,
			Height:    frame.Height,
		})
	}

	data, err := frame.PNG()
	if err != nil {
		return shared.InternalError("encode_error", "failed to encode frame")
	}
	return c.Blob(http.StatusOK, "image/png", data)
}

func (h *Handler) HandleStream(c echo.Context) error {
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	ctx := c.Request().Context()
	reports := h.store.Subscribe(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case report, ok := <-reports:
			if !ok {
				return nil
			}
			data, err := json.Marshal(report)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(c.Response(), "event: detections\ndata: %s\n\n", data); err != nil {
				return nil
			}
			c.Response().Flush()
		}
	}
}
