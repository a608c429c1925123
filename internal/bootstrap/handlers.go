package bootstrap

import (
	"log/slog"

	"github.com/eleven-am/see-server/internal/faces"
	"github.com/eleven-am/see-server/internal/gateway"
	"github.com/eleven-am/see-server/internal/realtime"
	"github.com/eleven-am/see-server/internal/vision"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

type HandlerParams struct {
	fx.In

	RealtimeHandler *realtime.Handler
	VisionHandler   *vision.Handler
	FacesHandler    *faces.Handler
	Sockets         *gateway.Server
}

func RegisterRoutes(e *echo.Echo, params HandlerParams) {
	params.RealtimeHandler.RegisterRoutes(e)
	params.Sockets.RegisterRoutes(e)
	params.VisionHandler.RegisterRoutes(e)
	params.FacesHandler.RegisterRoutes(e.Group("/faces"))
}

func ProvideRealtimeHandler(manager *realtime.Manager, logger *slog.Logger) *realtime.Handler {
	return realtime.NewHandler(manager, logger.With("handler", "realtime"))
}

func ProvideVisionHandler(sampler *vision.Sampler, store *vision.Store, logger *slog.Logger) *vision.Handler {
	return vision.NewHandler(sampler, store, logger)
}

func ProvideFacesHandler(store *faces.Store, logger *slog.Logger) *faces.Handler {
	return faces.NewHandler(store, logger)
}

var HandlersModule = fx.Options(
	fx.Provide(
		ProvideRealtimeHandler,
		ProvideVisionHandler,
		ProvideFacesHandler,
	),
	fx.Invoke(RegisterRoutes),
)
