package bootstrap

import (
	"github.com/eleven-am/see-server/internal/control"
	"github.com/eleven-am/see-server/internal/gateway"
	"github.com/eleven-am/see-server/internal/health"
	"github.com/eleven-am/see-server/internal/realtime"
	"github.com/eleven-am/see-server/internal/roles"
	"github.com/eleven-am/see-server/internal/rpc"
	"github.com/eleven-am/see-server/internal/sidewalk"
	"github.com/eleven-am/see-server/internal/vision"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const version = "1.0.0"

type HealthParams struct {
	fx.In

	DB         *gorm.DB
	Redis      *redis.Client
	Registry   *roles.Registry
	Manager    *realtime.Manager
	Sockets    *gateway.Server
	Relay      *rpc.Relay
	Control    *control.Service
	Capturer   *vision.FrameCapturer
	Sampler    *vision.Sampler
	Recognizer *vision.Recognizer
	Inference  *vision.Client
	Sidewalk   *sidewalk.Bridge
}

func ProvideHealthHandler(p HealthParams) *health.Handler {
	return health.NewHandler(p.DB, p.Redis, health.Sources{
		Registry:   p.Registry,
		Manager:    p.Manager,
		Sockets:    p.Sockets,
		Relay:      p.Relay,
		Control:    p.Control,
		Capturer:   p.Capturer,
		Sampler:    p.Sampler,
		Recognizer: p.Recognizer,
		Inference:  p.Inference,
		Sidewalk:   p.Sidewalk,
	}, version)
}

func metricsMiddleware(h *health.Handler) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h.IncrementRequests()
			h.IncrementConnections()
			defer h.DecrementConnections()
			return next(c)
		}
	}
}

func RegisterHealthRoutes(e *echo.Echo, h *health.Handler) {
	e.Use(metricsMiddleware(h))
	h.RegisterRoutes(e)
}

var HealthModule = fx.Options(
	fx.Provide(ProvideHealthHandler),
	fx.Invoke(RegisterHealthRoutes),
)
