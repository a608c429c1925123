package bootstrap

import (
	"context"
	"log/slog"

	"github.com/eleven-am/see-server/internal/control"
	"github.com/eleven-am/see-server/internal/faces"
	"github.com/eleven-am/see-server/internal/gateway"
	"github.com/eleven-am/see-server/internal/realtime"
	"github.com/eleven-am/see-server/internal/roles"
	"github.com/eleven-am/see-server/internal/rpc"
	"github.com/eleven-am/see-server/internal/sidewalk"
	"github.com/eleven-am/see-server/internal/vision"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideRegistry(logger *slog.Logger) *roles.Registry {
	return roles.NewRegistry(logger)
}

func ProvideRelay(registry *roles.Registry, logger *slog.Logger) *rpc.Relay {
	return rpc.NewRelay(registry, logger)
}

func ProvideSidewalkBridge(cfg *Config, registry *roles.Registry, logger *slog.Logger) *sidewalk.Bridge {
	return sidewalk.NewBridge(sidewalk.Config{
		Command: cfg.SidewalkCommand,
		Args:    cfg.SidewalkArgs,
		Dir:     cfg.SidewalkDir,
	}, registry, logger)
}

// ProvideSampler hands every decoded frame to the sidewalk detector and every
// Nth frame to the recognizer.
func ProvideSampler(cfg *Config, bridge *sidewalk.Bridge) *vision.Sampler {
	return vision.NewSampler(cfg.SampleInterval, bridge)
}

func ProvideFrameCapturer(sampler *vision.Sampler, logger *slog.Logger) *vision.FrameCapturer {
	return vision.NewFrameCapturer(vision.CapturerConfig{
		Sink:   sampler,
		Logger: logger,
	})
}

func ProvideVisionClient(cfg *Config) *vision.Client {
	return vision.NewClient(vision.Config{
		InferenceURL: cfg.InferenceURL,
		Timeout:      cfg.InferenceTimeout,
	})
}

func ProvideDetectionStore(cfg *Config, redis *redis.Client) *vision.Store {
	return vision.NewStore(redis, cfg.HistoryTTL, cfg.HistorySize)
}

func ProvideRecognizer(cfg *Config, sampler *vision.Sampler, client *vision.Client, registry *roles.Registry, store *vision.Store, logger *slog.Logger) *vision.Recognizer {
	return vision.NewRecognizer(vision.RecognizerConfig{
		Sampler:   sampler,
		Engine:    client,
		Registry:  registry,
		Store:     store,
		InputSize: cfg.InputSize,
		Threshold: cfg.ScoreThreshold,
		Timeout:   cfg.InferenceTimeout,
		Logger:    logger,
	})
}

func ProvideFaceStore(cfg *Config, db *gorm.DB) *faces.Store {
	return faces.NewStore(db, cfg.FacesDir)
}

func ProvideControlService(cfg *Config, relay *rpc.Relay, registry *roles.Registry, sampler *vision.Sampler, store *faces.Store, manager *realtime.Manager, logger *slog.Logger) *control.Service {
	svc := control.NewService(relay, registry, sampler, store, control.Config{
		SeeTimeout:   cfg.SeeTimeout,
		LearnTimeout: cfg.LearnTimeout,
	}, logger)
	svc.SetKeyframeRequester(manager)
	return svc
}

func ProvideRealtimeManager(cfg *Config, registry *roles.Registry, capturer *vision.FrameCapturer, logger *slog.Logger) (*realtime.Manager, error) {
	return realtime.NewManager(realtime.Config{
		ICEServers:  toRealtimeServers(cfg.RTCICEServers),
		TURNServers: toRealtimeServers(cfg.RTCTURNServers),
		UseTURN:     cfg.UseTURN,
		PortRange: realtime.PortRange{
			Min: cfg.RTCPortMin,
			Max: cfg.RTCPortMax,
		},
		PLIInterval: cfg.PLIInterval,
	}, registry, capturer, logger)
}

func toRealtimeServers(servers []ICEServerConfig) []realtime.ICEServerConfig {
	out := make([]realtime.ICEServerConfig, len(servers))
	for i, s := range servers {
		out[i] = realtime.ICEServerConfig(s)
	}
	return out
}

func ProvideSocketServer(cfg *Config, registry *roles.Registry, relay *rpc.Relay, logger *slog.Logger) *gateway.Server {
	return gateway.NewServer(registry, relay, gateway.Config{UseTURN: cfg.UseTURN}, logger)
}

func ProvideSignaling(manager *realtime.Manager, logger *slog.Logger) *realtime.Signaling {
	return realtime.NewSignaling(manager, logger)
}

func ProvideControlHandler(service *control.Service) *control.Handler {
	return control.NewHandler(service)
}

func RegisterSocketEvents(server *gateway.Server, signaling *realtime.Signaling, controlHandler *control.Handler) {
	signaling.Register(server)
	controlHandler.Register(server)
}

type PipelineParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Faces      *faces.Store
	Capturer   *vision.FrameCapturer
	Recognizer *vision.Recognizer
	Sidewalk   *sidewalk.Bridge
	Manager    *realtime.Manager
	Sockets    *gateway.Server
	Logger     *slog.Logger
}

// StartPipeline runs the frame workers and the sidewalk detector for the
// lifetime of the process.
func StartPipeline(p PipelineParams) {
	var cancel context.CancelFunc

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := p.Faces.Migrate(); err != nil {
				return err
			}

			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop

			go p.Capturer.Run(runCtx)
			go p.Recognizer.Run(runCtx)

			if err := p.Sidewalk.Start(runCtx); err != nil {
				p.Logger.Error("sidewalk detector failed to start", "error", err)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Sockets.Shutdown()
			p.Manager.Close()
			p.Sidewalk.Stop()
			if cancel != nil {
				cancel()
			}
			p.Capturer.Stop()
			return nil
		},
	})
}

var CoreModule = fx.Options(
	fx.Provide(
		ProvideRegistry,
		ProvideRelay,
		ProvideSidewalkBridge,
		ProvideSampler,
		ProvideFrameCapturer,
		ProvideVisionClient,
		ProvideDetectionStore,
		ProvideRecognizer,
		ProvideFaceStore,
		ProvideControlService,
		ProvideRealtimeManager,
		ProvideSocketServer,
		ProvideSignaling,
		ProvideControlHandler,
	),
	fx.Invoke(RegisterSocketEvents),
	fx.Invoke(StartPipeline),
)
