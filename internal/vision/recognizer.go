package vision

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/eleven-am/see-server/internal/roles"
)

const EventDetections = "detections"

// Recognizer runs detection over sampled frames one at a time and delivers
// the summary to the recognition sink.
type Recognizer struct {
	sampler   *Sampler
	engine    Engine
	registry  *roles.Registry
	store     *Store
	size      int
	threshold float64
	timeout   time.Duration
	logger    *slog.Logger

	processed atomic.Uint64
	failed    atomic.Uint64
	delivered atomic.Uint64
}

type RecognizerConfig struct {
	Sampler   *Sampler
	Engine    Engine
	Registry  *roles.Registry
	Store     *Store
	InputSize int
	Threshold float64
	Timeout   time.Duration
	Logger    *slog.Logger
}

func NewRecognizer(cfg RecognizerConfig) *Recognizer {
	if cfg.InputSize <= 0 {
		cfg.InputSize = DefaultInputSize
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Recognizer{
		sampler:   cfg.Sampler,
		engine:    cfg.Engine,
		registry:  cfg.Registry,
		store:     cfg.Store,
		size:      cfg.InputSize,
		threshold: cfg.Threshold,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger.With("component", "recognizer"),
	}
}

func (r *Recognizer) Run(ctx context.Context) {
	r.logger.Info("recognizer started", "input_size", r.size)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("recognizer stopped")
			return
		case frame := <-r.sampler.Sampled():
			r.process(ctx, frame)
		}
	}
}

func (r *Recognizer) process(ctx context.Context, frame *Frame) {
	if !frame.Valid() {
		return
	}

	tensor := Tensor(frame, r.size)

	detectCtx, cancel := context.WithTimeout(ctx, r.timeout)
	raw, err := r.engine.Detect(detectCtx, tensor, r.size)
	cancel()
	if err != nil {
		r.failed.Add(1)
		r.logger.Error("detection failed", "frame_seq", frame.Seq, "error", err)
		return
	}
	r.processed.Add(1)

	summary := Summarize(raw, r.threshold)

	if sink, ok := r.registry.HolderOf(roles.RecognitionSink); ok {
		if err := sink.Emit(EventDetections, summary); err != nil {
			r.logger.Warn("failed to deliver detections", "conn_id", sink.ID(), "error", err)
		} else {
			r.delivered.Add(1)
		}
	}

	if r.store == nil {
		return
	}
	report := &Report{FrameSeq: frame.Seq, Timestamp: frame.Timestamp, Detections: summary}
	if err := r.store.Record(ctx, report); err != nil {
		r.logger.Warn("failed to record detections", "error", err)
	}
}

type RecognizerStats struct {
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Delivered uint64 `json:"delivered"`
}

func (r *Recognizer) Stats() RecognizerStats {
	return RecognizerStats{
		Processed: r.processed.Load(),
		Failed:    r.failed.Load(),
		Delivered: r.delivered.Load(),
	}
}
