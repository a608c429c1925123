package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/eleven-am/see-server/internal/faces"
	"github.com/eleven-am/see-server/internal/roles"
	"github.com/eleven-am/see-server/internal/rpc"
	"github.com/eleven-am/see-server/internal/vision"
)

const (
	EventSeeRequest  = "see-request"
	EventLearnFace   = "learn-face"
	EventYoloRequest = "yolo-request"

	DefaultSeeTimeout   = 5 * time.Second
	DefaultLearnTimeout = 20 * time.Second
	defaultSaveTimeout  = 10 * time.Second
)

var (
	ErrNoFrameAvailable = errors.New("no frame available")
	ErrPersistFailure   = errors.New("failed to persist learned face")
	ErrNotPermitted     = errors.New("connection does not hold the required role")
)

type FrameSource interface {
	Current() (*vision.Frame, bool)
}

// KeyframeRequester asks the producer for a new keyframe. It reports whether
// a request was sent.
type KeyframeRequester interface {
	RequestKeyframe() bool
}

type FaceStore interface {
	Save(ctx context.Context, key, name string, frame *vision.Frame) (*faces.LearnedFace, error)
	ListFiles() ([]string, error)
}

type Config struct {
	SeeTimeout   time.Duration
	LearnTimeout time.Duration
}

type StatusReply struct {
	Status int `json:"status"`
}

type LearnReply struct {
	Name   *string `json:"name"`
	Status int     `json:"status"`
}

type FacesReply struct {
	Faces  []string `json:"faces"`
	Status int      `json:"status"`
}

// FramePayload is the snapshot sent to the control app when learning a face.
// Data holds the I420 planes.
type FramePayload struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Seq    uint64 `json:"seq"`
	Data   []byte `json:"data"`
}

type appLearnReply struct {
	Name   string `json:"name"`
	Status int    `json:"status"`
}

type Stats struct {
	SeeRequests     uint64 `json:"see_requests"`
	SeeFailures     uint64 `json:"see_failures"`
	LearnRequests   uint64 `json:"learn_requests"`
	LearnedFaces    uint64 `json:"learned_faces"`
	LearnFailures   uint64 `json:"learn_failures"`
	PersistFailures uint64 `json:"persist_failures"`
}

// Service relays control requests between the control app and the device
// handler.
type Service struct {
	relay     *rpc.Relay
	registry  *roles.Registry
	frames    FrameSource
	faces     FaceStore
	keyframes KeyframeRequester
	cfg       Config
	logger    *slog.Logger

	seeRequests     atomic.Uint64
	seeFailures     atomic.Uint64
	learnRequests   atomic.Uint64
	learnedFaces    atomic.Uint64
	learnFailures   atomic.Uint64
	persistFailures atomic.Uint64
}

func NewService(relay *rpc.Relay, registry *roles.Registry, frames FrameSource, store FaceStore, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SeeTimeout <= 0 {
		cfg.SeeTimeout = DefaultSeeTimeout
	}
	if cfg.LearnTimeout <= 0 {
		cfg.LearnTimeout = DefaultLearnTimeout
	}
	return &Service{
		relay:    relay,
		registry: registry,
		frames:   frames,
		faces:    store,
		cfg:      cfg,
		logger:   logger.With("component", "control"),
	}
}

// SetKeyframeRequester installs the source asked for a keyframe whenever a
// face is learned. It must be called before the service handles requests.
func (s *Service) SetKeyframeRequester(k KeyframeRequester) {
	s.keyframes = k
}

// SeeRequest forwards a settings request from the control app to the device
// handler. reply receives the handler's status, or 500 when the handler is
// absent or does not answer in time.
func (s *Service) SeeRequest(origin string, payload json.RawMessage, reply func(StatusReply)) {
	s.seeRequests.Add(1)

	if !s.registry.IsHolder(origin, roles.ControlApp) {
		s.seeFailures.Add(1)
		reply(StatusReply{Status: http.StatusForbidden})
		return
	}

	s.relay.Forward(origin, roles.ControlDeviceHandler, EventSeeRequest, payload, s.cfg.SeeTimeout, func(o rpc.Outcome) {
		if err := o.Err(); err != nil {
			s.seeFailures.Add(1)
			s.logger.Warn("see-request failed", "origin", origin, "outcome", o.Kind.String())
			reply(StatusReply{Status: http.StatusInternalServerError})
			return
		}
		reply(StatusReply{Status: parseStatus(o.Result)})
	})
}

// LearnFace sends the current frame to the control app for labelling and
// stores the labelled image under key. It fails at once with
// ErrNoFrameAvailable when no frame has arrived yet.
func (s *Service) LearnFace(origin, key string, reply func(LearnReply)) error {
	s.learnRequests.Add(1)

	if !s.registry.IsHolder(origin, roles.ControlDeviceHandler) {
		s.learnFailures.Add(1)
		reply(LearnReply{Status: http.StatusForbidden})
		return ErrNotPermitted
	}

	// Only keyframes decode, so ask for one to keep the sampled picture current.
	if s.keyframes != nil && !s.keyframes.RequestKeyframe() {
		s.logger.Debug("keyframe request not sent", "origin", origin)
	}

	frame, ok := s.frames.Current()
	if !ok {
		s.learnFailures.Add(1)
		s.logger.Warn("learn-face without a frame", "origin", origin)
		reply(LearnReply{Status: http.StatusInternalServerError})
		return ErrNoFrameAvailable
	}

	payload := FramePayload{
		Width:  frame.Width,
		Height: frame.Height,
		Seq:    frame.Seq,
		Data:   frame.Data,
	}

	s.relay.Forward(origin, roles.ControlApp, EventLearnFace, payload, s.cfg.LearnTimeout, func(o rpc.Outcome) {
		if err := o.Err(); err != nil {
			s.learnFailures.Add(1)
			s.logger.Warn("learn-face failed", "origin", origin, "outcome", o.Kind.String())
			reply(LearnReply{Status: http.StatusInternalServerError})
			return
		}
		go s.completeLearn(key, frame, o.Result, reply)
	})
	return nil
}

func (s *Service) completeLearn(key string, frame *vision.Frame, result json.RawMessage, reply func(LearnReply)) {
	var app appLearnReply
	if err := json.Unmarshal(result, &app); err != nil || app.Name == "" || app.Status >= http.StatusBadRequest {
		s.learnFailures.Add(1)
		s.logger.Warn("control app declined learn-face", "key", key, "status", app.Status, "error", err)
		reply(LearnReply{Status: http.StatusInternalServerError})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultSaveTimeout)
	defer cancel()

	face, err := s.faces.Save(ctx, key, app.Name, frame)
	if err != nil {
		s.learnFailures.Add(1)
		s.persistFailures.Add(1)
		s.logger.Error("learn-face not stored", "key", key, "name", app.Name, "error", fmt.Errorf("%w: %w", ErrPersistFailure, err))
		reply(LearnReply{Status: http.StatusInternalServerError})
		return
	}

	s.learnedFaces.Add(1)
	s.logger.Info("face learned", "key", key, "name", face.Name, "file", face.FileName)
	name := app.Name
	reply(LearnReply{Name: &name, Status: http.StatusOK})
}

// ListFaces returns the stored face image names.
func (s *Service) ListFaces() FacesReply {
	files, err := s.faces.ListFiles()
	if err != nil {
		s.logger.Error("failed to list faces", "error", err)
		return FacesReply{Status: http.StatusInternalServerError}
	}
	return FacesReply{Faces: files, Status: http.StatusOK}
}

func (s *Service) Stats() Stats {
	return Stats{
		SeeRequests:     s.seeRequests.Load(),
		SeeFailures:     s.seeFailures.Load(),
		LearnRequests:   s.learnRequests.Load(),
		LearnedFaces:    s.learnedFaces.Load(),
		LearnFailures:   s.learnFailures.Load(),
		PersistFailures: s.persistFailures.Load(),
	}
}

// parseStatus accepts either a bare status code or {"status": code}.
func parseStatus(raw json.RawMessage) int {
	var code int
	if err := json.Unmarshal(raw, &code); err == nil && code != 0 {
		return code
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	var reply StatusReply
	if err := json.Unmarshal(raw, &reply); err == nil && reply.Status != 0 {
		return reply.Status
	}
	return http.StatusOK
}
