package realtime

import (
	"errors"
	"log/slog"

	"github.com/eleven-am/see-server/internal/gateway"
	"github.com/pion/webrtc/v4"
)

const (
	EventICECandidate  = "icecandidate"
	EventOffer         = "offer"
	EventAnswer        = "answer"
	EventStreamUpdated = "stream-updated"
)

// SessionPayload wraps a session description the way browsers send
// pc.localDescription.
type SessionPayload struct {
	Description webrtc.SessionDescription `json:"description"`
}

type StreamUpdatedPayload struct {
	Kind  string `json:"kind"`
	Codec string `json:"codec"`
}

// Signaling applies websocket signaling events to the peer links.
type Signaling struct {
	manager *Manager
	logger  *slog.Logger
}

func NewSignaling(manager *Manager, logger *slog.Logger) *Signaling {
	if logger == nil {
		logger = slog.Default()
	}
	return &Signaling{manager: manager, logger: logger.With("component", "signaling")}
}

func (s *Signaling) Register(server *gateway.Server) {
	server.Handle(EventICECandidate, s.HandleCandidate)
	server.Handle(EventAnswer, s.HandleAnswer)
}

func (s *Signaling) HandleCandidate(conn *gateway.Conn, msg *gateway.Message) {
	var candidate webrtc.ICECandidateInit
	if err := msg.Decode(&candidate); err != nil || candidate.Candidate == "" {
		s.logger.Debug("dropping malformed candidate", "conn_id", conn.ID(), "error", err)
		return
	}

	if err := s.manager.AddICECandidate(conn.ID(), candidate); err != nil {
		if errors.Is(err, ErrNoLink) {
			s.logger.Debug("candidate without peer link", "conn_id", conn.ID())
			return
		}
		s.logger.Warn("failed to add candidate", "conn_id", conn.ID(), "error", err)
	}
}

func (s *Signaling) HandleAnswer(conn *gateway.Conn, msg *gateway.Message) {
	var payload SessionPayload
	if err := msg.Decode(&payload); err != nil || payload.Description.SDP == "" {
		s.logger.Debug("dropping malformed answer", "conn_id", conn.ID(), "error", err)
		return
	}
	if payload.Description.Type != webrtc.SDPTypeAnswer {
		s.logger.Debug("dropping non-answer description", "conn_id", conn.ID(), "type", payload.Description.Type.String())
		return
	}

	if err := s.manager.ApplyAnswer(conn.ID(), payload.Description); err != nil {
		s.logger.Warn("failed to apply answer", "conn_id", conn.ID(), "error", err)
	}
}
