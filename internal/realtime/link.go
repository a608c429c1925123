package realtime

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/eleven-am/see-server/internal/roles"
	"github.com/eleven-am/see-server/internal/shared"
	"github.com/pion/webrtc/v4"
)

var ErrLinkClosed = errors.New("peer link closed")

const maxPendingCandidates = 64

type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

type LinkState int

const (
	StateNegotiating LinkState = iota
	StateConnected
	StateRenegotiating
	StateClosed
)

func (s LinkState) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateRenegotiating:
		return "renegotiating"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PeerLink is one server-side peer connection bound to the client connection
// that negotiated it. Inbound links carry the producer's media, outbound
// links carry it to a single viewer.
type PeerLink struct {
	id        string
	direction Direction
	conn      roles.Conn
	pc        *webrtc.PeerConnection
	logger    *slog.Logger

	mu        sync.Mutex
	state     LinkState
	remoteSet bool
	deferred  bool
	pending   []webrtc.ICECandidateInit
	senders   map[*webrtc.TrackLocalStaticRTP]*webrtc.RTPSender
}

func newPeerLink(direction Direction, conn roles.Conn, pc *webrtc.PeerConnection, logger *slog.Logger) *PeerLink {
	id := shared.NewID("link_")
	return &PeerLink{
		id:        id,
		direction: direction,
		conn:      conn,
		pc:        pc,
		logger:    logger.With("link_id", id, "direction", direction.String(), "conn_id", conn.ID()),
		state:     StateNegotiating,
		senders:   make(map[*webrtc.TrackLocalStaticRTP]*webrtc.RTPSender),
	}
}

func (l *PeerLink) ID() string {
	return l.id
}

func (l *PeerLink) ConnID() string {
	return l.conn.ID()
}

func (l *PeerLink) Direction() Direction {
	return l.direction
}

func (l *PeerLink) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// markConnected reports whether a renegotiation was deferred while the link
// was still negotiating.
func (l *PeerLink) markConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateNegotiating {
		return false
	}
	l.state = StateConnected
	deferred := l.deferred
	l.deferred = false
	return deferred
}

// deferOffer postpones a renegotiation until the link connects. It reports
// false when the link is already past its initial negotiation.
func (l *PeerLink) deferOffer() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateNegotiating {
		return false
	}
	l.deferred = true
	return true
}

// answer applies a client offer and returns the local answer.
func (l *PeerLink) answer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	l.flushCandidates()

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}

	if local := l.pc.LocalDescription(); local != nil {
		return local, nil
	}
	return &answer, nil
}

// offer starts a server initiated renegotiation.
func (l *PeerLink) offer() (*webrtc.SessionDescription, error) {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return nil, ErrLinkClosed
	}
	l.mu.Unlock()

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}

	l.mu.Lock()
	if l.state == StateConnected {
		l.state = StateRenegotiating
	}
	l.mu.Unlock()

	if local := l.pc.LocalDescription(); local != nil {
		return local, nil
	}
	return &offer, nil
}

// applyAnswer completes a server initiated renegotiation. An answer that
// arrives while the signaling state is already stable is stale and is
// reported as not applied.
func (l *PeerLink) applyAnswer(desc webrtc.SessionDescription) (bool, error) {
	if l.State() == StateClosed {
		return false, ErrLinkClosed
	}
	if l.pc.SignalingState() == webrtc.SignalingStateStable {
		return false, nil
	}
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return false, fmt.Errorf("set remote description: %w", err)
	}

	l.mu.Lock()
	if l.state == StateRenegotiating {
		l.state = StateConnected
	}
	l.mu.Unlock()
	return true, nil
}

// AddICECandidate applies a remote candidate, holding it until the remote
// description is known.
func (l *PeerLink) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return ErrLinkClosed
	}
	if !l.remoteSet {
		if len(l.pending) < maxPendingCandidates {
			l.pending = append(l.pending, candidate)
		}
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	return l.pc.AddICECandidate(candidate)
}

func (l *PeerLink) flushCandidates() {
	l.mu.Lock()
	l.remoteSet = true
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, c := range pending {
		if err := l.pc.AddICECandidate(c); err != nil {
			l.logger.Debug("failed to apply buffered candidate", "error", err)
		}
	}
}

func (l *PeerLink) addTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return nil, ErrLinkClosed
	}
	if sender, ok := l.senders[track]; ok {
		return sender, nil
	}
	sender, err := l.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	l.senders[track] = sender
	return sender, nil
}

func (l *PeerLink) removeTrack(track *webrtc.TrackLocalStaticRTP) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	sender, ok := l.senders[track]
	if !ok {
		return nil
	}
	delete(l.senders, track)
	if l.state == StateClosed {
		return nil
	}
	return l.pc.RemoveTrack(sender)
}

func (l *PeerLink) hasTrack(track *webrtc.TrackLocalStaticRTP) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.senders[track]
	return ok
}

func (l *PeerLink) TrackCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.senders)
}

func (l *PeerLink) Close() error {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return nil
	}
	l.state = StateClosed
	l.pending = nil
	l.mu.Unlock()

	return l.pc.Close()
}

type LinkInfo struct {
	ID        string `json:"id"`
	ConnID    string `json:"conn_id"`
	Direction string `json:"direction"`
	State     string `json:"state"`
	Tracks    int    `json:"tracks"`
}

func (l *PeerLink) Info() LinkInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LinkInfo{
		ID:        l.id,
		ConnID:    l.conn.ID(),
		Direction: l.direction.String(),
		State:     l.state.String(),
		Tracks:    len(l.senders),
	}
}
