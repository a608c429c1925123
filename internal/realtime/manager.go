package realtime

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/eleven-am/see-server/internal/roles"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var (
	ErrNoActiveProducer   = errors.New("no active producer")
	ErrUnidentifiedViewer = errors.New("unidentified viewer")
	ErrStreamNotStarted   = errors.New("stream not started")
	ErrNoLink             = errors.New("no peer link for connection")
)

const maxEarlyCandidates = 32

// FrameFeed receives the producer's video packets for frame extraction.
type FrameFeed interface {
	HandleRTPPacket(pkt *rtp.Packet, mimeType string)
	Reset()
}

type Manager struct {
	cfg      Config
	api      *webrtc.API
	registry *roles.Registry
	feed     FrameFeed
	logger   *slog.Logger

	mu         sync.Mutex
	inbound    *PeerLink
	outbound   map[string]*PeerLink
	forwarders map[webrtc.RTPCodecType]*forwarder
	talkback   map[string][]*webrtc.TrackLocalStaticRTP
	early      map[string][]webrtc.ICECandidateInit

	videoSSRC atomic.Uint32
	lastPLI   atomic.Int64
}

func NewManager(cfg Config, registry *roles.Registry, feed FrameFeed, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	me := &webrtc.MediaEngine{}

	if err := registerCodecs(me); err != nil {
		return nil, err
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, err
	}

	pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(cfg.PLIInterval))
	if err != nil {
		return nil, err
	}
	ir.Add(pli)

	se := &webrtc.SettingEngine{}

	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > cfg.PortRange.Min {
		if err := se.SetEphemeralUDPPortRange(uint16(cfg.PortRange.Min), uint16(cfg.PortRange.Max)); err != nil {
			return nil, err
		}
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithSettingEngine(*se),
		webrtc.WithInterceptorRegistry(ir),
	)

	m := &Manager{
		cfg:        cfg,
		api:        api,
		registry:   registry,
		feed:       feed,
		logger:     logger.With("component", "peer_manager"),
		outbound:   make(map[string]*PeerLink),
		forwarders: make(map[webrtc.RTPCodecType]*forwarder),
		talkback:   make(map[string][]*webrtc.TrackLocalStaticRTP),
		early:      make(map[string][]webrtc.ICECandidateInit),
	}
	registry.OnRelease(m.handleRelease)
	return m, nil
}

// registerCodecs limits negotiation to VP8 video, the only codec the frame
// capturer decodes, and Opus audio.
func registerCodecs(me *webrtc.MediaEngine) error {
	videoFeedback := []webrtc.RTCPFeedback{
		{Type: webrtc.TypeRTCPFBGoogREMB},
		{Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"},
		{Type: webrtc.TypeRTCPFBNACK},
		{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
	}

	codecs := []struct {
		params webrtc.RTPCodecParameters
		kind   webrtc.RTPCodecType
	}{
		{webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     webrtc.MimeTypeVP8,
				ClockRate:    90000,
				RTCPFeedback: videoFeedback,
			},
			PayloadType: 96,
		}, webrtc.RTPCodecTypeVideo},
		{webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeOpus,
				ClockRate:   48000,
				Channels:    2,
				SDPFmtpLine: "minptime=10;useinbandfec=1",
			},
			PayloadType: 111,
		}, webrtc.RTPCodecTypeAudio},
	}

	for _, c := range codecs {
		if err := me.RegisterCodec(c.params, c.kind); err != nil {
			return fmt.Errorf("register %s: %w", c.params.MimeType, err)
		}
	}
	return nil
}

func (m *Manager) newPeerConnection() (*webrtc.PeerConnection, error) {
	return m.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: m.iceServers(),
	})
}

func (m *Manager) iceServers() []webrtc.ICEServer {
	cfgServers := m.cfg.Servers()
	servers := make([]webrtc.ICEServer, 0, len(cfgServers))
	for _, s := range cfgServers {
		server := webrtc.ICEServer{
			URLs: s.URLs,
		}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, server)
	}
	return servers
}

// wire attaches the callbacks shared by both link directions.
func (m *Manager) wire(link *PeerLink) {
	link.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		if err := link.conn.Emit(EventICECandidate, cand.ToJSON()); err != nil {
			link.logger.Debug("failed to emit candidate", "error", err)
		}
	})

	link.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		link.logger.Info("peer connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			if link.markConnected() {
				go m.renegotiate(link)
			}
		case webrtc.PeerConnectionStateFailed:
			if link.Direction() == Inbound {
				m.dropInbound(link)
			} else {
				m.dropOutbound(link.ConnID(), link)
			}
		}
	})
}

// AcceptProducerOffer answers the producer's offer on a fresh inbound link,
// replacing any previous one.
func (m *Manager) AcceptProducerOffer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	producer, ok := m.registry.HolderOf(roles.Producer)
	if !ok {
		return nil, ErrNoActiveProducer
	}

	pc, err := m.newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	link := newPeerLink(Inbound, producer, pc, m.logger)
	m.wire(link)
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.onProducerTrack(link, remote)
	})
	pc.OnNegotiationNeeded(func() {
		go m.renegotiate(link)
	})

	m.mu.Lock()
	if !m.registry.IsHolder(producer.ID(), roles.Producer) {
		m.mu.Unlock()
		pc.Close()
		return nil, ErrNoActiveProducer
	}
	old := m.inbound
	m.inbound = link
	early := m.early[producer.ID()]
	delete(m.early, producer.ID())
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}

	for _, c := range early {
		link.AddICECandidate(c)
	}

	answer, err := link.answer(offer)
	if err != nil {
		m.dropInbound(link)
		return nil, err
	}

	m.attachTalkback(link)

	link.logger.Info("producer link negotiated")
	return answer, nil
}

// AcceptViewerOffer answers a viewer's offer on an outbound link carrying
// every track the producer has published so far.
func (m *Manager) AcceptViewerOffer(clientID string, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if clientID == "" {
		return nil, ErrUnidentifiedViewer
	}
	viewer, ok := m.registry.Viewer(clientID)
	if !ok {
		return nil, ErrUnidentifiedViewer
	}

	pc, err := m.newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	link := newPeerLink(Outbound, viewer, pc, m.logger)
	m.wire(link)
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.onViewerTrack(link, remote)
	})

	m.mu.Lock()
	if _, ok := m.registry.Viewer(clientID); !ok {
		m.mu.Unlock()
		pc.Close()
		return nil, ErrUnidentifiedViewer
	}
	if len(m.forwarders) == 0 {
		m.mu.Unlock()
		pc.Close()
		return nil, ErrStreamNotStarted
	}
	for _, fw := range m.sortedForwarders() {
		sender, err := link.addTrack(fw.local)
		if err != nil {
			m.mu.Unlock()
			pc.Close()
			return nil, fmt.Errorf("attach %s track: %w", fw.kind, err)
		}
		go m.readRTCP(sender)
	}
	old := m.outbound[clientID]
	m.outbound[clientID] = link
	early := m.early[clientID]
	delete(m.early, clientID)
	stale := m.takeTalkback(clientID)
	inbound := m.inbound
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
	detachTalkback(inbound, stale)

	for _, c := range early {
		link.AddICECandidate(c)
	}

	answer, err := link.answer(offer)
	if err != nil {
		m.dropOutbound(clientID, link)
		return nil, err
	}

	link.logger.Info("viewer link negotiated", "tracks", link.TrackCount())
	return answer, nil
}

// AddICECandidate routes a client candidate to the link the client owns.
// Candidates that arrive before the link exists are held briefly.
func (m *Manager) AddICECandidate(connID string, candidate webrtc.ICECandidateInit) error {
	m.mu.Lock()
	link := m.linkFor(connID)
	if link == nil {
		if !m.registry.IsHolder(connID, roles.Producer) && !m.registry.IsHolder(connID, roles.Viewer) {
			m.mu.Unlock()
			return ErrNoLink
		}
		if len(m.early[connID]) < maxEarlyCandidates {
			m.early[connID] = append(m.early[connID], candidate)
		}
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	return link.AddICECandidate(candidate)
}

// ApplyAnswer completes a server initiated renegotiation of the inbound
// link. Stale answers are ignored.
func (m *Manager) ApplyAnswer(connID string, desc webrtc.SessionDescription) error {
	m.mu.Lock()
	link := m.inbound
	m.mu.Unlock()

	if link == nil || link.ConnID() != connID {
		return ErrNoLink
	}

	applied, err := link.applyAnswer(desc)
	if err != nil {
		return err
	}
	if !applied {
		link.logger.Debug("ignoring stale answer")
	}
	return nil
}

func (m *Manager) renegotiate(link *PeerLink) {
	m.mu.Lock()
	current := m.inbound == link
	m.mu.Unlock()
	if !current || link.deferOffer() {
		return
	}

	desc, err := link.offer()
	if err != nil {
		if !errors.Is(err, ErrLinkClosed) {
			link.logger.Error("renegotiation failed", "error", err)
		}
		return
	}

	if err := link.conn.Emit(EventOffer, SessionPayload{Description: *desc}); err != nil {
		link.logger.Warn("failed to send renegotiation offer", "error", err)
	}
}

// caller holds m.mu
func (m *Manager) linkFor(connID string) *PeerLink {
	if m.inbound != nil && m.inbound.ConnID() == connID {
		return m.inbound
	}
	return m.outbound[connID]
}

func (m *Manager) dropInbound(link *PeerLink) {
	m.mu.Lock()
	if m.inbound == link {
		m.inbound = nil
	}
	m.mu.Unlock()
	link.Close()
}

func (m *Manager) dropOutbound(connID string, link *PeerLink) {
	m.mu.Lock()
	if m.outbound[connID] == link {
		delete(m.outbound, connID)
	}
	m.mu.Unlock()
	link.Close()
}

func (m *Manager) handleRelease(rel roles.Release) {
	id := rel.Conn.ID()
	switch rel.Role {
	case roles.Producer:
		if rel.Reason == roles.Disconnected {
			m.teardown(id)
			return
		}
		m.mu.Lock()
		link := m.inbound
		delete(m.early, id)
		m.mu.Unlock()
		if link != nil && link.ConnID() == id {
			m.dropInbound(link)
		}
		m.logger.Info("producer superseded", "conn_id", id)
	case roles.Viewer:
		m.mu.Lock()
		link := m.outbound[id]
		delete(m.outbound, id)
		delete(m.early, id)
		stale := m.takeTalkback(id)
		inbound := m.inbound
		m.mu.Unlock()

		if link != nil {
			link.Close()
		}
		detachTalkback(inbound, stale)
	}
}

// teardown closes every link after the producer disconnects. Viewers stay
// registered and negotiate again once a new stream starts.
func (m *Manager) teardown(producerID string) {
	m.mu.Lock()
	inbound := m.inbound
	m.inbound = nil
	outbound := m.outbound
	m.outbound = make(map[string]*PeerLink)
	for _, fw := range m.forwarders {
		fw.unbind()
	}
	m.forwarders = make(map[webrtc.RTPCodecType]*forwarder)
	m.talkback = make(map[string][]*webrtc.TrackLocalStaticRTP)
	m.early = make(map[string][]webrtc.ICECandidateInit)
	m.mu.Unlock()

	m.videoSSRC.Store(0)
	if m.feed != nil {
		m.feed.Reset()
	}

	if inbound != nil {
		inbound.Close()
	}
	for _, link := range outbound {
		link.Close()
	}

	m.logger.Info("producer disconnected, links closed", "conn_id", producerID, "viewers", len(outbound))
}

func (m *Manager) Inbound() (*PeerLink, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inbound, m.inbound != nil
}

func (m *Manager) Outbound(connID string) (*PeerLink, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.outbound[connID]
	return link, ok
}

func (m *Manager) OutboundCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outbound)
}

type Stats struct {
	Inbound  *LinkInfo  `json:"inbound,omitempty"`
	Outbound []LinkInfo `json:"outbound"`
	Tracks   []string   `json:"tracks"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	inbound := m.inbound
	outbound := make([]*PeerLink, 0, len(m.outbound))
	for _, l := range m.outbound {
		outbound = append(outbound, l)
	}
	tracks := make([]string, 0, len(m.forwarders))
	for _, fw := range m.sortedForwarders() {
		tracks = append(tracks, fw.local.Codec().MimeType)
	}
	m.mu.Unlock()

	stats := Stats{Outbound: make([]LinkInfo, 0, len(outbound)), Tracks: tracks}
	if inbound != nil {
		info := inbound.Info()
		stats.Inbound = &info
	}
	for _, l := range outbound {
		stats.Outbound = append(stats.Outbound, l.Info())
	}
	sort.Slice(stats.Outbound, func(i, j int) bool {
		return stats.Outbound[i].ConnID < stats.Outbound[j].ConnID
	})
	return stats
}

func (m *Manager) Config() Config {
	return m.cfg
}

func (m *Manager) Close() {
	m.mu.Lock()
	inbound := m.inbound
	m.inbound = nil
	outbound := m.outbound
	m.outbound = make(map[string]*PeerLink)
	for _, fw := range m.forwarders {
		fw.unbind()
	}
	m.mu.Unlock()

	if inbound != nil {
		inbound.Close()
	}
	for _, l := range outbound {
		l.Close()
	}
}
