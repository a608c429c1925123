package realtime

import (
	"errors"
	"io"
	"sort"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

const keyframeRequestGap = 500 * time.Millisecond

// forwarder republishes one kind of producer media. Its local track is
// attached to every outbound link and outlives the producer's remote track,
// so a replacement producer is picked up without renegotiating viewers.
type forwarder struct {
	kind       webrtc.RTPCodecType
	local      *webrtc.TrackLocalStaticRTP
	generation atomic.Uint64
	packets    atomic.Uint64
}

func (f *forwarder) bind() uint64 {
	return f.generation.Add(1)
}

func (f *forwarder) unbind() {
	f.generation.Add(1)
}

func (f *forwarder) bound(gen uint64) bool {
	return f.generation.Load() == gen
}

// caller holds m.mu
func (m *Manager) sortedForwarders() []*forwarder {
	out := make([]*forwarder, 0, len(m.forwarders))
	for _, fw := range m.forwarders {
		out = append(out, fw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].kind < out[j].kind })
	return out
}

func (m *Manager) onProducerTrack(link *PeerLink, remote *webrtc.TrackRemote) {
	kind := remote.Kind()
	codec := remote.Codec()

	m.mu.Lock()
	if m.inbound != link {
		m.mu.Unlock()
		link.logger.Debug("ignoring track from replaced link", "kind", kind.String())
		return
	}
	fw, created, err := m.publish(kind, codec.RTPCodecCapability)
	if err != nil {
		m.mu.Unlock()
		link.logger.Error("failed to create forwarding track", "kind", kind.String(), "error", err)
		return
	}
	gen := fw.bind()
	m.mu.Unlock()

	link.logger.Info("producer track received",
		"kind", kind.String(), "codec", codec.MimeType, "ssrc", uint32(remote.SSRC()), "new_forwarder", created)

	if kind == webrtc.RTPCodecTypeVideo {
		m.videoSSRC.Store(uint32(remote.SSRC()))
		if m.feed != nil {
			m.feed.Reset()
		}
	}

	if created {
		m.announce(kind, codec.MimeType)
	}

	go m.pump(remote, fw, gen)
}

// publish returns the forwarder for a producer track. A forwarder is created
// the first time a kind appears, or when its codec changes, and is attached
// to every open outbound link. caller holds m.mu
func (m *Manager) publish(kind webrtc.RTPCodecType, codec webrtc.RTPCodecCapability) (*forwarder, bool, error) {
	previous, ok := m.forwarders[kind]
	if ok && previous.local.Codec().MimeType == codec.MimeType {
		return previous, false, nil
	}

	local, err := webrtc.NewTrackLocalStaticRTP(codec, kind.String(), m.cfg.StreamID)
	if err != nil {
		return nil, false, err
	}
	if ok {
		previous.unbind()
	}

	fw := &forwarder{kind: kind, local: local}
	m.forwarders[kind] = fw

	for _, out := range m.outbound {
		if ok {
			if err := out.removeTrack(previous.local); err != nil {
				out.logger.Debug("failed to remove replaced track", "error", err)
			}
		}
		sender, err := out.addTrack(local)
		if err != nil {
			out.logger.Warn("failed to attach track", "kind", kind.String(), "error", err)
			continue
		}
		go m.readRTCP(sender)
	}
	return fw, true, nil
}

// announce tells connected viewers that a new kind of media is available so
// they can negotiate again.
func (m *Manager) announce(kind webrtc.RTPCodecType, mimeType string) {
	m.mu.Lock()
	viewers := make([]*PeerLink, 0, len(m.outbound))
	for _, out := range m.outbound {
		viewers = append(viewers, out)
	}
	m.mu.Unlock()

	for _, out := range viewers {
		if err := out.conn.Emit(EventStreamUpdated, StreamUpdatedPayload{Kind: kind.String(), Codec: mimeType}); err != nil {
			out.logger.Debug("failed to notify viewer", "error", err)
		}
	}
}

// pump copies one remote track into its forwarder until the track ends or a
// newer track takes over the forwarder.
func (m *Manager) pump(remote *webrtc.TrackRemote, fw *forwarder, gen uint64) {
	mimeType := remote.Codec().MimeType
	video := remote.Kind() == webrtc.RTPCodecTypeVideo

	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				m.logger.Debug("track pump stopped", "kind", fw.kind.String(), "error", err)
			}
			return
		}
		if !fw.bound(gen) {
			return
		}
		fw.packets.Add(1)

		if err := fw.local.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			m.logger.Warn("failed to forward packet", "kind", fw.kind.String(), "error", err)
			return
		}

		if video && m.feed != nil {
			m.feed.HandleRTPPacket(pkt, mimeType)
		}
	}
}

// readRTCP drains a viewer sender so interceptors keep running and relays
// keyframe requests to the producer.
func (m *Manager) readRTCP(sender *webrtc.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, p := range pkts {
			switch p.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				m.RequestKeyframe()
			}
		}
	}
}

// RequestKeyframe asks the producer for a new keyframe. Requests closer
// together than keyframeRequestGap are folded into one.
func (m *Manager) RequestKeyframe() bool {
	now := time.Now().UnixNano()
	last := m.lastPLI.Load()
	if now-last < int64(keyframeRequestGap) || !m.lastPLI.CompareAndSwap(last, now) {
		return false
	}

	ssrc := m.videoSSRC.Load()
	if ssrc == 0 {
		return false
	}

	m.mu.Lock()
	inbound := m.inbound
	m.mu.Unlock()
	if inbound == nil {
		return false
	}

	if err := inbound.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
		inbound.logger.Debug("failed to send PLI", "error", err)
		return false
	}
	return true
}

// onViewerTrack forwards a viewer's upstream media to the producer.
func (m *Manager) onViewerTrack(link *PeerLink, remote *webrtc.TrackRemote) {
	kind := remote.Kind().String()
	local, err := webrtc.NewTrackLocalStaticRTP(remote.Codec().RTPCodecCapability, "talkback-"+kind, "talkback-"+link.ConnID())
	if err != nil {
		link.logger.Error("failed to create talkback track", "error", err)
		return
	}

	m.mu.Lock()
	if m.outbound[link.ConnID()] != link {
		m.mu.Unlock()
		return
	}
	m.talkback[link.ConnID()] = append(m.talkback[link.ConnID()], local)
	inbound := m.inbound
	m.mu.Unlock()

	link.logger.Info("talkback track received", "kind", kind, "codec", remote.Codec().MimeType)

	if inbound != nil {
		if _, err := inbound.addTrack(local); err != nil {
			inbound.logger.Warn("failed to attach talkback track", "error", err)
		}
	}

	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		if err := local.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			return
		}
	}
}

func (m *Manager) attachTalkback(link *PeerLink) {
	m.mu.Lock()
	var tracks []*webrtc.TrackLocalStaticRTP
	for _, t := range m.talkback {
		tracks = append(tracks, t...)
	}
	m.mu.Unlock()

	for _, t := range tracks {
		if _, err := link.addTrack(t); err != nil {
			link.logger.Warn("failed to attach talkback track", "error", err)
		}
	}
}

// caller holds m.mu
func (m *Manager) takeTalkback(viewerID string) []*webrtc.TrackLocalStaticRTP {
	tracks := m.talkback[viewerID]
	delete(m.talkback, viewerID)
	return tracks
}

func detachTalkback(inbound *PeerLink, tracks []*webrtc.TrackLocalStaticRTP) {
	if inbound == nil {
		return
	}
	for _, t := range tracks {
		if err := inbound.removeTrack(t); err != nil {
			inbound.logger.Debug("failed to detach talkback track", "error", err)
		}
	}
}
