package vision

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
)

// FrameSink receives every reconstructed video frame. Implementations must
// return quickly.
type FrameSink interface {
	OnFrame(frame *Frame)
}

// FrameCapturer turns inbound video RTP into frames. Packets are queued
// without blocking the track reader; when the queue is full the packet is
// dropped.
type FrameCapturer struct {
	sink    FrameSink
	decoder VideoDecoder
	logger  *slog.Logger

	packets chan capturedPacket

	mu            sync.Mutex
	sampleBuilder *samplebuilder.SampleBuilder
	mimeType      string
	lastPicture   *Frame
	stopped       bool

	seq     atomic.Uint64
	dropped atomic.Uint64
	decoded atomic.Uint64
}

type capturedPacket struct {
	pkt      *rtp.Packet
	mimeType string
}

type CapturerConfig struct {
	Sink       FrameSink
	Decoder    VideoDecoder
	QueueDepth int
	Logger     *slog.Logger
}

func NewFrameCapturer(cfg CapturerConfig) *FrameCapturer {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 512
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Decoder == nil {
		cfg.Decoder = NewVPXDecoder()
	}

	return &FrameCapturer{
		sink:    cfg.Sink,
		decoder: cfg.Decoder,
		logger:  cfg.Logger.With("component", "frame-capturer"),
		packets: make(chan capturedPacket, cfg.QueueDepth),
	}
}

// HandleRTPPacket queues pkt for frame reconstruction. pkt must not be
// reused by the caller.
func (c *FrameCapturer) HandleRTPPacket(pkt *rtp.Packet, mimeType string) {
	select {
	case c.packets <- capturedPacket{pkt: pkt, mimeType: mimeType}:
	default:
		c.dropped.Add(1)
	}
}

func (c *FrameCapturer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-c.packets:
			c.push(p.pkt, p.mimeType)
		}
	}
}

// Reset forgets partially assembled samples. The next producer stream starts
// from a clean sample builder.
func (c *FrameCapturer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sampleBuilder = nil
	c.mimeType = ""
}

func (c *FrameCapturer) push(pkt *rtp.Packet, mimeType string) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}

	if c.sampleBuilder == nil || c.mimeType != mimeType {
		c.mimeType = mimeType
		c.sampleBuilder = c.createSampleBuilder(mimeType)
		if c.sampleBuilder == nil {
			c.mu.Unlock()
			return
		}
	}

	c.sampleBuilder.Push(pkt)

	var frames []*Frame
	for {
		sample := c.sampleBuilder.Pop()
		if sample == nil {
			break
		}
		if f := c.processSample(sample.Data, mimeType); f != nil {
			frames = append(frames, f)
		}
	}
	c.mu.Unlock()

	if c.sink == nil {
		return
	}
	for _, f := range frames {
		c.sink.OnFrame(f)
	}
}

func (c *FrameCapturer) createSampleBuilder(mimeType string) *samplebuilder.SampleBuilder {
	switch mimeType {
	case "video/VP8":
		return samplebuilder.New(64, &codecs.VP8Packet{}, 90000)
	default:
		c.logger.Warn("unsupported video codec", "mime_type", mimeType)
		return nil
	}
}

// processSample decodes a sample and returns the frame to publish for it.
// Every sample yields a frame once a first picture has been decoded; samples
// that cannot be decoded republish the last picture under a new sequence
// number so frame counting follows the stream rate.
func (c *FrameCapturer) processSample(data []byte, mimeType string) *Frame {
	now := time.Now()
	seq := c.seq.Add(1)

	img, err := c.decoder.Decode(data, mimeType)
	if err == nil {
		c.decoded.Add(1)
		c.lastPicture = NewFrame(img, seq, now)
		return c.lastPicture
	}
	if !errors.Is(err, ErrNotKeyframe) {
		c.logger.Debug("frame decode failed", "error", err)
	}

	if c.lastPicture == nil {
		return nil
	}
	return &Frame{
		Seq:       seq,
		Timestamp: now.UnixMilli(),
		Width:     c.lastPicture.Width,
		Height:    c.lastPicture.Height,
		Data:      c.lastPicture.Data,
	}
}

func (c *FrameCapturer) Stats() (frames, decoded, dropped uint64) {
	return c.seq.Load(), c.decoded.Load(), c.dropped.Load()
}

func (c *FrameCapturer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.decoder != nil {
		_ = c.decoder.Close()
	}
}
