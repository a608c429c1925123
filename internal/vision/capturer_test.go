package vision

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pion/rtp"
)

type mockDecoder struct {
	decodeFunc func(data []byte, mimeType string) (*image.YCbCr, error)
	closed     bool
}

func (m *mockDecoder) Decode(data []byte, mimeType string) (*image.YCbCr, error) {
	if m.decodeFunc != nil {
		return m.decodeFunc(data, mimeType)
	}
	return image.NewYCbCr(image.Rect(0, 0, 8, 8), image.YCbCrSubsampleRatio420), nil
}

func (m *mockDecoder) Close() error {
	m.closed = true
	return nil
}

func newTestCapturer(sink FrameSink, dec VideoDecoder, depth int) *FrameCapturer {
	return NewFrameCapturer(CapturerConfig{
		Sink:       sink,
		Decoder:    dec,
		QueueDepth: depth,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestNewFrameCapturer_Defaults(t *testing.T) {
	c := NewFrameCapturer(CapturerConfig{})
	if c == nil {
		t.Fatal("NewFrameCapturer should not return nil")
	}
	if cap(c.packets) != 512 {
		t.Errorf("expected default queue depth 512, got %d", cap(c.packets))
	}
	if _, ok := c.decoder.(*VPXDecoder); !ok {
		t.Error("expected default VP8 decoder")
	}
	if c.logger == nil {
		t.Error("logger should not be nil (default)")
	}
}

func TestFrameCapturer_ProcessSample_Decoded(t *testing.T) {
	c := newTestCapturer(nil, &mockDecoder{}, 4)

	f := c.processSample([]byte{0x00}, "video/VP8")
	if f == nil {
		t.Fatal("expected a frame")
	}
	if f.Seq != 1 || f.Width != 8 || f.Height != 8 {
		t.Errorf("unexpected frame %d %dx%d", f.Seq, f.Width, f.Height)
	}
	if !f.Valid() {
		t.Error("frame should be valid")
	}
}

func TestFrameCapturer_ProcessSample_ReusesLastPicture(t *testing.T) {
	calls := 0
	dec := &mockDecoder{decodeFunc: func([]byte, string) (*image.YCbCr, error) {
		calls++
		if calls == 1 {
			return nil, ErrNotKeyframe
		}
		if calls == 2 {
			return image.NewYCbCr(image.Rect(0, 0, 4, 4), image.YCbCrSubsampleRatio420), nil
		}
		return nil, ErrNotKeyframe
	}}
	c := newTestCapturer(nil, dec, 4)

	if f := c.processSample([]byte{1}, "video/VP8"); f != nil {
		t.Error("no frame should be produced before the first picture")
	}
	first := c.processSample([]byte{0}, "video/VP8")
	if first == nil || first.Seq != 2 {
		t.Fatalf("expected decoded frame seq 2, got %+v", first)
	}
	next := c.processSample([]byte{1}, "video/VP8")
	if next == nil {
		t.Fatal("inter frame should republish the last picture")
	}
	if next.Seq != 3 {
		t.Errorf("expected seq 3, got %d", next.Seq)
	}
	if &next.Data[0] != &first.Data[0] {
		t.Error("republished frame should share the last picture's bytes")
	}

	frames, decoded, _ := c.Stats()
	if frames != 3 || decoded != 1 {
		t.Errorf("expected 3 frames and 1 decoded, got %d and %d", frames, decoded)
	}
}

func TestFrameCapturer_ProcessSample_DecodeError(t *testing.T) {
	dec := &mockDecoder{decodeFunc: func([]byte, string) (*image.YCbCr, error) {
		return nil, errors.New("corrupt")
	}}
	c := newTestCapturer(nil, dec, 4)
	if f := c.processSample([]byte{0}, "video/VP8"); f != nil {
		t.Error("expected nil frame")
	}
}

func TestFrameCapturer_HandleRTPPacket_DropsWhenFull(t *testing.T) {
	c := newTestCapturer(nil, &mockDecoder{}, 2)
	for i := 0; i < 5; i++ {
		c.HandleRTPPacket(&rtp.Packet{Header: rtp.Header{SequenceNumber: uint16(i)}}, "video/VP8")
	}
	_, _, dropped := c.Stats()
	if dropped != 3 {
		t.Errorf("expected 3 dropped packets, got %d", dropped)
	}
}

func TestFrameCapturer_UnsupportedCodec(t *testing.T) {
	sink := &recordingSink{}
	c := newTestCapturer(sink, &mockDecoder{}, 4)

	for _, mime := range []string{"video/AV1", "video/H264", "video/VP9"} {
		c.push(&rtp.Packet{Payload: []byte{1, 2, 3}}, mime)
		if c.sampleBuilder != nil {
			t.Errorf("no sample builder should exist for %s", mime)
		}
	}
	if sink.count() != 0 {
		t.Error("no frames expected")
	}
}

func TestFrameCapturer_RunStopsOnCancel(t *testing.T) {
	c := newTestCapturer(nil, &mockDecoder{}, 4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	c.HandleRTPPacket(&rtp.Packet{Payload: []byte{0x10, 0x00}}, "video/VP8")
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestFrameCapturer_StopAndReset(t *testing.T) {
	dec := &mockDecoder{}
	c := newTestCapturer(nil, dec, 4)

	c.push(&rtp.Packet{Payload: []byte{0x10, 0x00}}, "video/VP8")
	if c.sampleBuilder == nil {
		t.Fatal("sample builder should be created for VP8")
	}
	c.Reset()
	if c.sampleBuilder != nil || c.mimeType != "" {
		t.Error("Reset should clear the sample builder")
	}

	c.Stop()
	if !dec.closed {
		t.Error("decoder should be closed")
	}
	c.push(&rtp.Packet{Payload: []byte{0x10, 0x00}}, "video/VP8")
	if c.sampleBuilder != nil {
		t.Error("stopped capturer should ignore packets")
	}
}

func TestVPXDecoder_Errors(t *testing.T) {
	d := NewVPXDecoder()
	if _, err := d.Decode(nil, "video/VP8"); err == nil {
		t.Error("expected error for empty data")
	}
	if _, err := d.Decode([]byte{0}, "video/H264"); err == nil {
		t.Error("expected error for unsupported codec")
	}
	if _, err := d.Decode([]byte{0x01, 0, 0}, "video/VP8"); !errors.Is(err, ErrNotKeyframe) {
		t.Errorf("expected ErrNotKeyframe, got %v", err)
	}
	if _, err := d.Decode([]byte{0x00, 0x00}, "video/VP8"); err == nil {
		t.Error("expected error for truncated key frame")
	}
}
