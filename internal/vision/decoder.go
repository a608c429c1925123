package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"sync"

	"golang.org/x/image/vp8"
)

var ErrNotKeyframe = errors.New("vp8: not a key frame")

type VideoDecoder interface {
	Decode(data []byte, mimeType string) (*image.YCbCr, error)
	Close() error
}

// VPXDecoder decodes VP8 key frames. Inter frames are reported with
// ErrNotKeyframe; the capturer keeps the most recent key frame picture.
type VPXDecoder struct {
	mu      sync.Mutex
	decoder *vp8.Decoder
}

func NewVPXDecoder() *VPXDecoder {
	return &VPXDecoder{decoder: vp8.NewDecoder()}
}

func (d *VPXDecoder) Decode(data []byte, mimeType string) (*image.YCbCr, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(data) == 0 {
		return nil, fmt.Errorf("empty frame data")
	}
	if mimeType != "video/VP8" {
		return nil, fmt.Errorf("unsupported codec: %s (only VP8 supported)", mimeType)
	}
	if data[0]&0x01 != 0 {
		return nil, ErrNotKeyframe
	}

	d.decoder.Init(bytes.NewReader(data), len(data))

	fh, err := d.decoder.DecodeFrameHeader()
	if err != nil {
		return nil, fmt.Errorf("decode frame header: %w", err)
	}
	if fh.Width == 0 || fh.Height == 0 {
		return nil, fmt.Errorf("invalid frame dimensions: %dx%d", fh.Width, fh.Height)
	}

	img, err := d.decoder.DecodeFrame()
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

func (d *VPXDecoder) Close() error {
	return nil
}
