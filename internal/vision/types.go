package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"time"
)

const (
	DefaultSampleInterval = 70
	DefaultInputSize      = 640
)

type Config struct {
	InferenceURL   string
	Timeout        time.Duration
	SampleInterval int
	InputSize      int
	ScoreThreshold float64
	HistoryTTL     time.Duration
	HistorySize    int
}

// Frame is one decoded video picture in planar I420 layout: the full
// resolution Y plane followed by the quarter resolution U and V planes.
// A Frame is never mutated after construction.
type Frame struct {
	Seq       uint64
	Timestamp int64
	Width     int
	Height    int
	Data      []byte
}

func chromaSize(width, height int) (int, int) {
	return (width + 1) / 2, (height + 1) / 2
}

// I420Size is the byte length of an I420 picture with the given dimensions.
func I420Size(width, height int) int {
	cw, ch := chromaSize(width, height)
	return width*height + 2*cw*ch
}

// NewFrame copies the planes of img into a new I420 frame. img must use
// 4:2:0 chroma subsampling.
func NewFrame(img *image.YCbCr, seq uint64, ts time.Time) *Frame {
	b := img.Rect
	w, h := b.Dx(), b.Dy()
	cw, ch := chromaSize(w, h)

	data := make([]byte, I420Size(w, h))
	off := 0
	for y := 0; y < h; y++ {
		start := img.YOffset(b.Min.X, b.Min.Y+y)
		copy(data[off:off+w], img.Y[start:start+w])
		off += w
	}
	for _, plane := range [][]byte{img.Cb, img.Cr} {
		for y := 0; y < ch; y++ {
			start := img.COffset(b.Min.X, b.Min.Y+2*y)
			copy(data[off:off+cw], plane[start:start+cw])
			off += cw
		}
	}

	return &Frame{
		Seq:       seq,
		Timestamp: ts.UnixMilli(),
		Width:     w,
		Height:    h,
		Data:      data,
	}
}

// Image returns a view of the frame as an image.YCbCr sharing its bytes.
// Callers must not write to the returned image.
func (f *Frame) Image() *image.YCbCr {
	cw, ch := chromaSize(f.Width, f.Height)
	ySize := f.Width * f.Height
	cSize := cw * ch
	return &image.YCbCr{
		Y:              f.Data[:ySize],
		Cb:             f.Data[ySize : ySize+cSize],
		Cr:             f.Data[ySize+cSize : ySize+2*cSize],
		YStride:        f.Width,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, f.Width, f.Height),
	}
}

func (f *Frame) Valid() bool {
	return f != nil && f.Width > 0 && f.Height > 0 && len(f.Data) == I420Size(f.Width, f.Height)
}

// Detection is one summarized object class found in a sampled frame.
type Detection struct {
	Class      string   `json:"class"`
	Count      int      `json:"count"`
	Confidence []string `json:"confidence"`
}

// Report is a summarized inference result tied to the frame it came from.
type Report struct {
	FrameSeq   uint64      `json:"frame_seq"`
	Timestamp  int64       `json:"timestamp"`
	Detections []Detection `json:"detections"`
}

// PNG encodes the frame as a PNG image.
func (f *Frame) PNG() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("invalid frame %dx%d with %d bytes", f.Width, f.Height, len(f.Data))
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, f.Image()); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
