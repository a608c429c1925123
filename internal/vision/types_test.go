package vision

import (
	"bytes"
	"image"
	"image/png"
	"testing"
	"time"
)

func newTestFrame(w, h int, seq uint64) *Frame {
	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	for i := range img.Y {
		img.Y[i] = byte(i % 251)
	}
	for i := range img.Cb {
		img.Cb[i] = 128
		img.Cr[i] = 128
	}
	return NewFrame(img, seq, time.UnixMilli(1000))
}

func TestI420Size(t *testing.T) {
	tests := []struct {
		w, h, want int
	}{
		{4, 4, 16 + 2*4},
		{640, 480, 640*480 + 2*320*240},
		{5, 3, 15 + 2*3*2},
	}
	for _, tt := range tests {
		if got := I420Size(tt.w, tt.h); got != tt.want {
			t.Errorf("I420Size(%d,%d) = %d, want %d", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestNewFrame_CopiesPlanes(t *testing.T) {
	img := image.NewYCbCr(image.Rect(0, 0, 4, 2), image.YCbCrSubsampleRatio420)
	for i := range img.Y {
		img.Y[i] = byte(i + 1)
	}
	img.Cb[0], img.Cb[1] = 10, 11
	img.Cr[0], img.Cr[1] = 20, 21

	f := NewFrame(img, 7, time.UnixMilli(42))
	if f.Seq != 7 || f.Timestamp != 42 {
		t.Errorf("unexpected seq/timestamp %d/%d", f.Seq, f.Timestamp)
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 10, 11, 20, 21}
	if !bytes.Equal(f.Data, want) {
		t.Errorf("expected %v, got %v", want, f.Data)
	}

	img.Y[0] = 99
	if f.Data[0] != 1 {
		t.Error("frame should not alias the source image")
	}
}

func TestNewFrame_SubImage(t *testing.T) {
	img := image.NewYCbCr(image.Rect(0, 0, 8, 8), image.YCbCrSubsampleRatio420)
	for i := range img.Y {
		img.Y[i] = byte(i)
	}
	sub := img.SubImage(image.Rect(2, 2, 6, 6)).(*image.YCbCr)

	f := NewFrame(sub, 1, time.Now())
	if f.Width != 4 || f.Height != 4 {
		t.Fatalf("expected 4x4, got %dx%d", f.Width, f.Height)
	}
	if f.Data[0] != img.Y[2*8+2] {
		t.Errorf("expected first luma %d, got %d", img.Y[2*8+2], f.Data[0])
	}
}

func TestFrame_ImageRoundTrip(t *testing.T) {
	f := newTestFrame(16, 8, 1)
	again := NewFrame(f.Image(), 1, time.UnixMilli(f.Timestamp))
	if !bytes.Equal(f.Data, again.Data) {
		t.Error("Image view should reproduce the same planes")
	}
}

func TestFrame_Valid(t *testing.T) {
	if (*Frame)(nil).Valid() {
		t.Error("nil frame should be invalid")
	}
	if (&Frame{Width: 4, Height: 4, Data: make([]byte, 3)}).Valid() {
		t.Error("short data should be invalid")
	}
	if !newTestFrame(4, 4, 1).Valid() {
		t.Error("constructed frame should be valid")
	}
}

func TestFrame_PNG(t *testing.T) {
	f := newTestFrame(16, 16, 1)
	data, err := f.PNG()
	if err != nil {
		t.Fatalf("PNG failed: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 16 {
		t.Errorf("unexpected bounds %v", img.Bounds())
	}

	if _, err := (&Frame{Width: 2, Height: 2}).PNG(); err == nil {
		t.Error("expected error for invalid frame")
	}
}
