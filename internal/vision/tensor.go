package vision

import (
	"image"

	"golang.org/x/image/draw"
)

// Tensor converts the frame to RGB, scales it to size x size with bilinear
// interpolation and returns the pixels as float32 in [0,1], laid out
// height, width, channel.
func Tensor(frame *Frame, size int) []float32 {
	if size <= 0 {
		size = DefaultInputSize
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	src := frame.Image()
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	out := make([]float32, size*size*3)
	j := 0
	for i := 0; i < len(dst.Pix); i += 4 {
		out[j] = float32(dst.Pix[i]) / 255
		out[j+1] = float32(dst.Pix[i+1]) / 255
		out[j+2] = float32(dst.Pix[i+2]) / 255
		j += 3
	}
	return out
}
