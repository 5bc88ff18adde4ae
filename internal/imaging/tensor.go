// Package imaging decodes chest X-ray files into model-ready float tensors.
package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/montanaflynn/stats"
	xdraw "golang.org/x/image/draw"
)

// Channels is the channel count of every tensor produced here (RGB).
const Channels = 3

// Tensor is an image in height × width × channel order.
type Tensor struct {
	H, W, C int
	Data    []float32
}

// NewTensor allocates a zero tensor.
func NewTensor(h, w, c int) *Tensor {
	return &Tensor{H: h, W: w, C: c, Data: make([]float32, h*w*c)}
}

// At returns the value at row y, column x, channel c.
func (t *Tensor) At(y, x, c int) float32 { return t.Data[(y*t.W+x)*t.C+c] }

// Set stores v at row y, column x, channel c.
func (t *Tensor) Set(y, x, c int, v float32) { t.Data[(y*t.W+x)*t.C+c] = v }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	cp := &Tensor{H: t.H, W: t.W, C: t.C, Data: make([]float32, len(t.Data))}
	copy(cp.Data, t.Data)
	return cp
}

// SameShape reports whether t and o have identical dimensions.
func (t *Tensor) SameShape(o *Tensor) bool {
	return t.H == o.H && t.W == o.W && t.C == o.C
}

// FromImage resizes img to h × w with Catmull-Rom resampling and returns its
// RGB values in [0, 255].
func FromImage(img image.Image, h, w int) *Tensor {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)

	t := NewTensor(h, w, Channels)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := dst.PixOffset(x, y)
			t.Set(y, x, 0, float32(dst.Pix[off]))
			t.Set(y, x, 1, float32(dst.Pix[off+1]))
			t.Set(y, x, 2, float32(dst.Pix[off+2]))
		}
	}
	return t
}

// Standardize centres the tensor on its own mean and divides by its own
// standard deviation (plus 1e-6), in place.
func Standardize(t *Tensor) error {
	if len(t.Data) == 0 {
		return errors.New("standardize: empty tensor")
	}
	data := make(stats.Float64Data, len(t.Data))
	for i, v := range t.Data {
		data[i] = float64(v)
	}
	mean, err := stats.Mean(data)
	if err != nil {
		return fmt.Errorf("standardize: %w", err)
	}
	std, err := stats.StandardDeviationPopulation(data)
	if err != nil {
		return fmt.Errorf("standardize: %w", err)
	}
	scale := 1 / (std + 1e-6)
	for i, v := range data {
		t.Data[i] = float32((v - mean) * scale)
	}
	return nil
}

// Gray collapses t to an 8-bit grayscale image, stretching the channel mean
// over the full 0–255 range. Negate flips the intensities.
func Gray(t *Tensor, negate bool) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, t.W, t.H))
	lum := make([]float64, t.H*t.W)
	lo, hi := 0.0, 0.0
	for i := range lum {
		var sum float64
		for c := 0; c < t.C; c++ {
			sum += float64(t.Data[i*t.C+c])
		}
		v := sum / float64(t.C)
		if negate {
			v = -v
		}
		lum[i] = v
		if i == 0 || v < lo {
			lo = v
		}
		if i == 0 || v > hi {
			hi = v
		}
	}
	span := hi - lo
	for i, v := range lum {
		g := 0.0
		if span > 0 {
			g = (v - lo) / span * 255
		}
		img.SetGray(i%t.W, i/t.W, color.Gray{Y: uint8(g + 0.5)})
	}
	return img
}
