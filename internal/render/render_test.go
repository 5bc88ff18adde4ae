package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/vg"

	"cxr/internal/explain"
	"cxr/internal/imaging"
)

func gradient(h, w int) *imaging.Tensor {
	t := imaging.NewTensor(h, w, imaging.Channels)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < imaging.Channels; c++ {
				t.Set(y, x, c, float32(x+y))
			}
		}
	}
	return t
}

func signedMap(h, w int, sign float64) *explain.Map {
	m := &explain.Map{H: h, W: w, Values: make([]float64, h*w)}
	for i := range m.Values {
		m.Values[i] = sign * float64(i%7) / 100
	}
	return m
}

func result(images, h, w int) *explain.Result {
	res := &explain.Result{Expected: []float64{0.4, 0.6}}
	res.Maps = make([][]*explain.Map, 2)
	for i := 0; i < images; i++ {
		res.Predictions = append(res.Predictions, []float64{0.3, 0.7})
		res.Maps[0] = append(res.Maps[0], signedMap(h, w, -1))
		res.Maps[1] = append(res.Maps[1], signedMap(h, w, 1))
	}
	return res
}

func TestImagePlot_WritesGridPNG(t *testing.T) {
	images := []*imaging.Tensor{gradient(16, 16), gradient(16, 16)}
	res := result(2, 16, 16)

	var buf bytes.Buffer
	p := Plotter{Cell: vg.Inch, Bar: vg.Inch / 2, DPI: 50, Negate: true}
	require.NoError(t, p.ImagePlot(&buf, images, res, []string{"non-COVID", "COVID"}))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	// three columns (input + two classes) and two rows plus the colour bar
	assert.Equal(t, 150, img.Bounds().Dx())
	assert.Equal(t, 125, img.Bounds().Dy())
}

func TestImagePlot_DefaultSize(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ImagePlot(&buf, []*imaging.Tensor{gradient(8, 8)}, result(1, 8, 8), []string{"a", "b"}))
	cfg, err := png.DecodeConfig(&buf)
	require.NoError(t, err)
	assert.Greater(t, cfg.Width, cfg.Height)
}

func TestImagePlot_Errors(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, ImagePlot(&buf, nil, result(0, 4, 4), []string{"a", "b"}), ErrNothingToRender)

	images := []*imaging.Tensor{gradient(4, 4)}
	assert.Error(t, ImagePlot(&buf, images, result(1, 4, 4), []string{"only-one"}))
	assert.Error(t, ImagePlot(&buf, images, result(2, 4, 4), []string{"a", "b"}))
	assert.Error(t, ImagePlot(&buf, images, result(1, 5, 4), []string{"a", "b"}))
	assert.Zero(t, buf.Len())
}

func TestScale(t *testing.T) {
	res := result(1, 10, 10)
	limit, err := Scale(res)
	require.NoError(t, err)
	assert.InDelta(t, 0.06, limit, 1e-9)

	zero := &explain.Result{Maps: [][]*explain.Map{{{H: 1, W: 2, Values: []float64{0, 0}}}}}
	limit, err = Scale(zero)
	require.NoError(t, err)
	assert.Equal(t, 1.0, limit)

	_, err = Scale(&explain.Result{})
	assert.ErrorIs(t, err, ErrNothingToRender)
}

func TestComposite(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 3, 1))
	for x := 0; x < 3; x++ {
		gray.SetGray(x, 0, color.Gray{Y: 255})
	}
	m := &explain.Map{H: 1, W: 3, Values: []float64{-1, 0, 1}}
	cmap := moreland.SmoothBlueRed()
	cmap.SetMin(-1)
	cmap.SetMax(1)

	out, err := composite(gray, m, cmap, 1)
	require.NoError(t, err)

	neg, mid, pos := out.RGBAAt(0, 0), out.RGBAAt(1, 0), out.RGBAAt(2, 0)
	assert.Greater(t, neg.B, neg.R, "negative attribution is blue")
	assert.Greater(t, pos.R, pos.B, "positive attribution is red")
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, mid, "zero attribution leaves the base")
}
