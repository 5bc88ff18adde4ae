// Package render draws attribution overlays as PNG image grids.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"cxr/internal/explain"
	"cxr/internal/imaging"
)

// ErrNothingToRender is returned for an empty batch.
var ErrNothingToRender = errors.New("nothing to render")

const (
	// scalePercentile clips the colour scale so a few extreme pixels do not
	// wash out the rest of the overlay.
	scalePercentile = 99.9
	// baseOpacity is how strongly the grayscale image shows under an overlay.
	baseOpacity = 0.15
)

// Plotter lays out one row per image: the grayscale input, then one overlay
// per class. Zero values pick the defaults.
type Plotter struct {
	Cell   vg.Length // edge of one panel
	Bar    vg.Length // height of the colour bar strip
	DPI    int
	Negate bool // draw the input with inverted intensities
}

// ImagePlot renders with the default Plotter and inverted inputs.
func ImagePlot(w io.Writer, images []*imaging.Tensor, res *explain.Result, classNames []string) error {
	return Plotter{Negate: true}.ImagePlot(w, images, res, classNames)
}

func (p Plotter) withDefaults() Plotter {
	if p.Cell <= 0 {
		p.Cell = 2 * vg.Inch
	}
	if p.Bar <= 0 {
		p.Bar = 0.6 * vg.Inch
	}
	if p.DPI <= 0 {
		p.DPI = vgimg.DefaultDPI
	}
	return p
}

// ImagePlot writes the grid as PNG to w.
func (p Plotter) ImagePlot(w io.Writer, images []*imaging.Tensor, res *explain.Result, classNames []string) error {
	if len(images) == 0 || res == nil {
		return ErrNothingToRender
	}
	if len(res.Maps) != len(classNames) {
		return fmt.Errorf("render: %d attribution classes, %d class names", len(res.Maps), len(classNames))
	}
	for k, maps := range res.Maps {
		if len(maps) != len(images) {
			return fmt.Errorf("render: class %q has %d maps for %d images", classNames[k], len(maps), len(images))
		}
	}
	p = p.withDefaults()

	limit, err := Scale(res)
	if err != nil {
		return err
	}
	cmap := moreland.SmoothBlueRed()
	cmap.SetMin(-limit)
	cmap.SetMax(limit)

	rows, cols := len(images), 1+len(classNames)
	plots := make([][]*plot.Plot, rows)
	for i, img := range images {
		gray := imaging.Gray(img, p.Negate)
		plots[i] = make([]*plot.Plot, cols)
		plots[i][0] = panel(gray)
		for k := range classNames {
			overlay, err := composite(gray, res.Maps[k][i], cmap, limit)
			if err != nil {
				return fmt.Errorf("render %s overlay of image %d: %w", classNames[k], i, err)
			}
			plots[i][k+1] = panel(overlay)
		}
	}
	for k, name := range classNames {
		plots[0][k+1].Title.Text = name
	}
	plots[0][0].Title.Text = "input"

	width := vg.Length(cols) * p.Cell
	height := vg.Length(rows)*p.Cell + p.Bar
	canvas := vgimg.NewWith(vgimg.UseWH(width, height), vgimg.UseDPI(p.DPI))
	dc := draw.New(canvas)

	grid := draw.Crop(dc, 0, 0, p.Bar, 0)
	tiles := draw.Tiles{Rows: rows, Cols: cols, PadX: vg.Millimeter, PadY: vg.Millimeter}
	canvases := plot.Align(plots, tiles, grid)
	for i := range plots {
		for j := range plots[i] {
			plots[i][j].Draw(canvases[i][j])
		}
	}

	colorBar(cmap).Draw(draw.Crop(dc, 0, 0, 0, -(height - p.Bar)))

	if _, err := (vgimg.PngCanvas{Canvas: canvas}).WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}

// Scale returns the symmetric colour limit shared by every overlay: the
// 99.9th percentile of absolute attributions over all maps.
func Scale(res *explain.Result) (float64, error) {
	var abs stats.Float64Data
	for _, maps := range res.Maps {
		for _, m := range maps {
			for _, v := range m.Values {
				abs = append(abs, math.Abs(v))
			}
		}
	}
	if len(abs) == 0 {
		return 0, ErrNothingToRender
	}
	limit, err := stats.Percentile(abs, scalePercentile)
	if err != nil {
		return 0, fmt.Errorf("attribution scale: %w", err)
	}
	if limit <= 0 {
		// all-zero attributions still need a non-degenerate scale
		limit = 1
	}
	return limit, nil
}

func panel(img image.Image) *plot.Plot {
	b := img.Bounds()
	pl := plot.New()
	pl.HideAxes()
	pl.Add(plotter.NewImage(img, 0, 0, float64(b.Dx()), float64(b.Dy())))
	return pl
}

// composite blends a faded grayscale base with the attribution colours.
// Opacity follows |value| / limit so neutral pixels leave the base visible.
func composite(gray *image.Gray, m *explain.Map, cmap palette.DivergingColorMap, limit float64) (*image.RGBA, error) {
	b := gray.Bounds()
	if m.W != b.Dx() || m.H != b.Dy() {
		return nil, fmt.Errorf("map is %dx%d, image is %dx%d", m.H, m.W, b.Dy(), b.Dx())
	}
	out := image.NewRGBA(b)
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			base := 255 - baseOpacity*(255-float64(gray.GrayAt(x, y).Y))
			v := math.Max(-limit, math.Min(limit, m.At(y, x)))
			c, err := cmap.At(v)
			if err != nil {
				return nil, err
			}
			r, g, bl, _ := c.RGBA()
			a := math.Abs(v) / limit
			out.SetRGBA(x, y, color.RGBA{
				R: blend(base, r, a),
				G: blend(base, g, a),
				B: blend(base, bl, a),
				A: 255,
			})
		}
	}
	return out, nil
}

func blend(base float64, c uint32, a float64) uint8 {
	v := (1-a)*base + a*float64(c>>8)
	return uint8(math.Round(math.Max(0, math.Min(255, v))))
}

func colorBar(cmap palette.ColorMap) *plot.Plot {
	pl := plot.New()
	pl.HideY()
	pl.X.Label.Text = "SHAP value"
	pl.X.Padding = 0
	pl.Add(&plotter.ColorBar{ColorMap: cmap, Colors: 64})
	return pl
}
