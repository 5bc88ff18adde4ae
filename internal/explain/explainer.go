package explain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"cxr/internal/imaging"
	"cxr/internal/logging"
	"cxr/internal/model"
)

// Options controls the attribution run.
type Options struct {
	PatchSize int // feature edge in pixels
	NSamples  int // coalition budget per image
	Workers   int // concurrent coalition evaluations
	BatchSize int // tensors per Predict call
	Seed      int64
}

func (o *Options) normalize() {
	if o.PatchSize < 1 {
		o.PatchSize = 16
	}
	if o.NSamples < 2 {
		o.NSamples = 2048
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.BatchSize < 1 {
		o.BatchSize = 32
	}
}

// Map is a per-pixel attribution array for one image and one class.
type Map struct {
	H, W   int
	Values []float64
}

// At returns the attribution of pixel (y, x).
func (m *Map) At(y, x int) float64 { return m.Values[y*m.W+x] }

// Sum returns the total attribution over all pixels.
func (m *Map) Sum() float64 {
	var s float64
	for _, v := range m.Values {
		s += v
	}
	return s
}

// MaxAbs returns the largest absolute attribution.
func (m *Map) MaxAbs() float64 {
	var best float64
	for _, v := range m.Values {
		best = math.Max(best, math.Abs(v))
	}
	return best
}

// Attribution is the explanation of one image.
type Attribution struct {
	Prediction []float64   // f(x) per class
	Features   [][]float64 // [class][patch] SHAP values
	Maps       []*Map      // per class
}

// Result holds the explanations of a batch, indexed [class][image] like the
// per-class arrays of the Python SHAP API.
type Result struct {
	Expected    []float64   // E[f(background)] per class
	Predictions [][]float64 // [image][class]
	Maps        [][]*Map    // [class][image]
}

// Explainer attributes classifier outputs to image patches against a fixed background.
type Explainer struct {
	model      model.Classifier
	background []*imaging.Tensor
	expected   []float64
	grid       *grid
	opts       Options
	rng        *rand.Rand
	log        *slog.Logger
}

// New validates the background against the model and computes the expected
// model output over it.
func New(ctx context.Context, m model.Classifier, background []*imaging.Tensor, opts Options) (*Explainer, error) {
	if len(background) == 0 {
		return nil, ErrEmptyBackground
	}
	if err := model.CheckBatch(m, background); err != nil {
		return nil, fmt.Errorf("background: %w", err)
	}
	opts.normalize()
	h, w, _ := m.InputShape()
	e := &Explainer{
		model:      m,
		background: background,
		grid:       newGrid(h, w, opts.PatchSize),
		opts:       opts,
		rng:        rand.New(rand.NewSource(opts.Seed)),
		log:        logging.New("explain"),
	}

	preds, err := e.predict(ctx, background)
	if err != nil {
		return nil, fmt.Errorf("background predictions: %w", err)
	}
	e.expected = mean(preds, m.NumClasses())
	e.log.Info("explainer ready",
		"background", len(background),
		"patches", e.grid.features(),
		"patch_size", opts.PatchSize,
		"expected", e.expected,
	)
	return e, nil
}

// Expected returns E[f(background)] per class.
func (e *Explainer) Expected() []float64 {
	return append([]float64(nil), e.expected...)
}

// Explain attributes every image and collects the per-class maps.
func (e *Explainer) Explain(ctx context.Context, images []*imaging.Tensor) (*Result, error) {
	atts := make([]*Attribution, len(images))
	for i, img := range images {
		a, err := e.ExplainImage(ctx, img)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		atts[i] = a
	}
	return Collect(e.Expected(), atts), nil
}

// Collect arranges per-image attributions into a Result.
func Collect(expected []float64, atts []*Attribution) *Result {
	r := &Result{Expected: expected, Predictions: make([][]float64, len(atts))}
	r.Maps = make([][]*Map, len(expected))
	for k := range r.Maps {
		r.Maps[k] = make([]*Map, len(atts))
	}
	for i, a := range atts {
		r.Predictions[i] = a.Prediction
		for k, m := range a.Maps {
			r.Maps[k][i] = m
		}
	}
	return r
}

// ExplainImage computes the SHAP values of one image.
func (e *Explainer) ExplainImage(ctx context.Context, img *imaging.Tensor) (*Attribution, error) {
	if err := model.CheckBatch(e.model, []*imaging.Tensor{img}); err != nil {
		return nil, err
	}
	fx, err := e.model.Predict(ctx, []*imaging.Tensor{img})
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	classes := e.model.NumClasses()
	delta := make([]float64, classes)
	for k := range delta {
		delta[k] = fx[0][k] - e.expected[k]
	}

	m := e.grid.features()
	var phi [][]float64
	if m == 1 {
		phi = make([][]float64, classes)
		for k := range phi {
			phi[k] = []float64{delta[k]}
		}
	} else {
		cs := coalitions(m, e.opts.NSamples, e.rng)
		values, err := e.evaluate(ctx, img, cs)
		if err != nil {
			return nil, err
		}
		phi, err = e.regress(cs, values, delta)
		if err != nil {
			return nil, err
		}
	}

	maps := make([]*Map, classes)
	for k := range maps {
		maps[k] = e.spread(phi[k])
	}
	return &Attribution{Prediction: fx[0], Features: phi, Maps: maps}, nil
}

// evaluate returns, for every coalition, the background-averaged model
// output minus the expected output.
func (e *Explainer) evaluate(ctx context.Context, img *imaging.Tensor, cs []coalition) ([][]float64, error) {
	out := make([][]float64, len(cs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, c := range cs {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			v, err := e.coalitionValue(gCtx, img, c.mask)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("evaluate coalitions: %w", err)
	}
	return out, nil
}

var tensorPool sync.Pool

func (e *Explainer) coalitionValue(ctx context.Context, img *imaging.Tensor, mask []bool) ([]float64, error) {
	sum := make([]float64, e.model.NumClasses())
	buf := make([]*imaging.Tensor, min(e.opts.BatchSize, len(e.background)))
	for i := range buf {
		buf[i] = e.borrow(img)
	}
	defer func() {
		for _, t := range buf {
			tensorPool.Put(t)
		}
	}()

	for start := 0; start < len(e.background); start += e.opts.BatchSize {
		end := min(start+e.opts.BatchSize, len(e.background))
		chunk := buf[:end-start]
		for i, b := range e.background[start:end] {
			e.compose(chunk[i], img, b, mask)
		}
		preds, err := e.model.Predict(ctx, chunk)
		if err != nil {
			return nil, err
		}
		for _, p := range preds {
			for k := range sum {
				sum[k] += p[k]
			}
		}
	}
	for k := range sum {
		sum[k] = sum[k]/float64(len(e.background)) - e.expected[k]
	}
	return sum, nil
}

func (e *Explainer) borrow(like *imaging.Tensor) *imaging.Tensor {
	if t, ok := tensorPool.Get().(*imaging.Tensor); ok && t.SameShape(like) {
		return t
	}
	return imaging.NewTensor(like.H, like.W, like.C)
}

// compose writes into dst the pixels of img for patches in mask and the
// pixels of bg elsewhere.
func (e *Explainer) compose(dst, img, bg *imaging.Tensor, mask []bool) {
	c := img.C
	for p, f := range e.grid.feature {
		src := bg
		if mask[f] {
			src = img
		}
		copy(dst.Data[p*c:(p+1)*c], src.Data[p*c:(p+1)*c])
	}
}

// regress solves the constrained weighted least squares of Kernel SHAP for
// every class. The last feature is eliminated through
// phi_M = delta - sum(phi_1..phi_M-1).
func (e *Explainer) regress(cs []coalition, values [][]float64, delta []float64) ([][]float64, error) {
	m := e.grid.features()
	classes := len(delta)
	n := len(cs)

	x := mat.NewDense(n, m-1, nil)
	y := mat.NewDense(n, classes, nil)
	for r, c := range cs {
		sw := math.Sqrt(c.weight)
		last := 0.0
		if c.mask[m-1] {
			last = 1
		}
		for j := 0; j < m-1; j++ {
			zj := 0.0
			if c.mask[j] {
				zj = 1
			}
			x.Set(r, j, sw*(zj-last))
		}
		for k := 0; k < classes; k++ {
			y.Set(r, k, sw*(values[r][k]-last*delta[k]))
		}
	}

	var sol mat.Dense
	if err := sol.Solve(x, y); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("solve shap regression: %w", err)
		}
		e.log.Warn("ill-conditioned shap regression; raise EXPLAIN.N_SAMPLES", "condition", float64(cond))
	}

	phi := make([][]float64, classes)
	for k := 0; k < classes; k++ {
		phi[k] = make([]float64, m)
		rest := delta[k]
		for j := 0; j < m-1; j++ {
			phi[k][j] = sol.At(j, k)
			rest -= phi[k][j]
		}
		phi[k][m-1] = rest
	}
	return phi, nil
}

// spread distributes each patch value evenly over the patch's pixels.
func (e *Explainer) spread(phi []float64) *Map {
	g := e.grid
	m := &Map{H: g.h, W: g.w, Values: make([]float64, g.h*g.w)}
	for p, f := range g.feature {
		m.Values[p] = phi[f] / float64(g.area[f])
	}
	return m
}

func (e *Explainer) predict(ctx context.Context, batch []*imaging.Tensor) ([][]float64, error) {
	var out [][]float64
	for start := 0; start < len(batch); start += e.opts.BatchSize {
		end := min(start+e.opts.BatchSize, len(batch))
		preds, err := e.model.Predict(ctx, batch[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, preds...)
	}
	return out, nil
}

func mean(rows [][]float64, width int) []float64 {
	out := make([]float64, width)
	for _, r := range rows {
		for k := range out {
			out[k] += r[k]
		}
	}
	for k := range out {
		out[k] /= float64(len(rows))
	}
	return out
}
