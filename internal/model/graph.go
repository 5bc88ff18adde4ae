//go:build tensorflow

package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	tf "github.com/kiteco/tensorflow/tensorflow/go"

	"cxr/internal/imaging"
	"cxr/internal/logging"
)

// Graph runs a frozen TensorFlow GraphDef (variables folded into constants),
// fed through MODEL.INPUT_OP and read from MODEL.OUTPUT_OP.
type Graph struct {
	mu      sync.Mutex
	graph   *tf.Graph
	session *tf.Session
	input   tf.Output
	output  tf.Output

	h, w, c int
	classes int
}

func openGraph(path string, opts Options) (Classifier, error) {
	if opts.InputOp == "" || opts.OutputOp == "" {
		return nil, errors.New("graph model: MODEL.INPUT_OP and MODEL.OUTPUT_OP are required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	graph := tf.NewGraph()
	if err := graph.Import(data, ""); err != nil {
		return nil, fmt.Errorf("import graph: %w", err)
	}
	inOp := graph.Operation(opts.InputOp)
	if inOp == nil {
		graph.Delete()
		return nil, fmt.Errorf("graph model: no input op %q", opts.InputOp)
	}
	outOp := graph.Operation(opts.OutputOp)
	if outOp == nil {
		graph.Delete()
		return nil, fmt.Errorf("graph model: no output op %q", opts.OutputOp)
	}
	sess, err := tf.NewSession(graph, nil)
	if err != nil {
		graph.Delete()
		return nil, fmt.Errorf("create session: %w", err)
	}

	g := &Graph{
		graph:   graph,
		session: sess,
		input:   inOp.Output(0),
		output:  outOp.Output(0),
		h:       opts.Height,
		w:       opts.Width,
		c:       imaging.Channels,
		classes: opts.Classes,
	}
	// NHWC input, [batch, classes] output; unknown dims stay at the configured values
	if shape := g.input.Shape(); shape.NumDimensions() == 4 {
		if v := shape.Size(1); v > 0 {
			g.h = int(v)
		}
		if v := shape.Size(2); v > 0 {
			g.w = int(v)
		}
		if v := shape.Size(3); v > 0 {
			g.c = int(v)
		}
	}
	if shape := g.output.Shape(); shape.NumDimensions() == 2 {
		if v := shape.Size(1); v > 0 {
			g.classes = int(v)
		}
	}
	if g.h <= 0 || g.w <= 0 || g.classes <= 0 {
		_ = g.Close()
		return nil, fmt.Errorf("graph model: cannot determine input size or class count")
	}
	logging.New("model").Info("loaded graph", "path", path, "input", fmt.Sprintf("%dx%dx%d", g.h, g.w, g.c), "classes", g.classes)
	return g, nil
}

// InputShape implements Classifier.
func (g *Graph) InputShape() (int, int, int) { return g.h, g.w, g.c }

// NumClasses implements Classifier.
func (g *Graph) NumClasses() int { return g.classes }

// Predict implements Classifier. Calls are serialized on the session.
func (g *Graph) Predict(ctx context.Context, batch []*imaging.Tensor) ([][]float64, error) {
	if err := CheckBatch(g, batch); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value := make([][][][]float32, len(batch))
	for i, t := range batch {
		img := make([][][]float32, t.H)
		for y := range img {
			img[y] = make([][]float32, t.W)
			for x := range img[y] {
				off := (y*t.W + x) * t.C
				img[y][x] = t.Data[off : off+t.C]
			}
		}
		value[i] = img
	}
	in, err := tf.NewTensor(value)
	if err != nil {
		return nil, fmt.Errorf("build input tensor: %w", err)
	}
	defer in.Delete()

	g.mu.Lock()
	res, err := g.session.Run(map[tf.Output]*tf.Tensor{g.input: in}, []tf.Output{g.output}, nil)
	g.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("run graph: %w", err)
	}
	// fetched tensors live in C memory; rows are copied out before the free
	defer func() {
		for _, t := range res {
			t.Delete()
		}
	}()
	scores, ok := res[0].Value().([][]float32)
	if !ok {
		return nil, fmt.Errorf("%w: output is %T", ErrShapeMismatch, res[0].Value())
	}
	out := make([][]float64, len(scores))
	for i, row := range scores {
		out[i] = make([]float64, len(row))
		for k, v := range row {
			out[i][k] = float64(v)
		}
	}
	return out, nil
}

// Close releases the session and graph.
func (g *Graph) Close() error {
	var err error
	if g.session != nil {
		err = g.session.Close()
	}
	if g.graph != nil {
		g.graph.Delete()
	}
	g.session, g.graph = nil, nil
	return err
}
