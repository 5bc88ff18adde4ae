//go:build tensorflow

package model

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	tf "github.com/kiteco/tensorflow/tensorflow/go"
	"github.com/kiteco/tensorflow/tensorflow/go/op"

	"cxr/internal/imaging"
)

// writeSoftmaxGraph saves a frozen graph computing softmax(flatten(x) · w)
// over 2x2x3 inputs and returns the input and output op names.
func writeSoftmaxGraph(t *testing.T, path string) (string, string) {
	t.Helper()
	w := make([][]float32, 12)
	for j := range w {
		w[j] = []float32{0, 1}
	}
	s := op.NewScope()
	in := op.Placeholder(s.SubScope("input"), tf.Float, op.PlaceholderShape(tf.MakeShape(-1, 2, 2, 3)))
	flat := op.Reshape(s, in, op.Const(s.SubScope("shape"), []int32{-1, 12}))
	logits := op.MatMul(s, flat, op.Const(s.SubScope("weights"), w))
	out := op.Softmax(s.SubScope("probs"), logits)
	graph, err := s.Finalize()
	if err != nil {
		t.Fatalf("finalize graph: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := graph.WriteTo(f); err != nil {
		t.Fatalf("write graph: %v", err)
	}
	return in.Op.Name(), out.Op.Name()
}

func TestGraph_PredictRepeatedly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.pb")
	inOp, outOp := writeSoftmaxGraph(t, path)

	m, err := Open(path, Options{InputOp: inOp, OutputOp: outOp, Classes: 2, Height: 2, Width: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	g := m.(*Graph)
	defer g.Close()
	if h, w, c := g.InputShape(); h != 2 || w != 2 || c != 3 {
		t.Fatalf("InputShape = %d,%d,%d", h, w, c)
	}

	batch := []*imaging.Tensor{constTensor(2, 2, 3, 0), constTensor(2, 2, 3, 1.0/12)}
	want := 1 / (1 + math.Exp(-1))
	// every call allocates feed and fetch tensors outside the Go heap
	for i := 0; i < 500; i++ {
		out, err := g.Predict(context.Background(), batch)
		if err != nil {
			t.Fatalf("Predict call %d: %v", i, err)
		}
		if math.Abs(out[0][1]-0.5) > 1e-6 || math.Abs(out[1][1]-want) > 1e-6 {
			t.Fatalf("Predict call %d = %v, want p1 0.5 and %v", i, out, want)
		}
	}
}
