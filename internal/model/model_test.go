package model

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"cxr/internal/imaging"
)

func constTensor(h, w, c int, v float32) *imaging.Tensor {
	t := imaging.NewTensor(h, w, c)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

func TestLinear_PredictSoftmax(t *testing.T) {
	m := NewLinear(2, 2, 1, 2, ActivationSoftmax)
	for j := range m.Weights[1] {
		m.Weights[1][j] = 1
	}
	out, err := m.Predict(context.Background(), []*imaging.Tensor{constTensor(2, 2, 1, 0), constTensor(2, 2, 1, 1)})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if math.Abs(out[0][0]-0.5) > 1e-12 || math.Abs(out[0][1]-0.5) > 1e-12 {
		t.Errorf("zero input: %v", out[0])
	}
	want := 1 / (1 + math.Exp(-4))
	if math.Abs(out[1][1]-want) > 1e-12 || math.Abs(out[1][0]+out[1][1]-1) > 1e-12 {
		t.Errorf("ones input: %v, want p1=%v", out[1], want)
	}
}

func TestLinear_PredictLinear(t *testing.T) {
	m := NewLinear(1, 2, 1, 1, ActivationLinear)
	m.Weights[0] = []float64{2, -1}
	m.Bias[0] = 0.5
	in := imaging.NewTensor(1, 2, 1)
	copy(in.Data, []float32{3, 4})
	out, err := m.Predict(context.Background(), []*imaging.Tensor{in})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if out[0][0] != 2.5 {
		t.Errorf("got %v, want 2.5", out[0][0])
	}
}

func TestLinear_ShapeMismatch(t *testing.T) {
	m := NewLinear(2, 2, 1, 2, "")
	_, err := m.Predict(context.Background(), []*imaging.Tensor{constTensor(3, 2, 1, 0)})
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("want ErrShapeMismatch, got %v", err)
	}
	if err := CheckBatch(m, []*imaging.Tensor{nil}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("nil tensor: want ErrShapeMismatch, got %v", err)
	}
}

func TestOpen_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	m := NewLinear(2, 3, 3, 2, ActivationSoftmax)
	m.Bias[1] = 1
	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	c, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if h, w, ch := c.InputShape(); h != 2 || w != 3 || ch != 3 || c.NumClasses() != 2 {
		t.Errorf("shape %dx%dx%d classes %d", h, w, ch, c.NumClasses())
	}
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(filepath.Join(dir, "absent.json"), Options{}); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("missing file: want ErrModelNotFound, got %v", err)
	}

	h5 := filepath.Join(dir, "model.h5")
	if err := os.WriteFile(h5, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(h5, Options{}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf(".h5: want ErrUnsupportedFormat, got %v", err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"format":"cxr-linear","input_shape":[1,1,1],"weights":[[1,2]],"bias":[0]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(bad, Options{}); err == nil {
		t.Error("mismatched weight row should fail")
	}

	other := filepath.Join(dir, "other.json")
	if err := os.WriteFile(other, []byte(`{"format":"keras"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(other, Options{}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("foreign json: want ErrUnsupportedFormat, got %v", err)
	}
}
