package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"cxr/internal/imaging"
)

// Activations supported by Linear.
const (
	ActivationSoftmax = "softmax"
	ActivationLinear  = "linear"
)

// linearFormat tags weight files written by (*Linear).Save.
const linearFormat = "cxr-linear"

// Linear is a single dense layer over the flattened image: one weight row
// and bias per class, followed by softmax (default) or the identity.
type Linear struct {
	Format     string      `json:"format"`
	Shape      [3]int      `json:"input_shape"` // height, width, channels
	Activation string      `json:"activation,omitempty"`
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
}

// NewLinear returns a zero-weight classifier for h × w × c inputs.
func NewLinear(h, w, c, classes int, activation string) *Linear {
	weights := make([][]float64, classes)
	for i := range weights {
		weights[i] = make([]float64, h*w*c)
	}
	return &Linear{
		Format:     linearFormat,
		Shape:      [3]int{h, w, c},
		Activation: activation,
		Weights:    weights,
		Bias:       make([]float64, classes),
	}
}

// LoadLinear reads a weight file written by Save.
func LoadLinear(path string) (*Linear, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	var m Linear
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}
	if m.Format != linearFormat {
		return nil, fmt.Errorf("%w: format %q", ErrUnsupportedFormat, m.Format)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Save writes the weights as JSON.
func (m *Linear) Save(path string) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (m *Linear) validate() error {
	n := m.Shape[0] * m.Shape[1] * m.Shape[2]
	if n <= 0 {
		return fmt.Errorf("linear model: bad input shape %v", m.Shape)
	}
	if len(m.Weights) == 0 || len(m.Weights) != len(m.Bias) {
		return fmt.Errorf("linear model: %d weight rows for %d biases", len(m.Weights), len(m.Bias))
	}
	for i, row := range m.Weights {
		if len(row) != n {
			return fmt.Errorf("linear model: weight row %d has %d values, want %d", i, len(row), n)
		}
	}
	switch m.Activation {
	case "", ActivationSoftmax, ActivationLinear:
	default:
		return fmt.Errorf("linear model: unknown activation %q", m.Activation)
	}
	return nil
}

// InputShape implements Classifier.
func (m *Linear) InputShape() (int, int, int) { return m.Shape[0], m.Shape[1], m.Shape[2] }

// NumClasses implements Classifier.
func (m *Linear) NumClasses() int { return len(m.Weights) }

// Predict implements Classifier.
func (m *Linear) Predict(ctx context.Context, batch []*imaging.Tensor) ([][]float64, error) {
	if err := CheckBatch(m, batch); err != nil {
		return nil, err
	}
	out := make([][]float64, len(batch))
	for i, t := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logits := make([]float64, len(m.Weights))
		for k, row := range m.Weights {
			sum := m.Bias[k]
			for j, v := range t.Data {
				sum += row[j] * float64(v)
			}
			logits[k] = sum
		}
		if m.Activation != ActivationLinear {
			softmax(logits)
		}
		out[i] = logits
	}
	return out, nil
}

func softmax(v []float64) {
	maxV := math.Inf(-1)
	for _, x := range v {
		maxV = math.Max(maxV, x)
	}
	var sum float64
	for i, x := range v {
		v[i] = math.Exp(x - maxV)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
}
