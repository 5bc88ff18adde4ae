// Package model loads pretrained CXR classifiers for inference.
package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cxr/internal/imaging"
)

var (
	// ErrModelNotFound is returned when the model file does not exist.
	ErrModelNotFound = errors.New("model file not found")
	// ErrShapeMismatch is returned when input tensors do not match the model input.
	ErrShapeMismatch = errors.New("input shape mismatch")
	// ErrUnsupportedFormat is returned for model files no backend can read.
	ErrUnsupportedFormat = errors.New("unsupported model format")
)

// Classifier is an inference-only image classifier.
type Classifier interface {
	// Predict returns one score vector of length NumClasses per input tensor.
	Predict(ctx context.Context, batch []*imaging.Tensor) ([][]float64, error)
	// InputShape is the expected tensor height, width and channels.
	InputShape() (h, w, c int)
	NumClasses() int
}

// Options carries backend settings from the MODEL config section.
type Options struct {
	InputOp  string
	OutputOp string
	// Classes is used by backends whose files do not record the class count.
	Classes int
	// Height and Width are used by backends whose files do not record the input size.
	Height int
	Width  int
}

// Open loads the classifier at path, choosing the backend from the extension:
// .json is a linear classifier, .pb a frozen TensorFlow graph.
func Open(path string, opts Options) (Classifier, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}
		return nil, fmt.Errorf("stat model: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return LoadLinear(path)
	case ".pb":
		return openGraph(path, opts)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// CheckBatch verifies every tensor has the classifier's input shape.
func CheckBatch(c Classifier, batch []*imaging.Tensor) error {
	h, w, ch := c.InputShape()
	for i, t := range batch {
		if t == nil {
			return fmt.Errorf("%w: tensor %d is nil", ErrShapeMismatch, i)
		}
		if t.H != h || t.W != w || t.C != ch {
			return fmt.Errorf("%w: tensor %d is %dx%dx%d, model expects %dx%dx%d",
				ErrShapeMismatch, i, t.H, t.W, t.C, h, w, ch)
		}
	}
	return nil
}
