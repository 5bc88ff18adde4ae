//go:build !tensorflow

package model

import "fmt"

func openGraph(path string, _ Options) (Classifier, error) {
	return nil, fmt.Errorf("%w: %s needs a build with -tags tensorflow", ErrUnsupportedFormat, path)
}
