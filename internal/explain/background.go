// Package explain computes SHAP attribution maps for image classifiers.
//
// Features are square pixel patches. The value of a coalition of patches is
// the model output on images whose patches outside the coalition are taken
// from a background image, averaged over the background set. SHAP values are
// recovered by the Kernel SHAP weighted regression with the efficiency
// constraint sum(phi) = f(x) - E[f(background)] enforced exactly.
package explain

import (
	"errors"
	"fmt"
	"math/rand"
)

var (
	// ErrBackgroundTooLarge is returned when more background samples are
	// requested than there are candidates.
	ErrBackgroundTooLarge = errors.New("background larger than population")
	// ErrEmptyBackground is returned when an explainer gets no background.
	ErrEmptyBackground = errors.New("empty background")
)

// SampleBackground draws k distinct indices from [0, n) uniformly at random.
func SampleBackground(n, k int, rng *rand.Rand) ([]int, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: requested %d samples", ErrEmptyBackground, k)
	}
	if k > n {
		return nil, fmt.Errorf("%w: %d requested from %d", ErrBackgroundTooLarge, k, n)
	}
	return rng.Perm(n)[:k], nil
}
