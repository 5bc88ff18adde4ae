package explain

import (
	"math"
	"math/bits"
	"math/rand"
	"strings"
)

// maxEnumerated bounds the feature count for exhaustive enumeration.
const maxEnumerated = 20

// coalition is a subset of features with its regression weight.
type coalition struct {
	mask   []bool
	weight float64
}

func (c coalition) size() int {
	n := 0
	for _, in := range c.mask {
		if in {
			n++
		}
	}
	return n
}

// shapleyKernel is the Kernel SHAP weight of a coalition of size s out of m features.
func shapleyKernel(m, s int) float64 {
	if s <= 0 || s >= m {
		return 0
	}
	return float64(m-1) / (binomial(m, s) * float64(s) * float64(m-s))
}

func binomial(n, k int) float64 {
	if k < 0 || k > n {
		return 0
	}
	if k > n-k {
		k = n - k
	}
	r := 1.0
	for i := 1; i <= k; i++ {
		r = r * float64(n-k+i) / float64(i)
	}
	return r
}

// coalitions returns the coalitions to evaluate for m features. Every proper
// non-empty subset is enumerated when that fits in budget; otherwise subsets
// are drawn in complementary pairs with sizes following the Shapley kernel,
// and repeated draws accumulate weight.
func coalitions(m, budget int, rng *rand.Rand) []coalition {
	if m < 2 {
		return nil
	}
	if m <= maxEnumerated && (1<<m)-2 <= budget {
		return enumerate(m)
	}
	return sample(m, budget, rng)
}

func enumerate(m int) []coalition {
	out := make([]coalition, 0, (1<<m)-2)
	for bitsSet := uint32(1); bitsSet < (1<<m)-1; bitsSet++ {
		mask := make([]bool, m)
		for j := 0; j < m; j++ {
			mask[j] = bitsSet&(1<<j) != 0
		}
		s := bits.OnesCount32(bitsSet)
		out = append(out, coalition{mask: mask, weight: shapleyKernel(m, s)})
	}
	return out
}

func sample(m, budget int, rng *rand.Rand) []coalition {
	// size distribution proportional to (m-1)/(s(m-s)); the binomial factor
	// of the kernel is absorbed by drawing subsets uniformly within a size
	cdf := make([]float64, m)
	var total float64
	for s := 1; s < m; s++ {
		total += float64(m-1) / float64(s*(m-s))
		cdf[s] = total
	}

	index := make(map[string]int)
	var out []coalition
	add := func(mask []bool) {
		key := maskKey(mask)
		if i, ok := index[key]; ok {
			out[i].weight++
			return
		}
		index[key] = len(out)
		out = append(out, coalition{mask: mask, weight: 1})
	}

	perm := make([]int, m)
	for i := range perm {
		perm[i] = i
	}
	for drawn := 0; drawn+2 <= max(budget, 2); drawn += 2 {
		u := rng.Float64() * total
		s := 1
		for s < m-1 && cdf[s] < u {
			s++
		}
		rng.Shuffle(m, func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })
		mask := make([]bool, m)
		for _, j := range perm[:s] {
			mask[j] = true
		}
		complement := make([]bool, m)
		for j := range mask {
			complement[j] = !mask[j]
		}
		add(mask)
		add(complement)
	}
	return out
}

func maskKey(mask []bool) string {
	var b strings.Builder
	b.Grow(len(mask))
	for _, in := range mask {
		if in {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// grid assigns every pixel of an h × w image to a patch of edge size.
type grid struct {
	h, w, size int
	rows, cols int
	feature    []int // pixel (y*w+x) → patch index
	area       []int // pixels per patch
}

func newGrid(h, w, size int) *grid {
	g := &grid{
		h:    h,
		w:    w,
		size: size,
		rows: int(math.Ceil(float64(h) / float64(size))),
		cols: int(math.Ceil(float64(w) / float64(size))),
	}
	g.feature = make([]int, h*w)
	g.area = make([]int, g.rows*g.cols)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f := (y/size)*g.cols + x/size
			g.feature[y*w+x] = f
			g.area[f]++
		}
	}
	return g
}

func (g *grid) features() int { return g.rows * g.cols }
