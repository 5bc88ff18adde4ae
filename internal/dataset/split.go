package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// StratifiedSplit partitions samples into train and test so that each label
// keeps its share of the whole. The test side receives ceil(testFraction·n)
// rows; per-label quotas are assigned by largest remainder with random
// tie-breaking. Every label needs at least two members, and both sides must
// be able to hold one row per label.
func StratifiedSplit(samples []Sample, testFraction float64, rng *rand.Rand) (train, test []Sample, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction must be in (0, 1), got %v", testFraction)
	}
	n := len(samples)
	nTest := int(math.Ceil(testFraction * float64(n)))
	nTrain := n - nTest
	if nTest == 0 || nTrain == 0 {
		return nil, nil, fmt.Errorf("%w: %d samples cannot be split with test fraction %v", ErrTooFewMembers, n, testFraction)
	}

	byLabel := make(map[int][]int)
	for i, s := range samples {
		byLabel[s.Label] = append(byLabel[s.Label], i)
	}
	labels := make([]int, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, l)
	}
	sort.Ints(labels)

	counts := make([]int, len(labels))
	for i, l := range labels {
		counts[i] = len(byLabel[l])
		if counts[i] < 2 {
			return nil, nil, fmt.Errorf("%w: label %d has only %d member", ErrTooFewMembers, l, counts[i])
		}
	}
	if nTrain < len(labels) {
		return nil, nil, fmt.Errorf("%w: train size %d is smaller than the number of classes %d", ErrTooFewMembers, nTrain, len(labels))
	}
	if nTest < len(labels) {
		return nil, nil, fmt.Errorf("%w: test size %d is smaller than the number of classes %d", ErrTooFewMembers, nTest, len(labels))
	}

	trainQuota := approximateMode(counts, nTrain, rng)
	rest := make([]int, len(counts))
	for i := range counts {
		rest[i] = counts[i] - trainQuota[i]
	}
	testQuota := approximateMode(rest, nTest, rng)

	train = make([]Sample, 0, nTrain)
	test = make([]Sample, 0, nTest)
	for i, l := range labels {
		members := append([]int(nil), byLabel[l]...)
		rng.Shuffle(len(members), func(a, b int) { members[a], members[b] = members[b], members[a] })
		for _, idx := range members[:trainQuota[i]] {
			train = append(train, samples[idx])
		}
		for _, idx := range members[trainQuota[i] : trainQuota[i]+testQuota[i]] {
			test = append(test, samples[idx])
		}
	}
	rng.Shuffle(len(train), func(a, b int) { train[a], train[b] = train[b], train[a] })
	rng.Shuffle(len(test), func(a, b int) { test[a], test[b] = test[b], test[a] })
	return train, test, nil
}

// approximateMode draws nDraws items from classes with the given counts
// without replacement and returns the most likely per-class allocation:
// floors of the proportional share, with the leftover draws given to the
// classes with the largest fractional parts.
func approximateMode(counts []int, nDraws int, rng *rand.Rand) []int {
	total := 0
	for _, c := range counts {
		total += c
	}
	out := make([]int, len(counts))
	if total == 0 {
		return out
	}
	remainder := make([]float64, len(counts))
	assigned := 0
	for i, c := range counts {
		continuous := float64(c) / float64(total) * float64(nDraws)
		out[i] = int(math.Floor(continuous))
		remainder[i] = continuous - float64(out[i])
		assigned += out[i]
	}
	need := nDraws - assigned
	if need <= 0 {
		return out
	}

	values := make([]float64, 0, len(remainder))
	seen := make(map[float64]bool)
	for _, r := range remainder {
		if !seen[r] {
			seen[r] = true
			values = append(values, r)
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(values)))

	for _, v := range values {
		var tied []int
		for i, r := range remainder {
			if r == v {
				tied = append(tied, i)
			}
		}
		rng.Shuffle(len(tied), func(a, b int) { tied[a], tied[b] = tied[b], tied[a] })
		take := min(len(tied), need)
		for _, i := range tied[:take] {
			out[i]++
		}
		need -= take
		if need == 0 {
			break
		}
	}
	return out
}

// Split performs the two sequential stratified splits of the preprocessing
// step: the test set is drawn from all samples, then the validation set from
// the remainder using valFraction/(1-testFraction), so both fractions are
// relative to the whole dataset.
func Split(samples []Sample, valFraction, testFraction float64, rng *rand.Rand) (Splits, error) {
	if valFraction <= 0 || valFraction+testFraction >= 1 {
		return Splits{}, fmt.Errorf("val fraction %v with test fraction %v leaves no training data", valFraction, testFraction)
	}
	rest, test, err := StratifiedSplit(samples, testFraction, rng)
	if err != nil {
		return Splits{}, fmt.Errorf("test split: %w", err)
	}
	relative := valFraction / (1 - testFraction)
	train, val, err := StratifiedSplit(rest, relative, rng)
	if err != nil {
		return Splits{}, fmt.Errorf("val split: %w", err)
	}
	return Splits{Train: train, Val: val, Test: test}, nil
}
