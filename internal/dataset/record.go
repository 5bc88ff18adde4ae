// Package dataset builds the train/val/test CSVs consumed by the classifier:
// it joins image files with label tables, maps raw labels onto class indices
// and partitions the result by stratified sampling.
package dataset

import (
	"errors"
	"sort"
)

// Display strings written to the label_str column.
const (
	LabelNonCOVID = "non-COVID-19"
	LabelCOVID    = "COVID-19"
)

var (
	// ErrUnmappedLabel is returned when a raw label has no entry in SIIM.MAPPING.
	ErrUnmappedLabel = errors.New("unmapped label")
	// ErrDataDirMissing is returned when the image directory does not exist.
	ErrDataDirMissing = errors.New("data directory missing")
	// ErrTooFewMembers is returned when stratification cannot satisfy the requested split.
	ErrTooFewMembers = errors.New("too few members to stratify")
)

// indexColumn names the row-position column; pandas writes it unnamed.
const indexColumn = "index"

// Sample is one row of a split CSV. Key and LabelID are carried for joins
// and logging and are not written.
type Sample struct {
	Index    int    `csv:"index"`
	Filename string `csv:"filename"`
	Label    int    `csv:"label"`
	LabelStr string `csv:"label_str"`

	Key     string `csv:"-"`
	LabelID string `csv:"-"`
}

// LabelRow is one row of the SIIM label table.
type LabelRow struct {
	StudyInstanceUID string `csv:"StudyInstanceUID"`
	ImageInstanceUID string `csv:"ImageInstanceUID"`
	LabelID          string `csv:"label_id"`
}

// Key is the join key shared with image file names: <study>_<image>.
func (r LabelRow) Key() string {
	return r.StudyInstanceUID + "_" + r.ImageInstanceUID
}

// LabelString derives the label_str column from the numeric label.
func LabelString(label int) string {
	if label == 0 {
		return LabelNonCOVID
	}
	return LabelCOVID
}

// Splits is the three-way partition written by the preprocessing step.
type Splits struct {
	Train []Sample
	Val   []Sample
	Test  []Sample
}

// Len returns the total number of rows across the three splits.
func (s Splits) Len() int {
	return len(s.Train) + len(s.Val) + len(s.Test)
}

// Named returns the splits in train, val, test order with their names.
func (s Splits) Named() []NamedSplit {
	return []NamedSplit{
		{Name: "train", Samples: s.Train},
		{Name: "val", Samples: s.Val},
		{Name: "test", Samples: s.Test},
	}
}

// NamedSplit pairs a split name with its rows.
type NamedSplit struct {
	Name    string
	Samples []Sample
}

// CountByLabel returns the number of samples per numeric label.
func CountByLabel(samples []Sample) map[int]int {
	counts := make(map[int]int)
	for _, s := range samples {
		counts[s.Label]++
	}
	return counts
}

// Labels returns the distinct labels of samples in ascending order.
func Labels(samples []Sample) []int {
	counts := CountByLabel(samples)
	labels := make([]int, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	return labels
}
