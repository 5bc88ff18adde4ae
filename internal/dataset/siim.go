package dataset

import (
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"cxr/internal/config"
	"cxr/internal/logging"
)

// SIIM is the SIIM-FISABIO-RSNA dataset joined with its image-level labels.
type SIIM struct {
	cfg     *config.Config
	samples []Sample
	log     *slog.Logger
}

// ImageDir returns the directory holding the SIIM JPEGs:
// <SIIM_DATA>/<RESOLUTION>/train/train.
func ImageDir(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.SIIMData, cfg.SIIM.Resolution, "train", "train")
}

// LoadSIIM enumerates the image files, joins them with the label table and
// maps every raw label to its class index. An unmapped label fails the load.
func LoadSIIM(fs afero.Fs, cfg *config.Config) (*SIIM, error) {
	log := logging.New("siim")

	dir := ImageDir(cfg)
	ok, err := afero.DirExists(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDataDirMissing, dir)
	}
	files, err := listImages(fs, dir)
	if err != nil {
		return nil, err
	}

	labels, err := ReadLabels(fs, filepath.Join(cfg.Paths.SIIMData, cfg.SIIM.LabelsCSV))
	if err != nil {
		return nil, err
	}

	classIdx := cfg.ClassIndex()
	var samples []Sample
	joined := make(map[string]bool, len(labels))
	duplicates := 0
	for _, row := range labels {
		key := row.Key()
		path, ok := files[key]
		if !ok {
			continue
		}
		if joined[key] {
			duplicates++
			continue
		}
		class, ok := cfg.SIIM.Mapping[row.LabelID]
		if !ok {
			return nil, fmt.Errorf("%w: label_id %q for %s", ErrUnmappedLabel, row.LabelID, key)
		}
		label, ok := classIdx[class]
		if !ok {
			return nil, fmt.Errorf("%w: class %q for label_id %q", ErrUnmappedLabel, class, row.LabelID)
		}
		joined[key] = true
		samples = append(samples, Sample{
			Filename: path,
			Label:    label,
			LabelStr: LabelString(label),
			Key:      key,
			LabelID:  row.LabelID,
		})
	}

	log.Info("joined labels with images",
		"dir", dir,
		"images", len(files),
		"label_rows", len(labels),
		"samples", len(samples),
		"unlabelled_images", len(files)-len(samples),
		"duplicate_rows", duplicates,
	)
	return &SIIM{cfg: cfg, samples: samples, log: log}, nil
}

// listImages maps join key (file stem) to full path for every .jpg in dir.
func listImages(fs afero.Fs, dir string) (map[string]string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	files := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if !strings.EqualFold(ext, ".jpg") {
			continue
		}
		files[strings.TrimSuffix(e.Name(), ext)] = filepath.Join(dir, e.Name())
	}
	return files, nil
}

// Samples returns the joined rows in label-table order.
func (s *SIIM) Samples() []Sample {
	return s.samples
}

// Filter keeps the samples for which keep returns true and returns how many
// were dropped. No criteria are built in.
func (s *SIIM) Filter(keep func(Sample) bool) int {
	if keep == nil {
		return 0
	}
	kept := s.samples[:0]
	for _, smp := range s.samples {
		if keep(smp) {
			kept = append(kept, smp)
		}
	}
	dropped := len(s.samples) - len(kept)
	s.samples = kept
	if dropped > 0 {
		s.log.Info("filtered samples", "dropped", dropped, "kept", len(kept))
	}
	return dropped
}

// Splits partitions the samples using DATA.VAL_SPLIT and DATA.TEST_SPLIT.
func (s *SIIM) Splits(rng *rand.Rand) (Splits, error) {
	return Split(s.samples, s.cfg.Data.ValSplit, s.cfg.Data.TestSplit, rng)
}
