// Package config holds the project configuration shared by the preprocessing
// and interpretability commands. Keys mirror the upper-case sections of
// config.yml (PATHS, DATA, SIIM, MODEL, EXPLAIN).
package config

import (
	"errors"
	"fmt"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid config")

// Defaults applied by Load when a key is absent.
const (
	DefaultLedgerPath  = ".cxr/ledger.db"
	DefaultExplanation = "shap.png"
	DefaultLabelsCSV   = "train.csv"
	DefaultBackground  = 100
	DefaultTestStart   = 1
	DefaultTestCount   = 4
	DefaultPatchSize   = 16
	DefaultNSamples    = 2048
	DefaultWorkers     = 4
)

// Paths is the PATHS section.
type Paths struct {
	ModelToLoad   string `json:"MODEL_TO_LOAD" yaml:"MODEL_TO_LOAD"`
	RawData       string `json:"RAW_DATA" yaml:"RAW_DATA"`
	SIIMData      string `json:"SIIM_DATA" yaml:"SIIM_DATA"`
	ProcessedData string `json:"PROCESSED_DATA" yaml:"PROCESSED_DATA"`
	TrainSet      string `json:"TRAIN_SET" yaml:"TRAIN_SET"`
	ValSet        string `json:"VAL_SET" yaml:"VAL_SET"`
	TestSet       string `json:"TEST_SET" yaml:"TEST_SET"`
	Ledger        string `json:"LEDGER,omitempty" yaml:"LEDGER,omitempty"`
	Explanation   string `json:"EXPLANATION,omitempty" yaml:"EXPLANATION,omitempty"`
}

// Data is the DATA section.
type Data struct {
	ImgDim    []int    `json:"IMG_DIM" yaml:"IMG_DIM"` // [height, width]
	Classes   []string `json:"CLASSES" yaml:"CLASSES"`
	ValSplit  float64  `json:"VAL_SPLIT" yaml:"VAL_SPLIT"`
	TestSplit float64  `json:"TEST_SPLIT" yaml:"TEST_SPLIT"`
}

// SIIM is the SIIM section. Mapping translates a raw label_id into a class name.
type SIIM struct {
	Resolution string            `json:"RESOLUTION" yaml:"RESOLUTION"`
	Mapping    map[string]string `json:"MAPPING" yaml:"MAPPING"`
	LabelsCSV  string            `json:"LABELS_CSV,omitempty" yaml:"LABELS_CSV,omitempty"`
}

// Model names the graph endpoints used by graph-based classifiers.
type Model struct {
	InputOp  string `json:"INPUT_OP,omitempty" yaml:"INPUT_OP,omitempty"`
	OutputOp string `json:"OUTPUT_OP,omitempty" yaml:"OUTPUT_OP,omitempty"`
}

// Explain is the EXPLAIN section.
type Explain struct {
	Background int `json:"BACKGROUND,omitempty" yaml:"BACKGROUND,omitempty"`
	TestStart  int `json:"TEST_START" yaml:"TEST_START"`
	TestCount  int `json:"TEST_COUNT,omitempty" yaml:"TEST_COUNT,omitempty"`
	PatchSize  int `json:"PATCH_SIZE,omitempty" yaml:"PATCH_SIZE,omitempty"`
	NSamples   int `json:"N_SAMPLES,omitempty" yaml:"N_SAMPLES,omitempty"`
	Workers    int `json:"WORKERS,omitempty" yaml:"WORKERS,omitempty"`
}

// Config is the whole config.yml.
type Config struct {
	Paths   Paths   `json:"PATHS" yaml:"PATHS"`
	Data    Data    `json:"DATA" yaml:"DATA"`
	SIIM    SIIM    `json:"SIIM" yaml:"SIIM"`
	Model   Model   `json:"MODEL,omitempty" yaml:"MODEL,omitempty"`
	Explain Explain `json:"EXPLAIN,omitempty" yaml:"EXPLAIN,omitempty"`
}

// explicitKeys records optional keys whose zero value is meaningful, so
// defaults apply only when the key is absent.
type explicitKeys struct {
	Explain struct {
		TestStart *int `json:"TEST_START" yaml:"TEST_START"`
	} `json:"EXPLAIN" yaml:"EXPLAIN"`
}

func (c *Config) applyDefaults(set explicitKeys) {
	if c.Paths.Ledger == "" {
		c.Paths.Ledger = DefaultLedgerPath
	}
	if c.Paths.Explanation == "" {
		c.Paths.Explanation = DefaultExplanation
	}
	if c.SIIM.LabelsCSV == "" {
		c.SIIM.LabelsCSV = DefaultLabelsCSV
	}
	if c.Explain.Background == 0 {
		c.Explain.Background = DefaultBackground
	}
	if set.Explain.TestStart == nil {
		c.Explain.TestStart = DefaultTestStart
	}
	if c.Explain.TestCount == 0 {
		c.Explain.TestCount = DefaultTestCount
	}
	if c.Explain.PatchSize == 0 {
		c.Explain.PatchSize = DefaultPatchSize
	}
	if c.Explain.NSamples == 0 {
		c.Explain.NSamples = DefaultNSamples
	}
	if c.Explain.Workers == 0 {
		c.Explain.Workers = DefaultWorkers
	}
}

// ClassIndex returns the class name → numeric label table.
func (c *Config) ClassIndex() map[string]int {
	idx := make(map[string]int, len(c.Data.Classes))
	for i, name := range c.Data.Classes {
		idx[name] = i
	}
	return idx
}

// ImageSize returns IMG_DIM as (height, width).
func (c *Config) ImageSize() (int, int) {
	return c.Data.ImgDim[0], c.Data.ImgDim[1]
}

// Validate checks the keys shared by every command. Path keys are checked by
// the command that needs them.
func (c *Config) Validate() error {
	if len(c.Data.Classes) == 0 {
		return fmt.Errorf("%w: DATA.CLASSES is empty", ErrInvalid)
	}
	seen := make(map[string]bool, len(c.Data.Classes))
	for _, name := range c.Data.Classes {
		if seen[name] {
			return fmt.Errorf("%w: duplicate class %q in DATA.CLASSES", ErrInvalid, name)
		}
		seen[name] = true
	}
	if len(c.Data.ImgDim) != 2 || c.Data.ImgDim[0] <= 0 || c.Data.ImgDim[1] <= 0 {
		return fmt.Errorf("%w: DATA.IMG_DIM must be [height, width], got %v", ErrInvalid, c.Data.ImgDim)
	}
	if c.Data.TestSplit <= 0 || c.Data.TestSplit >= 1 {
		return fmt.Errorf("%w: DATA.TEST_SPLIT must be in (0, 1), got %v", ErrInvalid, c.Data.TestSplit)
	}
	if c.Data.ValSplit <= 0 || c.Data.ValSplit >= 1 {
		return fmt.Errorf("%w: DATA.VAL_SPLIT must be in (0, 1), got %v", ErrInvalid, c.Data.ValSplit)
	}
	if c.Data.ValSplit+c.Data.TestSplit >= 1 {
		return fmt.Errorf("%w: DATA.VAL_SPLIT + DATA.TEST_SPLIT must be below 1", ErrInvalid)
	}
	for raw, class := range c.SIIM.Mapping {
		if !seen[class] {
			return fmt.Errorf("%w: SIIM.MAPPING[%q] = %q is not in DATA.CLASSES", ErrInvalid, raw, class)
		}
	}
	if c.Explain.Background < 1 || c.Explain.TestCount < 1 {
		return fmt.Errorf("%w: EXPLAIN.BACKGROUND and TEST_COUNT must be positive", ErrInvalid)
	}
	if c.Explain.TestStart < 0 {
		return fmt.Errorf("%w: EXPLAIN.TEST_START must not be negative, got %d", ErrInvalid, c.Explain.TestStart)
	}
	if c.Explain.PatchSize < 1 || c.Explain.NSamples < 1 || c.Explain.Workers < 1 {
		return fmt.Errorf("%w: EXPLAIN.PATCH_SIZE, N_SAMPLES and WORKERS must be positive", ErrInvalid)
	}
	return nil
}

// RequireSIIM checks the keys used by the SIIM splitter.
func (c *Config) RequireSIIM() error {
	missing := map[string]string{
		"PATHS.SIIM_DATA": c.Paths.SIIMData,
		"PATHS.TRAIN_SET": c.Paths.TrainSet,
		"PATHS.VAL_SET":   c.Paths.ValSet,
		"PATHS.TEST_SET":  c.Paths.TestSet,
		"SIIM.RESOLUTION": c.SIIM.Resolution,
	}
	for _, key := range []string{"PATHS.SIIM_DATA", "PATHS.TRAIN_SET", "PATHS.VAL_SET", "PATHS.TEST_SET", "SIIM.RESOLUTION"} {
		if missing[key] == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalid, key)
		}
	}
	if len(c.SIIM.Mapping) == 0 {
		return fmt.Errorf("%w: SIIM.MAPPING is empty", ErrInvalid)
	}
	return nil
}

// RequireExplain checks the keys used by the interpretability command.
func (c *Config) RequireExplain() error {
	if c.Paths.ModelToLoad == "" {
		return fmt.Errorf("%w: PATHS.MODEL_TO_LOAD is required", ErrInvalid)
	}
	if c.Paths.TrainSet == "" || c.Paths.TestSet == "" {
		return fmt.Errorf("%w: PATHS.TRAIN_SET and PATHS.TEST_SET are required", ErrInvalid)
	}
	return nil
}
