package config

import (
	"errors"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testdataPath(name string) string {
	_, f, _, _ := runtime.Caller(0)
	dir := filepath.Dir(f)
	return filepath.Join(dir, "testdata", name)
}

func TestLoadFromPath_YAML(t *testing.T) {
	c, err := LoadFromPath(testdataPath("config.yml"))
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if c.Paths.SIIMData != "data/siim/" || c.SIIM.Resolution != "512" {
		t.Errorf("paths: got %+v / %+v", c.Paths, c.SIIM)
	}
	if diff := cmp.Diff([]string{"non-COVID-19", "COVID-19"}, c.Data.Classes); diff != "" {
		t.Errorf("classes (-want +got):\n%s", diff)
	}
	if h, w := c.ImageSize(); h != 224 || w != 224 {
		t.Errorf("ImageSize = %d,%d", h, w)
	}
	if c.SIIM.Mapping["typical"] != "COVID-19" {
		t.Errorf("mapping: %v", c.SIIM.Mapping)
	}
	if c.Model.OutputOp != "dense_1/Softmax" {
		t.Errorf("model: %+v", c.Model)
	}
}

func TestLoad_Defaults(t *testing.T) {
	data := []byte(`{"DATA":{"IMG_DIM":[8,8],"CLASSES":["a","b"],"VAL_SPLIT":0.2,"TEST_SPLIT":0.2}}`)
	c, err := Load(data, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Explain{
		Background: DefaultBackground,
		TestStart:  DefaultTestStart,
		TestCount:  DefaultTestCount,
		PatchSize:  DefaultPatchSize,
		NSamples:   DefaultNSamples,
		Workers:    DefaultWorkers,
	}
	if diff := cmp.Diff(want, c.Explain); diff != "" {
		t.Errorf("explain defaults (-want +got):\n%s", diff)
	}
	if c.Paths.Ledger != DefaultLedgerPath || c.SIIM.LabelsCSV != DefaultLabelsCSV {
		t.Errorf("path defaults: %+v %+v", c.Paths, c.SIIM)
	}
}

func TestLoad_ExplicitTestStartZero(t *testing.T) {
	tests := []struct {
		name string
		data string
		ext  string
	}{
		{"yaml", "DATA: {IMG_DIM: [8, 8], CLASSES: [a, b], VAL_SPLIT: 0.1, TEST_SPLIT: 0.1}\nEXPLAIN: {TEST_START: 0}", ".yaml"},
		{"json", `{"DATA":{"IMG_DIM":[8,8],"CLASSES":["a","b"],"VAL_SPLIT":0.1,"TEST_SPLIT":0.1},"EXPLAIN":{"TEST_START":0}}`, ".json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Load([]byte(tt.data), tt.ext)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if c.Explain.TestStart != 0 {
				t.Errorf("TEST_START = %d, want the explicit 0", c.Explain.TestStart)
			}
			if c.Explain.TestCount != DefaultTestCount {
				t.Errorf("TEST_COUNT = %d, want default %d", c.Explain.TestCount, DefaultTestCount)
			}
		})
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no classes", "DATA: {IMG_DIM: [8, 8], VAL_SPLIT: 0.1, TEST_SPLIT: 0.1}"},
		{"duplicate class", "DATA: {IMG_DIM: [8, 8], CLASSES: [a, a], VAL_SPLIT: 0.1, TEST_SPLIT: 0.1}"},
		{"bad img dim", "DATA: {IMG_DIM: [8], CLASSES: [a, b], VAL_SPLIT: 0.1, TEST_SPLIT: 0.1}"},
		{"test split zero", "DATA: {IMG_DIM: [8, 8], CLASSES: [a, b], VAL_SPLIT: 0.1, TEST_SPLIT: 0}"},
		{"splits sum to one", "DATA: {IMG_DIM: [8, 8], CLASSES: [a, b], VAL_SPLIT: 0.5, TEST_SPLIT: 0.5}"},
		{"negative test start", "DATA: {IMG_DIM: [8, 8], CLASSES: [a, b], VAL_SPLIT: 0.1, TEST_SPLIT: 0.1}\nEXPLAIN: {TEST_START: -1}"},
		{"mapping to unknown class", "DATA: {IMG_DIM: [8, 8], CLASSES: [a, b], VAL_SPLIT: 0.1, TEST_SPLIT: 0.1}\nSIIM: {MAPPING: {x: c}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.yaml), ".yaml")
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("want ErrInvalid, got %v", err)
			}
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	if _, err := Load([]byte("DATA: [unclosed"), ".yml"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRequireSIIM(t *testing.T) {
	c, err := LoadFromPath(testdataPath("config.yml"))
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if err := c.RequireSIIM(); err != nil {
		t.Fatalf("RequireSIIM: %v", err)
	}
	c.Paths.ValSet = ""
	if err := c.RequireSIIM(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("want ErrInvalid for missing VAL_SET, got %v", err)
	}
}

func TestClassIndex(t *testing.T) {
	c := &Config{Data: Data{Classes: []string{"non-COVID-19", "COVID-19"}}}
	want := map[string]int{"non-COVID-19": 0, "COVID-19": 1}
	if diff := cmp.Diff(want, c.ClassIndex()); diff != "" {
		t.Errorf("ClassIndex (-want +got):\n%s", diff)
	}
}
