package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/sbwhitecap/tqdm"
	"github.com/sbwhitecap/tqdm/iterators"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"cxr/internal/config"
	"cxr/internal/dataset"
	"cxr/internal/explain"
	"cxr/internal/imaging"
	"cxr/internal/logging"
	"cxr/internal/model"
	"cxr/internal/render"
)

var (
	explainConfigPath string
	explainOut        string
	explainSeed       int64
	explainValues     string
)

var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Render SHAP attribution maps for a trained classifier",
	Long: "Sample a background set from the training CSV, attribute the classifier's output\n" +
		"on a slice of the test CSV to image patches, and save the overlay plot.",
	Args: cobra.NoArgs,
	RunE: runExplain,
}

func init() {
	f := explainCmd.Flags()
	f.StringVar(&explainConfigPath, "configPath", defaultConfigPath, "Path to the project config (YAML/JSON)")
	f.StringVar(&explainOut, "out", "", "Output PNG (default: PATHS.EXPLANATION)")
	f.Int64Var(&explainSeed, "seed", 0, "Seed for background sampling (default: time-based)")
	f.StringVar(&explainValues, "values", "", "Also write the patch SHAP values as JSON to this file")
}

// explanation is the --values JSON document.
type explanation struct {
	Classes     []string         `json:"classes"`
	Expected    []float64        `json:"expected"`
	PatchSize   int              `json:"patch_size"`
	Images      []explainedImage `json:"images"`
	Background  []string         `json:"background"`
	Seed        int64            `json:"seed"`
	ModelPath   string           `json:"model"`
	SampleCount int              `json:"n_samples"`
}

type explainedImage struct {
	Filename   string      `json:"filename"`
	Label      int         `json:"label"`
	Prediction []float64   `json:"prediction"`
	SHAP       [][]float64 `json:"shap"` // [class][patch]
}

func runExplain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(explainConfigPath)
	if err != nil {
		return err
	}
	if err := cfg.RequireExplain(); err != nil {
		return err
	}
	ctx := cmd.Context()
	log := logging.New("explain")
	fs := afero.NewOsFs()
	seed := resolveSeed(cmd, explainSeed)
	rng := rand.New(rand.NewSource(seed))

	train, err := dataset.ReadCSV(fs, cfg.Paths.TrainSet, false)
	if err != nil {
		return err
	}
	test, err := dataset.ReadCSV(fs, cfg.Paths.TestSet, false)
	if err != nil {
		return err
	}
	idx, err := explain.SampleBackground(len(train), cfg.Explain.Background, rng)
	if err != nil {
		return fmt.Errorf("background from %s: %w", cfg.Paths.TrainSet, err)
	}
	bgRows := make([]dataset.Sample, len(idx))
	for i, j := range idx {
		bgRows[i] = train[j]
	}
	testRows, err := testSlice(test, cfg.Explain)
	if err != nil {
		return err
	}

	m, err := model.Open(cfg.Paths.ModelToLoad, model.Options{
		InputOp:  cfg.Model.InputOp,
		OutputOp: cfg.Model.OutputOp,
		Classes:  len(cfg.Data.Classes),
		Height:   cfg.Data.ImgDim[0],
		Width:    cfg.Data.ImgDim[1],
	})
	if err != nil {
		return err
	}
	if c, ok := m.(interface{ Close() error }); ok {
		defer c.Close()
	}
	if m.NumClasses() != len(cfg.Data.Classes) {
		return fmt.Errorf("model has %d outputs, DATA.CLASSES has %d", m.NumClasses(), len(cfg.Data.Classes))
	}

	h, w := cfg.ImageSize()
	opts := imaging.BatchOptions{Root: cfg.Paths.RawData, Height: h, Width: w, Workers: cfg.Explain.Workers, Standardize: true}
	background, err := imaging.LoadBatch(ctx, fs, filenames(bgRows), opts)
	if err != nil {
		return fmt.Errorf("load background: %w", err)
	}
	images, err := imaging.LoadBatch(ctx, fs, filenames(testRows), opts)
	if err != nil {
		return fmt.Errorf("load test images: %w", err)
	}

	e, err := explain.New(ctx, m, background, explain.Options{
		PatchSize: cfg.Explain.PatchSize,
		NSamples:  cfg.Explain.NSamples,
		Workers:   cfg.Explain.Workers,
		Seed:      seed,
	})
	if err != nil {
		return err
	}

	atts := make([]*explain.Attribution, len(images))
	var explainErr error
	failed := -1
	err = tqdm.With(iterators.Interval(0, len(images)), "Explaining test images", func(v interface{}) (brk bool) {
		i := v.(int)
		a, err := e.ExplainImage(ctx, images[i])
		if err != nil {
			explainErr, failed = err, i
			return true
		}
		atts[i] = a
		return false
	})
	if explainErr != nil {
		return fmt.Errorf("explain %s: %w", testRows[failed].Filename, explainErr)
	}
	if err != nil {
		return fmt.Errorf("explain: %w", err)
	}
	res := explain.Collect(e.Expected(), atts)

	out := explainOut
	if out == "" {
		out = cfg.Paths.Explanation
	}
	if err := writePlot(out, images, res, cfg.Data.Classes); err != nil {
		return err
	}
	log.Info("saved attribution plot", "path", out, "images", len(images), "expected", res.Expected)
	fmt.Fprintf(cmd.OutOrStdout(), "Explanation: %s\n", out)

	if explainValues != "" {
		doc := explanation{
			Classes:     cfg.Data.Classes,
			Expected:    res.Expected,
			PatchSize:   cfg.Explain.PatchSize,
			Background:  filenames(bgRows),
			Seed:        seed,
			ModelPath:   cfg.Paths.ModelToLoad,
			SampleCount: cfg.Explain.NSamples,
		}
		for i, a := range atts {
			doc.Images = append(doc.Images, explainedImage{
				Filename:   testRows[i].Filename,
				Label:      testRows[i].Label,
				Prediction: a.Prediction,
				SHAP:       a.Features,
			})
		}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal values: %w", err)
		}
		if err := os.WriteFile(explainValues, data, 0o644); err != nil {
			return fmt.Errorf("write values: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Values: %s\n", explainValues)
	}
	return nil
}

// testSlice returns EXPLAIN.TEST_COUNT rows starting at EXPLAIN.TEST_START,
// clipped to the end of the test set.
func testSlice(test []dataset.Sample, ex config.Explain) ([]dataset.Sample, error) {
	if ex.TestStart >= len(test) {
		return nil, fmt.Errorf("EXPLAIN.TEST_START %d is past the %d test rows", ex.TestStart, len(test))
	}
	end := min(ex.TestStart+ex.TestCount, len(test))
	return test[ex.TestStart:end], nil
}

func filenames(rows []dataset.Sample) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Filename
	}
	return out
}

func writePlot(path string, images []*imaging.Tensor, res *explain.Result, classes []string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create plot: %w", err)
	}
	if err := render.ImagePlot(f, images, res, classes); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
