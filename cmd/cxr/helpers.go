package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cxr/internal/config"
	"cxr/internal/dataset"
	"cxr/internal/store"
)

// defaultConfigPath matches the config.yml shipped at the project root.
const defaultConfigPath = "config.yml"

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func splitPaths(cfg *config.Config) dataset.SplitPaths {
	return dataset.SplitPaths{
		Train: cfg.Paths.TrainSet,
		Val:   cfg.Paths.ValSet,
		Test:  cfg.Paths.TestSet,
	}
}

// resolveSeed returns the --seed value when it was given, else a time-based seed.
func resolveSeed(cmd *cobra.Command, flagValue int64) int64 {
	if cmd.Flags().Changed("seed") {
		return flagValue
	}
	return time.Now().UnixNano()
}

// ledgerPath prefers the --db flag over PATHS.LEDGER.
func ledgerPath(flagValue string, cfg *config.Config) string {
	if flagValue != "" {
		return flagValue
	}
	if cfg != nil && cfg.Paths.Ledger != "" {
		return cfg.Paths.Ledger
	}
	return store.DefaultDBPath
}

// classCounts flattens the per-split label counts for the run ledger.
func classCounts(s dataset.Splits) []store.ClassCount {
	var out []store.ClassCount
	for _, part := range s.Named() {
		counts := dataset.CountByLabel(part.Samples)
		for _, label := range dataset.Labels(part.Samples) {
			out = append(out, store.ClassCount{Split: part.Name, Label: label, Count: counts[label]})
		}
	}
	return out
}
