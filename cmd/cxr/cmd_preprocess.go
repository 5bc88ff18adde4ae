package main

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"cxr/internal/dataset"
	"cxr/internal/logging"
	"cxr/internal/report"
	"cxr/internal/store"
)

var (
	preprocessConfigPath string
	preprocessAppend     bool
	preprocessSeed       int64
	preprocessDryRun     bool
	preprocessDBPath     string
	preprocessFormat     string
)

var preprocessCmd = &cobra.Command{
	Use:   "preprocess",
	Short: "Build train/val/test CSVs from raw datasets",
}

var preprocessSIIMCmd = &cobra.Command{
	Use:   "siim",
	Short: "Split the SIIM-FISABIO-RSNA images into stratified CSVs",
	Long: "Join the SIIM image files with their label table, map labels through SIIM.MAPPING,\n" +
		"and write stratified train/val/test CSVs to PATHS.TRAIN_SET, VAL_SET and TEST_SET.\n" +
		"With --append the new rows follow the rows already present in each CSV.",
	Args: cobra.NoArgs,
	RunE: runPreprocessSIIM,
}

func init() {
	f := preprocessSIIMCmd.Flags()
	f.StringVar(&preprocessConfigPath, "configPath", defaultConfigPath, "Path to the project config (YAML/JSON)")
	f.BoolVar(&preprocessAppend, "append", false, "Append to the existing split CSVs instead of overwriting them")
	f.Int64Var(&preprocessSeed, "seed", 0, "Seed for the stratified split (default: time-based)")
	f.BoolVar(&preprocessDryRun, "dry-run", false, "Print the split summary without writing CSVs")
	f.StringVar(&preprocessDBPath, "db", "", "Run ledger path (default: PATHS.LEDGER)")
	f.StringVar(&preprocessFormat, "format", "ascii", "Summary table format: ascii or markdown")

	preprocessCmd.AddCommand(preprocessSIIMCmd)
}

func runPreprocessSIIM(cmd *cobra.Command, args []string) error {
	mode, err := report.ParseMode(preprocessFormat)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(preprocessConfigPath)
	if err != nil {
		return err
	}
	if err := cfg.RequireSIIM(); err != nil {
		return err
	}
	log := logging.New("preprocess")

	fs := afero.NewOsFs()
	siim, err := dataset.LoadSIIM(fs, cfg)
	if err != nil {
		return err
	}
	siim.Filter(nil)

	seed := resolveSeed(cmd, preprocessSeed)
	splits, err := siim.Splits(rand.New(rand.NewSource(seed)))
	if err != nil {
		return fmt.Errorf("split: %w", err)
	}

	summary := splits
	if !preprocessDryRun {
		if dir := cfg.Paths.ProcessedData; dir != "" {
			if err := fs.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}
		}
		written, err := dataset.WriteSplits(fs, splitPaths(cfg), splits, preprocessAppend)
		if err != nil {
			return err
		}
		summary = written
		log.Info("wrote split CSVs",
			"train", cfg.Paths.TrainSet,
			"val", cfg.Paths.ValSet,
			"test", cfg.Paths.TestSet,
			"append", preprocessAppend,
		)
	}
	fmt.Fprint(cmd.OutOrStdout(), report.Splits(summary, cfg.Data.Classes, mode))
	fmt.Fprintln(cmd.OutOrStdout())

	st, err := store.Open(ledgerPath(preprocessDBPath, cfg))
	if err != nil {
		return err
	}
	defer st.Close()
	run := &store.Run{
		ID:         uuid.NewString(),
		ConfigPath: preprocessConfigPath,
		Seed:       seed,
		Append:     preprocessAppend,
		DryRun:     preprocessDryRun,
		Samples:    len(siim.Samples()),
		Counts:     classCounts(splits),
	}
	if err := st.SaveRun(run); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	log.Info("recorded run", "id", run.ID, "seed", seed)
	return nil
}
