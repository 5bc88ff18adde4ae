package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"cxr/internal/dataset"
	"cxr/internal/report"
)

var (
	splitsConfigPath string
	splitsFormat     string
)

var splitsCmd = &cobra.Command{
	Use:   "splits",
	Short: "Inspect the split CSVs",
}

var splitsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show per-class row counts of the train/val/test CSVs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := report.ParseMode(splitsFormat)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(splitsConfigPath)
		if err != nil {
			return err
		}
		fs := afero.NewOsFs()
		paths := splitPaths(cfg)
		var s dataset.Splits
		for _, target := range []struct {
			path string
			rows *[]dataset.Sample
		}{
			{paths.Train, &s.Train},
			{paths.Val, &s.Val},
			{paths.Test, &s.Test},
		} {
			if target.path == "" {
				continue
			}
			rows, err := dataset.ReadCSV(fs, target.path, true)
			if err != nil {
				return err
			}
			*target.rows = rows
		}
		if s.Len() == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No split CSVs found. Run 'cxr preprocess siim' first.")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), report.Splits(s, cfg.Data.Classes, mode))
		return nil
	},
}

func init() {
	f := splitsSummaryCmd.Flags()
	f.StringVar(&splitsConfigPath, "configPath", defaultConfigPath, "Path to the project config (YAML/JSON)")
	f.StringVar(&splitsFormat, "format", "ascii", "Table format: ascii or markdown")

	splitsCmd.AddCommand(splitsSummaryCmd)
}
