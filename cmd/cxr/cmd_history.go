package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"cxr/internal/config"
	"cxr/internal/report"
	"cxr/internal/store"
)

var (
	historyDBPath string
	historyRunID  string
	historyFormat string
	historyConfig string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded preprocessing runs",
	Long: "List the preprocessing runs in the run ledger, newest first.\nWith --run, show the per-class counts of one run.\n" +
		"The ledger is --db, else PATHS.LEDGER from --configPath, else " + store.DefaultDBPath + ".",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := report.ParseMode(historyFormat)
		if err != nil {
			return err
		}
		var cfg *config.Config
		if historyConfig != "" {
			if cfg, err = loadConfig(historyConfig); err != nil {
				return err
			}
		}
		path := ledgerPath(historyDBPath, cfg)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if historyRunID != "" {
				return fmt.Errorf("run %q: %w (no ledger at %s)", historyRunID, store.ErrNotFound, path)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
			return nil
		}
		st, err := store.Open(path)
		if err != nil {
			return err
		}
		defer st.Close()

		if historyRunID != "" {
			run, err := findRun(st, historyRunID)
			if err != nil {
				return err
			}
			var classes []string
			if cfg != nil {
				classes = cfg.Data.Classes
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s (seed %d, %s)\n", run.ID, run.Seed, run.StartedAt)
			fmt.Fprintln(cmd.OutOrStdout(), report.RunCounts(run, classes, mode))
			return nil
		}

		runs, err := st.ListRuns()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), report.Runs(runs, mode))
		fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d runs\n", len(runs))
		return nil
	},
}

func init() {
	f := historyCmd.Flags()
	f.StringVar(&historyDBPath, "db", "", "Run ledger path (default: PATHS.LEDGER, else "+store.DefaultDBPath+")")
	f.StringVar(&historyRunID, "run", "", "Show the counts of this run ID")
	f.StringVar(&historyConfig, "configPath", "", "Config supplying PATHS.LEDGER and the DATA.CLASSES label names (optional)")
	f.StringVar(&historyFormat, "format", "ascii", "Table format: ascii or markdown")
}

// findRun resolves a full run ID or the short prefix shown by the listing.
func findRun(st store.Store, id string) (*store.Run, error) {
	run, err := st.GetRun(id)
	if err == nil || !errors.Is(err, store.ErrNotFound) {
		return run, err
	}
	runs, listErr := st.ListRuns()
	if listErr != nil {
		return nil, listErr
	}
	var match *store.Run
	for _, r := range runs {
		if strings.HasPrefix(r.ID, id) {
			if match != nil {
				return nil, fmt.Errorf("run prefix %q is ambiguous", id)
			}
			match = r
		}
	}
	if match == nil {
		return nil, err
	}
	return match, nil
}
