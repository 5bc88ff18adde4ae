// cxr prepares chest X-ray datasets for COVID-19 classification and explains
// a trained classifier's predictions.
//
// Usage:
//
//	cxr preprocess siim --configPath=config.yml [--append] [--seed=N] [--dry-run]
//	cxr explain --configPath=config.yml [--out=shap.png] [--values=shap.json]
//	cxr splits summary --configPath=config.yml
//	cxr history [--db=.cxr/ledger.db]
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cxr/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "cxr",
	Short: "COVID-19 chest X-ray dataset preparation and model interpretability",
	Long: "cxr builds stratified train/val/test CSVs from the SIIM-FISABIO-RSNA dataset\n" +
		"and renders SHAP attribution maps for a trained classifier.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		switch logFormat {
		case "text", "json":
		default:
			return fmt.Errorf("unknown log format %q (want text or json)", logFormat)
		}
		logging.Init(level, logFormat, cmd.ErrOrStderr())
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(preprocessCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(splitsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
