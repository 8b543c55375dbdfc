// Package main implements ivfctl, the command-line client for the IVF outcome engine.
// It runs the engine in-process against the standalone data directory, so no server
// needs to be running.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ivf-outcome-server/internal/app"
	"github.com/ivf-outcome-server/internal/config"
	"github.com/ivf-outcome-server/internal/logging"
)

var (
	// Global flags
	dataDir      string
	outputFormat string
	verbose      bool

	logger *logrus.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ivfctl",
	Short: "Estimate IVF cycle outcomes from patient inputs",
	Long: `ivfctl validates patient inputs and estimates the IVF funnel:
retrieved oocytes, mature oocytes, fertilized embryos, day-3 embryos,
blastocysts and euploid blastocysts, for conventional IVF and ICSI.

Estimates are population-level and are not medical advice.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if verbose {
			level = "info"
		}
		logger = logging.NewWithOutput(level, "text", os.Stderr)
		return validateOutputFormat(outputFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default: $IVF_DATA_DIR or ~/.ivf-outcome)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text or json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(diagnosesCmd)
	rootCmd.AddCommand(savedCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(setupCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func validateOutputFormat(format string) error {
	switch format {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (want text or json)", format)
	}
}

// liteConfig resolves the standalone configuration, honouring --data-dir.
func liteConfig() *config.LiteConfig {
	cfg := config.LoadLiteConfig()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg
}

// openApp builds the engine against the local data directory.
func openApp(ctx context.Context) (*app.App, error) {
	if logger == nil {
		logger = logging.NewWithOutput("warn", "text", os.Stderr)
	}
	lite := liteConfig()
	if err := lite.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return app.New(ctx, lite.ToConfig(), "", logger)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
