// psygen generates synthetic counseling dialogues.
//
// Usage:
//
//	psygen run --config settings.yaml                      # one session
//	psygen run --config settings.yaml --sessions 50 -j 4   # a batch
//	psygen validate --config settings.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "psygen",
	Short:         "Generate synthetic counseling dialogue sessions",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "settings.yaml", "Path to the settings file")
	rootCmd.AddCommand(newRunCmd(), newValidateCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
