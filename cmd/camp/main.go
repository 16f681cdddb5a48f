// Package main is the camp CLI, grounded on the teacher's cmd/warren/main.go
// (cobra root command, persistent --log-level/--log-json flags initialized
// via cobra.OnInitialize, one subcommand per area of the tool) re-targeted
// from cluster/service/worker management at running and inspecting
// parameter-sweep campaigns.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/camp/internal/camplog"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "camp",
	Short: "camp - parameter sweep campaign orchestrator",
	Long: `camp runs a simulation model over a parameter sweep, managing the
worker pool, config layering, and run directory bookkeeping so a model
binary only ever has to read one config file and write its output.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"camp version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(registryCmd)
	rootCmd.AddCommand(historyCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	camplog.Init(camplog.Config{
		Level:      camplog.Level(logLevel),
		JSONOutput: logJSON,
	})
}
