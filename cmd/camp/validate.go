package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/camp/internal/config"
	"github.com/cuemby/camp/internal/coordinator"
	"github.com/cuemby/camp/internal/manager"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Merge the configuration without running anything",
	Long: `validate loads and merges the configuration layers the same way run
does and reports any configuration error, without creating a run directory or
spawning any task. It does not look the model up in a registry, does not
enumerate the parameter space's points, and applies no parameter constraints.`,
	RunE: validateConfig,
}

func init() {
	validateCmd.Flags().String("model", "", "Registered model name")
	validateCmd.Flags().String("base-config", "", "Path to the base configuration layer")
	validateCmd.Flags().String("user-config", "", "Path to the user configuration layer")
	validateCmd.Flags().String("run-config", "", "Path to the run-specific configuration layer")
	validateCmd.Flags().Bool("sweep", false, "Accepted for parity with run; it does not change what validate checks")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	modelName, _ := cmd.Flags().GetString("model")
	baseConfig, _ := cmd.Flags().GetString("base-config")
	userConfig, _ := cmd.Flags().GetString("user-config")
	runConfig, _ := cmd.Flags().GetString("run-config")
	sweep, _ := cmd.Flags().GetBool("sweep")

	c, err := coordinator.New(coordinator.Options{
		ModelName:      modelName,
		Base:           config.Layer{Path: baseConfig},
		User:           config.Layer{Path: userConfig},
		Run:            config.Layer{Path: runConfig},
		Sweep:          sweep,
		ExecutablePath: "/bin/true",
		ManagerOptions: manager.Options{NumWorkers: 1},
	})
	if err != nil {
		return err
	}

	if err := c.ValidateOnly(); err != nil {
		return err
	}

	fmt.Println("configuration is valid")
	return nil
}
