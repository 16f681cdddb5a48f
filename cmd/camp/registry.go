package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/camp/internal/registry"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Manage the model registry",
}

var registryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered models",
	RunE:  registryList,
}

var registryAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Register a model",
	Args:  cobra.ExactArgs(1),
	RunE:  registryAdd,
}

func init() {
	registryCmd.PersistentFlags().String("registry", "./registry.yml", "Path to the model registry YAML file")
	registryCmd.AddCommand(registryListCmd)
	registryCmd.AddCommand(registryAddCmd)

	registryAddCmd.Flags().String("executable", "", "Path to the model executable (required)")
	registryAddCmd.Flags().String("default-config", "", "Path to the model's default configuration layer")
}

func registryList(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("registry")
	reg, err := registry.Load(path)
	if err != nil {
		return err
	}
	for _, e := range reg.List() {
		fmt.Printf("%s\t%s\t%s\n", e.Name, e.ExecutablePath, e.DefaultConfigPath)
	}
	return nil
}

func registryAdd(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("registry")
	executable, _ := cmd.Flags().GetString("executable")
	defaultConfig, _ := cmd.Flags().GetString("default-config")
	if executable == "" {
		return fmt.Errorf("registry add: --executable is required")
	}

	reg, err := registry.Load(path)
	if err != nil {
		return err
	}
	return reg.Register(registry.Entry{
		Name:              args[0],
		ExecutablePath:    executable,
		DefaultConfigPath: defaultConfig,
	})
}
