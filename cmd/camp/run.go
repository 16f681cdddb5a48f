package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/camp/internal/camplog"
	"github.com/cuemby/camp/internal/config"
	"github.com/cuemby/camp/internal/coordinator"
	"github.com/cuemby/camp/internal/manager"
	"github.com/cuemby/camp/internal/metrics"
	"github.com/cuemby/camp/internal/registry"
	"github.com/cuemby/camp/internal/reporter"
	"github.com/cuemby/camp/internal/runlog"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a parameter sweep campaign",
	Long: `run creates a run directory, merges the configuration layers, expands
the parameter space (only when --sweep is set; otherwise the default point
runs alone), and drives the model binary to completion across a bounded
worker pool.`,
	RunE: runCampaign,
}

func init() {
	runCmd.Flags().String("model", "", "Registered model name (required)")
	runCmd.Flags().String("registry", "", "Path to the model registry YAML file")
	runCmd.Flags().String("out-dir", "./camp-out", "Campaign output directory")
	runCmd.Flags().String("base-config", "", "Path to the base configuration layer")
	runCmd.Flags().String("user-config", "", "Path to the user configuration layer")
	runCmd.Flags().String("run-config", "", "Path to the run-specific configuration layer")
	runCmd.Flags().String("note", "", "Note appended to the run directory name")
	runCmd.Flags().Bool("sweep", false, "Expand the parameter space instead of running a single default point")
	runCmd.Flags().Bool("stage-to-temp", false, "Copy the executable to a temporary directory before running")
	runCmd.Flags().String("num-workers", manager.NumWorkersAuto, `"auto", a positive count, or a negative offset from the CPU count`)
	runCmd.Flags().Duration("poll-delay", 50*time.Millisecond, "Delay between worker manager poll iterations")
	runCmd.Flags().Duration("timeout", 0, "Total campaign timeout (0 disables it)")
	runCmd.Flags().Bool("debug", false, "Abort the whole run on the first non-zero task exit")
	runCmd.Flags().Bool("forward-streams", false, "On every poll, log the latest stdout line of each active task (stderr is not forwarded)")
	runCmd.Flags().String("metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. :9090)")
}

func runCampaign(cmd *cobra.Command, args []string) error {
	modelName, _ := cmd.Flags().GetString("model")
	if modelName == "" {
		return fmt.Errorf("run: --model is required")
	}
	registryPath, _ := cmd.Flags().GetString("registry")
	outDir, _ := cmd.Flags().GetString("out-dir")
	baseConfig, _ := cmd.Flags().GetString("base-config")
	userConfig, _ := cmd.Flags().GetString("user-config")
	runConfig, _ := cmd.Flags().GetString("run-config")
	note, _ := cmd.Flags().GetString("note")
	sweep, _ := cmd.Flags().GetBool("sweep")
	stageToTemp, _ := cmd.Flags().GetBool("stage-to-temp")
	numWorkersStr, _ := cmd.Flags().GetString("num-workers")
	pollDelay, _ := cmd.Flags().GetDuration("poll-delay")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	debugMode, _ := cmd.Flags().GetBool("debug")
	forwardStreams, _ := cmd.Flags().GetBool("forward-streams")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	var modelEntry registry.Entry
	if registryPath != "" {
		reg, err := registry.Load(registryPath)
		if err != nil {
			return err
		}
		modelEntry, err = reg.Lookup(modelName)
		if err != nil {
			return err
		}
	}

	var modelDefault config.Layer
	if modelEntry.DefaultConfigPath != "" {
		modelDefault = config.Layer{Path: modelEntry.DefaultConfigPath}
	}

	numWorkers := any(numWorkersStr)
	if n, err := strconv.Atoi(numWorkersStr); err == nil {
		numWorkers = n
	}

	rep := reporter.Multi{reporter.NewConsoleReporter(), reporter.NewMetricsReporter()}

	opts := coordinator.Options{
		OutDir:         outDir,
		ModelName:      modelName,
		Note:           note,
		ExecutablePath: modelEntry.ExecutablePath,
		StageToTempDir: stageToTemp,
		Base:           config.Layer{Path: baseConfig},
		User:           config.Layer{Path: userConfig},
		ModelDefault:   modelDefault,
		Run:            config.Layer{Path: runConfig},
		Sweep:          sweep,
		ManagerOptions: manager.Options{
			NumWorkers: numWorkers,
			PollDelay:  pollDelay,
			Reporter:   rep,
			DebugMode:  debugMode,
		},
		StartOptions: manager.StartOptions{
			Timeout:        timeout,
			ForwardStreams: forwardStreams,
		},
	}

	c, err := coordinator.New(opts)
	if err != nil {
		return err
	}
	if err := c.Prepare(); err != nil {
		return err
	}
	defer c.Cleanup()

	if err := c.Submit(); err != nil {
		return err
	}

	if metricsAddr != "" {
		go serveMetrics(metricsAddr)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startedAt := time.Now()
	runErr := c.Run(ctx)
	endedAt := time.Now()

	outcome := runlog.OutcomeFinished
	if runErr != nil {
		outcome = runlog.OutcomeAborted
	}
	if ledgerErr := recordRun(outDir, runlog.Entry{
		Model:     modelName,
		RunDir:    c.RunDir(),
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Outcome:   outcome,
		NumTasks:  c.Manager().TaskCount(),
		NumOK:     c.Manager().FinishedCount(),
	}); ledgerErr != nil {
		camplog.Logger.Warn().Err(ledgerErr).Msg("failed to record run in ledger")
	}

	return runErr
}

func recordRun(outDir string, e runlog.Entry) error {
	l, err := runlog.Open(outDir)
	if err != nil {
		return err
	}
	defer l.Close()
	_, err = l.Record(e)
	return err
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		camplog.Logger.Warn().Err(err).Msg("metrics server stopped")
	}
}
