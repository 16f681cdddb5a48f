// Package coordinator implements the Campaign Coordinator (spec.md §4.1):
// config pipeline, run-directory creation, parameter-space expansion, task
// submission, shared-state policy, cluster partitioning. A near line-for-
// line port of multiverse.py's Multiverse (_create_meta_cfg, _create_run_dir,
// _perform_backup, _prepare_executable, _resolve_cluster_params,
// _add_sim_task, run).
package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/camp/internal/camplog"
	"github.com/cuemby/camp/internal/clusterenv"
	"github.com/cuemby/camp/internal/config"
	"github.com/cuemby/camp/internal/manager"
	"github.com/cuemby/camp/internal/paramspace"
	"github.com/cuemby/camp/internal/task"
)

// runDirTimeFormat matches spec §4.1/§6: "Timestamp uses local time
// formatted as YYMMDD-HHMMSS."
const runDirTimeFormat = "060102-150405"

// Options configures a Coordinator (spec §4.1 + §6).
type Options struct {
	OutDir    string
	ModelName string
	// Note, if non-empty, is appended to the run directory name (spec
	// §4.1: "<name> is <timestamp>[_<extra>...][_<note>]").
	Note string

	ExecutablePath string
	// StageToTempDir requests copying the executable to a temporary
	// directory before execution (spec §4.1: "Executable staging").
	StageToTempDir bool

	Base         config.Layer
	User         config.Layer
	ModelDefault config.Layer
	Run          config.Layer
	Overrides    config.Map

	ValidationEntries []config.Entry

	// ClusterEnv, if non-nil, puts the Coordinator in cluster mode (spec
	// §6: "Cluster partitioning input").
	ClusterEnv map[string]string

	ManagerOptions manager.Options
	StartOptions   manager.StartOptions

	// Sweep enables parameter-space expansion; when false, exactly one
	// task for the default point is submitted with id "0" (spec §4.1:
	// "Single-point mode").
	Sweep bool
}

// Coordinator owns the Manager and the configuration exclusively (spec §3:
// "The Coordinator exclusively owns the Manager and the configuration").
type Coordinator struct {
	opts Options
	log  zerolog.Logger

	merged     config.Map
	parts      map[string]config.Layer
	space      *paramspace.Space
	clusterPrm *clusterenv.Params

	runDir    string
	configDir string
	dataDir   string
	evalDir   string

	executablePath string
	tmpDir         string

	mgr *manager.Manager
}

// New builds the effective configuration (5-layer merge), resolves cluster
// parameters if applicable, and normalizes the parameter space. It performs
// no filesystem mutation yet; call Prepare to create the run directory and
// stage the executable.
func New(opts Options) (*Coordinator, error) {
	pipeline := config.Pipeline{
		Base:         opts.Base,
		User:         opts.User,
		ModelName:    opts.ModelName,
		ModelDefault: opts.ModelDefault,
		Run:          opts.Run,
		Overrides:    opts.Overrides,
	}
	merged, parts, err := pipeline.Build()
	if err != nil {
		return nil, err
	}

	var clusterPrm *clusterenv.Params
	if opts.ClusterEnv != nil {
		clusterPrm, err = clusterenv.Decode(opts.ClusterEnv)
		if err != nil {
			return nil, &config.ConfigError{Path: "cluster_env", Err: err}
		}
	}

	var raw map[string]any
	if ps, ok := merged["parameter_space"]; ok {
		if m, ok := ps.(config.Map); ok {
			raw = map[string]any(m)
		}
	}
	space := paramspace.BuildSpace(raw)

	return &Coordinator{
		opts:           opts,
		log:            camplog.WithComponent("coordinator"),
		merged:         merged,
		parts:          parts,
		space:          space,
		clusterPrm:     clusterPrm,
		executablePath: opts.ExecutablePath,
	}, nil
}

func (c *Coordinator) inClusterMode() bool { return c.clusterPrm != nil }

// Prepare validates parameters, creates the run directory, performs the
// config backup, and stages the executable (spec §4.1).
func (c *Coordinator) Prepare() error {
	if err := c.validate(); err != nil {
		return err
	}
	if err := c.createRunDir(); err != nil {
		return err
	}
	if !c.inClusterMode() || c.clusterPrm.NodeIndex == 0 {
		if err := c.backup(); err != nil {
			return err
		}
	}
	return c.stageExecutable()
}

// ValidateOnly runs the same validation Prepare would, without touching the
// filesystem. Used by `camp validate` to catch a malformed parameter space
// before committing to a run directory.
func (c *Coordinator) ValidateOnly() error {
	return c.validate()
}

func (c *Coordinator) validate() error {
	if len(c.opts.ValidationEntries) == 0 {
		return nil
	}
	points, _, err := c.space.Collect()
	if err != nil {
		return err
	}
	cfgPoints := make([]config.Map, len(points))
	for i, p := range points {
		cfgPoints[i] = config.Map(p)
	}
	return config.ValidateAll(cfgPoints, c.opts.ValidationEntries)
}

func (c *Coordinator) runDirName() string {
	if c.inClusterMode() {
		ts := time.Unix(c.clusterPrm.Timestamp, 0).Format(runDirTimeFormat)
		name := ts
		for _, extra := range c.clusterPrm.AdditionalRunDirFstrs {
			name += "_" + extra
		}
		if c.opts.Note != "" {
			name += "_" + c.opts.Note
		}
		return name
	}
	name := time.Now().Format(runDirTimeFormat)
	if c.opts.Note != "" {
		name += "_" + c.opts.Note
	}
	return name
}

// createRunDir builds <out_dir>/<model_name>/<name> and its config/data/eval
// subdirectories (spec §4.1: "Run directory"). Collision is fatal outside
// cluster mode.
func (c *Coordinator) createRunDir() error {
	outDir := c.opts.OutDir
	if c.inClusterMode() && c.clusterPrm.CustomOutDir != "" {
		outDir = c.clusterPrm.CustomOutDir
	}

	c.runDir = filepath.Join(outDir, c.opts.ModelName, c.runDirName())
	c.log.Info().Str("run_dir", c.runDir).Msg("creating run directory")

	if err := mkdirRunDir(c.runDir, c.inClusterMode()); err != nil {
		return fmt.Errorf("coordinator: run directory %s already exists (add a note to disambiguate): %w", c.runDir, err)
	}

	for _, sub := range []string{"config", "data", "eval"} {
		path := filepath.Join(c.runDir, sub)
		if err := mkdirRunDir(path, c.inClusterMode()); err != nil {
			return fmt.Errorf("coordinator: creating %s: %w", path, err)
		}
		switch sub {
		case "config":
			c.configDir = path
		case "data":
			c.dataDir = path
		case "eval":
			c.evalDir = path
		}
	}
	return nil
}

func mkdirRunDir(path string, existOK bool) error {
	if existOK {
		return os.MkdirAll(path, 0o755)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		if parent := filepath.Dir(path); parent != path {
			_ = os.MkdirAll(parent, 0o755)
			return os.Mkdir(path, 0o755)
		}
		return err
	}
	return nil
}

// backup writes the effective merged configuration, the parameter-space
// object, and each input layer into config/ (spec §4.1: "Backup").
func (c *Coordinator) backup() error {
	if err := writeYAML(filepath.Join(c.configDir, "meta_cfg.yml"), c.merged); err != nil {
		return err
	}
	if err := writeYAML(filepath.Join(c.configDir, "parameter_space.yml"), c.space); err != nil {
		return err
	}
	for name, layer := range c.parts {
		dst := filepath.Join(c.configDir, name+".yml")
		if layer.Path != "" {
			if err := copyFile(layer.Path, dst); err != nil {
				return fmt.Errorf("coordinator: backing up %s layer: %w", name, err)
			}
			continue
		}
		if layer.Data != nil {
			if err := writeYAML(dst, layer.Data); err != nil {
				return err
			}
		}
	}

	if c.opts.StageToTempDir && c.executablePath != "" {
		backupDir := filepath.Join(c.runDir, "backup")
		if err := os.MkdirAll(backupDir, 0o755); err != nil {
			return err
		}
		if err := copyFile(c.executablePath, filepath.Join(backupDir, filepath.Base(c.executablePath))); err != nil {
			return fmt.Errorf("coordinator: backing up executable: %w", err)
		}
	}
	return nil
}

// stageExecutable verifies the executable exists and is executable, and
// optionally copies it to a temporary directory (spec §4.1: "Executable
// staging").
func (c *Coordinator) stageExecutable() error {
	info, err := os.Stat(c.executablePath)
	if err != nil {
		return &ExecutableError{Path: c.executablePath, Reason: "not found", Err: err}
	}
	if info.Mode()&0o111 == 0 {
		return &ExecutableError{Path: c.executablePath, Reason: "not executable"}
	}

	if !c.opts.StageToTempDir {
		return nil
	}

	tmpDir, err := os.MkdirTemp("", "camp-exec-")
	if err != nil {
		return fmt.Errorf("coordinator: staging executable: %w", err)
	}
	staged := filepath.Join(tmpDir, filepath.Base(c.executablePath))
	if err := copyFile(c.executablePath, staged); err != nil {
		return fmt.Errorf("coordinator: staging executable: %w", err)
	}
	if err := os.Chmod(staged, 0o755); err != nil {
		return fmt.Errorf("coordinator: staging executable: %w", err)
	}
	c.tmpDir = tmpDir
	c.executablePath = staged
	return nil
}

// Cleanup removes the staged executable's temporary directory, if any. The
// temporary directory's lifetime is bound to the Coordinator (spec §4.1).
func (c *Coordinator) Cleanup() {
	if c.tmpDir != "" {
		_ = os.RemoveAll(c.tmpDir)
	}
}

// Submit creates the Manager and registers one task per parameter-space
// point (or exactly one, in single-point mode), applying cluster
// partitioning if configured (spec §4.1: "Task submission").
func (c *Coordinator) Submit() error {
	mgr, err := manager.New(c.opts.ManagerOptions)
	if err != nil {
		return err
	}
	c.mgr = mgr

	if !c.opts.Sweep {
		if err := c.addTask(0, c.space.DefaultPoint(), "0"); err != nil {
			return err
		}
		c.mgr.LockTasks()
		c.log.Info().Int("tasks", c.mgr.TaskCount()).Msg("submitted tasks")
		return nil
	}

	i := 0
	err = c.space.Iterate(func(p paramspace.Point, idStr string) error {
		defer func() { i++ }()
		if c.inClusterMode() && !c.clusterPrm.IncludesIndex(i) {
			return nil
		}
		return c.addTask(i, p, idStr)
	})
	if err != nil {
		return err
	}

	c.mgr.LockTasks()
	c.log.Info().Int("tasks", c.mgr.TaskCount()).Msg("submitted tasks")
	return nil
}

func (c *Coordinator) addTask(_ int, point paramspace.Point, idStr string) error {
	uniBasename := "uni" + idStr
	uniDir := filepath.Join(c.dataDir, uniBasename)
	if err := os.MkdirAll(uniDir, 0o755); err != nil {
		return fmt.Errorf("coordinator: creating universe directory: %w", err)
	}

	point["output_dir"] = uniDir
	point["output_path"] = filepath.Join(uniDir, "data.h5")

	cfgPath := filepath.Join(uniDir, "config.yml")
	if err := writeYAML(cfgPath, point); err != nil {
		return err
	}

	_, err := c.mgr.AddTask(task.Spec{
		Name:           uniBasename,
		ExecutablePath: c.executablePath,
		Point:          point,
		UniverseID:     idStr,
		Args:           []string{cfgPath},
		CaptureStdout:  true,
		CaptureStderr:  true,
		StdoutLogPath:  filepath.Join(uniDir, "out.log"),
		StderrLogPath:  filepath.Join(uniDir, "err.log"),
		ParseStdout:    true,
	})
	return err
}

// Run blocks until the campaign completes or aborts. Submission is already
// locked by Submit; Run does not lock it again.
func (c *Coordinator) Run(ctx context.Context) error {
	return c.mgr.StartWorking(ctx, c.opts.StartOptions)
}

// Manager exposes the underlying Manager, primarily for tests and for a
// Reporter that wants direct access to task counts.
func (c *Coordinator) Manager() *manager.Manager { return c.mgr }

func (c *Coordinator) RunDir() string { return c.runDir }

func writeYAML(path string, v any) error {
	raw, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("coordinator: encoding %s: %w", path, err)
	}
	return os.WriteFile(path, raw, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, in, info.Mode().Perm())
}

// ExecutableError distinguishes a missing binary from a non-executable one
// (spec §7: "ExecutableError — binary missing (distinct from not-
// executable). Fatal, pre-run.").
type ExecutableError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ExecutableError) Error() string {
	return fmt.Sprintf("coordinator: executable %s: %s", e.Path, e.Reason)
}

func (e *ExecutableError) Unwrap() error { return e.Err }
