// Package task implements the Worker Task (spec.md §4.3): the lifecycle of
// one child process — spawn, non-blocking stream drain, signal, exit
// capture, and callbacks. Grounded on the teacher's per-unit lifecycle
// shape in pkg/worker/worker.go (pull→create→start→monitor→stop) and on
// the stdlib os/exec idiom shown across the retrieval pack's standalone
// orchestrator examples (os/exec.CommandContext, StdoutPipe/StderrPipe,
// Process.Signal) — this domain has no OCI/container runtime, so os/exec
// against a plain executable replaces containerd as the spawn mechanism.
package task

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/camp/internal/camplog"
	"github.com/cuemby/camp/internal/paramspace"
	"github.com/cuemby/camp/internal/streamline"
	"github.com/cuemby/camp/internal/stopcond"
)

// State is a task's position in its one-way lifecycle (spec §3: "pending →
// spawned → running → terminal(ok) | terminal(nonzero) | terminal(signalled)").
type State int

const (
	Pending State = iota
	Spawned
	Running
	TerminalOK
	TerminalNonZero
	TerminalSignalled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Spawned:
		return "spawned"
	case Running:
		return "running"
	case TerminalOK:
		return "terminal(ok)"
	case TerminalNonZero:
		return "terminal(nonzero)"
	case TerminalSignalled:
		return "terminal(signalled)"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool { return s >= TerminalOK }

// tailLimit bounds the rolling tail of free-form log lines kept per stream
// in memory (spec §4.3: "a rolling tail of free-form log lines per stream").
const tailLimit = 50

// Spec holds a task's identity, setup inputs and spawn inputs (spec §3).
type Spec struct {
	Name     string
	Priority *int // lower sorts earlier; nil means "unset", sorts last

	ExecutablePath string
	Point          paramspace.Point
	UniverseID     string

	Args []string // shell-free argument vector

	CaptureStdout bool
	CaptureStderr bool
	StdoutLogPath string // optional; empty disables the log file
	StderrLogPath string

	// ParseStdout enables structured-record parsing (spec §4.4) on the
	// stdout stream. Stderr is always treated as raw-line mode.
	ParseStdout bool
}

// Task is one child process and its owned resources (spec §3: "Each Task
// exclusively owns its child process handle, stream buffers, and log file
// handles").
type Task struct {
	spec Spec
	log  zerolog.Logger

	mu          sync.Mutex
	state       State
	cmd         *exec.Cmd
	pid         int
	startTime   time.Time
	endTime     time.Time
	progress    map[string]any
	stdoutTail  []string
	stderrTail  []string
	stdoutBytes int64
	stderrBytes int64
	workerExit  int  // exit code, or -signal on a signalled exit
	signalled   bool
	signalUsed  syscall.Signal
	err         error // first TaskTypeError encountered (spawn or stream decode)

	onSpawn  func(*Task)
	onFinish func(*Task)

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Task in the pending state. OnSpawn/OnFinish callbacks are
// registered separately by the Manager (spec §4.2: add_task "registers two
// callbacks on the task: on_spawn, on_finish").
func New(spec Spec) *Task {
	return &Task{
		spec:     spec,
		state:    Pending,
		progress: make(map[string]any),
		done:     make(chan struct{}),
		log:      camplog.WithTask(spec.Name),
	}
}

func (t *Task) Name() string           { return t.spec.Name }
func (t *Task) Priority() *int         { return t.spec.Priority }
func (t *Task) UniverseID() string     { return t.spec.UniverseID }
func (t *Task) Done() <-chan struct{}  { return t.done }

// OnSpawn registers fn to run once, immediately after the child process is
// created.
func (t *Task) OnSpawn(fn func(*Task)) { t.onSpawn = fn }

// OnFinish registers fn to run once, after the task reaches a terminal
// state.
func (t *Task) OnFinish(fn func(*Task)) { t.onFinish = fn }

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) PID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pid
}

// Err returns the first TaskTypeError observed during spawn or stream
// decoding, if any (spec §4.3: "Lines that cannot be decoded as UTF-8 raise
// a type error at read time").
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// ExitStatus reports the worker-style exit status: a non-negative exit
// code on a normal exit, or the negative signal number on a signalled exit
// (spec §4.3: "reports its worker status as the signal's negative value").
// ok is false while the task has not yet reached a terminal state.
func (t *Task) ExitStatus() (status int, signalled bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.workerExit, t.signalled, t.state.Terminal()
}

// Telemetry returns a read-only snapshot for stopcond evaluation (spec
// §4.5: conditions "read only the task's observed telemetry").
func (t *Task) Telemetry() stopcond.Telemetry {
	t.mu.Lock()
	defer t.mu.Unlock()

	progress := make(map[string]any, len(t.progress))
	for k, v := range t.progress {
		progress[k] = v
	}
	elapsed := time.Duration(0)
	if !t.startTime.IsZero() {
		end := t.endTime
		if end.IsZero() {
			end = time.Now()
		}
		elapsed = end.Sub(t.startTime)
	}

	return stopcond.Telemetry{
		Progress:    progress,
		Elapsed:     elapsed,
		StdoutBytes: t.stdoutBytes,
		StderrBytes: t.stderrBytes,
		StdoutTail:  append([]string(nil), t.stdoutTail...),
		StderrTail:  append([]string(nil), t.stderrTail...),
	}
}

// Spawn creates the child process, wires non-blocking stream drains, and
// invokes OnSpawn. Cancelling ctx kills the child. The Manager passes in the
// context given to StartWorking unchanged; it enforces the total-campaign
// timeout itself, by sending SIGTERM.
func (t *Task) Spawn(ctx context.Context) error {
	t.mu.Lock()
	if t.state != Pending {
		t.mu.Unlock()
		return fmt.Errorf("task: %s: Spawn called in state %s", t.spec.Name, t.state)
	}
	if t.spec.ExecutablePath == "" {
		err := &TypeError{Task: t.spec.Name, Reason: "executable path is empty"}
		t.err = err
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	cmd := exec.CommandContext(ctx, t.spec.ExecutablePath, t.spec.Args...)

	var stdoutPipe, stderrPipe io.ReadCloser
	var err error
	if t.spec.CaptureStdout {
		if stdoutPipe, err = cmd.StdoutPipe(); err != nil {
			return &TypeError{Task: t.spec.Name, Reason: "stdout pipe: " + err.Error()}
		}
	}
	if t.spec.CaptureStderr {
		if stderrPipe, err = cmd.StderrPipe(); err != nil {
			return &TypeError{Task: t.spec.Name, Reason: "stderr pipe: " + err.Error()}
		}
	}

	var stdoutFile, stderrFile *os.File
	if t.spec.StdoutLogPath != "" {
		if stdoutFile, err = os.Create(t.spec.StdoutLogPath); err != nil {
			return fmt.Errorf("task: %s: creating stdout log: %w", t.spec.Name, err)
		}
	}
	if t.spec.StderrLogPath != "" {
		if stderrFile, err = os.Create(t.spec.StderrLogPath); err != nil {
			return fmt.Errorf("task: %s: creating stderr log: %w", t.spec.Name, err)
		}
	}

	if err := cmd.Start(); err != nil {
		return &TypeError{Task: t.spec.Name, Reason: "spawn: " + err.Error()}
	}

	t.mu.Lock()
	t.cmd = cmd
	t.pid = cmd.Process.Pid
	t.startTime = time.Now()
	t.state = Spawned
	t.mu.Unlock()

	if t.spec.CaptureStdout {
		t.wg.Add(1)
		go t.drain(stdoutPipe, stdoutFile, "stdout", t.spec.ParseStdout)
	} else if stdoutFile != nil {
		stdoutFile.Close()
	}
	if t.spec.CaptureStderr {
		t.wg.Add(1)
		go t.drain(stderrPipe, stderrFile, "stderr", false)
	} else if stderrFile != nil {
		stderrFile.Close()
	}

	t.mu.Lock()
	t.state = Running
	t.mu.Unlock()

	t.log.Info().Int("pid", t.pid).Msg("spawned")

	if t.onSpawn != nil {
		t.onSpawn(t)
	}

	go t.await()

	return nil
}

// drain reads lines from r non-blockingly (in its own goroutine), decoding
// each as UTF-8, optionally structured-parsing stdout, and mirroring raw
// text to logFile if non-nil (spec §4.3/§4.4).
func (t *Task) drain(r io.ReadCloser, logFile *os.File, which string, parse bool) {
	defer t.wg.Done()
	defer r.Close()
	if logFile != nil {
		defer logFile.Close()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		raw := scanner.Bytes()
		line, err := streamline.DecodeLine(raw)
		if err != nil {
			t.mu.Lock()
			if t.err == nil {
				t.err = &TypeError{Task: t.spec.Name, Reason: which + ": " + err.Error()}
			}
			t.mu.Unlock()
			continue
		}

		mode := streamline.RawLineMode
		if parse {
			mode = streamline.StructuredMode
		}
		parsed := streamline.Parse(line, mode)

		t.mu.Lock()
		switch which {
		case "stdout":
			t.stdoutBytes += int64(len(raw)) + 1
			t.stdoutTail = appendTail(t.stdoutTail, line)
		case "stderr":
			t.stderrBytes += int64(len(raw)) + 1
			t.stderrTail = appendTail(t.stderrTail, line)
		}
		if parsed.Structured {
			t.progress = streamline.MergeInto(t.progress, parsed.Record)
		}
		t.mu.Unlock()

		if logFile != nil {
			fmt.Fprintln(logFile, line)
		}
	}
}

func appendTail(tail []string, line string) []string {
	tail = append(tail, line)
	if len(tail) > tailLimit {
		tail = tail[len(tail)-tailLimit:]
	}
	return tail
}

// await waits for stream drains to finish and the child to exit, finalizes
// telemetry, and invokes OnFinish (spec §4.3: "exit status and elapsed
// time are recorded, stream readers drain to completion, log files ...
// are closed, and on_finish is invoked").
func (t *Task) await() {
	t.wg.Wait()
	waitErr := t.cmd.Wait()

	t.mu.Lock()
	t.endTime = time.Now()

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		t.workerExit = 0
		t.state = TerminalOK
	case asExitError(waitErr, &exitErr):
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			t.signalled = true
			t.signalUsed = ws.Signal()
			t.workerExit = -int(ws.Signal())
			t.state = TerminalSignalled
		} else {
			t.workerExit = exitErr.ExitCode()
			t.state = TerminalNonZero
		}
	default:
		// cmd.Start succeeded but Wait failed for a reason other than a
		// non-zero exit (e.g. I/O error reaping the process).
		t.workerExit = -1
		t.state = TerminalNonZero
	}
	t.mu.Unlock()

	t.log.Info().Str("state", t.state.String()).Int("status", t.workerExit).Msg("finished")

	if t.onFinish != nil {
		t.onFinish(t)
	}
	close(t.done)
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

// Signal delivers sig to the child if it is still alive. SIGTERM is the
// standard termination path (spec §4.3). Signalling a process that has
// already exited is a no-op, which is what makes stop-condition
// re-evaluation idempotent (spec §4.5).
func (t *Task) Signal(sig syscall.Signal) error {
	t.mu.Lock()
	cmd := t.cmd
	terminal := t.state.Terminal()
	t.mu.Unlock()

	if cmd == nil || cmd.Process == nil || terminal {
		return nil
	}
	if err := cmd.Process.Signal(sig); err != nil {
		if err == os.ErrProcessDone {
			return nil
		}
		return fmt.Errorf("task: %s: signal %s: %w", t.spec.Name, sig, err)
	}
	return nil
}

// MarkSpawnFailed transitions a task straight from Pending to a terminal
// state when Spawn returns an error before the process ever started (empty
// executable path, pipe setup, log file creation, cmd.Start failure). Spawn
// itself never reaches Running on these paths, so nothing else would ever
// close done or mark the task terminal (spec §8 invariant: "each task
// reaches exactly one terminal state") — the Manager calls this on a spawn
// error so the task can still be reaped out of the active set.
func (t *Task) MarkSpawnFailed(err error) {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	t.state = TerminalNonZero
	t.workerExit = 1
	t.err = err
	t.endTime = time.Now()
	t.mu.Unlock()

	close(t.done)
	if t.onFinish != nil {
		t.onFinish(t)
	}
}

// TypeError is spec's TaskTypeError: invalid spawn arguments or
// undecodable stream bytes, raised at the task boundary (spec §7).
type TypeError struct {
	Task   string
	Reason string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("task %s: type error: %s", e.Task, e.Reason)
}

// NonZeroExit carries the offending task reference (spec §7: "NonZeroExit
// — carries the offending task reference. Non-fatal unless debug mode").
type NonZeroExit struct {
	Task   string
	Status int
}

func (e *NonZeroExit) Error() string {
	return fmt.Sprintf("task %s: exited with status %d", e.Task, e.Status)
}
