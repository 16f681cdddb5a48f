// Package manager implements the Worker Manager (spec.md §4.2): a
// bounded-parallel scheduler over internal/task.Task values — task queue,
// active set, poll loop, timeout, stop conditions, failure policy. This is
// a near line-for-line port of workermanager.py's WorkerManager, adapted
// to Go's typed-error and goroutine idiom, with the poll loop's cadence
// and zerolog component logger shaped after the teacher's
// pkg/scheduler/scheduler.go.
package manager

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/camp/internal/camplog"
	"github.com/cuemby/camp/internal/metrics"
	"github.com/cuemby/camp/internal/stopcond"
	"github.com/cuemby/camp/internal/task"
)

// Reporter is the L6 Reporter Interface (spec §4.2/§6): an opaque sink of
// scheduler events. event names mirror the Python rf_spec keys:
// "while_working", "after_work", "after_abort", "task_spawned",
// "task_finished".
type Reporter interface {
	Report(event string, m *Manager)
}

// NumWorkersAuto resolves the concurrency bound to the host's CPU count
// (spec §4.2: "Special value auto → count of CPUs").
const NumWorkersAuto = "auto"

// Options configures a Manager at construction (spec §4.2 constructor
// arguments: num_workers, poll_delay, reporter, debug_mode).
type Options struct {
	// NumWorkers is NumWorkersAuto, a positive int, or a negative int
	// meaning "max(1, cpus - k)" (spec §4.2).
	NumWorkers any
	// PollDelay is the fixed sleep between poll iterations. Values below
	// 10ms are accepted but logged as a warning (spec §4.2: "minimum
	// enforced to avoid CPU spin").
	PollDelay time.Duration
	Reporter  Reporter
	// DebugMode: a non-zero task exit aborts the run (spec §4.2 failure
	// aggregation).
	DebugMode bool
}

// StartOptions configures one call to StartWorking (spec §4.2).
type StartOptions struct {
	Timeout         time.Duration // zero means no total timeout
	ForwardStreams  bool
	StopConditions  []stopcond.Condition
	PostPollHook    func()
}

// Manager is the Worker Manager. Exactly one StartWorking call is allowed
// per instance (spec §4.2: start_working "Exactly-once per Manager
// instance").
type Manager struct {
	numWorkers int
	pollDelay  time.Duration
	reporter   Reporter
	debugMode  bool
	log        zerolog.Logger

	mu                sync.Mutex
	tasks             []*task.Task
	queue             []*task.Task
	active            []*task.Task
	queuedAt          map[*task.Task]time.Time
	numFinished       int
	pendingExceptions []error
	locked            bool
	started           bool

	// Times mirror the Python WorkerManager's `times` dict (spec §3:
	// "Scheduler state ... event timestamps (init, start, timeout-deadline,
	// end)"); exported for reporters.
	Times struct {
		Init            time.Time
		StartWorking    time.Time
		TimeoutDeadline time.Time
		EndWorking      time.Time
	}
}

// New creates a Manager. A NumWorkers value of zero, a string other than
// NumWorkersAuto, or an unsupported type is an error; a negative value -k
// resolves to max(1, cpus - k).
func New(opts Options) (*Manager, error) {
	n, err := resolveNumWorkers(opts.NumWorkers)
	if err != nil {
		return nil, err
	}

	pollDelay := opts.PollDelay
	if pollDelay <= 0 {
		pollDelay = 50 * time.Millisecond
	}

	m := &Manager{
		numWorkers: n,
		pollDelay:  pollDelay,
		reporter:   opts.Reporter,
		debugMode:  opts.DebugMode,
		queuedAt:   make(map[*task.Task]time.Time),
	}
	m.Times.Init = time.Now()

	l := camplog.WithComponent("manager")
	if pollDelay < 10*time.Millisecond {
		l.Warn().Dur("poll_delay", pollDelay).Msg("poll delay below 10ms may cause significant CPU load")
	}
	if cpus := runtime.NumCPU(); n > cpus {
		l.Warn().Int("num_workers", n).Int("cpus", cpus).Msg("num_workers exceeds CPU count")
	}
	l.Info().Int("num_workers", n).Bool("debug_mode", opts.DebugMode).Msg("initialized worker manager")
	m.log = l

	return m, nil
}

func resolveNumWorkers(val any) (int, error) {
	cpus := runtime.NumCPU()

	switch v := val.(type) {
	case nil:
		return cpus, nil
	case string:
		if v == NumWorkersAuto || v == "" {
			return cpus, nil
		}
		return 0, fmt.Errorf("manager: invalid num_workers string %q, only %q is accepted", v, NumWorkersAuto)
	case int:
		if v >= 0 {
			if v == 0 {
				return 0, fmt.Errorf("manager: num_workers must not be zero")
			}
			return v, nil
		}
		n := cpus + v
		if n < 1 {
			n = 1
		}
		return n, nil
	default:
		return 0, fmt.Errorf("manager: unsupported num_workers type %T", val)
	}
}

// AddTask appends spec as a new Task and enqueues it (spec §4.2:
// "add_task(task_spec) → task: appends a task and enqueues it. Fails if
// list is locked."). on_spawn/on_finish callbacks are registered here so
// the Manager observes spawns and non-zero exits.
func (m *Manager) AddTask(spec task.Spec) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locked {
		return nil, &SubmissionError{Reason: fmt.Sprintf("task list is locked, cannot add %q", spec.Name)}
	}

	t := task.New(spec)
	t.OnSpawn(func(tk *task.Task) {
		m.log.Info().Str("task", tk.Name()).Int("pid", tk.PID()).Msg("task spawned")
		if m.reporter != nil {
			m.reporter.Report("task_spawned", m)
		}
	})
	t.OnFinish(func(tk *task.Task) {
		status, signalled, _ := tk.ExitStatus()
		if !signalled && status != 0 {
			m.mu.Lock()
			m.pendingExceptions = append(m.pendingExceptions, &task.NonZeroExit{Task: tk.Name(), Status: status})
			m.mu.Unlock()
		}
		if m.reporter != nil {
			m.reporter.Report("task_finished", m)
		}
	})

	m.tasks = append(m.tasks, t)
	m.queue = append(m.queue, t)
	m.queuedAt[t] = time.Now()
	return t, nil
}

// LockTasks freezes submissions (spec §4.2: lock_tasks).
func (m *Manager) LockTasks() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = true
}

// TaskCount returns the total number of tasks ever added.
func (m *Manager) TaskCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// ActiveCount returns the current size of the active set.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// FinishedCount returns the number of tasks that have reached a terminal
// state.
func (m *Manager) FinishedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.numFinished
}

// StartWorking blocks until every task reaches a terminal state, or until
// aborted by a total timeout or (in debug mode) a non-zero task exit. This
// implements the exact nine-step poll loop body from spec §4.2.
func (m *Manager) StartWorking(ctx context.Context, opts StartOptions) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("manager: StartWorking called more than once")
	}
	m.started = true
	m.Times.StartWorking = time.Now()
	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = m.Times.StartWorking.Add(opts.Timeout)
		m.Times.TimeoutDeadline = deadline
	}
	m.mu.Unlock()

	m.log.Info().Dur("timeout", opts.Timeout).Int("stop_conditions", len(opts.StopConditions)).Msg("starting to work")

	err := m.pollLoop(ctx, deadline, opts)

	if err != nil {
		m.log.Warn().Err(err).Msg("aborting: terminating active tasks")
		m.signalAll(syscall.SIGTERM)
		m.mu.Lock()
		m.Times.EndWorking = time.Now()
		m.mu.Unlock()
		if m.reporter != nil {
			m.reporter.Report("after_abort", m)
		}
		return err
	}

	m.flushPendingExceptions()

	m.mu.Lock()
	m.Times.EndWorking = time.Now()
	total := len(m.tasks)
	m.mu.Unlock()
	if m.reporter != nil {
		m.reporter.Report("after_work", m)
	}
	m.log.Info().Int("total_tasks", total).Msg("finished working")
	return nil
}

func (m *Manager) pollLoop(ctx context.Context, deadline time.Time, opts StartOptions) error {
	for {
		pollTimer := metrics.NewTimer()

		m.mu.Lock()
		remaining := len(m.active) > 0 || len(m.queue) > 0
		m.mu.Unlock()
		if !remaining {
			return nil
		}

		// Step 1: total timeout.
		if !deadline.IsZero() && time.Now().After(deadline) {
			return &SchedulerError{Err: &TotalTimeoutError{}}
		}

		// Step 2: pending deferred exception (debug mode raises the latest).
		if m.debugMode {
			if err := m.popPendingException(); err != nil {
				return &SchedulerError{Err: err}
			}
		}

		// Step 3: spawn at most one task per iteration.
		m.maybeSpawnOne(ctx)

		// Step 4: while_working report.
		if m.reporter != nil {
			m.reporter.Report("while_working", m)
		}

		// Step 5: drain streams (handled by background goroutines in
		// internal/task; forwarding surfaces the latest tail here).
		if opts.ForwardStreams {
			m.forwardStreams()
		}

		// Step 6: stop conditions.
		if len(opts.StopConditions) > 0 {
			m.checkStopConditions(opts.StopConditions)
		}

		// Step 7: reap finished tasks.
		m.pollActive()

		// Step 8: post-poll hook.
		if opts.PostPollHook != nil {
			opts.PostPollHook()
		}

		pollTimer.ObserveDuration(metrics.PollDuration)

		// Step 9: sleep.
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.pollDelay):
		}
	}
}

func (m *Manager) maybeSpawnOne(ctx context.Context) {
	m.mu.Lock()
	if len(m.active) >= m.numWorkers || len(m.queue) == 0 {
		m.mu.Unlock()
		return
	}
	t := m.queue[0]
	m.queue = m.queue[1:]
	m.active = append(m.active, t)
	queuedAt, hadQueuedAt := m.queuedAt[t]
	delete(m.queuedAt, t)
	m.mu.Unlock()

	if err := t.Spawn(ctx); err != nil {
		m.log.Warn().Str("task", t.Name()).Err(err).Msg("failed to spawn task")
		// Spawn never reached Running, so nothing else will ever mark this
		// task terminal or pull it out of the active set — without this it
		// would sit in m.active forever and StartWorking would hang (spec
		// §8: "each task reaches exactly one terminal state").
		t.MarkSpawnFailed(err)

		m.mu.Lock()
		m.active = removeTask(m.active, t)
		m.numFinished++
		m.mu.Unlock()
		return
	}

	if hadQueuedAt {
		metrics.SchedulingLatency.Observe(time.Since(queuedAt).Seconds())
	}
}

func removeTask(active []*task.Task, t *task.Task) []*task.Task {
	out := active[:0]
	for _, a := range active {
		if a != t {
			out = append(out, a)
		}
	}
	return out
}

func (m *Manager) forwardStreams() {
	m.mu.Lock()
	active := append([]*task.Task(nil), m.active...)
	m.mu.Unlock()

	for _, t := range active {
		tel := t.Telemetry()
		if n := len(tel.StdoutTail); n > 0 {
			m.log.Info().Str("task", t.Name()).Str("stream", "stdout").Str("line", tel.StdoutTail[n-1]).Msg("stream")
		}
	}
}

func (m *Manager) checkStopConditions(conds []stopcond.Condition) {
	m.mu.Lock()
	active := append([]*task.Task(nil), m.active...)
	m.mu.Unlock()

	toTerminate := map[*task.Task]bool{}
	for _, c := range conds {
		for _, t := range active {
			if c.Evaluate(t.Telemetry()) {
				toTerminate[t] = true
				metrics.StopConditionsFired.WithLabelValues(c.Name).Inc()
			}
		}
	}
	for t := range toTerminate {
		_ = t.Signal(syscall.SIGTERM)
	}
}

func (m *Manager) pollActive() {
	m.mu.Lock()
	defer m.mu.Unlock()

	still := m.active[:0]
	finished := 0
	for _, t := range m.active {
		if t.State().Terminal() {
			finished++
			continue
		}
		still = append(still, t)
	}
	m.active = still
	m.numFinished += finished
}

func (m *Manager) signalAll(sig syscall.Signal) {
	m.mu.Lock()
	active := append([]*task.Task(nil), m.active...)
	m.mu.Unlock()
	for _, t := range active {
		_ = t.Signal(sig)
	}
}

// popPendingException pops and returns the most recently queued pending
// exception, or nil if there are none.
func (m *Manager) popPendingException() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.pendingExceptions)
	if n == 0 {
		return nil
	}
	err := m.pendingExceptions[n-1]
	m.pendingExceptions = m.pendingExceptions[:n-1]
	return err
}

// flushPendingExceptions logs every remaining pending exception as a
// warning. This resolves the Python source's `_handle_pending_exceptions`
// non-debug branch, which references an undefined `exc` — here, every
// pending exception is logged once at the end of a normal run rather than
// guessing at that behavior (see DESIGN.md, Open Question decisions).
func (m *Manager) flushPendingExceptions() {
	m.mu.Lock()
	pending := m.pendingExceptions
	m.pendingExceptions = nil
	m.mu.Unlock()

	for _, err := range pending {
		m.log.Warn().Err(err).Msg("pending exception")
	}
}

// SubmissionError is spec's SubmissionError: add_task after lock (spec
// §7).
type SubmissionError struct {
	Reason string
}

func (e *SubmissionError) Error() string { return "manager: submission error: " + e.Reason }

// SchedulerError is the base class for scheduler-level failures that
// escape StartWorking (spec §7: "SchedulerError — base class. Includes
// TotalTimeout and propagated task errors").
type SchedulerError struct {
	Err error
}

func (e *SchedulerError) Error() string { return "manager: scheduler error: " + e.Err.Error() }
func (e *SchedulerError) Unwrap() error { return e.Err }

// TotalTimeoutError is spec's TotalTimeout (spec §7).
type TotalTimeoutError struct{}

func (e *TotalTimeoutError) Error() string { return "total timeout exceeded" }
