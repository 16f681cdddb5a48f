package reporter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/camp/internal/manager"
	"github.com/cuemby/camp/internal/task"
)

func okSpec(name string) task.Spec {
	return task.Spec{Name: name, ExecutablePath: "/bin/sh", Args: []string{"-c", "exit 0"}}
}

func TestConsoleReporterDoesNotPanicOnKnownEvents(t *testing.T) {
	m, err := manager.New(manager.Options{NumWorkers: 1})
	require.NoError(t, err)

	r := NewConsoleReporter()
	assert.NotPanics(t, func() {
		r.Report("while_working", m)
		r.Report("after_work", m)
		r.Report("after_abort", m)
		r.Report("task_spawned", m)
		r.Report("task_finished", m)
		r.Report("something_unknown", m)
	})
}

func TestMetricsReporterReportsBeforeAndAfterARun(t *testing.T) {
	m, err := manager.New(manager.Options{NumWorkers: 2, PollDelay: 5 * time.Millisecond})
	require.NoError(t, err)

	_, err = m.AddTask(okSpec("a"))
	require.NoError(t, err)
	_, err = m.AddTask(okSpec("b"))
	require.NoError(t, err)

	r := NewMetricsReporter()
	r.Report("while_working", m)

	assert.NoError(t, m.StartWorking(context.Background(), manager.StartOptions{}))
	r.Report("after_work", m)

	assert.Equal(t, 0, m.ActiveCount())
	assert.Equal(t, 2, m.FinishedCount())
}

func TestMultiFansOutToEachReporter(t *testing.T) {
	m, err := manager.New(manager.Options{NumWorkers: 1})
	require.NoError(t, err)

	calls := 0
	chain := Multi{recordingReporter(&calls), recordingReporter(&calls)}
	chain.Report("while_working", m)

	assert.Equal(t, 2, calls)
}

type recorderFunc func(event string, m *manager.Manager)

func (f recorderFunc) Report(event string, m *manager.Manager) { f(event, m) }

func recordingReporter(calls *int) manager.Reporter {
	return recorderFunc(func(event string, m *manager.Manager) { *calls++ })
}
