// Package reporter implements the Reporter Interface (spec.md §4.2/§6,
// L6): an opaque sink of scheduler events, not specified beyond the
// callback contract. Grounded on the L6 contract in spec §2 plus the
// teacher's metrics-collector pattern of reacting to scheduler events by
// updating gauges (pkg/manager/metrics_collector.go), adapted to a plain
// event-name callback instead of a raft-FSM apply hook.
package reporter

import (
	"github.com/rs/zerolog"

	"github.com/cuemby/camp/internal/camplog"
	"github.com/cuemby/camp/internal/manager"
	"github.com/cuemby/camp/internal/metrics"
)

// ConsoleReporter logs each scheduler event at a level appropriate to its
// severity, mirroring the Python reporter's report-format dispatch
// (while_working -> debug-ish progress line, after_work/after_abort ->
// a summary line).
type ConsoleReporter struct {
	log zerolog.Logger
}

func NewConsoleReporter() *ConsoleReporter {
	return &ConsoleReporter{log: camplog.WithComponent("reporter")}
}

func (r *ConsoleReporter) Report(event string, m *manager.Manager) {
	switch event {
	case "while_working":
		r.log.Debug().
			Int("active", m.ActiveCount()).
			Int("finished", m.FinishedCount()).
			Int("total", m.TaskCount()).
			Msg("working")
	case "after_work":
		r.log.Info().
			Int("finished", m.FinishedCount()).
			Int("total", m.TaskCount()).
			Msg("campaign finished")
	case "after_abort":
		r.log.Warn().
			Int("finished", m.FinishedCount()).
			Int("total", m.TaskCount()).
			Msg("campaign aborted")
	case "task_spawned", "task_finished":
		r.log.Debug().
			Int("active", m.ActiveCount()).
			Msg(event)
	default:
		r.log.Debug().Str("event", event).Msg("report")
	}
}

// MetricsReporter updates Prometheus gauges/counters from scheduler
// events, so a campaign's progress can be scraped without reading logs.
type MetricsReporter struct {
	lastFinished int
}

func NewMetricsReporter() *MetricsReporter {
	return &MetricsReporter{}
}

func (r *MetricsReporter) Report(event string, m *manager.Manager) {
	metrics.ActiveTasks.Set(float64(m.ActiveCount()))
	metrics.QueuedTasks.Set(float64(m.TaskCount() - m.ActiveCount() - m.FinishedCount()))

	finished := m.FinishedCount()
	if finished > r.lastFinished {
		metrics.TasksTotal.WithLabelValues("finished").Add(float64(finished - r.lastFinished))
		r.lastFinished = finished
	}
}

// Multi fans one event out to several Reporters, in order. A Reporter
// chain is itself a Reporter, so console + metrics can be combined.
type Multi []manager.Reporter

func (m Multi) Report(event string, mgr *manager.Manager) {
	for _, r := range m {
		r.Report(event, mgr)
	}
}
