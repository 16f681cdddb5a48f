// Package stopcond implements the stop-condition evaluator (spec.md §4.5):
// a named, pure predicate over a task's observed telemetry. Firing a
// condition means "send SIGTERM to this task's child" — the evaluator
// itself never signals anything, it only answers yes/no; internal/manager
// owns the re-evaluate-every-poll loop and the actual signalling.
package stopcond

import "time"

// Telemetry is the read-only view of a task's current state that a
// Condition's Func may inspect. It mirrors the fields spec §4.5 allows a
// condition to read: "progress map, elapsed time, stream statistics."
type Telemetry struct {
	Progress    map[string]any
	Elapsed     time.Duration
	StdoutBytes int64
	StderrBytes int64
	StdoutTail  []string
	StderrTail  []string
}

// Func is a pure predicate over a task's telemetry. It must not mutate its
// argument or have side effects (spec §4.5: "Side-effects are forbidden").
type Func func(Telemetry) bool

// Condition is `{name, description, func, to_check}` per spec §4.5.
// ToCheck is advisory only — it lists which progress keys Func reads and
// has no effect on evaluation; nothing else in the module reads it.
type Condition struct {
	Name        string
	Description string
	Func        Func
	ToCheck     []string
}

// Evaluate reports whether the condition fires for the given telemetry.
// Evaluation is idempotent from the caller's perspective: re-running it
// against the same telemetry always yields the same answer, and firing it
// repeatedly against a task that has already been signalled is harmless
// because SIGTERM on an exiting process is a no-op.
func (c Condition) Evaluate(t Telemetry) bool {
	if c.Func == nil {
		return false
	}
	return c.Func(t)
}

// EvaluateAll reports the names of every condition in conds that fires for
// t, in the order given.
func EvaluateAll(conds []Condition, t Telemetry) []string {
	var fired []string
	for _, c := range conds {
		if c.Evaluate(t) {
			fired = append(fired, c.Name)
		}
	}
	return fired
}

// ProgressAtLeast builds a Condition that fires once the numeric progress
// value at key is >= threshold. Missing or non-numeric values never fire.
func ProgressAtLeast(name, key string, threshold float64) Condition {
	return Condition{
		Name:        name,
		Description: "fires once progress[" + key + "] reaches its threshold",
		ToCheck:     []string{key},
		Func: func(t Telemetry) bool {
			v, ok := t.Progress[key]
			if !ok {
				return false
			}
			f, ok := toFloat(v)
			return ok && f >= threshold
		},
	}
}

// ElapsedExceeds builds a Condition that fires once a task's elapsed real
// time exceeds d. This is distinct from the Manager's total-campaign
// timeout (spec §4.2 step 1): it is a per-task limit expressed as an
// ordinary stop condition.
func ElapsedExceeds(name string, d time.Duration) Condition {
	return Condition{
		Name:        name,
		Description: "fires once the task's elapsed time exceeds a limit",
		Func: func(t Telemetry) bool {
			return t.Elapsed > d
		},
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
