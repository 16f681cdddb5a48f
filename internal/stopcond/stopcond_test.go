package stopcond

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConditionEvaluateCallsFunc(t *testing.T) {
	c := Condition{
		Name: "always",
		Func: func(Telemetry) bool { return true },
	}
	assert.True(t, c.Evaluate(Telemetry{}))
}

func TestConditionEvaluateNilFuncNeverFires(t *testing.T) {
	c := Condition{Name: "empty"}
	assert.False(t, c.Evaluate(Telemetry{}))
}

func TestEvaluateAllReturnsFiredNamesInOrder(t *testing.T) {
	conds := []Condition{
		{Name: "a", Func: func(Telemetry) bool { return true }},
		{Name: "b", Func: func(Telemetry) bool { return false }},
		{Name: "c", Func: func(Telemetry) bool { return true }},
	}
	assert.Equal(t, []string{"a", "c"}, EvaluateAll(conds, Telemetry{}))
}

func TestProgressAtLeastFiresOnThreshold(t *testing.T) {
	c := ProgressAtLeast("converged", "progress", 0.99)

	assert.False(t, c.Evaluate(Telemetry{Progress: map[string]any{"progress": 0.5}}))
	assert.True(t, c.Evaluate(Telemetry{Progress: map[string]any{"progress": 0.99}}))
	assert.True(t, c.Evaluate(Telemetry{Progress: map[string]any{"progress": 1.0}}))
}

func TestProgressAtLeastIgnoresMissingOrNonNumeric(t *testing.T) {
	c := ProgressAtLeast("converged", "progress", 0.99)

	assert.False(t, c.Evaluate(Telemetry{Progress: map[string]any{}}))
	assert.False(t, c.Evaluate(Telemetry{Progress: map[string]any{"progress": "done"}}))
}

func TestElapsedExceedsFiresPastLimit(t *testing.T) {
	c := ElapsedExceeds("too-slow", 10*time.Second)

	assert.False(t, c.Evaluate(Telemetry{Elapsed: 5 * time.Second}))
	assert.False(t, c.Evaluate(Telemetry{Elapsed: 10 * time.Second}))
	assert.True(t, c.Evaluate(Telemetry{Elapsed: 11 * time.Second}))
}

func TestEvaluationIsIdempotentAcrossRepeatedCalls(t *testing.T) {
	c := ProgressAtLeast("converged", "progress", 1.0)
	tel := Telemetry{Progress: map[string]any{"progress": 1.0}}

	first := c.Evaluate(tel)
	second := c.Evaluate(tel)
	assert.Equal(t, first, second)
	assert.True(t, first)
}
