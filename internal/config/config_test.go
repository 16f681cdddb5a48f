package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRecursiveUpdateRightBiasedOnOverlap(t *testing.T) {
	d := Map{"a": 1, "nested": Map{"x": 1, "y": 2}}
	u := Map{"a": 2, "nested": Map{"y": 99}}

	got := RecursiveUpdate(d, u)
	assert.Equal(t, 2, got["a"])
	assert.Equal(t, 1, got["nested"].(Map)["x"])
	assert.Equal(t, 99, got["nested"].(Map)["y"])
}

func TestRecursiveUpdateAssociativeOnNonOverlappingPaths(t *testing.T) {
	base := Map{"a": Map{"x": 1}}
	u1 := Map{"a": Map{"y": 2}}
	u2 := Map{"b": Map{"z": 3}}

	left := RecursiveUpdate(RecursiveUpdate(copyMap(base), u1), u2)
	right := RecursiveUpdate(copyMap(base), RecursiveUpdate(copyMap(u1), u2))

	assert.Equal(t, left, right)
}

func copyMap(m Map) Map {
	out := Map{}
	for k, v := range m {
		if mm, ok := v.(Map); ok {
			out[k] = copyMap(mm)
		} else {
			out[k] = v
		}
	}
	return out
}

func TestPipelineBuildFiveLayers(t *testing.T) {
	dir := t.TempDir()
	basePath := writeYAML(t, dir, "base.yml", "num_steps: 10\nworker_manager:\n  num_workers: 1\n")
	userPath := writeYAML(t, dir, "user.yml", "worker_manager:\n  num_workers: 4\n")
	modelPath := writeYAML(t, dir, "model.yml", "growth_rate: 0.1\n")
	runPath := writeYAML(t, dir, "run.yml", "parameter_space:\n  forest_fire:\n    growth_rate: 0.2\n")

	p := Pipeline{
		Base:         Layer{Path: basePath},
		User:         Layer{Path: userPath},
		ModelName:    "forest_fire",
		ModelDefault: Layer{Path: modelPath},
		Run:          Layer{Path: runPath},
		Overrides:    Map{"num_steps": 99},
	}

	merged, parts, err := p.Build()
	require.NoError(t, err)

	assert.Equal(t, 99, merged["num_steps"], "overrides win")
	assert.Equal(t, 4, merged["worker_manager"].(Map)["num_workers"], "user overrides base")

	pspace := merged["parameter_space"].(Map)
	model := pspace["forest_fire"].(Map)
	assert.Equal(t, 0.2, model["growth_rate"], "run config overrides model default")

	assert.Contains(t, parts, "base")
	assert.Contains(t, parts, "user")
	assert.Contains(t, parts, "model")
	assert.Contains(t, parts, "run")
	assert.Contains(t, parts, "overrides")
}

func TestPipelineRejectsUserLayerWithParameterSpace(t *testing.T) {
	dir := t.TempDir()
	basePath := writeYAML(t, dir, "base.yml", "num_steps: 10\n")
	userPath := writeYAML(t, dir, "user.yml", "parameter_space:\n  foo: 1\n")

	p := Pipeline{Base: Layer{Path: basePath}, User: Layer{Path: userPath}}
	_, _, err := p.Build()
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestPipelineMissingBaseFileIsFatal(t *testing.T) {
	p := Pipeline{Base: Layer{Path: "/nonexistent/base.yml"}}
	_, _, err := p.Build()
	require.Error(t, err)
}

func TestValidateAllAggregatesAndDedupes(t *testing.T) {
	points := []Map{
		{"growth_rate": 1.5},
		{"growth_rate": 1.5}, // duplicate failure, same message
		{"growth_rate": 0.2}, // fine
	}
	max := 1.0
	entries := []Entry{
		{Path: []string{"growth_rate"}, Constraint: Range{Max: &max}},
	}

	err := ValidateAll(points, entries)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Failures, 1, "duplicate failure messages should be deduplicated")
}

func TestValidateAllPassesWhenAllSatisfy(t *testing.T) {
	points := []Map{{"mode": "a"}, {"mode": "b"}}
	entries := []Entry{
		{Path: []string{"mode"}, Constraint: OneOf{Values: []any{"a", "b"}}},
	}
	assert.NoError(t, ValidateAll(points, entries))
}
