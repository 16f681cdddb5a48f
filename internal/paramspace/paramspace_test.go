package paramspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolumeNoDimensions(t *testing.T) {
	s := &Space{Default: Point{"a": 1}}
	assert.Equal(t, 1, s.Volume())
}

func TestVolumeProduct(t *testing.T) {
	s := &Space{
		Default: Point{"model": map[string]any{}},
		Dimensions: []Dimension{
			{Path: []string{"model", "alpha"}, Values: []any{1, 2}},
			{Path: []string{"model", "beta"}, Values: []any{"x", "y", "z"}},
		},
	}
	assert.Equal(t, 6, s.Volume())
}

func TestIDWidth(t *testing.T) {
	tests := []struct {
		maxID int
		want  int
	}{
		{0, 1},
		{9, 1},
		{10, 2},
		{99, 2},
		{100, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IDWidth(tt.maxID))
	}
}

func TestIterateSingleDefault(t *testing.T) {
	s := &Space{Default: Point{"steps": 10}}
	pts, ids, err := s.Collect()
	require.NoError(t, err)
	require.Len(t, pts, 1)
	assert.Equal(t, "0", ids[0])
	assert.Equal(t, 10, pts[0]["steps"])
}

func TestIterateCoversEveryPointExactlyOnce(t *testing.T) {
	s := &Space{
		Default: Point{"model": map[string]any{}},
		Dimensions: []Dimension{
			{Path: []string{"model", "alpha"}, Default: 1, Values: []any{1, 2}},
			{Path: []string{"model", "beta"}, Default: "x", Values: []any{"x", "y"}},
		},
	}
	pts, ids, err := s.Collect()
	require.NoError(t, err)
	require.Len(t, pts, 4)

	seen := map[string]bool{}
	for i, p := range pts {
		model := p["model"].(map[string]any)
		key := ids[i]
		assert.False(t, seen[key], "id %s repeated", key)
		seen[key] = true
		assert.Contains(t, []any{1, 2}, model["alpha"])
		assert.Contains(t, []any{"x", "y"}, model["beta"])
	}
	assert.Len(t, seen, 4)
}

func TestIterateIDsAreZeroPaddedAndStable(t *testing.T) {
	s := &Space{
		Default: Point{"model": map[string]any{}},
		Dimensions: []Dimension{
			{Path: []string{"model", "v"}, Values: make([]any, 12)},
		},
	}
	for i := range s.Dimensions[0].Values {
		s.Dimensions[0].Values[i] = i
	}
	_, ids, err := s.Collect()
	require.NoError(t, err)
	require.Len(t, ids, 12)
	assert.Equal(t, "00", ids[0])
	assert.Equal(t, "11", ids[11])
}

func TestDeepCopyIsolatesMutations(t *testing.T) {
	s := &Space{Default: Point{"nested": map[string]any{"x": 1}}}
	p1 := s.DefaultPoint()
	p1["nested"].(map[string]any)["x"] = 999

	p2 := s.DefaultPoint()
	assert.Equal(t, 1, p2["nested"].(map[string]any)["x"])
}

func TestBuildSpaceRecognizesSweepLeaves(t *testing.T) {
	raw := map[string]any{
		"num_steps": 100,
		"model": map[string]any{
			"growth_rate": map[string]any{"default": 0.1, "values": []any{0.1, 0.2, 0.3}},
			"name":        "forest_fire",
		},
	}
	s := BuildSpace(raw)

	require.Len(t, s.Dimensions, 1)
	assert.Equal(t, []string{"model", "growth_rate"}, s.Dimensions[0].Path)
	assert.Equal(t, 3, s.Volume())

	def := s.DefaultPoint()
	assert.Equal(t, 100, def["num_steps"])
	model := def["model"].(map[string]any)
	assert.Equal(t, 0.1, model["growth_rate"])
	assert.Equal(t, "forest_fire", model["name"])
}

func TestBuildSpaceLeavesNonSweepMapsNested(t *testing.T) {
	raw := map[string]any{
		"worker_manager": map[string]any{"num_workers": 4},
	}
	s := BuildSpace(raw)
	assert.Empty(t, s.Dimensions)

	def := s.DefaultPoint()
	wm := def["worker_manager"].(map[string]any)
	assert.Equal(t, 4, wm["num_workers"])
}

func TestBuildSpaceIteratesAllSweepCombinations(t *testing.T) {
	raw := map[string]any{
		"a": map[string]any{"default": 1, "values": []any{1, 2}},
		"b": map[string]any{"default": "x", "values": []any{"x", "y"}},
	}
	s := BuildSpace(raw)
	pts, ids, err := s.Collect()
	require.NoError(t, err)
	assert.Len(t, pts, 4)
	assert.Len(t, ids, 4)
}
