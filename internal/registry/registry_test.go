package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileIsEmptyRegistry(t *testing.T) {
	dir := t.TempDir()
	r, err := Load(filepath.Join(dir, "does-not-exist.yml"))
	require.NoError(t, err)
	assert.Empty(t, r.List())
}

func TestRegisterAndLookupRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yml")

	r, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, r.Register(Entry{
		Name:              "forest_fire",
		ExecutablePath:    "/usr/local/bin/forest_fire",
		DefaultConfigPath: "/etc/forest_fire/default.yml",
	}))

	// Reload from disk to confirm persistence.
	r2, err := Load(path)
	require.NoError(t, err)

	e, err := r2.Lookup("forest_fire")
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/forest_fire", e.ExecutablePath)
}

func TestLookupUnknownModelIsErrModelNotFound(t *testing.T) {
	dir := t.TempDir()
	r, err := Load(filepath.Join(dir, "models.yml"))
	require.NoError(t, err)

	_, err = r.Lookup("nonexistent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModelNotFound))
}

func TestListIsSortedByName(t *testing.T) {
	dir := t.TempDir()
	r, err := Load(filepath.Join(dir, "models.yml"))
	require.NoError(t, err)

	require.NoError(t, r.Register(Entry{Name: "zeta", ExecutablePath: "/bin/zeta"}))
	require.NoError(t, r.Register(Entry{Name: "alpha", ExecutablePath: "/bin/alpha"}))

	names := make([]string, 0)
	for _, e := range r.List() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"alpha", "zeta"}, names)
}

func TestRegisterPersistsAcrossLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "models.yml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	r, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, r.Register(Entry{Name: "m", ExecutablePath: "/bin/m"}))

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)

	r2, err := Load(path)
	require.NoError(t, err)
	e, err := r2.Lookup("m")
	require.NoError(t, err)
	assert.Equal(t, "/bin/m", e.ExecutablePath)
}
