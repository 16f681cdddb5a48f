// Package registry implements the model registry lookup that spec.md treats
// as an external collaborator: a mapping from model name to an executable
// path and default configuration paths. Grounded on
// model_registry/registry.py and model_registry/utils.py, simplified to a
// single YAML file rather than a directory-per-model registry, since this
// module has no installed-package directory convention to mirror.
package registry

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Entry describes one registered model.
type Entry struct {
	Name              string `yaml:"name"`
	ExecutablePath    string `yaml:"executable_path"`
	DefaultConfigPath string `yaml:"default_config_path,omitempty"`
}

// Registry is a YAML-file-backed store of Entry values, keyed by model
// name.
type Registry struct {
	path    string
	entries map[string]Entry
}

type fileFormat struct {
	Models []Entry `yaml:"models"`
}

// Load reads the registry file at path. A missing file is treated as an
// empty registry so that `registry add` can create it.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path, entries: map[string]Entry{}}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("registry: reading %s: %w", path, err)
	}

	var ff fileFormat
	if err := yaml.Unmarshal(raw, &ff); err != nil {
		return nil, fmt.Errorf("registry: parsing %s: %w", path, err)
	}
	for _, e := range ff.Models {
		r.entries[e.Name] = e
	}
	return r, nil
}

// Lookup returns the entry for modelName, or an error carrying
// ErrModelNotFound (spec §4.1 / §7 ConfigError: "Invalid model name: fatal").
func (r *Registry) Lookup(modelName string) (Entry, error) {
	e, ok := r.entries[modelName]
	if !ok {
		return Entry{}, fmt.Errorf("registry: model %q is not registered: %w", modelName, ErrModelNotFound)
	}
	return e, nil
}

// Register adds or replaces an entry and persists the registry to disk.
func (r *Registry) Register(e Entry) error {
	if e.Name == "" {
		return fmt.Errorf("registry: entry requires a name")
	}
	r.entries[e.Name] = e
	return r.save()
}

// List returns all entries sorted by model name.
func (r *Registry) List() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) save() error {
	ff := fileFormat{Models: r.List()}
	raw, err := yaml.Marshal(ff)
	if err != nil {
		return fmt.Errorf("registry: encoding: %w", err)
	}
	if err := os.WriteFile(r.path, raw, 0o644); err != nil {
		return fmt.Errorf("registry: writing %s: %w", r.path, err)
	}
	return nil
}

// errModelNotFound is a sentinel wrapped by Lookup's error.
type errModelNotFound struct{}

func (errModelNotFound) Error() string { return "model not registered" }

// ErrModelNotFound is matched with errors.Is against Lookup's returned
// error.
var ErrModelNotFound error = errModelNotFound{}
