// Package config implements the layered configuration pipeline described in
// spec.md §4.1: up to five YAML layers are recursively merged, base first,
// each later layer overriding the earlier. Grounded on multiverse.py's
// _create_meta_cfg and tools.py's recursive_update.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Map is a generic YAML-decoded mapping.
type Map = map[string]any

// Layer is one input to the merge pipeline. Exactly one of Path or Data
// should be set; Path-backed layers are copied verbatim during backup,
// Data-backed layers are serialized (spec §4.1, "Backup").
type Layer struct {
	Name string
	Path string
	Data Map
}

// LoadYAML reads and decodes a YAML document into a generic map.
func LoadYAML(path string) (Map, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	var m Map
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return m, nil
}

// Resolve returns the layer's data, loading it from Path if it is
// file-backed.
func (l Layer) Resolve() (Map, error) {
	if l.Data != nil {
		return l.Data, nil
	}
	if l.Path == "" {
		return Map{}, nil
	}
	return LoadYAML(l.Path)
}

// RecursiveUpdate updates d with values from u. Where both sides hold a
// mapping at the same key, it recurses; otherwise the right-hand value
// replaces the left (no list merging). d is mutated and returned, matching
// tools.py:recursive_update's in-place semantics; callers that need d
// untouched must pass a copy.
func RecursiveUpdate(d, u Map) Map {
	if d == nil {
		d = Map{}
	}
	for key, uval := range u {
		if umap, ok := asMap(uval); ok {
			dmap, _ := asMap(d[key])
			d[key] = RecursiveUpdate(dmap, umap)
			continue
		}
		d[key] = uval
	}
	return d
}

func asMap(v any) (Map, bool) {
	switch t := v.(type) {
	case Map:
		return t, true
	case map[string]any:
		return t, true
	default:
		return nil, false
	}
}

// Pipeline describes the five layers from spec §4.1: base, user,
// model-default (attached at parameter_space.<model_name>), run, and
// programmatic overrides. Any optional layer may be nil/empty and is
// skipped.
type Pipeline struct {
	Base            Layer
	User            Layer // must not set a "parameter_space" key
	ModelName       string
	ModelDefault    Layer
	Run             Layer
	Overrides       Map
}

// Build runs the merge and returns the effective configuration plus the
// individual resolved parts (for backup), in the fixed order required by
// spec §4.1.
func (p Pipeline) Build() (merged Map, parts map[string]Layer, err error) {
	parts = map[string]Layer{}

	baseData, err := p.Base.Resolve()
	if err != nil {
		return nil, nil, err
	}
	parts["base"] = p.Base
	merged = RecursiveUpdate(Map{}, baseData)

	if p.User.Path != "" || p.User.Data != nil {
		userData, err := p.User.Resolve()
		if err != nil {
			return nil, nil, err
		}
		if _, hasPspace := userData["parameter_space"]; hasPspace {
			return nil, nil, &ConfigError{
				Path: p.User.Path,
				Err:  fmt.Errorf("user configuration layer must not set a parameter_space key"),
			}
		}
		parts["user"] = p.User
		merged = RecursiveUpdate(merged, userData)
	}

	if p.ModelName != "" {
		modelData, err := p.ModelDefault.Resolve()
		if err != nil {
			return nil, nil, err
		}
		parts["model"] = p.ModelDefault

		pspace, _ := asMap(merged["parameter_space"])
		if pspace == nil {
			pspace = Map{}
		}
		existing, _ := asMap(pspace[p.ModelName])
		pspace[p.ModelName] = RecursiveUpdate(existing, modelData)
		merged["parameter_space"] = pspace
	}

	if p.Run.Path != "" || p.Run.Data != nil {
		runData, err := p.Run.Resolve()
		if err != nil {
			return nil, nil, err
		}
		parts["run"] = p.Run
		merged = RecursiveUpdate(merged, runData)
	}

	if p.Overrides != nil {
		parts["overrides"] = Layer{Name: "overrides", Data: p.Overrides}
		merged = RecursiveUpdate(merged, deepCopyMap(p.Overrides))
	}

	return merged, parts, nil
}

func deepCopyMap(m Map) Map {
	out := make(Map, len(m))
	for k, v := range m {
		if mv, ok := asMap(v); ok {
			out[k] = deepCopyMap(mv)
		} else {
			out[k] = v
		}
	}
	return out
}

// ConfigError wraps a failure reading or merging a configuration layer
// (spec §7: ConfigError — missing/malformed config files, disallowed keys).
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config: %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
