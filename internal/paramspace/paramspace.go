// Package paramspace implements the parameter-space expansion contract that
// spec.md treats as an external collaborator (§4.1, Glossary: "Parameter
// space"): a finite product of user-declared sweep dimensions with a default
// projection, exposing a volume, a default point, and a stable,
// zero-padded-id-annotated iterator over every point in the product.
//
// Grounded on the usage of paramspace.ParamSpace in the original source's
// multiverse.py (_create_meta_cfg, _add_sim_task): a nested mapping in which
// certain leaves are marked as sweep dimensions, each carrying its own
// default value and list of values to sweep over.
package paramspace

import (
	"fmt"
	"math"
	"sort"
)

// Point is a fully-resolved mapping from parameter name to value (spec §3,
// "Universe point"). Nested maps are represented as map[string]any values.
type Point map[string]any

// Dimension is one sweep axis of the parameter space. Path identifies where
// in the nested Default mapping this dimension's value is written, e.g.
// []string{"model", "some_param"} for a value nested under
// default["model"]["some_param"].
type Dimension struct {
	Path    []string
	Default any
	Values  []any
}

// Space is a finite product of Dimensions over a Default point.
type Space struct {
	Default    Point
	Dimensions []Dimension
}

// Volume returns the number of points in the full product. An empty
// dimension set has volume 1 (the default point alone).
func (s *Space) Volume() int {
	vol := 1
	for _, d := range s.Dimensions {
		if len(d.Values) == 0 {
			continue
		}
		vol *= len(d.Values)
	}
	return vol
}

// DefaultPoint returns the point obtained by setting every dimension to its
// Default value, without sweeping.
func (s *Space) DefaultPoint() Point {
	p := deepCopy(s.Default)
	for _, d := range s.Dimensions {
		setPath(p, d.Path, d.Default)
	}
	return p
}

// IDWidth returns the zero-padding width required for ids 0..maxID
// inclusive, per spec §6: ⌈log10(max_id+1)⌉, minimum 1.
func IDWidth(maxID int) int {
	if maxID < 0 {
		maxID = 0
	}
	w := int(math.Ceil(math.Log10(float64(maxID + 1))))
	if w < 1 {
		w = 1
	}
	return w
}

// IterFunc is called once per point in the space's product, in
// lexicographic dimension order (the last-declared dimension varies
// fastest), with a stable zero-padded id string.
type IterFunc func(p Point, idStr string) error

// Iterate walks every point of the product, calling fn for each. If there
// are no dimensions, it yields exactly one point: the default, with id "0".
func (s *Space) Iterate(fn IterFunc) error {
	vol := s.Volume()
	width := IDWidth(vol - 1)

	if len(s.Dimensions) == 0 {
		return fn(s.DefaultPoint(), zeroPad(0, width))
	}

	counters := make([]int, len(s.Dimensions))
	for i := 0; i < vol; i++ {
		p := deepCopy(s.Default)
		for di, d := range s.Dimensions {
			val := d.Default
			if len(d.Values) > 0 {
				val = d.Values[counters[di]]
			}
			setPath(p, d.Path, val)
		}

		if err := fn(p, zeroPad(i, width)); err != nil {
			return err
		}

		// Odometer increment: last dimension varies fastest.
		for di := len(s.Dimensions) - 1; di >= 0; di-- {
			if len(s.Dimensions[di].Values) == 0 {
				continue
			}
			counters[di]++
			if counters[di] < len(s.Dimensions[di].Values) {
				break
			}
			counters[di] = 0
		}
	}
	return nil
}

// Collect is a convenience wrapper around Iterate that materializes all
// points. Prefer Iterate for large spaces.
func (s *Space) Collect() ([]Point, []string, error) {
	var pts []Point
	var ids []string
	err := s.Iterate(func(p Point, id string) error {
		pts = append(pts, p)
		ids = append(ids, id)
		return nil
	})
	return pts, ids, err
}

// BuildSpace normalizes a nested map into a Space. A nested map containing
// both a "default" key and a "values" key is treated as a leaf sweep
// dimension; every other nested map is recursed into, and every other leaf
// is copied into the default point unchanged. Keys are visited in sorted
// order at every level, so dimensions are declared in lexicographic path
// order and each id maps to the same point on every run. This is the
// Go-native stand-in for the original source's `!sweep` YAML tag — a custom
// YAML tag has no equivalent convention elsewhere in the retrieval pack, so
// the shape is expressed as a plain mapping instead.
func BuildSpace(m map[string]any) *Space {
	def := map[string]any{}
	var dims []Dimension
	buildWalk(nil, m, def, &dims)
	return &Space{Default: Point(def), Dimensions: dims}
}

func buildWalk(path []string, m map[string]any, defOut map[string]any, dims *[]Dimension) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := m[k]
		p := append(append([]string{}, path...), k)

		vm, ok := v.(map[string]any)
		if !ok {
			setPath(defOut, []string{k}, v)
			continue
		}
		if isSweepLeaf(vm) {
			values, _ := vm["values"].([]any)
			*dims = append(*dims, Dimension{Path: p, Default: vm["default"], Values: values})
			setPath(defOut, []string{k}, vm["default"])
			continue
		}

		setPath(defOut, []string{k}, map[string]any{})
		nested, _ := lookupMap(defOut, []string{k})
		buildWalk(p, vm, nested, dims)
	}
}

func isSweepLeaf(m map[string]any) bool {
	_, hasDefault := m["default"]
	_, hasValues := m["values"]
	return hasDefault && hasValues
}

func lookupMap(p map[string]any, path []string) (map[string]any, bool) {
	cur := p
	for _, k := range path {
		next, ok := cur[k].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func zeroPad(n, width int) string {
	return fmt.Sprintf("%0*d", width, n)
}

func setPath(p Point, path []string, val any) {
	if len(path) == 0 {
		return
	}
	cur := p
	for _, key := range path[:len(path)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[key] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = val
}

func deepCopy(p Point) Point {
	out := make(Point, len(p))
	for k, v := range p {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = deepCopyValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = deepCopyValue(vv)
		}
		return out
	default:
		return v
	}
}
