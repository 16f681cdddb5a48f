// Package streamline implements the stream line parser (spec.md §4.4): each
// line of a child process's stdout is either free-form text or a single
// key-value record, decoded as UTF-8. Structured records merge last-write-
// wins into a task's progress map; lines that fail to parse as a record
// fall back to raw text.
//
// The schema of a structured line is intentionally undefined by the core
// (spec §9, "Stream parsing ambiguity") — this package recognizes a
// compact flow-style mapping (e.g. "{progress: 0.42, step: 10}") via
// gopkg.in/yaml.v3, which is a strict superset of JSON object syntax, so
// child processes may emit either JSON or YAML flow mappings per line.
package streamline

import (
	"fmt"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Mode selects how a line is interpreted.
type Mode int

const (
	// RawLineMode emits every line verbatim, never attempting structured
	// parsing.
	RawLineMode Mode = iota
	// StructuredMode attempts to parse each line as a key-value record
	// before falling back to raw text.
	StructuredMode
)

// Line is the outcome of parsing one line of child output.
type Line struct {
	Raw       string
	Record    map[string]any // non-nil only if the line parsed as a record
	Structured bool
}

// DecodeLine validates that raw is well-formed UTF-8, returning the decoded
// string. Invalid bytes are a fatal, line-level error surfaced by the
// caller (internal/task) as a TaskTypeError (spec §4.3/§7).
func DecodeLine(raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("streamline: line is not valid UTF-8")
	}
	return string(raw), nil
}

// Parse interprets a decoded line according to mode.
func Parse(line string, mode Mode) Line {
	if mode == RawLineMode {
		return Line{Raw: line}
	}

	rec, ok := tryParseRecord(line)
	if !ok {
		return Line{Raw: line}
	}
	return Line{Raw: line, Record: rec, Structured: true}
}

func tryParseRecord(line string) (map[string]any, bool) {
	trimmed := trimSpace(line)
	if trimmed == "" {
		return nil, false
	}
	// Only attempt structured parsing on lines that look like a mapping;
	// this avoids accidentally treating plain scalars/strings (which YAML
	// would happily parse as a one-element document) as a record.
	if trimmed[0] != '{' {
		return nil, false
	}

	var m map[string]any
	if err := yaml.Unmarshal([]byte(line), &m); err != nil {
		return nil, false
	}
	if len(m) == 0 {
		return nil, false
	}
	return m, true
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

// MergeInto merges src into dst, last-write-wins per key (spec §4.4:
// "merged into the task's progress map (last-write-wins)"). dst is created
// if nil.
func MergeInto(dst map[string]any, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
