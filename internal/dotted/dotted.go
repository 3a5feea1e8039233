// Package dotted converts between nested maps and flat maps whose keys are
// dot-joined paths (e.g. "decedentName.firstName"). The transform is defined
// over map-of-map-of-scalar structures only; array-valued intermediate nodes
// are not supported.
package dotted

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConflict is returned by Nest when two flat keys describe incompatible
// structures, e.g. both "a" and "a.b" are present.
var ErrConflict = errors.New("conflicting dotted path")

// Flatten walks nested and emits one entry per leaf value, keyed by the
// dot-joined path to that leaf. Mapping-valued nodes are traversed, never
// emitted themselves. An empty input yields an empty (non-nil) result.
func Flatten(nested map[string]interface{}) map[string]interface{} {
	flat := make(map[string]interface{})
	flattenInto(flat, "", nested)
	return flat
}

func flattenInto(flat map[string]interface{}, prefix string, nested map[string]interface{}) {
	for k, v := range nested {
		key := prefix + k
		if m, ok := v.(map[string]interface{}); ok {
			flattenInto(flat, key+".", m)
			continue
		}
		flat[key] = v
	}
}

// Nest rebuilds the nested structure from a flat dotted-key map. It fails
// fast with ErrConflict rather than silently overwriting when one key's
// path runs through another key's leaf (or vice versa).
func Nest(flat map[string]interface{}) (map[string]interface{}, error) {
	nested := make(map[string]interface{})
	for key, value := range flat {
		parts := strings.Split(key, ".")
		level := nested
		for _, part := range parts[:len(parts)-1] {
			existing, ok := level[part]
			if !ok {
				next := make(map[string]interface{})
				level[part] = next
				level = next
				continue
			}
			next, ok := existing.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: %q descends through a leaf", ErrConflict, key)
			}
			level = next
		}
		last := parts[len(parts)-1]
		if existing, ok := level[last]; ok {
			if _, isMap := existing.(map[string]interface{}); isMap {
				return nil, fmt.Errorf("%w: %q is also a branch", ErrConflict, key)
			}
			return nil, fmt.Errorf("%w: duplicate leaf %q", ErrConflict, key)
		}
		level[last] = value
	}
	return nested, nil
}

// NestStrings is Nest for the flat string-valued records produced by the
// FHIR ingest mapper.
func NestStrings(flat map[string]string) (map[string]interface{}, error) {
	widened := make(map[string]interface{}, len(flat))
	for k, v := range flat {
		widened[k] = v
	}
	return Nest(widened)
}
