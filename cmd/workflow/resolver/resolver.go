// Package resolver resolves dotted paths against decoded Go values
// (maps/slices), the in-process analogue of the teacher's gjson-based
// "$nodes.node_id.field" resolution in cmd/workflow/resolver.go.
//
// The teacher resolves against CAS-stored JSON text fetched over a
// distributed token relay; the in-process context store already holds
// live decoded values, so ResolvePath re-expresses the same indexing
// semantics (dict-by-key, list-by-int) directly over
// map[string]interface{} / []interface{} without gjson. gjson is used
// only by ResolveJSONPath.
package resolver

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// PathMissError is raised when a dotted path cannot be resolved.
type PathMissError struct {
	Path   string
	Reason string
}

func (e *PathMissError) Error() string {
	return fmt.Sprintf("path miss at %q: %s", e.Path, e.Reason)
}

// ResolvePath resolves dotted path against value. An empty path or "."
// returns value itself. "a.b.2.c" traverses maps by key and slices by
// integer index.
func ResolvePath(value interface{}, path string) (interface{}, error) {
	if path == "" || path == "." {
		return value, nil
	}
	cur := value
	parts := strings.Split(path, ".")
	for i, part := range parts {
		switch v := cur.(type) {
		case map[string]interface{}:
			next, ok := v[part]
			if !ok {
				return nil, &PathMissError{Path: path, Reason: fmt.Sprintf("key %q not found at segment %d", part, i)}
			}
			cur = next
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil {
				return nil, &PathMissError{Path: path, Reason: fmt.Sprintf("segment %d (%q) is not a valid list index", i, part)}
			}
			if idx < 0 || idx >= len(v) {
				return nil, &PathMissError{Path: path, Reason: fmt.Sprintf("index %d out of range at segment %d", idx, i)}
			}
			cur = v[idx]
		default:
			return nil, &PathMissError{Path: path, Reason: fmt.Sprintf("cannot index into %T at segment %d (%q)", cur, i, part)}
		}
	}
	return cur, nil
}

// ResolveJSONPath is an alternate entry point that resolves a gjson-style
// path against a raw JSON document, grounded directly on the teacher's
// resolveNodeReference (json.Marshal + gjson.GetBytes). Used when a node's
// output was persisted as opaque JSON bytes (e.g. loaded back from an
// artifact store) rather than as a live decoded value.
func ResolveJSONPath(doc interface{}, path string) (interface{}, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	result := gjson.GetBytes(raw, path)
	if !result.Exists() {
		return nil, &PathMissError{Path: path, Reason: "field not found"}
	}
	return result.Value(), nil
}
