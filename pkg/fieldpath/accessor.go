// Package fieldpath reads and reshapes search documents addressed by dotted
// field paths such as "diagnoses.mondo_id".
package fieldpath

import "strings"

// Split turns "a.b.c" into its segments. An empty path has no segments.
func Split(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Find resolves path against doc. Arrays met along the way are traversed
// element-wise and the results flattened, so "participants.participant_id"
// over a list of participants yields a flat []any of ids. Missing fields and
// nulls yield nil.
func Find(doc any, path string) any {
	v, ok := Lookup(doc, path)
	if !ok {
		return nil
	}
	return v
}

// Lookup is Find with an explicit found flag.
func Lookup(doc any, path string) (any, bool) {
	current := doc
	for _, seg := range Split(path) {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			collected := make([]any, 0, len(v))
			for _, item := range flattenList(v) {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				if next, ok := m[seg]; ok {
					collected = append(collected, next)
				}
			}
			current = collected
		default:
			return nil, false
		}
	}
	if list, ok := current.([]any); ok {
		return flattenList(list), current != nil
	}
	return current, current != nil
}

func flattenList(list []any) []any {
	nested := false
	for _, item := range list {
		if _, ok := item.([]any); ok {
			nested = true
			break
		}
	}
	if !nested {
		return list
	}
	out := make([]any, 0, len(list))
	for _, item := range list {
		if inner, ok := item.([]any); ok {
			out = append(out, flattenList(inner)...)
		} else {
			out = append(out, item)
		}
	}
	return out
}

// Set writes value at path inside doc, creating intermediate objects as
// needed. Intermediate non-object values are replaced.
func Set(doc map[string]any, path string, value any) {
	segs := Split(path)
	if len(segs) == 0 {
		return
	}
	current := doc
	for _, seg := range segs[:len(segs)-1] {
		next, ok := current[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[seg] = next
		}
		current = next
	}
	current[segs[len(segs)-1]] = value
}

// Project assembles a new document holding only the given paths. Paths that
// do not resolve are skipped.
func Project(doc map[string]any, paths []string) map[string]any {
	out := make(map[string]any, len(paths))
	for _, p := range paths {
		if v, ok := Lookup(doc, p); ok {
			Set(out, p, v)
		}
	}
	return out
}

// Flat maps each path to its resolved value, keyed by the path itself.
func Flat(doc map[string]any, paths []string) map[string]any {
	out := make(map[string]any, len(paths))
	for _, p := range paths {
		out[p] = Find(doc, p)
	}
	return out
}
