package fieldpath

// Flatten expands doc along path into one row per irreducible element found
// on that path. Every array met on the path is expanded; each output row is a
// copy of doc in which only the value at path differs. Fields off the path,
// arrays included, are copied into every row untouched.
//
// A missing key leaves doc as a single row. An empty array on the path yields
// no rows for that document. doc itself is never modified.
//
//	Flatten({a:1, b:[{c:1},{c:2}]}, "b") => [{a:1, b:{c:1}}, {a:1, b:{c:2}}]
func Flatten(doc map[string]any, path string) []map[string]any {
	segs := Split(path)
	if len(segs) == 0 {
		return []map[string]any{doc}
	}
	return descend(doc, segs)
}

// FlattenAll flattens every document and concatenates the rows.
func FlattenAll(docs []map[string]any, path string) []map[string]any {
	if path == "" {
		return docs
	}
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		out = append(out, Flatten(d, path)...)
	}
	return out
}

// descend follows an object property and returns the variants of node.
func descend(node map[string]any, segs []string) []map[string]any {
	key, rest := segs[0], segs[1:]

	value, exists := node[key]
	if !exists {
		return []map[string]any{node}
	}

	switch v := value.(type) {
	case []any:
		expanded := expandArray(v, rest)
		out := make([]map[string]any, 0, len(expanded))
		for _, item := range expanded {
			out = append(out, with(node, key, item))
		}
		return out
	case map[string]any:
		if len(v) == 0 || len(rest) == 0 {
			return []map[string]any{node}
		}
		deeper := descend(v, rest)
		out := make([]map[string]any, 0, len(deeper))
		for _, d := range deeper {
			out = append(out, with(node, key, d))
		}
		return out
	default:
		return []map[string]any{node}
	}
}

// expandArray returns one value per irreducible element of items, continuing
// down rest inside object elements.
func expandArray(items []any, rest []string) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		switch it := item.(type) {
		case []any:
			out = append(out, expandArray(it, rest)...)
		case map[string]any:
			if len(rest) == 0 {
				out = append(out, it)
				continue
			}
			for _, d := range descend(it, rest) {
				out = append(out, d)
			}
		default:
			out = append(out, it)
		}
	}
	return out
}

func with(node map[string]any, key string, value any) map[string]any {
	c := make(map[string]any, len(node))
	for k, v := range node {
		c[k] = v
	}
	c[key] = value
	return c
}
