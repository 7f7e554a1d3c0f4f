package sqon

import (
	"sort"
	"strings"
)

// BuildQuery compiles a filter tree into an Elasticsearch query DSL object.
// nestedFields lists the mapping paths of type "nested"; predicates on fields
// below such a path are wrapped in nested queries, innermost path first.
func BuildQuery(n Node, nestedFields []string) map[string]any {
	nested := append([]string(nil), nestedFields...)
	// longest first so the innermost nested scope wraps the leaf
	sort.Slice(nested, func(i, j int) bool { return len(nested[i]) > len(nested[j]) })

	b := queryBuilder{nested: nested}
	if n == nil {
		return matchAll()
	}
	if c, ok := n.(*Combinator); ok && len(c.Content) == 0 && c.Op != OpNot {
		return matchAll()
	}
	return b.node(n)
}

// TermsQuery is the bool/must terms clause used for id restrictions.
func TermsQuery(field string, values []string) map[string]any {
	return map[string]any{
		"bool": map[string]any{
			"must": []any{
				map[string]any{"terms": map[string]any{field: values, "boost": 0}},
			},
		},
	}
}

func matchAll() map[string]any {
	return map[string]any{"match_all": map[string]any{}}
}

type queryBuilder struct {
	nested []string
}

func (b queryBuilder) node(n Node) map[string]any {
	switch v := n.(type) {
	case *Combinator:
		clauses := make([]any, 0, len(v.Content))
		for _, child := range v.Content {
			clauses = append(clauses, b.node(child))
		}
		switch v.Op {
		case OpOr:
			return boolQuery(map[string]any{"should": clauses, "minimum_should_match": 1})
		case OpNot:
			return boolQuery(map[string]any{"must_not": clauses})
		default:
			return boolQuery(map[string]any{"must": clauses})
		}
	case *Predicate:
		return b.predicate(v)
	}
	return matchAll()
}

func (b queryBuilder) predicate(p *Predicate) map[string]any {
	switch p.Op {
	case OpNotIn, OpSomeNotIn:
		return boolQuery(map[string]any{"must_not": []any{b.wrap(p.Field, termsLeaf(p))}})
	case OpAll:
		clauses := make([]any, 0, len(p.Value))
		for _, v := range p.Value {
			leaf := map[string]any{"term": map[string]any{p.Field: v}}
			clauses = append(clauses, b.wrap(p.Field, leaf))
		}
		return boolQuery(map[string]any{"must": clauses})
	case OpGTE, OpLTE, OpGT, OpLT:
		return b.wrap(p.Field, rangeLeaf(p.Field, map[Op]string{OpGTE: "gte", OpLTE: "lte", OpGT: "gt", OpLT: "lt"}[p.Op], p.Value))
	case OpBetween:
		bounds := map[string]any{}
		if len(p.Value) > 0 {
			bounds["gte"] = p.Value[0]
		}
		if len(p.Value) > 1 {
			bounds["lte"] = p.Value[1]
		}
		return b.wrap(p.Field, map[string]any{"range": map[string]any{p.Field: bounds}})
	case OpFilter:
		text := ""
		if len(p.Value) > 0 {
			if s, ok := p.Value[0].(string); ok {
				text = s
			}
		}
		leaf := map[string]any{"query_string": map[string]any{
			"query":  "*" + text + "*",
			"fields": []string{p.Field},
		}}
		return b.wrap(p.Field, leaf)
	default:
		return b.wrap(p.Field, termsLeaf(p))
	}
}

func (b queryBuilder) wrap(field string, leaf map[string]any) map[string]any {
	q := leaf
	for _, path := range b.nested {
		if strings.HasPrefix(field, path+".") {
			q = map[string]any{"nested": map[string]any{
				"path":  path,
				"query": boolQuery(map[string]any{"must": []any{q}}),
			}}
		}
	}
	return q
}

func termsLeaf(p *Predicate) map[string]any {
	values := p.Value
	if values == nil {
		values = []any{}
	}
	return map[string]any{"terms": map[string]any{p.Field: values, "boost": 0}}
}

func rangeLeaf(field, bound string, values []any) map[string]any {
	var v any
	if len(values) > 0 {
		v = values[0]
	}
	return map[string]any{"range": map[string]any{field: map[string]any{bound: v}}}
}

func boolQuery(body map[string]any) map[string]any {
	return map[string]any{"bool": body}
}
