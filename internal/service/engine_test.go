package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"clinical-report-be/pkg/fieldpath"
	"clinical-report-be/pkg/search"
)

// memoryEngine is a tiny in-memory search engine understanding the query
// shapes the service emits: match_all, bool must/should/must_not, terms and
// nested. Documents keep their insertion order, which stands in for the sort.
type memoryEngine struct {
	mu       sync.Mutex
	indices  map[string][]map[string]any
	requests map[string][]map[string]any
	failOn   string
}

func newMemoryEngine() *memoryEngine {
	return &memoryEngine{
		indices:  map[string][]map[string]any{},
		requests: map[string][]map[string]any{},
	}
}

// add stores docs the way they come back from the wire, numbers as
// json.Number.
func (e *memoryEngine) add(index string, docs ...map[string]any) {
	for _, doc := range docs {
		raw, _ := json.Marshal(doc)
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var decoded map[string]any
		_ = dec.Decode(&decoded)
		e.indices[index] = append(e.indices[index], decoded)
	}
}

func (e *memoryEngine) calls(index string) []map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]map[string]any(nil), e.requests[index]...)
}

func (e *memoryEngine) Search(_ context.Context, index string, req *search.Request) (*search.Response, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.requests[index] = append(e.requests[index], body)
	docs := e.indices[index]
	e.mu.Unlock()

	if e.failOn == index {
		return nil, &search.TransportError{Index: index, Status: 503, Reason: "unavailable"}
	}

	var matched []int
	for i, doc := range docs {
		if matches(doc, body["query"]) {
			matched = append(matched, i)
		}
	}

	resp := &search.Response{}
	resp.Hits.Total.Value = int64(len(matched))

	if aggs, ok := body["aggs"].(map[string]any); ok {
		resp.Aggregations = map[string]search.Aggregation{}
		for name, a := range aggs {
			terms := a.(map[string]any)["terms"].(map[string]any)
			resp.Aggregations[name] = search.Aggregation{Buckets: buckets(docs, matched, terms["field"].(string))}
		}
	}

	size := 10
	if s, ok := body["size"].(float64); ok {
		size = int(s)
	}
	after := -1
	if sa, ok := body["search_after"].([]any); ok && len(sa) > 0 {
		after = int(sa[0].(float64))
	}
	for _, i := range matched {
		if len(resp.Hits.Hits) >= size {
			break
		}
		if i <= after {
			continue
		}
		resp.Hits.Hits = append(resp.Hits.Hits, search.Hit{
			ID:     fmt.Sprint(i),
			Source: docs[i],
			Sort:   []any{json.Number(fmt.Sprint(i))},
		})
	}
	return resp, nil
}

func buckets(docs []map[string]any, matched []int, field string) []search.Bucket {
	seen := map[string]bool{}
	var out []search.Bucket
	for _, i := range matched {
		for _, v := range values(docs[i], field) {
			k := fmt.Sprint(v)
			if !seen[k] {
				seen[k] = true
				out = append(out, search.Bucket{Key: k, DocCount: 1})
			}
		}
	}
	return out
}

func values(doc map[string]any, field string) []any {
	v, ok := fieldpath.Lookup(doc, field)
	if !ok || v == nil {
		return nil
	}
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

func matches(doc map[string]any, query any) bool {
	q, ok := query.(map[string]any)
	if !ok {
		return true
	}
	if _, ok := q["match_all"]; ok {
		return true
	}
	if n, ok := q["nested"].(map[string]any); ok {
		return matches(doc, n["query"])
	}
	if match, ok := q["match"].(map[string]any); ok {
		for field, want := range match {
			for _, v := range values(doc, field) {
				if fmt.Sprint(v) == fmt.Sprint(want) {
					return true
				}
			}
		}
		return false
	}
	if terms, ok := q["terms"].(map[string]any); ok {
		for field, want := range terms {
			if field == "boost" {
				continue
			}
			set := map[string]bool{}
			list, _ := want.([]any)
			for _, w := range list {
				set[fmt.Sprint(w)] = true
			}
			for _, v := range values(doc, field) {
				if set[fmt.Sprint(v)] {
					return true
				}
			}
			return false
		}
	}
	if b, ok := q["bool"].(map[string]any); ok {
		if must, ok := b["must"].([]any); ok {
			for _, c := range must {
				if !matches(doc, c) {
					return false
				}
			}
		}
		if should, ok := b["should"].([]any); ok && len(should) > 0 {
			hit := false
			for _, c := range should {
				if matches(doc, c) {
					hit = true
					break
				}
			}
			if !hit {
				return false
			}
		}
		if mustNot, ok := b["must_not"].([]any); ok {
			for _, c := range mustNot {
				if matches(doc, c) {
					return false
				}
			}
		}
		return true
	}
	return true
}
