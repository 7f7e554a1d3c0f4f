package search

import (
	"context"
	"encoding/json"
	"fmt"
)

// DefaultMaxBuckets bounds every terms aggregation issued by this package.
// Cardinalities above it are silently truncated by the engine.
const DefaultMaxBuckets = 100000

const idsAggregation = "ids"

// FieldValues runs query with a terms aggregation on field and returns the
// distinct bucket keys in bucket order.
func FieldValues(ctx context.Context, client Client, index string, query any, field string, maxBuckets int) ([]string, error) {
	if maxBuckets <= 0 {
		maxBuckets = DefaultMaxBuckets
	}
	resp, err := client.Search(ctx, index, &Request{
		Query: query,
		Size:  IntPtr(0),
		Aggs: map[string]any{
			idsAggregation: map[string]any{
				"terms": map[string]any{"field": field, "size": maxBuckets},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate %s on %s: %w", field, index, err)
	}
	return BucketKeys(resp, idsAggregation), nil
}

// BucketKeys returns the deduplicated string keys of the named aggregation.
func BucketKeys(resp *Response, name string) []string {
	if resp == nil {
		return []string{}
	}
	agg, ok := resp.Aggregations[name]
	if !ok {
		return []string{}
	}
	seen := make(map[string]struct{}, len(agg.Buckets))
	out := make([]string, 0, len(agg.Buckets))
	for _, b := range agg.Buckets {
		key := keyString(b.Key)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

func keyString(k any) string {
	switch v := k.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Execute runs a single bounded search. Size defaults to 0 (aggregations
// only) when the request leaves it unset.
func Execute(ctx context.Context, client Client, index string, req *Request) (*Response, error) {
	body := req.Clone()
	if body.Size == nil {
		body.Size = IntPtr(0)
	}
	resp, err := client.Search(ctx, index, body)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}
	return resp, nil
}
