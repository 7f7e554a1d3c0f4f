package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Client executes one search request against an index or alias.
type Client interface {
	Search(ctx context.Context, index string, req *Request) (*Response, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, index string, req *Request) (*Response, error)

func (f ClientFunc) Search(ctx context.Context, index string, req *Request) (*Response, error) {
	return f(ctx, index, req)
}

// Request is the search body. Zero values are omitted from the wire form.
type Request struct {
	Query          any            `json:"query,omitempty"`
	Source         []string       `json:"_source,omitempty"`
	Sort           []any          `json:"sort,omitempty"`
	Size           *int           `json:"size,omitempty"`
	SearchAfter    []any          `json:"search_after,omitempty"`
	Aggs           map[string]any `json:"aggs,omitempty"`
	TrackTotalHits bool           `json:"track_total_hits,omitempty"`
}

// Clone returns a shallow copy safe to modify at the top level.
func (r *Request) Clone() *Request {
	if r == nil {
		return &Request{}
	}
	c := *r
	return &c
}

// IntPtr is a helper for Request.Size.
func IntPtr(v int) *int { return &v }

type Response struct {
	Hits         Hits                   `json:"hits"`
	Aggregations map[string]Aggregation `json:"aggregations,omitempty"`
}

type Hits struct {
	Total Total `json:"total"`
	Hits  []Hit `json:"hits"`
}

type Hit struct {
	ID     string         `json:"_id,omitempty"`
	Source map[string]any `json:"_source"`
	Sort   []any          `json:"sort,omitempty"`
}

// Total accepts both the legacy integer form and the {"value": n} object.
type Total struct {
	Value int64 `json:"value"`
}

func (t *Total) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			Value int64 `json:"value"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		t.Value = obj.Value
		return nil
	}
	if string(data) == "null" {
		t.Value = 0
		return nil
	}
	return json.Unmarshal(data, &t.Value)
}

type Aggregation struct {
	Buckets []Bucket `json:"buckets"`
}

type Bucket struct {
	Key      any   `json:"key"`
	DocCount int64 `json:"doc_count"`
}

// Sources returns the _source of every hit.
func (r *Response) Sources() []map[string]any {
	if r == nil {
		return nil
	}
	out := make([]map[string]any, 0, len(r.Hits.Hits))
	for _, h := range r.Hits.Hits {
		out = append(out, h.Source)
	}
	return out
}

// DecodeResponse reads a search response keeping numbers as json.Number so
// large integers survive untouched.
func DecodeResponse(r io.Reader) (*Response, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var resp Response
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &resp, nil
}

// TransportError is returned when the search engine could not be reached or
// rejected the request.
type TransportError struct {
	Index  string
	Status int // 0 when no HTTP response was received
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("search on %q failed with status %d: %s", e.Index, e.Status, e.Reason)
	}
	return fmt.Sprintf("search on %q failed: %v", e.Index, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
