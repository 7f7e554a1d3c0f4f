package search

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldValues(t *testing.T) {
	var got *Request
	client := ClientFunc(func(_ context.Context, index string, req *Request) (*Response, error) {
		got = req
		assert.Equal(t, "participant_centric", index)
		return &Response{Aggregations: map[string]Aggregation{
			"ids": {Buckets: []Bucket{{Key: "p1", DocCount: 1}, {Key: "p2", DocCount: 1}, {Key: "p2", DocCount: 1}}},
		}}, nil
	})

	ids, err := FieldValues(context.Background(), client, "participant_centric", map[string]any{"match_all": map[string]any{}}, "participant_id", 25)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, ids)

	require.NotNil(t, got)
	assert.Equal(t, 0, *got.Size)
	terms := got.Aggs["ids"].(map[string]any)["terms"].(map[string]any)
	assert.Equal(t, "participant_id", terms["field"])
	assert.Equal(t, 25, terms["size"], "bucket ceiling is forwarded")
}

func TestFieldValuesDefaultsBucketCeiling(t *testing.T) {
	var got *Request
	client := ClientFunc(func(_ context.Context, _ string, req *Request) (*Response, error) {
		got = req
		return &Response{}, nil
	})
	ids, err := FieldValues(context.Background(), client, "idx", nil, "f", 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, DefaultMaxBuckets, got.Aggs["ids"].(map[string]any)["terms"].(map[string]any)["size"])
}

func TestBucketKeysNumeric(t *testing.T) {
	resp := &Response{Aggregations: map[string]Aggregation{
		"ids": {Buckets: []Bucket{{Key: json.Number("12")}, {Key: float64(3)}}},
	}}
	assert.Equal(t, []string{"12", "3"}, BucketKeys(resp, "ids"))
	assert.Empty(t, BucketKeys(resp, "missing"))
	assert.Empty(t, BucketKeys(nil, "ids"))
}

func TestDecodeResponse(t *testing.T) {
	t.Run("object total and big numbers", func(t *testing.T) {
		resp, err := DecodeResponse(strings.NewReader(`{
			"hits":{"total":{"value":2,"relation":"eq"},"hits":[
				{"_id":"1","_source":{"id":"a","n":9223372036854775807},"sort":[9223372036854775807,"a"]}
			]},
			"aggregations":{"ids":{"buckets":[{"key":"a","doc_count":1}]}}
		}`))
		require.NoError(t, err)
		assert.Equal(t, int64(2), resp.Hits.Total.Value)
		assert.Equal(t, json.Number("9223372036854775807"), resp.Hits.Hits[0].Source["n"])
		assert.Equal(t, []any{json.Number("9223372036854775807"), "a"}, resp.Hits.Hits[0].Sort)
		assert.Equal(t, []string{"a"}, BucketKeys(resp, "ids"))
	})

	t.Run("legacy integer total", func(t *testing.T) {
		resp, err := DecodeResponse(strings.NewReader(`{"hits":{"total":7,"hits":[]}}`))
		require.NoError(t, err)
		assert.Equal(t, int64(7), resp.Hits.Total.Value)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := DecodeResponse(strings.NewReader(`{"hits":`))
		assert.Error(t, err)
	})
}

func TestRequestWireForm(t *testing.T) {
	data, err := json.Marshal(&Request{Query: map[string]any{"match_all": map[string]any{}}, Size: IntPtr(0)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":{"match_all":{}},"size":0}`, string(data))
}
