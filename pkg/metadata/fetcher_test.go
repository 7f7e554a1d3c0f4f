package metadata

import (
	"context"
	"testing"

	"clinical-report-be/internal/pkg/logger"
	"clinical-report-be/pkg/search"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func projectHit(fields ...map[string]any) search.Hit {
	extended := make([]any, len(fields))
	for i, f := range fields {
		extended[i] = f
	}
	return search.Hit{Source: map[string]any{
		"name":   "participant",
		"config": map[string]any{"extended": extended},
	}}
}

func TestElasticFetcher(t *testing.T) {
	var gotIndex string
	var gotReq *search.Request
	client := search.ClientFunc(func(_ context.Context, index string, req *search.Request) (*search.Response, error) {
		gotIndex, gotReq = index, req
		return &search.Response{Hits: search.Hits{Hits: []search.Hit{
			projectHit(map[string]any{"field": "participant_id", "type": "keyword", "displayName": "Participant ID"}),
		}}}, nil
	})

	fields, err := NewElasticFetcher(client, logger.NewNopLogger()).Fetch(context.Background(), "kf", "participant")
	require.NoError(t, err)

	assert.Equal(t, "arranger-projects-kf", gotIndex)
	assert.Equal(t, map[string]any{"query_string": map[string]any{"query": "name:participant"}}, gotReq.Query)
	assert.Equal(t, []Field{{Field: "participant_id", Type: "keyword", DisplayName: "Participant ID"}}, fields)
}

func TestElasticFetcherPicksFirstOfSeveral(t *testing.T) {
	client := search.ClientFunc(func(context.Context, string, *search.Request) (*search.Response, error) {
		return &search.Response{Hits: search.Hits{Hits: []search.Hit{
			projectHit(map[string]any{"field": "first", "type": "keyword"}),
			projectHit(map[string]any{"field": "second", "type": "keyword"}),
		}}}, nil
	})
	log := logger.NewRecordingLogger()

	fields, err := NewElasticFetcher(client, log).Fetch(context.Background(), "kf", "participant")
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "first", fields[0].Field)

	warnings := log.Entries("WARN")
	require.Len(t, warnings, 1)
	assert.Equal(t, "METADATA", warnings[0].Module)
	assert.Equal(t, 2, warnings[0].Details["matches"])
}

func TestElasticFetcherNoMatch(t *testing.T) {
	client := search.ClientFunc(func(context.Context, string, *search.Request) (*search.Response, error) {
		return &search.Response{}, nil
	})

	_, err := NewElasticFetcher(client, logger.NewNopLogger()).Fetch(context.Background(), "kf", "participant")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}
