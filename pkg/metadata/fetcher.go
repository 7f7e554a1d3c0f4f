package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"clinical-report-be/internal/pkg/logger"
	"clinical-report-be/pkg/fieldpath"
	"clinical-report-be/pkg/search"
)

var ErrProjectNotFound = errors.New("arranger project not found")

const extendedPath = "config.extended"

// ProjectIndex is the index holding the arranger configuration of a project.
func ProjectIndex(projectID string) string {
	return "arranger-projects-" + projectID
}

// ElasticFetcher reads extended configurations from the search engine.
type ElasticFetcher struct {
	client search.Client
	logger logger.ILogger
}

func NewElasticFetcher(client search.Client, logger logger.ILogger) *ElasticFetcher {
	return &ElasticFetcher{client: client, logger: logger}
}

func (f *ElasticFetcher) Fetch(ctx context.Context, projectID, indexName string) ([]Field, error) {
	resp, err := search.Execute(ctx, f.client, ProjectIndex(projectID), &search.Request{
		Query: map[string]any{
			"query_string": map[string]any{"query": "name:" + indexName},
		},
		Size: search.IntPtr(10),
	})
	if err != nil {
		return nil, err
	}

	var configs [][]Field
	for _, src := range resp.Sources() {
		raw, ok := fieldpath.Lookup(src, extendedPath)
		if !ok {
			continue
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", extendedPath, err)
		}
		configs = append(configs, fields)
	}

	if len(configs) == 0 {
		return nil, fmt.Errorf("%w: projectId %s, indexName %s", ErrProjectNotFound, projectID, indexName)
	}
	if len(configs) > 1 {
		f.logger.Warn("METADATA", "Found more than one config, picking the first one", map[string]interface{}{
			"project_id": projectID,
			"index":      indexName,
			"matches":    len(configs),
		})
	}
	return configs[0], nil
}

func decodeFields(raw any) ([]Field, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var fields []Field
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
