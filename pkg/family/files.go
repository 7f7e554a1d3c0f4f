package family

import (
	"context"
	"fmt"

	"clinical-report-be/pkg/fieldpath"
	"clinical-report-be/pkg/search"
	"clinical-report-be/pkg/sqon"

	"golang.org/x/sync/errgroup"
)

// FileFields names the file index fields used by FileFamilyIDs.
type FileFields struct {
	ID           string
	DataType     string
	Participants string
	Family       string
}

var DefaultFileFields = FileFields{
	ID:           "file_id",
	DataType:     "data_type",
	Participants: "participants",
	Family:       "participants.families_id",
}

type fileGroup struct {
	dataType string
	familyID string
}

// FileFamilyIDs returns fileIDs followed by the ids of every file sharing a
// data type and a family with one of them.
func (e *Expander) FileFamilyIDs(ctx context.Context, index string, fileIDs []string, fields FileFields) ([]string, error) {
	if len(fileIDs) == 0 {
		return []string{}, nil
	}

	resp, err := search.Execute(ctx, e.client, index, &search.Request{
		Query:  sqon.TermsQuery(fields.ID, fileIDs),
		Source: []string{fields.ID, fields.DataType, fields.Family},
		Sort:   []any{map[string]any{fields.DataType: map[string]any{"order": "asc"}}},
		Size:   search.IntPtr(e.maxBuckets()),
	})
	if err != nil {
		return nil, fmt.Errorf("file families: %w", err)
	}

	groups := groupFiles(resp.Sources(), fields)
	results := make([][]string, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	for i, grp := range groups {
		g.Go(func() error {
			query := map[string]any{
				"bool": map[string]any{
					"must": []any{
						map[string]any{"terms": map[string]any{fields.DataType: []string{grp.dataType}, "boost": 0}},
						map[string]any{"nested": map[string]any{
							"path": fields.Participants,
							"query": map[string]any{"bool": map[string]any{"must": []any{
								map[string]any{"match": map[string]any{fields.Family: grp.familyID}},
							}}},
						}},
					},
				},
			}
			ids, err := search.FieldValues(gctx, e.client, index, query, fields.ID, e.maxBuckets())
			if err != nil {
				return fmt.Errorf("files of family %s: %w", grp.familyID, err)
			}
			results[i] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := fileIDs
	for _, ids := range results {
		out = union(out, ids)
	}
	e.logger.Debug("FAMILY", "Expanded file selection with family files", map[string]interface{}{
		"files":    len(fileIDs),
		"groups":   len(groups),
		"expanded": len(out),
	})
	return out, nil
}

// groupFiles returns the distinct (data type, family) pairs in document order.
func groupFiles(docs []map[string]any, fields FileFields) []fileGroup {
	seen := map[fileGroup]bool{}
	var groups []fileGroup
	for _, doc := range docs {
		dataType := fmt.Sprint(fieldpath.Find(doc, fields.DataType))
		fams := fieldpath.Find(doc, fields.Family)
		list, ok := fams.([]any)
		if !ok {
			list = []any{fams}
		}
		for _, f := range list {
			if f == nil || f == "" {
				continue
			}
			grp := fileGroup{dataType: dataType, familyID: fmt.Sprint(f)}
			if !seen[grp] {
				seen[grp] = true
				groups = append(groups, grp)
			}
		}
	}
	return groups
}

func (e *Expander) maxBuckets() int {
	if e.MaxBuckets <= 0 {
		return search.DefaultMaxBuckets
	}
	return e.MaxBuckets
}
