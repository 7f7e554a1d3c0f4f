package service

import (
	"context"
	"encoding/json"
	"fmt"

	"clinical-report-be/internal/dto"
	"clinical-report-be/pkg/family"
	"clinical-report-be/pkg/fieldpath"
	"clinical-report-be/pkg/metadata"
	"clinical-report-be/pkg/search"
	"clinical-report-be/pkg/sqon"

	"go.opentelemetry.io/otel/attribute"
)

// Arranger index names the stats endpoints read metadata for.
const (
	fileIndexName        = "file"
	biospecimenIndexName = "biospecimen"
)

var (
	fileStatsFields = []string{"file_id", "data_type", "size", "participants.participant_id"}
	fileStatsSort   = []any{map[string]any{"file_id": map[string]any{"order": "asc"}}}

	biospecimenStatsFields = []string{"sample_id", "study.study_code", "study.study_name", "participant_fhir_id", "container_id"}
	biospecimenStatsSort   = []any{map[string]any{"sample_id": map[string]any{"order": "asc"}}}
)

// FileManifestStats summarizes the selected files per data type.
func (s *reportService) FileManifestStats(ctx context.Context, req dto.ReportRequest, caller dto.Caller) ([]dto.FileManifestStat, error) {
	ctx, span := tracer.Start(ctx, "report.file-manifest-stats")
	defer span.End()
	span.SetAttributes(attribute.String("report.project_id", req.ProjectID), attribute.Bool("report.with_family", req.WithFamily))

	query, err := s.statsQuery(ctx, req, caller, fileIndexName, nil)
	if err != nil {
		return nil, err
	}

	files, err := s.collect(ctx, s.cfg.FileIndex, query, fileStatsFields, fileStatsSort)
	if err != nil {
		return nil, err
	}

	if req.WithFamily {
		ids := make([]string, 0, len(files))
		for _, f := range files {
			ids = append(ids, fmt.Sprint(fieldpath.Find(f, "file_id")))
		}
		expanded, err := s.expander.FileFamilyIDs(ctx, s.cfg.FileIndex, ids, family.DefaultFileFields)
		if err != nil {
			return nil, err
		}
		if len(expanded) > len(ids) {
			files, err = s.collect(ctx, s.cfg.FileIndex, sqon.TermsQuery("file_id", expanded), fileStatsFields, fileStatsSort)
			if err != nil {
				return nil, err
			}
		}
	}

	return fileStatsByDataType(files), nil
}

// BiospecimenRequestStats summarizes the available biospecimens of the
// selection per study.
func (s *reportService) BiospecimenRequestStats(ctx context.Context, req dto.ReportRequest, caller dto.Caller) ([]dto.BiospecimenRequestStat, error) {
	ctx, span := tracer.Start(ctx, "report.biospecimen-request-stats")
	defer span.End()
	span.SetAttributes(attribute.String("report.project_id", req.ProjectID))

	query, err := s.statsQuery(ctx, req, caller, biospecimenIndexName, availableOnly)
	if err != nil {
		return nil, err
	}

	samples, err := s.collect(ctx, s.cfg.BiospecimenIndex, query, biospecimenStatsFields, biospecimenStatsSort)
	if err != nil {
		return nil, err
	}
	return biospecimenStatsByStudy(samples), nil
}

// availableOnly restricts a biospecimen filter to samples still available.
func availableOnly(n sqon.Node) sqon.Node {
	return sqon.WithCondition(n, &sqon.Predicate{
		Op:    sqon.OpIn,
		Field: "status",
		Value: []any{"available"},
		Index: biospecimenIndexName,
	})
}

func (s *reportService) statsQuery(ctx context.Context, req dto.ReportRequest, caller dto.Caller, indexName string, amend func(sqon.Node) sqon.Node) (map[string]any, error) {
	fields, err := s.fields(ctx, req.ProjectID, indexName)
	if err != nil {
		return nil, err
	}
	filter, err := s.resolve(ctx, req, caller)
	if err != nil {
		return nil, err
	}
	if amend != nil {
		filter = amend(filter)
	}
	return sqon.BuildQuery(filter, metadata.NestedFields(fields)), nil
}

func (s *reportService) collect(ctx context.Context, index string, query any, source []string, sort []any) ([]map[string]any, error) {
	c := &docsCollector{}
	err := s.cursor.Run(ctx, index, &search.Request{
		Query:  query,
		Source: source,
		Sort:   sort,
	}, search.CursorOptions{
		PageSize: s.cfg.PageSize,
		OnPage:   c.onPage,
		OnFetch:  observeFetch,
	})
	if err != nil {
		return nil, err
	}
	return c.docs, nil
}

// fileStatsByDataType groups files by data type in first-seen order.
func fileStatsByDataType(files []map[string]any) []dto.FileManifestStat {
	out := []dto.FileManifestStat{}
	index := map[string]int{}
	for _, f := range files {
		dataType := stringOf(fieldpath.Find(f, "data_type"))
		i, ok := index[dataType]
		if !ok {
			i = len(out)
			index[dataType] = i
			out = append(out, dto.FileManifestStat{Key: dataType, Value: dataType})
		}
		stat := &out[i]
		stat.NbFiles++
		if participants, ok := f["participants"].([]any); ok {
			stat.NbParticipants += len(participants)
		}
		stat.Size += int64Of(f["size"])
	}
	return out
}

// biospecimenStatsByStudy groups samples by study code in first-seen order.
func biospecimenStatsByStudy(samples []map[string]any) []dto.BiospecimenRequestStat {
	type acc struct {
		stat         dto.BiospecimenRequestStat
		participants map[string]bool
		containers   map[string]bool
	}
	var order []string
	byStudy := map[string]*acc{}
	for _, sample := range samples {
		code := stringOf(fieldpath.Find(sample, "study.study_code"))
		a, ok := byStudy[code]
		if !ok {
			a = &acc{
				stat: dto.BiospecimenRequestStat{
					StudyCode: code,
					StudyName: stringOf(fieldpath.Find(sample, "study.study_name")),
				},
				participants: map[string]bool{},
				containers:   map[string]bool{},
			}
			byStudy[code] = a
			order = append(order, code)
		}
		a.stat.NbAvailableSamples++
		a.participants[stringOf(sample["participant_fhir_id"])] = true
		if c, ok := sample["container_id"]; ok && c != nil {
			a.containers[stringOf(c)] = true
		}
	}

	out := make([]dto.BiospecimenRequestStat, 0, len(order))
	for _, code := range order {
		a := byStudy[code]
		a.stat.NbParticipants = len(a.participants)
		a.stat.NbContainers = len(a.containers)
		out = append(out, a.stat)
	}
	return out
}

func stringOf(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	}
	return fmt.Sprint(v)
}

func int64Of(v any) int64 {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return int64(f)
		}
	case float64:
		return int64(x)
	case int:
		return int64(x)
	case int64:
		return x
	}
	return 0
}
