package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"clinical-report-be/internal/dto"
	"clinical-report-be/internal/metrics"
	"clinical-report-be/pkg/fieldpath"
	"clinical-report-be/pkg/reportconfig"
	"clinical-report-be/pkg/search"
	"clinical-report-be/pkg/sqon"
	"clinical-report-be/pkg/tabular"
)

const (
	studyCodeField = "study.study_code"
	studyNoteField = "study.note"
	readmeFilename = "README.txt"
)

// BiospecimenRequest renders the available biospecimens of the selection,
// one sheet per study plus the biobank contacts, zipped with a README
// holding each study's request instructions.
func (s *reportService) BiospecimenRequest(ctx context.Context, req dto.ReportRequest, caller dto.Caller) (*dto.ReportFile, error) {
	return s.observe(ctx, reportconfig.BiospecimenRequest, req, caller, func(ctx context.Context) (*dto.ReportFile, error) {
		return s.biospecimenRequest(ctx, req, caller)
	})
}

func (s *reportService) biospecimenRequest(ctx context.Context, req dto.ReportRequest, caller dto.Caller) (*dto.ReportFile, error) {
	p, err := s.prepare(ctx, reportconfig.BiospecimenRequest, req, caller)
	if err != nil {
		return nil, err
	}
	report := p.report
	if len(report.Sheets) != 2 {
		return nil, fmt.Errorf("%w: %s needs a contact sheet and a study sheet", reportconfig.ErrInvalidConfig, report.Name)
	}
	contact, study := report.Sheets[0], report.Sheets[1]

	book := tabular.NewXLSX()
	contacts, err := book.AddSheet(contact.Name, contact.Headers())
	if err != nil {
		return nil, err
	}

	var readme strings.Builder
	readme.WriteString(report.Readme)

	rows := map[string]int{contact.Name: 0}
	studies := map[string]tabular.Sheet{}
	written := 0

	source := mergeFields(contact.SourceFields(), study.SourceFields(), []string{studyCodeField, studyNoteField})
	err = s.cursor.Run(ctx, report.Alias, &search.Request{
		Query:  sqon.BuildQuery(availableOnly(p.filter), p.nested),
		Source: source,
		Sort:   study.Sort,
	}, search.CursorOptions{
		PageSize: s.cfg.PageSize,
		OnPage: func(docs []map[string]any, _ search.CursorState) error {
			for _, doc := range docs {
				code := stringOf(fieldpath.Find(doc, studyCodeField))
				out, ok := studies[code]
				if !ok {
					var err error
					if out, err = book.AddSheet(code, study.Headers()); err != nil {
						return err
					}
					studies[code] = out
					for _, cells := range contact.Rows(doc) {
						if err := contacts.Append(cells); err != nil {
							return err
						}
						rows[contact.Name]++
					}
					if note := stringOf(fieldpath.Find(doc, studyNoteField)); note != "" {
						readme.WriteString("\n" + note + "\n")
					}
				}
				for _, cells := range study.Rows(doc) {
					if err := out.Append(cells); err != nil {
						return err
					}
					rows[code]++
					written++
				}
			}
			return nil
		},
		OnFetch: observeFetch,
	})
	if err != nil {
		return nil, err
	}
	metrics.RowsWritten.WithLabelValues(report.Name, contact.Name).Add(float64(rows[contact.Name]))
	metrics.RowsWritten.WithLabelValues(report.Name, study.Name).Add(float64(written))

	var xlsx bytes.Buffer
	if err := book.Write(&xlsx); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}

	filename := s.filename(req.Filename, ".zip")
	base := filename[:len(filename)-len(".zip")]
	var archive bytes.Buffer
	if err := tabular.WriteZip(&archive, s.now(),
		tabular.Entry{Name: base + book.Extension(), Data: xlsx.Bytes()},
		tabular.Entry{Name: readmeFilename, Data: []byte(readme.String())},
	); err != nil {
		return nil, fmt.Errorf("write archive: %w", err)
	}

	return &dto.ReportFile{
		Filename:    filename,
		ContentType: tabular.ZipMediaType,
		Data:        archive.Bytes(),
		Rows:        rows,
	}, nil
}

// mergeFields concatenates field lists, keeping the first occurrence.
func mergeFields(lists ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range lists {
		for _, f := range list {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}
