package reportconfig

import (
	"clinical-report-be/internal/pkg/logger"
	"clinical-report-be/pkg/fieldpath"
	"clinical-report-be/pkg/metadata"
)

// EmptyHeader is written for columns with neither a header nor a display name.
const EmptyHeader = "--"

// Column is a ColumnConfig joined with the metadata of its field.
type Column struct {
	Field            string
	Key              string
	Header           string
	Type             string
	AdditionalFields []string
	transform        Transform
}

// Value reads the column's field from row and applies its transform.
func (c Column) Value(row map[string]any) any {
	return c.transform(fieldpath.Find(row, c.Field), row)
}

type Sheet struct {
	Name    string
	Root    string
	Sort    []any
	Columns []Column
}

// Headers returns the header row.
func (s Sheet) Headers() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Header
		if out[i] == "" {
			out[i] = EmptyHeader
		}
	}
	return out
}

// SourceFields is the deduplicated union of column and additional fields,
// used as the _source filter of the sheet's query.
func (s Sheet) SourceFields() []string {
	seen := map[string]bool{}
	var out []string
	add := func(f string) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, c := range s.Columns {
		for _, f := range c.AdditionalFields {
			add(f)
		}
		add(c.Field)
	}
	return out
}

// Rows flattens a document on the sheet root and returns one cell slice per
// resulting row.
func (s Sheet) Rows(doc map[string]any) [][]any {
	rows := fieldpath.Flatten(doc, s.Root)
	out := make([][]any, 0, len(rows))
	for _, row := range rows {
		cells := make([]any, len(s.Columns))
		for i, c := range s.Columns {
			cells[i] = c.Value(row)
		}
		out = append(out, cells)
	}
	return out
}

// Record projects a document without flattening into a map keyed by column
// key. Used by the TSV manifests.
func (s Sheet) Record(doc map[string]any) map[string]any {
	out := make(map[string]any, len(s.Columns))
	for _, c := range s.Columns {
		out[c.Key] = c.Value(doc)
	}
	return out
}

// Report is a ReportConfig whose columns were checked against metadata.
type Report struct {
	Name      string
	IndexName string
	Alias     string
	Readme    string
	Sheets    []Sheet
}

// Normalize joins every column with its field metadata. Columns whose field
// is unknown are dropped with a warning. Columns without a header take the
// field's display name.
func Normalize(cfg *ReportConfig, fields []metadata.Field, log logger.ILogger) (*Report, error) {
	byField := metadata.ByField(fields)
	report := &Report{Name: cfg.Name, IndexName: cfg.IndexName, Alias: cfg.Alias, Readme: cfg.Readme}

	for _, sc := range cfg.Sheets {
		sheet := Sheet{Name: sc.SheetName, Root: sc.Root, Sort: sc.Sort}
		for _, cc := range sc.Columns {
			info, ok := byField[cc.Field]
			if !ok {
				log.Warn("REPORT", "Missing extended field information, column excluded", map[string]interface{}{
					"report": cfg.Name,
					"sheet":  sc.SheetName,
					"field":  cc.Field,
				})
				continue
			}
			col, err := newColumn(cc, info, log)
			if err != nil {
				return nil, err
			}
			sheet.Columns = append(sheet.Columns, col)
		}
		report.Sheets = append(report.Sheets, sheet)
	}
	return report, nil
}

func newColumn(cc ColumnConfig, info metadata.Field, log logger.ILogger) (Column, error) {
	col := Column{
		Field:            cc.Field,
		Key:              cc.Key(),
		Header:           cc.Header,
		Type:             info.Type,
		AdditionalFields: cc.AdditionalFields,
	}
	if col.Header == "" {
		col.Header = info.DisplayName
	}

	if cc.Transform != nil {
		t, err := cc.Transform.build()
		if err != nil {
			return Column{}, err
		}
		col.transform = t
		return col, nil
	}

	t, ok := DefaultTransform(info.Type)
	if !ok {
		log.Warn("REPORT", "Unsupported field type, value kept as is", map[string]interface{}{
			"field": cc.Field,
			"type":  info.Type,
		})
	}
	col.transform = t
	return col, nil
}
