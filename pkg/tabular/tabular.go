// Package tabular writes report rows to spreadsheet-like artifacts.
package tabular

import (
	"encoding/json"
	"errors"
	"io"

	"clinical-report-be/pkg/reportconfig"
)

var ErrSingleSheet = errors.New("format holds a single sheet")

// Workbook accumulates sheets and serializes them once complete.
// AddSheet and the returned Sheet are safe for concurrent use.
type Workbook interface {
	AddSheet(name string, headers []string) (Sheet, error)
	Write(w io.Writer) error
	ContentType() string
	Extension() string
}

type Sheet interface {
	Append(cells []any) error
}

// cellValue converts a transformed value to a type the writers render
// natively: string, bool, int64, float64 or nil.
func cellValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int64, float64:
		return v
	case int:
		return int64(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	}
	return reportconfig.Stringify(v)
}
