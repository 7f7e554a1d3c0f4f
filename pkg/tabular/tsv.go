package tabular

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"clinical-report-be/pkg/reportconfig"
)

const TSVMediaType = "text/tab-separated-values"

// cells cannot carry the separators; there is no quoting in TSV
var tsvSanitizer = strings.NewReplacer("\t", " ", "\r\n", " ", "\n", " ", "\r", " ")

// TSV buffers a single sheet as tab separated values (IANA text/tab-separated-values).
type TSV struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	hasTab bool
}

func NewTSV() *TSV {
	return &TSV{}
}

func (t *TSV) AddSheet(_ string, headers []string) (Sheet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hasTab {
		return nil, ErrSingleSheet
	}
	t.hasTab = true
	t.writeLine(headers)
	return t, nil
}

func (t *TSV) Append(cells []any) error {
	record := make([]string, len(cells))
	for i, c := range cells {
		record[i] = reportconfig.Stringify(cellValue(c))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeLine(record)
	return nil
}

func (t *TSV) writeLine(fields []string) {
	for i, f := range fields {
		if i > 0 {
			t.buf.WriteByte('\t')
		}
		t.buf.WriteString(tsvSanitizer.Replace(f))
	}
	t.buf.WriteByte('\n')
}

func (t *TSV) Write(w io.Writer) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.buf.WriteTo(w)
	return err
}

func (t *TSV) ContentType() string { return TSVMediaType }
func (t *TSV) Extension() string   { return ".tsv" }
