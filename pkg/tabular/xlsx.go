package tabular

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"
)

const (
	defaultSheet  = "Sheet1"
	maxSheetName  = 31
	XLSXMediaType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// XLSX streams rows into an excelize workbook.
type XLSX struct {
	mu      sync.Mutex
	file    *excelize.File
	sheets  []*xlsxSheet
	written bool
}

func NewXLSX() *XLSX {
	return &XLSX{file: excelize.NewFile()}
}

type xlsxSheet struct {
	book   *XLSX
	name   string
	stream *excelize.StreamWriter
	next   int
}

func (x *XLSX) AddSheet(name string, headers []string) (Sheet, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	name = sheetName(name)
	if _, err := x.file.NewSheet(name); err != nil {
		return nil, fmt.Errorf("add sheet %q: %w", name, err)
	}
	stream, err := x.file.NewStreamWriter(name)
	if err != nil {
		return nil, fmt.Errorf("stream sheet %q: %w", name, err)
	}

	s := &xlsxSheet{book: x, name: name, stream: stream, next: 1}
	row := make([]any, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	if err := s.setRow(row); err != nil {
		return nil, err
	}
	x.sheets = append(x.sheets, s)
	return s, nil
}

func (s *xlsxSheet) Append(cells []any) error {
	s.book.mu.Lock()
	defer s.book.mu.Unlock()

	row := make([]any, len(cells))
	for i, c := range cells {
		row[i] = cellValue(c)
	}
	return s.setRow(row)
}

// setRow expects the workbook lock to be held.
func (s *xlsxSheet) setRow(row []any) error {
	cell, err := excelize.CoordinatesToCellName(1, s.next)
	if err != nil {
		return err
	}
	if err := s.stream.SetRow(cell, row); err != nil {
		return fmt.Errorf("sheet %q row %d: %w", s.name, s.next, err)
	}
	s.next++
	return nil
}

// Write flushes every sheet and serializes the workbook. It may be called
// once.
func (x *XLSX) Write(w io.Writer) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.written {
		return fmt.Errorf("workbook already written")
	}
	x.written = true
	defer x.file.Close()

	for _, s := range x.sheets {
		if err := s.stream.Flush(); err != nil {
			return fmt.Errorf("flush sheet %q: %w", s.name, err)
		}
	}
	if len(x.sheets) > 0 && !x.hasSheet(defaultSheet) {
		if err := x.file.DeleteSheet(defaultSheet); err != nil {
			return err
		}
	}
	_, err := x.file.WriteTo(w)
	return err
}

func (x *XLSX) hasSheet(name string) bool {
	for _, s := range x.sheets {
		if s.name == name {
			return true
		}
	}
	return false
}

func (x *XLSX) ContentType() string { return XLSXMediaType }
func (x *XLSX) Extension() string   { return ".xlsx" }

// sheetName replaces characters excel rejects and truncates to its limit.
func sheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		}
		return r
	}, name)
	if r := []rune(name); len(r) > maxSheetName {
		name = string(r[:maxSheetName])
	}
	if name == "" {
		name = defaultSheet
	}
	return name
}
