// Package reportconfig holds the declarative report definitions: which index
// a report reads, which sheets it produces and which columns each sheet has.
package reportconfig

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownReport = errors.New("unknown report")
	ErrInvalidConfig = errors.New("invalid report config")
)

// Report names served by the service.
const (
	ClinicalData       = "clinical-data"
	FamilyClinicalData = "family-clinical-data"
	BiospecimenData    = "biospecimen-data"
	FileManifest       = "file-manifest"
	// BiospecimenRequest has a contact sheet first, then a study sheet
	// template copied once per study code.
	BiospecimenRequest = "biospecimen-request"
)

//go:embed defaults/*/*.yaml
var defaults embed.FS

type ReportConfig struct {
	Name      string        `yaml:"name"`
	IndexName string        `yaml:"index_name"`
	Alias     string        `yaml:"alias"`
	// Readme heads the README shipped next to the workbook, when any.
	Readme string        `yaml:"readme,omitempty"`
	Sheets []SheetConfig `yaml:"sheets"`
}

type SheetConfig struct {
	SheetName string `yaml:"sheet_name"`
	// Root is the nested path each document is flattened on, one row per
	// element. Empty keeps one row per document.
	Root    string         `yaml:"root,omitempty"`
	Sort    []any          `yaml:"sort"`
	Columns []ColumnConfig `yaml:"columns"`
}

type ColumnConfig struct {
	Field            string           `yaml:"field"`
	Header           string           `yaml:"header,omitempty"`
	AdditionalFields []string         `yaml:"additional_fields,omitempty"`
	Transform        *TransformConfig `yaml:"transform,omitempty"`
	// FieldExtraSuffix distinguishes several columns reading the same field.
	FieldExtraSuffix string `yaml:"field_extra_suffix,omitempty"`
}

// Key identifies the column within a row map.
func (c ColumnConfig) Key() string {
	return c.Field + c.FieldExtraSuffix
}

// Parse decodes and validates one YAML report definition.
func Parse(data []byte) (*ReportConfig, error) {
	var cfg ReportConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.Sheets = normalizeSorts(cfg.Sheets)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ReportConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidConfig)
	}
	if c.IndexName == "" || c.Alias == "" {
		return fmt.Errorf("%w: %s: index_name and alias are required", ErrInvalidConfig, c.Name)
	}
	if len(c.Sheets) == 0 {
		return fmt.Errorf("%w: %s: no sheets", ErrInvalidConfig, c.Name)
	}
	seen := map[string]bool{}
	for _, s := range c.Sheets {
		if s.SheetName == "" {
			return fmt.Errorf("%w: %s: sheet without sheet_name", ErrInvalidConfig, c.Name)
		}
		if seen[s.SheetName] {
			return fmt.Errorf("%w: %s: duplicate sheet %q", ErrInvalidConfig, c.Name, s.SheetName)
		}
		seen[s.SheetName] = true
		if len(s.Columns) == 0 {
			return fmt.Errorf("%w: %s/%s: no columns", ErrInvalidConfig, c.Name, s.SheetName)
		}
		for _, col := range s.Columns {
			if col.Field == "" {
				return fmt.Errorf("%w: %s/%s: column without field", ErrInvalidConfig, c.Name, s.SheetName)
			}
			if col.Transform != nil {
				if _, err := col.Transform.build(); err != nil {
					return fmt.Errorf("%w: %s/%s/%s: %v", ErrInvalidConfig, c.Name, s.SheetName, col.Field, err)
				}
			}
		}
	}
	return nil
}

// Registry holds the report definitions of one project.
type Registry struct {
	reports map[string]*ReportConfig
}

// Load reads every *.yaml file of fsys.
func Load(fsys fs.FS) (*Registry, error) {
	r := &Registry{reports: map[string]*ReportConfig{}}
	if err := r.merge(fsys, "."); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadProject returns the embedded definitions of project, overridden by
// files found in overrideDir when it is not empty.
func LoadProject(project, overrideDir string) (*Registry, error) {
	project = strings.ToLower(strings.TrimSpace(project))
	if project == "" {
		project = "include"
	}

	dir := path.Join("defaults", project)
	if _, err := fs.Stat(defaults, dir); err != nil {
		return nil, fmt.Errorf("%w: no definitions for project %q", ErrInvalidConfig, project)
	}

	r := &Registry{reports: map[string]*ReportConfig{}}
	if err := r.merge(defaults, dir); err != nil {
		return nil, err
	}
	if overrideDir != "" {
		if err := r.merge(os.DirFS(overrideDir), "."); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) merge(fsys fs.FS, dir string) error {
	matches, err := fs.Glob(fsys, path.Join(dir, "*.yaml"))
	if err != nil {
		return err
	}
	for _, name := range matches {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		cfg, err := Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		r.reports[cfg.Name] = cfg
	}
	return nil
}

func (r *Registry) Get(name string) (*ReportConfig, error) {
	cfg, ok := r.reports[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReport, name)
	}
	return cfg, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.reports))
	for name := range r.reports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// normalizeSorts turns the YAML-decoded sort clauses into JSON-encodable
// values (yaml.v3 decodes nested mappings as map[string]interface{}).
func normalizeSorts(sheets []SheetConfig) []SheetConfig {
	for i := range sheets {
		for j, clause := range sheets[i].Sort {
			sheets[i].Sort[j] = toJSONValue(clause)
		}
	}
	return sheets
}

func toJSONValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = toJSONValue(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = toJSONValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = toJSONValue(val)
		}
		return out
	}
	return v
}
