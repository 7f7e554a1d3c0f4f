package reportconfig

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"clinical-report-be/pkg/fieldpath"
	"clinical-report-be/pkg/search"

	"github.com/dustin/go-humanize"
)

// Transform turns the raw value found at a column's field into the value
// written to the cell. row is the flattened row the value was read from.
type Transform func(value any, row map[string]any) any

// TransformConfig selects a named transform in YAML:
//
//	transform: {name: map, values: {"true": Observed}, fallback: Not Observed}
type TransformConfig struct {
	Name      string            `yaml:"name"`
	Value     string            `yaml:"value,omitempty"`
	Separator string            `yaml:"separator,omitempty"`
	Values    map[string]string `yaml:"values,omitempty"`
	Fallback  string            `yaml:"fallback,omitempty"`
	IfTrue    string            `yaml:"if_true,omitempty"`
	IfFalse   string            `yaml:"if_false,omitempty"`
	Path      string            `yaml:"path,omitempty"`
}

func (t *TransformConfig) build() (Transform, error) {
	switch t.Name {
	case "join":
		sep := t.Separator
		if sep == "" {
			sep = ", "
		}
		return func(v any, _ map[string]any) any { return joinValues(v, sep) }, nil
	case "yes_no":
		return func(v any, _ map[string]any) any { return yesNo(v) }, nil
	case "first":
		return func(v any, _ map[string]any) any { return first(v) }, nil
	case "constant":
		value := t.Value
		return func(any, map[string]any) any { return value }, nil
	case "default":
		value := t.Value
		return func(v any, _ map[string]any) any {
			if !truthy(v) {
				return value
			}
			return v
		}, nil
	case "map":
		values, fallback := t.Values, t.Fallback
		return func(v any, _ map[string]any) any {
			if mapped, ok := values[Stringify(v)]; ok {
				return mapped
			}
			if fallback != "" {
				return fallback
			}
			return Stringify(v)
		}, nil
	case "choose":
		if t.IfTrue == "" || t.IfFalse == "" {
			return nil, fmt.Errorf("choose needs if_true and if_false")
		}
		ifTrue, ifFalse := t.IfTrue, t.IfFalse
		return func(v any, row map[string]any) any {
			if truthy(v) {
				return fieldpath.Find(row, ifTrue)
			}
			return fieldpath.Find(row, ifFalse)
		}, nil
	case "collect":
		if t.Path == "" {
			return nil, fmt.Errorf("collect needs path")
		}
		p := t.Path
		return func(v any, _ map[string]any) any { return collect(v, p) }, nil
	case "file_size":
		return func(v any, _ map[string]any) any { return fileSize(v) }, nil
	}
	return nil, fmt.Errorf("unknown transform %q", t.Name)
}

// DefaultTransform returns the conversion applied to a field of the given
// metadata type when the column declares none. ok is false for types
// without a conversion; values of those pass through unchanged.
func DefaultTransform(fieldType string) (Transform, bool) {
	switch fieldType {
	case "boolean":
		return func(v any, _ map[string]any) any { return yesNo(v) }, true
	case "id", "keyword", "text":
		return func(v any, _ map[string]any) any {
			if v == nil {
				return ""
			}
			return Stringify(v)
		}, true
	case "float", "integer", "long":
		return func(v any, _ map[string]any) any { return safeNumber(v) }, true
	}
	return func(v any, _ map[string]any) any { return v }, false
}

func yesNo(v any) any {
	if v == nil {
		return ""
	}
	switch strings.ToLower(Stringify(v)) {
	case "true":
		return "Yes"
	case "false":
		return "No"
	}
	return Stringify(v)
}

func safeNumber(v any) any {
	if list, ok := v.([]any); ok {
		return search.ToSafeValues(list)
	}
	return search.ToSafeValue(v)
}

func first(v any) any {
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return nil
		}
		return list[0]
	}
	return v
}

func joinValues(v any, sep string) any {
	list, ok := v.([]any)
	if !ok {
		if v == nil {
			return ""
		}
		return Stringify(v)
	}
	parts := make([]string, 0, len(list))
	for _, item := range list {
		parts = append(parts, Stringify(item))
	}
	return strings.Join(parts, sep)
}

// collect gathers the distinct non-empty values at p below every element of
// v, in order of appearance.
func collect(v any, p string) any {
	seen := map[string]bool{}
	out := []any{}
	found := fieldpath.Find(v, p)
	list, ok := found.([]any)
	if !ok {
		list = []any{found}
	}
	for _, item := range list {
		if !truthy(item) {
			continue
		}
		key := Stringify(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

func fileSize(v any) any {
	n, ok := toInt(v)
	if !ok || n < 0 {
		return v
	}
	return humanize.Bytes(uint64(n))
}

func toInt(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}
		f, err := t.Float64()
		return int64(f), err == nil
	case float64:
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	case string:
		i, err := strconv.ParseInt(t, 10, 64)
		return i, err == nil
	}
	return 0, false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	}
	return true
}

// Stringify renders a cell value as text. Lists are joined with ", ".
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		return joinValues(t, ", ").(string)
	case map[string]any:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
	return fmt.Sprint(v)
}
