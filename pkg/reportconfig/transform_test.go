package reportconfig

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTransform(t *testing.T) {
	tests := []struct {
		name  string
		typ   string
		value any
		want  any
	}{
		{"bool true", "boolean", true, "Yes"},
		{"bool false", "boolean", false, "No"},
		{"bool string", "boolean", "TRUE", "Yes"},
		{"bool null", "boolean", nil, ""},
		{"bool other", "boolean", "maybe", "maybe"},
		{"keyword", "keyword", "abc", "abc"},
		{"keyword null", "keyword", nil, ""},
		{"keyword list", "keyword", []any{"a", "b"}, "a, b"},
		{"id number", "id", json.Number("12"), "12"},
		{"text float", "text", 1.5, "1.5"},
		{"long safe", "long", json.Number("123"), json.Number("123")},
		{"long unsafe", "long", json.Number("9223372036854776000"), "9223372036854775807"},
		{"integer list", "integer", []any{json.Number("1"), json.Number("-9999999999999999")}, []any{json.Number("1"), "-9999999999999999"}},
		{"float", "float", 2.5, 2.5},
		{"date passes", "date", "2020-01-01", "2020-01-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := DefaultTransform(tt.typ)
			assert.Equal(t, tt.want, tr(tt.value, nil))
		})
	}

	_, ok := DefaultTransform("nested")
	assert.False(t, ok)
}

func TestNamedTransforms(t *testing.T) {
	row := map[string]any{"phenotype": map[string]any{"yes": "HP:1", "no": "HP:2"}}

	tests := []struct {
		name  string
		cfg   TransformConfig
		value any
		want  any
	}{
		{"join default sep", TransformConfig{Name: "join"}, []any{"a", json.Number("1")}, "a, 1"},
		{"join custom sep", TransformConfig{Name: "join", Separator: "|"}, []any{"a", "b"}, "a|b"},
		{"join scalar", TransformConfig{Name: "join"}, "a", "a"},
		{"join nil", TransformConfig{Name: "join"}, nil, ""},
		{"yes_no", TransformConfig{Name: "yes_no"}, false, "No"},
		{"first", TransformConfig{Name: "first"}, []any{"x", "y"}, "x"},
		{"first empty", TransformConfig{Name: "first"}, []any{}, nil},
		{"first scalar", TransformConfig{Name: "first"}, "x", "x"},
		{"constant", TransformConfig{Name: "constant", Value: "Clinical"}, "anything", "Clinical"},
		{"default applies", TransformConfig{Name: "default", Value: "self"}, nil, "self"},
		{"default keeps", TransformConfig{Name: "default", Value: "self"}, "mother", "mother"},
		{"map hit", TransformConfig{Name: "map", Values: map[string]string{"true": "Observed"}, Fallback: "Not Observed"}, true, "Observed"},
		{"map fallback", TransformConfig{Name: "map", Values: map[string]string{"true": "Observed"}, Fallback: "Not Observed"}, nil, "Not Observed"},
		{"map passthrough", TransformConfig{Name: "map", Values: map[string]string{"a": "A"}}, "b", "b"},
		{"choose true", TransformConfig{Name: "choose", IfTrue: "phenotype.yes", IfFalse: "phenotype.no"}, true, "HP:1"},
		{"choose false", TransformConfig{Name: "choose", IfTrue: "phenotype.yes", IfFalse: "phenotype.no"}, false, "HP:2"},
		{"file size", TransformConfig{Name: "file_size"}, json.Number("1500000"), "1.5 MB"},
		{"file size not a number", TransformConfig{Name: "file_size"}, "n/a", "n/a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := tt.cfg.build()
			require.NoError(t, err)
			assert.Equal(t, tt.want, tr(tt.value, row))
		})
	}
}

func TestCollectTransform(t *testing.T) {
	participants := []any{
		map[string]any{"biospecimens": []any{
			map[string]any{"sample_id": "s1", "container_id": "c1"},
			map[string]any{"sample_id": "s2"},
		}},
		map[string]any{"biospecimens": []any{
			map[string]any{"sample_id": "s1", "container_id": ""},
		}},
		map[string]any{},
	}

	tr, err := (&TransformConfig{Name: "collect", Path: "biospecimens.sample_id"}).build()
	require.NoError(t, err)
	assert.Equal(t, []any{"s1", "s2"}, tr(participants, nil))

	tr, err = (&TransformConfig{Name: "collect", Path: "biospecimens.container_id"}).build()
	require.NoError(t, err)
	assert.Equal(t, []any{"c1"}, tr(participants, nil))
	assert.Equal(t, []any{}, tr(nil, nil))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "3", Stringify(3.0))
	assert.Equal(t, "a, b", Stringify([]any{"a", "b"}))
	assert.Equal(t, `{"k":"v"}`, Stringify(map[string]any{"k": "v"}))
	assert.Equal(t, "7", Stringify(7))
}
