package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAllowed(t *testing.T) {
	tests := []struct {
		name      string
		raw       any
		want      []string
		specified bool
	}{
		{
			name:      "plain list",
			raw:       []any{"a", "b"},
			want:      []string{"a", "b"},
			specified: true,
		},
		{
			name:      "csv string",
			raw:       "a, b",
			want:      []string{"a", "b"},
			specified: true,
		},
		{
			name:      "json array in string",
			raw:       `["a", "b"]`,
			want:      []string{"a", "b"},
			specified: true,
		},
		{
			name:      "json array with number coerced",
			raw:       `["a", 1]`,
			want:      []string{"a", "1"},
			specified: true,
		},
		{
			name:      "json array as sole list element",
			raw:       []any{`["a", "b"]`},
			want:      []string{"a", "b"},
			specified: true,
		},
		{
			name:      "csv as sole list element",
			raw:       []any{"a,b"},
			want:      []string{"a", "b"},
			specified: true,
		},
		{
			name:      "bare name",
			raw:       "hello_mcp",
			want:      []string{"hello_mcp"},
			specified: true,
		},
		{
			name:      "explicit empty list disables",
			raw:       []any{},
			want:      []string{},
			specified: true,
		},
		{
			name:      "nil is unspecified",
			raw:       nil,
			specified: false,
		},
		{
			name:      "empty string is unspecified",
			raw:       "",
			specified: false,
		},
		{
			name:      "wrong type is unspecified",
			raw:       123,
			specified: false,
		},
		{
			name:      "object is unspecified",
			raw:       map[string]any{"a": true},
			specified: false,
		},
		{
			name:      "malformed json array is unspecified",
			raw:       "[invalid]",
			specified: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, specified := NormalizeAllowed(tt.raw)
			assert.Equal(t, tt.specified, specified)
			if tt.specified {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestAllowsAll(t *testing.T) {
	assert.True(t, AllowsAll([]string{"*"}))
	assert.True(t, AllowsAll([]string{" * "}))
	assert.False(t, AllowsAll([]string{"*", "a"}))
	assert.False(t, AllowsAll(nil))
	assert.False(t, AllowsAll([]string{"search_web"}))
}

func TestFilter(t *testing.T) {
	defs := []Definition{{Name: "a"}, {Name: "b"}, {Name: "c"}}

	assert.Len(t, Filter(defs, nil), 3)
	filtered := Filter(defs, []string{"b", "c", "zz"})
	assert.Equal(t, []string{"b", "c"}, Names(filtered))
	assert.Empty(t, Filter(defs, []string{}))
}
