package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewClampsBounds(t *testing.T) {
	tests := []struct {
		name        string
		page        int
		perPage     int
		wantPage    int
		wantPerPage int
	}{
		{"defaults applied", 0, 0, 1, 20},
		{"negative page", -3, 10, 1, 10},
		{"per page capped", 2, 500, 2, 100},
		{"in range untouched", 3, 25, 3, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.page, tt.perPage)
			assert.Equal(t, tt.wantPage, p.Page)
			assert.Equal(t, tt.wantPerPage, p.PerPage)
			assert.Equal(t, (tt.wantPage-1)*tt.wantPerPage, p.Offset())
			assert.Equal(t, tt.wantPerPage, p.Limit())
		})
	}
}

func TestSortOptionParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Sort
	}{
		{
			name:  "descending prefix",
			input: "-created_at",
			want:  []Sort{{Field: "created_at", Order: SortDesc}},
		},
		{
			name:  "multiple fields",
			input: "-created_at,name",
			want: []Sort{
				{Field: "created_at", Order: SortDesc},
				{Field: "name", Order: SortAsc},
			},
		},
		{
			name:  "explicit plus prefix",
			input: "+name",
			want:  []Sort{{Field: "name", Order: SortAsc}},
		},
		{
			name:  "unknown fields dropped",
			input: "password,name,drop table",
			want:  []Sort{{Field: "name", Order: SortAsc}},
		},
		{
			name:  "blank segments ignored",
			input: " , -name ,",
			want:  []Sort{{Field: "name", Order: SortDesc}},
		},
		{
			name:  "empty expression",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt := NewSortOption("created_at", "name", "email").Parse(tt.input)
			assert.Equal(t, tt.want, opt.Sorts())
		})
	}
}

func TestSortOptionOrDefault(t *testing.T) {
	opt := NewSortOption("created_at", "name").Parse("bogus").OrDefault("created_at", SortDesc)
	assert.Equal(t, []Sort{{Field: "created_at", Order: SortDesc}}, opt.Sorts())
	assert.False(t, opt.IsEmpty())

	opt = NewSortOption("created_at", "name").Parse("name").OrDefault("created_at", SortDesc)
	assert.Equal(t, []Sort{{Field: "name", Order: SortAsc}}, opt.Sorts())
}

func TestNewResultTotals(t *testing.T) {
	res := NewResult([]string{"a", "b"}, 41, New(1, 20))
	assert.Equal(t, 3, res.TotalPages)
	assert.Equal(t, int64(41), res.Total)

	res = NewResult[string](nil, 0, New(1, 20))
	assert.NotNil(t, res.Data)
	assert.Equal(t, 0, res.TotalPages)
}
