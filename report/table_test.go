package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/datapipes/etl/load"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromResult(t *testing.T) {
	res := &load.Result{
		Columns: []string{"city", "temp", "seen", "visibility"},
		Rows: [][]any{
			{"Abuja", 30.5, time.Date(2025, 9, 25, 0, 37, 47, 0, time.UTC), nil},
		},
	}

	assert.Equal(t, &Table{
		Columns: []string{"city", "temp", "seen", "visibility"},
		Rows:    [][]string{{"Abuja", "30.5", "2025-09-25 00:37:47", ""}},
	}, FromResult(res))
}

func TestTableRender(t *testing.T) {
	tests := []struct {
		name     string
		table    *Table
		expected string
	}{
		{
			name: "ascii",
			table: &Table{
				Columns: []string{"company_name", "view_count"},
				Rows:    [][]string{{"Apple", "120"}, {"Microsoft", "64"}},
			},
			expected: "company_name  view_count\n" +
				"------------  ----------\n" +
				"Apple         120\n" +
				"Microsoft     64\n" +
				"(2 rows)\n",
		},
		{
			name: "wide characters",
			table: &Table{
				Columns: []string{"city", "t"},
				Rows:    [][]string{{"東京", "18"}, {"Curaçao", "31"}},
			},
			expected: "city     t\n" +
				"-------  --\n" +
				"東京     18\n" +
				"Curaçao  31\n" +
				"(2 rows)\n",
		},
		{
			name:     "no rows",
			table:    &Table{Columns: []string{"a"}},
			expected: "a\n-\n(0 rows)\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, tt.table.Render(&buf))
			assert.Equal(t, tt.expected, buf.String())
		})
	}
}

func TestTableWriteCSV(t *testing.T) {
	table := &Table{
		Columns: []string{"industry_name", "total_value"},
		Rows:    [][]string{{"Agriculture, Forestry and Fishing", "61047"}, {"Mining", "6034"}},
	}

	var buf bytes.Buffer
	require.NoError(t, table.WriteCSV(&buf))
	assert.Equal(t, "industry_name,total_value\n\"Agriculture, Forestry and Fishing\",61047\nMining,6034\n", buf.String())
}

func TestTableColumn(t *testing.T) {
	table := &Table{Columns: []string{"a", "b"}, Rows: [][]string{{"1", "2"}, {"3", "4"}}}
	assert.Equal(t, []string{"2", "4"}, table.Column("b"))
	assert.Nil(t, table.Column("c"))
}
