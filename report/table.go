package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/datapipes/etl/load"
	"github.com/mattn/go-runewidth"
)

// Table is a query result with every value already rendered as text.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

func FromResult(res *load.Result) *Table {
	t := &Table{Columns: res.Columns, Rows: make([][]string, 0, len(res.Rows))}
	for _, row := range res.Rows {
		out := make([]string, len(row))
		for i, v := range row {
			out[i] = load.FormatValue(v)
		}
		t.Rows = append(t.Rows, out)
	}
	return t
}

// Column returns the values of one column, nil when there is no such column.
func (t *Table) Column(name string) []string {
	for i, c := range t.Columns {
		if c != name {
			continue
		}
		values := make([]string, len(t.Rows))
		for j, row := range t.Rows {
			values[j] = row[i]
		}
		return values
	}
	return nil
}

// Render writes the table as aligned text. Widths are measured in terminal
// cells so accented and CJK names line up.
func (t *Table) Render(w io.Writer) error {
	widths := make([]int, len(t.Columns))
	for i, c := range t.Columns {
		widths[i] = runewidth.StringWidth(c)
	}
	for _, row := range t.Rows {
		for i, v := range row {
			if n := runewidth.StringWidth(v); n > widths[i] {
				widths[i] = n
			}
		}
	}

	line := func(cells []string) string {
		padded := make([]string, len(cells))
		for i, c := range cells {
			padded[i] = runewidth.FillRight(c, widths[i])
		}
		return strings.TrimRight(strings.Join(padded, "  "), " ")
	}

	rules := make([]string, len(widths))
	for i, n := range widths {
		rules[i] = strings.Repeat("-", n)
	}

	var b strings.Builder
	b.WriteString(line(t.Columns) + "\n")
	b.WriteString(line(rules) + "\n")
	for _, row := range t.Rows {
		b.WriteString(line(row) + "\n")
	}
	fmt.Fprintf(&b, "(%d rows)\n", len(t.Rows))

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteCSV writes the table with a header row.
func (t *Table) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(t.Columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("failed to write CSV data: %w", err)
	}
	return nil
}
