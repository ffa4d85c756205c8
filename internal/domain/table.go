package domain

import "strings"

// Table is the tabular structure produced by parsing a raw file and consumed
// by cleaners and the curated-store upsert. Column names are normalized
// (trimmed, lower-cased) at parse time; cell values are kept as strings.
type Table struct {
	Columns []string
	Rows    [][]string
}

// ColumnIndex returns the position of the named column, or -1.
func (t Table) ColumnIndex(name string) int {
	name = NormalizeColumn(name)
	for i, col := range t.Columns {
		if col == name {
			return i
		}
	}
	return -1
}

// MissingColumns reports which of the required columns are absent.
func (t Table) MissingColumns(required []string) []string {
	var missing []string
	for _, name := range required {
		if t.ColumnIndex(name) < 0 {
			missing = append(missing, NormalizeColumn(name))
		}
	}
	return missing
}

// Clone deep-copies the table so cleaners can stay pure without mutating
// their input.
func (t Table) Clone() Table {
	out := Table{
		Columns: make([]string, len(t.Columns)),
		Rows:    make([][]string, len(t.Rows)),
	}
	copy(out.Columns, t.Columns)
	for i, row := range t.Rows {
		out.Rows[i] = make([]string, len(row))
		copy(out.Rows[i], row)
	}
	return out
}

// NormalizeColumn canonicalizes a column name for comparison and storage.
func NormalizeColumn(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
