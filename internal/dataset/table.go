package dataset

import "strings"

// Table is the read-only request log shared by all requests. Every accessor
// hands out copies so callers can never mutate the shared rows.
type Table struct {
	columns []string
	rows    []Record
	schema  *Schema
}

// NewTable copies columns and rows into a new Table.
func NewTable(columns []string, rows []Record, schema *Schema) *Table {
	t := &Table{
		columns: append([]string(nil), columns...),
		rows:    make([]Record, len(rows)),
		schema:  schema,
	}
	for i, r := range rows {
		t.rows[i] = r.Clone()
	}
	return t
}

func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

func (t *Table) Len() int {
	return len(t.rows)
}

func (t *Table) Schema() *Schema {
	return t.schema
}

// Rows returns a deep copy of every row.
func (t *Table) Rows() []Record {
	out := make([]Record, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.Clone()
	}
	return out
}

// Sample returns copies of the first n rows.
func (t *Table) Sample(n int) []Record {
	if n > len(t.rows) {
		n = len(t.rows)
	}
	if n < 0 {
		n = 0
	}
	out := make([]Record, n)
	for i := 0; i < n; i++ {
		out[i] = t.rows[i].Clone()
	}
	return out
}

// Find returns copies of rows whose column equals value, ignoring case and
// surrounding space.
func (t *Table) Find(column, value string) []Record {
	want := strings.ToLower(strings.TrimSpace(value))
	var out []Record
	for _, r := range t.rows {
		if strings.ToLower(strings.TrimSpace(r.String(column))) == want {
			out = append(out, r.Clone())
		}
	}
	return out
}
