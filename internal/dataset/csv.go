package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	logx "github.com/rfi-assistant/server/pkg/logger"
)

// LoadOptions mirrors the cleanup applied to the exported request log.
type LoadOptions struct {
	// HeaderRow is the 1-based row holding column names.
	HeaderRow int
	Remove    []string
	Rename    map[string]string
	Schema    *Schema
}

// DefaultLoadOptions drops helper columns and normalises wrapped headers.
func DefaultLoadOptions(schema *Schema) LoadOptions {
	return LoadOptions{
		HeaderRow: 1,
		Remove:    []string{"Total Days", "Priority"},
		Rename: map[string]string{
			"L":               "Link",
			"Date\nReceived":  "Date Received",
			"Date\nRequested": "Date Requested",
			"Date\nSent":      "Date Sent",
		},
		Schema: schema,
	}
}

// LoadCSV reads the request log from a CSV export.
func LoadCSV(path string, opts LoadOptions) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	defer f.Close()

	t, err := ReadCSV(f, opts)
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", path, err)
	}
	logx.Info().Str("path", path).Int("rows", t.Len()).Int("columns", len(t.columns)).Msg("Dataset loaded")
	return t, nil
}

func ReadCSV(r io.Reader, opts LoadOptions) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	headerRow := opts.HeaderRow
	if headerRow < 1 {
		headerRow = 1
	}
	var header []string
	for i := 1; i <= headerRow; i++ {
		row, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("missing header row %d", headerRow)
			}
			return nil, err
		}
		header = row
	}

	removed := make(map[string]bool, len(opts.Remove))
	for _, c := range opts.Remove {
		removed[c] = true
	}

	type col struct {
		index int
		name  string
		kind  ValueKind
	}
	var cols []col
	for i, h := range header {
		name := strings.TrimSpace(h)
		if renamed, ok := opts.Rename[h]; ok {
			name = renamed
		} else if renamed, ok := opts.Rename[name]; ok {
			name = renamed
		}
		if name == "" || removed[name] || removed[h] {
			continue
		}
		kind := KindString
		if f, ok := opts.Schema.Field(name); ok {
			kind = f.Kind()
		}
		cols = append(cols, col{index: i, name: name, kind: kind})
	}

	columns := make([]string, len(cols))
	for i, c := range cols {
		columns[i] = c.name
	}

	var rows []Record
	for {
		raw, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rec := make(Record, len(cols))
		empty := true
		for _, c := range cols {
			cell := ""
			if c.index < len(raw) {
				cell = raw[c.index]
			}
			v := Coerce(cell, c.kind)
			if v != nil {
				empty = false
			}
			rec[c.name] = v
		}
		if !empty {
			rows = append(rows, rec)
		}
	}

	return &Table{columns: columns, rows: rows, schema: opts.Schema}, nil
}
