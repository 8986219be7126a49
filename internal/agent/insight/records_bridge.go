package insight

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"

	"github.com/rfi-assistant/server/internal/dataset"
)

// recordsBridge is the "records" package seen by generated programs. It
// only hands out copies of the shared table.
type recordsBridge struct {
	table *dataset.Table
	out   io.Writer
}

func (b *recordsBridge) Rows() []map[string]any {
	return toMaps(b.table.Rows())
}

func (b *recordsBridge) Columns() []string {
	return b.table.Columns()
}

func (b *recordsBridge) exports() interp.Exports {
	return interp.Exports{
		"records/records": {
			"Rows":         reflect.ValueOf(b.Rows),
			"Columns":      reflect.ValueOf(b.Columns),
			"Str":          reflect.ValueOf(Str),
			"Num":          reflect.ValueOf(Num),
			"Date":         reflect.ValueOf(Date),
			"BusinessDays": reflect.ValueOf(BusinessDays),
			"Emit":         reflect.ValueOf(b.Emit),
		},
	}
}

// Emit prints rows as one JSON array line.
func (b *recordsBridge) Emit(rows []map[string]any) {
	if rows == nil {
		rows = []map[string]any{}
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		fmt.Fprintf(b.out, "emit failed: %v\n", err)
		return
	}
	b.out.Write(raw)
	b.out.Write([]byte{'\n'})
}

// Str returns a cell as text; missing cells are "".
func Str(row map[string]any, column string) string {
	return dataset.Record(row).String(column)
}

// Num returns a cell as a number when it holds one or numeric text.
func Num(row map[string]any, column string) (float64, bool) {
	switch v := row[column].(type) {
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// Date returns a cell as a date when it holds one or date-shaped text.
func Date(row map[string]any, column string) (time.Time, bool) {
	switch v := row[column].(type) {
	case time.Time:
		return v, !v.IsZero()
	case string:
		return dataset.ParseDate(v)
	}
	return time.Time{}, false
}

// BusinessDays counts weekdays in [from, to). It is negative when to is
// before from.
func BusinessDays(from, to time.Time) int {
	from = truncateDay(from)
	to = truncateDay(to)
	sign := 1
	if to.Before(from) {
		from, to = to, from
		sign = -1
	}
	n := 0
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n++
		}
	}
	return sign * n
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
