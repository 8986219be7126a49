package dataset

import (
	"sort"
	"time"
)

// Record is one row keyed by column name. Values are string, int64,
// float64, bool, time.Time or nil.
type Record map[string]any

// Clone returns a copy that shares no map with r. Values are immutable scalars.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Keys returns the column names in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the value as text; nil becomes "".
func (r Record) String(column string) string {
	switch v := r[column].(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.Format(DateLayout)
	default:
		return formatScalar(v)
	}
}
