// Package table holds the tabular shape every catalogue source is normalised
// into: an immutable, ordered set of records over a fixed column schema.
package table

import (
	"fmt"
	"sort"
	"time"
)

// Record is one row of a table. Values are float64, string, bool, time.Time or
// nil for a missing measurement.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Present reports the number of non-missing values in the record.
func (r Record) Present() int {
	n := 0
	for _, v := range r {
		if !IsMissing(v) {
			n++
		}
	}
	return n
}

// Table is an ordered sequence of records with a fixed, sorted column schema.
// A table is never mutated after it is built; Filter, SortBy and Dedupe return
// new tables.
type Table struct {
	columns []string
	index   map[string]struct{}
	rows    []Record
}

// Columns returns the column schema in sorted order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// HasColumn reports whether name is part of the schema.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Missing returns the names that are not part of the schema.
func (t *Table) Missing(names ...string) []string {
	var missing []string
	for _, n := range names {
		if !t.HasColumn(n) {
			missing = append(missing, n)
		}
	}
	return missing
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Row returns a copy of row i with every schema column present.
func (t *Table) Row(i int) Record {
	out := make(Record, len(t.columns))
	for _, c := range t.columns {
		out[c] = t.rows[i][c]
	}
	return out
}

// Rows returns copies of all rows.
func (t *Table) Rows() []Record {
	out := make([]Record, len(t.rows))
	for i := range t.rows {
		out[i] = t.Row(i)
	}
	return out
}

// Value returns the value of column col in row i, or nil.
func (t *Table) Value(i int, col string) any {
	return t.rows[i][col]
}

// Column returns every value of the named column in row order.
func (t *Table) Column(name string) []any {
	out := make([]any, len(t.rows))
	for i, r := range t.rows {
		out[i] = r[name]
	}
	return out
}

// Filter returns a table holding the rows for which keep reports true. The
// schema is unchanged.
func (t *Table) Filter(keep func(Record) bool) *Table {
	rows := make([]Record, 0, len(t.rows))
	for _, r := range t.rows {
		if keep(r) {
			rows = append(rows, r)
		}
	}
	return t.derive(rows)
}

// SortBy returns a table with rows stably sorted by less.
func (t *Table) SortBy(less func(a, b Record) bool) *Table {
	rows := make([]Record, len(t.rows))
	copy(rows, t.rows)
	sort.SliceStable(rows, func(i, j int) bool { return less(rows[i], rows[j]) })
	return t.derive(rows)
}

// Dedupe keeps one row per distinct value of key. When two rows share a key,
// prefer(candidate, current) decides whether candidate replaces the row kept
// so far. Rows with a missing key are always kept. The output keeps the
// position of the first row seen for each key.
func (t *Table) Dedupe(key string, prefer func(candidate, current Record) bool) *Table {
	pos := make(map[string]int)
	rows := make([]Record, 0, len(t.rows))
	for _, r := range t.rows {
		v := r[key]
		if IsMissing(v) {
			rows = append(rows, r)
			continue
		}
		k := keyString(v)
		if i, ok := pos[k]; ok {
			if prefer(r, rows[i]) {
				rows[i] = r
			}
			continue
		}
		pos[k] = len(rows)
		rows = append(rows, r)
	}
	return t.derive(rows)
}

// Counts returns how many rows carry each distinct value of key.
func (t *Table) Counts(key string) map[string]int {
	out := make(map[string]int)
	for _, r := range t.rows {
		if v := r[key]; !IsMissing(v) {
			out[keyString(v)]++
		}
	}
	return out
}

func (t *Table) derive(rows []Record) *Table {
	return &Table{columns: t.columns, index: t.index, rows: rows}
}

// Builder accumulates records and produces a Table whose schema is the union
// of all keys seen.
type Builder struct {
	rows    []Record
	columns map[string]struct{}
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{columns: make(map[string]struct{})}
}

// Add appends a copy of r.
func (b *Builder) Add(r Record) {
	for k := range r {
		b.columns[k] = struct{}{}
	}
	b.rows = append(b.rows, r.Clone())
}

// AddColumn declares a column even if no record carries it.
func (b *Builder) AddColumn(name string) {
	b.columns[name] = struct{}{}
}

// Len returns the number of records added so far.
func (b *Builder) Len() int { return len(b.rows) }

// Build returns the table. The builder must not be used afterwards.
func (b *Builder) Build() *Table {
	cols := make([]string, 0, len(b.columns))
	for c := range b.columns {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return &Table{columns: cols, index: b.columns, rows: b.rows}
}

// FromRows builds a table from rows in one call.
func FromRows(rows ...Record) *Table {
	b := NewBuilder()
	for _, r := range rows {
		b.Add(r)
	}
	return b.Build()
}

func keyString(v any) string {
	if ts, ok := v.(time.Time); ok {
		return ts.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}
