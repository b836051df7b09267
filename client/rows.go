package client

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Rows is a cursor over a query result. It owns the underlying statement
// handle: Close releases it deterministically, and abandoning a partial read
// without Close is a caller bug, not a garbage-collection concern.
//
// Columns compiled through JSON_GROUP_ARRAY arrive as JSON text; Values and
// Map decode them back into native lists.
type Rows struct {
	rows    *sql.Rows
	cols    []string
	grouped map[string]bool
}

func newRows(rows *sql.Rows, groupedAliases []string) (*Rows, error) {
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	grouped := make(map[string]bool, len(groupedAliases))
	for _, a := range groupedAliases {
		grouped[a] = true
	}
	return &Rows{rows: rows, cols: cols, grouped: grouped}, nil
}

// Columns returns the output column names, dotted chain aliases as-is.
func (r *Rows) Columns() []string {
	return r.cols
}

// Next advances to the next row.
func (r *Rows) Next() bool {
	return r.rows.Next()
}

// Err returns the error, if any, that ended iteration.
func (r *Rows) Err() error {
	return r.rows.Err()
}

// Close releases the statement handle. Safe to call more than once.
func (r *Rows) Close() error {
	return r.rows.Close()
}

// Scan copies the current row into dest, raw column values as the driver
// returned them.
func (r *Rows) Scan(dest ...any) error {
	return r.rows.Scan(dest...)
}

// Values returns the current row as a positional tuple. TEXT arrives as
// string and aggregated columns are decoded into []any.
func (r *Rows) Values() ([]any, error) {
	raw := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	for i, col := range r.cols {
		raw[i] = normalize(raw[i])
		if r.grouped[col] {
			decoded, err := decodeGroupArray(raw[i])
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", col, err)
			}
			raw[i] = decoded
		}
	}
	return raw, nil
}

// Map returns the current row keyed by output column name.
func (r *Rows) Map() (map[string]any, error) {
	values, err := r.Values()
	if err != nil {
		return nil, err
	}
	row := make(map[string]any, len(r.cols))
	for i, col := range r.cols {
		row[col] = values[i]
	}
	return row, nil
}

// AllMaps drains the cursor into a slice of row maps and closes it.
func (r *Rows) AllMaps() ([]map[string]any, error) {
	defer r.Close()
	var out []map[string]any
	for r.Next() {
		row, err := r.Map()
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, r.Err()
}

// AllValues drains the cursor into positional tuples and closes it.
func (r *Rows) AllValues() ([][]any, error) {
	defer r.Close()
	var out [][]any
	for r.Next() {
		row, err := r.Values()
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, r.Err()
}

// normalize converts driver byte slices to strings.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// decodeGroupArray parses JSON_GROUP_ARRAY text into a list. NULLs produced
// by unmatched LEFT JOIN rows are dropped.
func decodeGroupArray(v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	text, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected aggregated JSON text, got %T", v)
	}
	var decoded []any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return nil, err
	}
	out := decoded[:0]
	for _, e := range decoded {
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}
