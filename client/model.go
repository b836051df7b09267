package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/dynaorm/dynaorm/internal/debug"
	"github.com/dynaorm/dynaorm/query/resolver"
	"github.com/dynaorm/dynaorm/query/sqlgen"
	"github.com/dynaorm/dynaorm/schema"
)

// Model is a per-table handle over the shared connection.
type Model struct {
	d     *Database
	table string
}

// Name returns the table name.
func (m *Model) Name() string {
	return m.table
}

// exists fails with ErrNoSuchTable when the model's table is missing.
func (m *Model) exists(ctx context.Context) error {
	ok, err := schema.TableExists(ctx, m.d.db, m.table)
	if err != nil {
		return err
	}
	if !ok {
		return &QueryError{Op: "lookup", Table: m.table, Cause: ErrNoSuchTable}
	}
	return nil
}

// Fields returns the table's columns plus its virtual many-to-many fields.
func (m *Model) Fields(ctx context.Context) ([]schema.FieldInfo, error) {
	fields, err := schema.Fields(ctx, m.d.db, m.table)
	if err != nil {
		return nil, err
	}
	m2ms, err := schema.ManyToManyFields(ctx, m.d.db, m.table)
	if err != nil {
		return nil, err
	}
	for i := range m2ms {
		fields = append(fields, schema.FieldInfo{
			ID:         -1,
			Name:       m2ms[i].TrackField,
			ManyToMany: &m2ms[i],
		})
	}
	return fields, nil
}

// Field returns one field by name, virtual fields included.
func (m *Model) Field(ctx context.Context, name string) (*schema.FieldInfo, error) {
	fields, err := m.Fields(ctx)
	if err != nil {
		return nil, err
	}
	for i := range fields {
		if fields[i].Name == name {
			return &fields[i], nil
		}
	}
	return nil, fmt.Errorf("table %q has no field %q", m.table, name)
}

// PrimaryKeys returns primary-key column names in key order.
func (m *Model) PrimaryKeys(ctx context.Context) ([]string, error) {
	return schema.PrimaryKeys(ctx, m.d.db, m.table)
}

// UniqueFields returns columns covered by single-column unique indexes.
func (m *Model) UniqueFields(ctx context.Context) ([]string, error) {
	return schema.UniqueFields(ctx, m.d.db, m.table)
}

// ManyToManyFields returns the registered many-to-many relationships.
func (m *Model) ManyToManyFields(ctx context.Context) ([]schema.ManyToManyField, error) {
	return schema.ManyToManyFields(ctx, m.d.db, m.table)
}

// Relationships builds the table's relationship map from its foreign keys
// and merges any caller-supplied entries (reverse relations) over it.
func (m *Model) Relationships(ctx context.Context, extra resolver.Relationships) (resolver.Relationships, error) {
	rels, err := resolver.Build(ctx, m.d.db, m.table)
	if err != nil {
		return nil, err
	}
	return rels.Merge(extra), nil
}

// OrderBy aliases the compiler's ordering term so callers do not need the
// inner package.
type OrderBy = sqlgen.OrderBy

// QueryOptions selects fields and filters for Model.Query.
type QueryOptions struct {
	// Fields are columns of the table or dotted relationship chains.
	// Empty selects every column.
	Fields []string

	// Conditions is a field → operator → value tree; see
	// sqlgen.BuildWhereClause.
	Conditions map[string]any

	// Relationships are extra entries merged over the schema-derived map,
	// typically manually registered reverse relations.
	Relationships resolver.Relationships

	OrderBy  []OrderBy
	Limit    *int
	Distinct bool
}

// Query compiles and executes a SELECT over this table, following dotted
// field chains through LEFT JOINs and aggregating one-to-many fields. The
// returned Rows owns the statement cursor; the caller must Close it.
func (m *Model) Query(ctx context.Context, opts QueryOptions) (*Rows, error) {
	if err := m.exists(ctx); err != nil {
		return nil, err
	}
	rels, err := m.Relationships(ctx, opts.Relationships)
	if err != nil {
		return nil, err
	}
	compiler := &sqlgen.Compiler{
		Table:         m.table,
		Relationships: rels,
		FieldNames: func(table string) ([]string, error) {
			return schema.FieldNames(ctx, m.d.db, table)
		},
	}
	q, err := compiler.Compile(sqlgen.Options{
		Fields:     opts.Fields,
		Conditions: opts.Conditions,
		OrderBy:    opts.OrderBy,
		Limit:      opts.Limit,
		Distinct:   opts.Distinct,
	})
	if err != nil {
		return nil, err
	}

	debug.SQL("query", q.SQL, q.Args)
	rows, err := m.d.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, &QueryError{Op: "query", Table: m.table, Cause: err}
	}
	return newRows(rows, q.GroupedAliases)
}

// InsertRecord inserts one row. With handleM2M, values keyed by registered
// many-to-many track fields are popped from the payload first and written to
// the junction tables after the main insert, using the new row's actual key
// value. Returns the inserted rowid.
func (m *Model) InsertRecord(ctx context.Context, data map[string]any, handleM2M bool) (int64, error) {
	payload, deferred, err := m.popManyToMany(ctx, data, handleM2M)
	if err != nil {
		return 0, err
	}
	if len(payload) == 0 {
		return 0, fmt.Errorf("insert into %q: no columns to insert", m.table)
	}

	cols := sortedKeys(payload)
	if err := schema.ValidateIdentifiers(cols...); err != nil {
		return 0, err
	}
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = payload[c]
	}
	stmt := fmt.Sprintf("INSERT INTO '%s' (%s) VALUES (%s)",
		m.table, strings.Join(cols, ", "), placeholders(len(cols)))
	debug.SQL("insert_record", stmt, args)
	res, err := m.d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, &QueryError{Op: "insert", Table: m.table, Cause: err}
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, def := range deferred {
		keyValue, err := m.keyValueForRowID(ctx, def.m2m.LocalKey.RelatedField, rowID)
		if err != nil {
			return 0, err
		}
		if err := m.insertJunctionRows(ctx, def.m2m, keyValue, def.value); err != nil {
			return 0, err
		}
	}
	return rowID, nil
}

// UpdateRecord updates the row identified by pkField = pkValue (pkField
// defaults to rowid). With handleM2M, track-field values replace the
// record's junction rows; the main UPDATE is skipped when nothing else
// remains in the payload.
func (m *Model) UpdateRecord(ctx context.Context, data map[string]any, pkValue any, pkField string, handleM2M bool) error {
	if pkField == "" {
		pkField = "rowid"
	}
	if err := schema.ValidateIdentifier(pkField); err != nil {
		return err
	}

	payload, deferred, err := m.popManyToMany(ctx, data, handleM2M)
	if err != nil {
		return err
	}

	if len(payload) > 0 {
		cols := sortedKeys(payload)
		if err := schema.ValidateIdentifiers(cols...); err != nil {
			return err
		}
		sets := make([]string, len(cols))
		args := make([]any, 0, len(cols)+1)
		for i, c := range cols {
			sets[i] = c + " = ?"
			args = append(args, payload[c])
		}
		args = append(args, pkValue)
		stmt := fmt.Sprintf("UPDATE '%s' SET %s WHERE %s = ?",
			m.table, strings.Join(sets, ", "), pkField)
		debug.SQL("update_record", stmt, args)
		if _, err := m.d.db.ExecContext(ctx, stmt, args...); err != nil {
			return &QueryError{Op: "update", Table: m.table, Cause: err}
		}
	}

	for _, def := range deferred {
		keyValue, err := m.keyValueFor(ctx, def.m2m.LocalKey.RelatedField, pkField, pkValue)
		if err != nil {
			return err
		}
		stmt := fmt.Sprintf("DELETE FROM '%s' WHERE %s = ?",
			def.m2m.JunctionTable, def.m2m.LocalKey.LocalField)
		debug.SQL("update_record", stmt, []any{keyValue})
		if _, err := m.d.db.ExecContext(ctx, stmt, keyValue); err != nil {
			return &QueryError{Op: "update", Table: m.table, Cause: err}
		}
		if err := m.insertJunctionRows(ctx, def.m2m, keyValue, def.value); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRecord deletes by single key (pkField = pkValue, pkField defaulting
// to the table's first primary key, then rowid) or composite key when
// pkValue is a map of field to value. Junction rows of every registered
// many-to-many relationship are removed first; the cleanup does not rely on
// cascades alone.
func (m *Model) DeleteRecord(ctx context.Context, pkValue any, pkField string) error {
	var whereCols []string
	var whereArgs []any

	if composite, ok := pkValue.(map[string]any); ok {
		whereCols = sortedKeys(composite)
		for _, c := range whereCols {
			whereArgs = append(whereArgs, composite[c])
		}
	} else {
		if pkField == "" {
			pks, err := m.PrimaryKeys(ctx)
			if err != nil {
				return err
			}
			if len(pks) > 0 {
				pkField = pks[0]
			} else {
				pkField = "rowid"
			}
		}
		whereCols = []string{pkField}
		whereArgs = []any{pkValue}
	}
	if err := schema.ValidateIdentifiers(whereCols...); err != nil {
		return err
	}

	m2ms, err := schema.ManyToManyFields(ctx, m.d.db, m.table)
	if err != nil {
		return err
	}
	for i := range m2ms {
		keyValue, err := m.lookupKey(ctx, m2ms[i].LocalKey.RelatedField, whereCols, whereArgs)
		if err != nil {
			return err
		}
		if keyValue == nil {
			continue
		}
		stmt := fmt.Sprintf("DELETE FROM '%s' WHERE %s = ?",
			m2ms[i].JunctionTable, m2ms[i].LocalKey.LocalField)
		debug.SQL("delete_record", stmt, []any{keyValue})
		if _, err := m.d.db.ExecContext(ctx, stmt, keyValue); err != nil {
			return &QueryError{Op: "delete", Table: m.table, Cause: err}
		}
	}

	conds := make([]string, len(whereCols))
	for i, c := range whereCols {
		conds[i] = c + " = ?"
	}
	stmt := fmt.Sprintf("DELETE FROM '%s' WHERE %s",
		m.table, strings.Join(conds, " AND "))
	debug.SQL("delete_record", stmt, whereArgs)
	if _, err := m.d.db.ExecContext(ctx, stmt, whereArgs...); err != nil {
		return &QueryError{Op: "delete", Table: m.table, Cause: err}
	}
	return nil
}

// GetManyToManyData returns the related rows associated with one record
// through a track field's junction table.
func (m *Model) GetManyToManyData(ctx context.Context, trackField string, keyValue any) ([]map[string]any, error) {
	m2m, err := schema.ManyToManyFieldFor(ctx, m.d.db, m.table, trackField)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf(
		"SELECT r.* FROM '%s' AS r JOIN '%s' AS j ON j.%s = r.%s WHERE j.%s = ?",
		m2m.RelatedTable, m2m.JunctionTable,
		m2m.RelatedKey.LocalField, m2m.RelatedKey.RelatedField,
		m2m.LocalKey.LocalField)
	debug.SQL("get_many_to_many_data", stmt, []any{keyValue})
	sqlRows, err := m.d.db.QueryContext(ctx, stmt, keyValue)
	if err != nil {
		return nil, &QueryError{Op: "m2m", Table: m.table, Cause: err}
	}
	rows, err := newRows(sqlRows, nil)
	if err != nil {
		return nil, err
	}
	return rows.AllMaps()
}

type deferredM2M struct {
	m2m   schema.ManyToManyField
	value []any
}

// popManyToMany removes registered track-field keys from data, returning the
// remaining payload and the deferred junction writes. data is not mutated.
func (m *Model) popManyToMany(ctx context.Context, data map[string]any, handleM2M bool) (map[string]any, []deferredM2M, error) {
	payload := make(map[string]any, len(data))
	for k, v := range data {
		payload[k] = v
	}
	if !handleM2M {
		return payload, nil, nil
	}

	m2ms, err := schema.ManyToManyFields(ctx, m.d.db, m.table)
	if err != nil {
		return nil, nil, err
	}
	var deferred []deferredM2M
	for i := range m2ms {
		v, ok := payload[m2ms[i].TrackField]
		if !ok {
			continue
		}
		delete(payload, m2ms[i].TrackField)
		values, err := anySlice(v)
		if err != nil {
			return nil, nil, fmt.Errorf("many-to-many field %q: %w", m2ms[i].TrackField, err)
		}
		deferred = append(deferred, deferredM2M{m2m: m2ms[i], value: values})
	}
	return payload, deferred, nil
}

func (m *Model) insertJunctionRows(ctx context.Context, m2m schema.ManyToManyField, keyValue any, related []any) error {
	stmt := fmt.Sprintf("INSERT INTO '%s' (%s, %s) VALUES (?, ?)",
		m2m.JunctionTable, m2m.LocalKey.LocalField, m2m.RelatedKey.LocalField)
	for _, rel := range related {
		debug.SQL("insert_junction", stmt, []any{keyValue, rel})
		if _, err := m.d.db.ExecContext(ctx, stmt, keyValue, rel); err != nil {
			return &QueryError{Op: "insert", Table: m2m.JunctionTable, Cause: err}
		}
	}
	return nil
}

// keyValueForRowID translates a fresh rowid into the actual key column value
// the junction table references.
func (m *Model) keyValueForRowID(ctx context.Context, keyField string, rowID int64) (any, error) {
	return m.keyValueFor(ctx, keyField, "rowid", rowID)
}

func (m *Model) keyValueFor(ctx context.Context, keyField, byField string, byValue any) (any, error) {
	if keyField == byField {
		return byValue, nil
	}
	if err := schema.ValidateIdentifiers(keyField, byField); err != nil {
		return nil, err
	}
	var v any
	stmt := fmt.Sprintf("SELECT %s FROM '%s' WHERE %s = ?", keyField, m.table, byField)
	if err := m.d.db.QueryRowContext(ctx, stmt, byValue).Scan(&v); err != nil {
		return nil, fmt.Errorf("resolve key %s.%s: %w", m.table, keyField, err)
	}
	return v, nil
}

// lookupKey fetches the junction key value for the row matched by the given
// columns; nil when the row does not exist.
func (m *Model) lookupKey(ctx context.Context, keyField string, cols []string, args []any) (any, error) {
	if err := schema.ValidateIdentifier(keyField); err != nil {
		return nil, err
	}
	conds := make([]string, len(cols))
	for i, c := range cols {
		conds[i] = c + " = ?"
	}
	var v any
	stmt := fmt.Sprintf("SELECT %s FROM '%s' WHERE %s",
		keyField, m.table, strings.Join(conds, " AND "))
	err := m.d.db.QueryRowContext(ctx, stmt, args...).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// anySlice converts a slice or array value into []any; strings are rejected.
func anySlice(v any) ([]any, error) {
	switch v.(type) {
	case string, []byte:
		return nil, fmt.Errorf("value must be a non-string sequence, got %T", v)
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, fmt.Errorf("value must be a sequence, got %T", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}
