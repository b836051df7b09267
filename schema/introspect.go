package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Tables returns user table names, excluding SQLite internals and the _meta_*
// side tables.
func Tables(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table'
		  AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
		  AND name NOT LIKE '\_meta\_%' ESCAPE '\'
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// TableExists reports whether a table with the given name exists.
func TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
		table).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Fields introspects the physical columns of a table: PRAGMA table_info cross
// referenced with index metadata for uniqueness and foreign_key_list for key
// attachment. Virtual many-to-many fields are not included; see
// ManyToManyFields.
func Fields(ctx context.Context, q Querier, table string) ([]FieldInfo, error) {
	if err := ValidateIdentifier(table); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fields []FieldInfo
	for rows.Next() {
		var (
			f          FieldInfo
			notNull    int
			pkSeq      int
			defaultVal sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.Name, &f.Type, &notNull, &defaultVal, &pkSeq); err != nil {
			return nil, err
		}
		f.NotNull = notNull != 0
		f.PrimaryKey = pkSeq > 0
		f.PrimaryKeySeq = pkSeq
		if defaultVal.Valid {
			v := defaultVal.String
			f.Default = &v
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("table %q does not exist", table)
	}

	unique, err := uniqueColumns(ctx, q, table)
	if err != nil {
		return nil, err
	}
	fks, err := ForeignKeys(ctx, q, table)
	if err != nil {
		return nil, err
	}
	byLocal := make(map[string]*ForeignKey, len(fks))
	for i := range fks {
		byLocal[fks[i].LocalField] = &fks[i]
	}
	for i := range fields {
		if _, ok := unique[fields[i].Name]; ok {
			fields[i].Unique = true
		}
		fields[i].ForeignKey = byLocal[fields[i].Name]
	}
	return fields, nil
}

// Field returns a single column's metadata.
func Field(ctx context.Context, q Querier, table, name string) (*FieldInfo, error) {
	fields, err := Fields(ctx, q, table)
	if err != nil {
		return nil, err
	}
	for i := range fields {
		if fields[i].Name == name {
			return &fields[i], nil
		}
	}
	return nil, fmt.Errorf("table %q has no field %q", table, name)
}

// FieldNames returns the physical column names of a table in ordinal order.
func FieldNames(ctx context.Context, q Querier, table string) ([]string, error) {
	fields, err := Fields(ctx, q, table)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names, nil
}

// PrimaryKeys returns primary-key column names ordered by SQLite's internal
// pk sequence. Composite keys keep their declared order.
func PrimaryKeys(ctx context.Context, q Querier, table string) ([]string, error) {
	return primaryKeyColumns(ctx, q, table)
}

// primaryKeyColumns reads the key columns from PRAGMA table_info alone, so it
// is safe to call from ForeignKeys without re-entering it.
func primaryKeyColumns(ctx context.Context, q Querier, table string) ([]string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type pkCol struct {
		name string
		seq  int
	}
	var pks []pkCol
	total := 0
	for rows.Next() {
		var (
			cid, notNull, pkSeq int
			name, colType       string
			defaultVal          sql.NullString
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pkSeq); err != nil {
			return nil, err
		}
		total++
		if pkSeq > 0 {
			pks = append(pks, pkCol{name: name, seq: pkSeq})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, fmt.Errorf("table %q does not exist", table)
	}

	// table_info reports rows in column order; the key order is pk seq.
	sort.Slice(pks, func(i, j int) bool { return pks[i].seq < pks[j].seq })
	names := make([]string, len(pks))
	for i, c := range pks {
		names[i] = c.name
	}
	return names, nil
}

// UniqueFields returns the names of columns covered by a single-column unique
// index, including declared UNIQUE constraints.
func UniqueFields(ctx context.Context, q Querier, table string) ([]string, error) {
	fields, err := Fields(ctx, q, table)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, f := range fields {
		if f.Unique {
			names = append(names, f.Name)
		}
	}
	return names, nil
}

// uniqueColumns collects columns covered by single-column unique indexes via
// PRAGMA index_list and index_info.
func uniqueColumns(ctx context.Context, q Querier, table string) (map[string]struct{}, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", table))
	if err != nil {
		return nil, err
	}
	type index struct {
		name   string
		unique bool
	}
	var indexes []index
	for rows.Next() {
		var (
			seq             int
			name, origin    string
			unique, partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return nil, err
		}
		indexes = append(indexes, index{name: name, unique: unique == 1})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	unique := make(map[string]struct{})
	for _, idx := range indexes {
		if !idx.unique {
			continue
		}
		cols, err := indexColumns(ctx, q, idx.name)
		if err != nil {
			return nil, err
		}
		if len(cols) == 1 {
			unique[cols[0]] = struct{}{}
		}
	}
	return unique, nil
}

func indexColumns(ctx context.Context, q Querier, indexName string) ([]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%s)", quoteName(indexName)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			seqno, cid int
			name       sql.NullString
		)
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, err
		}
		if name.Valid {
			cols = append(cols, name.String)
		}
	}
	return cols, rows.Err()
}

// ForeignKeys returns the table's foreign keys as reported by PRAGMA
// foreign_key_list, one entry per constraint column, ordered by (id, seq).
func ForeignKeys(ctx context.Context, q Querier, table string) ([]ForeignKey, error) {
	if err := ValidateIdentifier(table); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", table))
	if err != nil {
		return nil, err
	}

	var fks []ForeignKey
	for rows.Next() {
		var (
			fk                 ForeignKey
			to                 sql.NullString
			onUpdate, onDelete sql.NullString
			match              sql.NullString
		)
		if err := rows.Scan(&fk.ID, &fk.Seq, &fk.RelatedTable, &fk.LocalField,
			&to, &onUpdate, &onDelete, &match); err != nil {
			rows.Close()
			return nil, err
		}
		fk.LocalTable = table
		if to.Valid {
			fk.RelatedField = to.String
		}
		fk.OnUpdate = onUpdate.String
		fk.OnDelete = onDelete.String
		fk.Match = match.String
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Close before any follow-up query: on a single-connection pool a query
	// issued while the cursor is open would wait on the held connection.
	if err := rows.Close(); err != nil {
		return nil, err
	}

	// The PRAGMA reports constraints in reverse declaration order.
	sort.Slice(fks, func(i, j int) bool {
		if fks[i].ID != fks[j].ID {
			return fks[i].ID < fks[j].ID
		}
		return fks[i].Seq < fks[j].Seq
	})

	// An omitted "to" column means the related table's primary key. Resolve
	// through table_info only: re-entering ForeignKeys here would recurse
	// forever on a self-referential constraint.
	var pkCache map[string][]string
	for i := range fks {
		if fks[i].RelatedField != "" {
			continue
		}
		if pkCache == nil {
			pkCache = map[string][]string{}
		}
		pks, ok := pkCache[fks[i].RelatedTable]
		if !ok {
			// The related table may not exist yet; leave the field empty then.
			pks, _ = primaryKeyColumns(ctx, q, fks[i].RelatedTable)
			pkCache[fks[i].RelatedTable] = pks
		}
		if fks[i].Seq < len(pks) {
			fks[i].RelatedField = pks[fks[i].Seq]
		}
	}
	return fks, nil
}

// quoteName wraps a name in double quotes for contexts where SQLite generates
// identifiers we do not control (autoindex names).
func quoteName(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
