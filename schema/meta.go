package schema

import (
	"context"
	"database/sql"
	"fmt"
)

// Metadata side tables. Their shape is part of the on-disk contract: database
// files must stay interchangeable across tool versions.
const (
	MetaManyToManyTable   = "_meta_many_to_many"
	MetaDisplayFieldTable = "_meta_display_field"
	MetaEnumFieldTable    = "_meta_enum_field"
)

var metaDDL = []string{
	`CREATE TABLE IF NOT EXISTS _meta_many_to_many (
		from_table TEXT NOT NULL,
		track_field_name TEXT NOT NULL,
		junction_table TEXT NOT NULL,
		PRIMARY KEY (from_table, track_field_name)
	)`,
	`CREATE TABLE IF NOT EXISTS _meta_display_field (
		table_name TEXT NOT NULL,
		field_name TEXT NOT NULL,
		display_foreign_field_name TEXT NOT NULL,
		display_format TEXT,
		PRIMARY KEY (table_name, field_name)
	)`,
	`CREATE TABLE IF NOT EXISTS _meta_enum_field (
		table_name TEXT NOT NULL,
		field_name TEXT NOT NULL,
		enum_table_name TEXT NOT NULL,
		description TEXT,
		PRIMARY KEY (table_name, field_name)
	)`,
}

// Bootstrap creates the metadata side tables when missing.
func Bootstrap(ctx context.Context, q Querier) error {
	for _, ddl := range metaDDL {
		if _, err := q.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create metadata table: %w", err)
		}
	}
	return nil
}

// RegisterManyToMany records one tracked direction of a many-to-many
// relationship.
func RegisterManyToMany(ctx context.Context, q Querier, fromTable, trackField, junctionTable string) error {
	if err := ValidateIdentifiers(fromTable, trackField, junctionTable); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `
		INSERT OR REPLACE INTO _meta_many_to_many (from_table, track_field_name, junction_table)
		VALUES (?, ?, ?)
	`, fromTable, trackField, junctionTable)
	return err
}

// ManyToManyFields returns the virtual many-to-many fields registered for a
// table, with both junction foreign keys resolved.
func ManyToManyFields(ctx context.Context, q Querier, table string) ([]ManyToManyField, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT track_field_name, junction_table
		FROM _meta_many_to_many
		WHERE from_table = ?
		ORDER BY track_field_name
	`, table)
	if err != nil {
		return nil, err
	}
	type metaRow struct {
		trackField, junction string
	}
	var metas []metaRow
	for rows.Next() {
		var m metaRow
		if err := rows.Scan(&m.trackField, &m.junction); err != nil {
			rows.Close()
			return nil, err
		}
		metas = append(metas, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var fields []ManyToManyField
	for _, m := range metas {
		fks, err := ForeignKeys(ctx, q, m.junction)
		if err != nil {
			return nil, err
		}
		m2m := ManyToManyField{
			TrackField:    m.trackField,
			LocalTable:    table,
			JunctionTable: m.junction,
		}
		for i := range fks {
			if fks[i].RelatedTable == table && m2m.LocalKey == nil {
				m2m.LocalKey = &fks[i]
			} else {
				m2m.RelatedKey = &fks[i]
			}
		}
		if m2m.RelatedKey != nil {
			m2m.RelatedTable = m2m.RelatedKey.RelatedTable
		}
		if m2m.LocalKey == nil || m2m.RelatedKey == nil {
			return nil, fmt.Errorf("junction table %q does not reference %q on both sides", m.junction, table)
		}
		fields = append(fields, m2m)
	}
	return fields, nil
}

// ManyToManyFieldFor returns the registered relationship for one track field.
func ManyToManyFieldFor(ctx context.Context, q Querier, table, trackField string) (*ManyToManyField, error) {
	fields, err := ManyToManyFields(ctx, q, table)
	if err != nil {
		return nil, err
	}
	for i := range fields {
		if fields[i].TrackField == trackField {
			return &fields[i], nil
		}
	}
	return nil, fmt.Errorf("table %q has no many-to-many field %q", table, trackField)
}

// SetDisplayField records the human-readable field substituted for a raw key
// when presenting a foreign-key or many-to-many column.
func SetDisplayField(ctx context.Context, q Querier, d DisplayField) error {
	if err := ValidateIdentifiers(d.Table, d.Field, d.DisplayField); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `
		INSERT OR REPLACE INTO _meta_display_field
			(table_name, field_name, display_foreign_field_name, display_format)
		VALUES (?, ?, ?, ?)
	`, d.Table, d.Field, d.DisplayField, d.Format)
	return err
}

// DisplayFieldFor returns display metadata for a column, or nil when none is
// registered.
func DisplayFieldFor(ctx context.Context, q Querier, table, field string) (*DisplayField, error) {
	var d DisplayField
	var format sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT table_name, field_name, display_foreign_field_name, display_format
		FROM _meta_display_field
		WHERE table_name = ? AND field_name = ?
	`, table, field).Scan(&d.Table, &d.Field, &d.DisplayField, &format)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.Format = format.String
	return &d, nil
}

// DeleteDisplayField removes display metadata for a column.
func DeleteDisplayField(ctx context.Context, q Querier, table, field string) error {
	_, err := q.ExecContext(ctx, `
		DELETE FROM _meta_display_field WHERE table_name = ? AND field_name = ?
	`, table, field)
	return err
}

// RegisterEnumField records the association between a column and its enum
// side table.
func RegisterEnumField(ctx context.Context, q Querier, e EnumField) error {
	if err := ValidateIdentifiers(e.Table, e.Field, e.EnumTable); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `
		INSERT OR REPLACE INTO _meta_enum_field (table_name, field_name, enum_table_name, description)
		VALUES (?, ?, ?, ?)
	`, e.Table, e.Field, e.EnumTable, e.Description)
	return err
}

// EnumFieldFor returns enum metadata for a column, or nil when none is
// registered.
func EnumFieldFor(ctx context.Context, q Querier, table, field string) (*EnumField, error) {
	var e EnumField
	var desc sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT table_name, field_name, enum_table_name, description
		FROM _meta_enum_field
		WHERE table_name = ? AND field_name = ?
	`, table, field).Scan(&e.Table, &e.Field, &e.EnumTable, &desc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Description = desc.String
	return &e, nil
}

// DropTableMetadata removes every metadata row that refers to a table.
func DropTableMetadata(ctx context.Context, q Querier, table string) error {
	for _, stmt := range []string{
		`DELETE FROM _meta_many_to_many WHERE from_table = ?`,
		`DELETE FROM _meta_display_field WHERE table_name = ?`,
		`DELETE FROM _meta_enum_field WHERE table_name = ?`,
	} {
		if _, err := q.ExecContext(ctx, stmt, table); err != nil {
			return err
		}
	}
	return nil
}
