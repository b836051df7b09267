package client

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/dynaorm/dynaorm/internal/debug"
	"github.com/dynaorm/dynaorm/schema"
)

// ForeignKeyDef declares a foreign key for a new column.
type ForeignKeyDef struct {
	RelatedTable string
	RelatedField string
	OnUpdate     string
	OnDelete     string
}

// EnumDef declares an enumerated column backed by a side table. The column
// becomes a foreign key into the enum table's id.
type EnumDef struct {
	Values []string
	// TableName overrides the default "enum_<field>" side table name.
	TableName   string
	Description string
}

// JunctionSpec declares a many-to-many junction table between two tables.
// Key fields default to "id"; the track field exposed on FromTable defaults
// to "<ToTable>_ids".
type JunctionSpec struct {
	FromTable string
	FromField string
	ToTable   string
	ToField   string

	FromTrackField string

	// TrackReverse also registers the relationship on ToTable, under
	// ToTrackField or "<FromTable>_ids".
	TrackReverse bool
	ToTrackField string

	// DisplayField optionally records a human-readable field on ToTable for
	// the FromTable track field.
	DisplayField  string
	DisplayFormat string
}

// AddField adds a column to the table.
//
// Plain columns use ALTER TABLE ADD COLUMN. Foreign-key columns cannot be
// added that way in SQLite, so the table is recreated: snapshot the existing
// columns and constraints, build <table>_temp with the new column appended,
// copy the data, drop the original and rename — all inside one transaction
// with foreign-key enforcement suspended around the swap.
//
// An enum definition creates (or reuses) the enum side table, inserts the
// values, turns the new column into a foreign key to it and records the
// association in the enum metadata table.
func (m *Model) AddField(ctx context.Context, name, typeDecl string, fk *ForeignKeyDef, enum *EnumDef) error {
	if err := schema.ValidateIdentifiers(m.table, name); err != nil {
		return err
	}

	if fk == nil && enum == nil {
		stmt := fmt.Sprintf("ALTER TABLE '%s' ADD COLUMN %s %s", m.table, name, typeDecl)
		debug.SQL("add_field", stmt, nil)
		if _, err := m.d.db.ExecContext(ctx, stmt); err != nil {
			return &QueryError{Op: "add_field", Table: m.table, Cause: err}
		}
		return nil
	}

	// Snapshot and duplicate check before any side table is touched.
	fields, err := schema.Fields(ctx, m.d.db, m.table)
	if err != nil {
		return err
	}
	for _, f := range fields {
		if f.Name == name {
			return fmt.Errorf("table %q already has field %q", m.table, name)
		}
	}
	fks, err := schema.ForeignKeys(ctx, m.d.db, m.table)
	if err != nil {
		return err
	}

	// Undoes enum side-table creation and registration when the recreate swap
	// fails, so a failed add leaves no partial state behind.
	undoEnum := func() {}
	if enum != nil {
		enumTable := enum.TableName
		if enumTable == "" {
			enumTable = "enum_" + name
		}
		existed, err := schema.TableExists(ctx, m.d.db, enumTable)
		if err != nil {
			return err
		}
		if err := m.createEnumTable(ctx, enumTable, enum.Values); err != nil {
			return err
		}
		if err := schema.RegisterEnumField(ctx, m.d.db, schema.EnumField{
			Table:       m.table,
			Field:       name,
			EnumTable:   enumTable,
			Description: enum.Description,
		}); err != nil {
			return err
		}
		undoEnum = func() {
			m.d.db.ExecContext(ctx,
				`DELETE FROM _meta_enum_field WHERE table_name = ? AND field_name = ?`,
				m.table, name)
			if !existed {
				m.d.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS '%s'", enumTable))
			}
		}
		fk = &ForeignKeyDef{RelatedTable: enumTable, RelatedField: "id"}
		if typeDecl == "" {
			typeDecl = "INTEGER"
		}
	}

	if err := schema.ValidateIdentifiers(fk.RelatedTable, fk.RelatedField); err != nil {
		undoEnum()
		return err
	}

	newFields := append(append([]schema.FieldInfo{}, fields...), schema.FieldInfo{
		Name: name,
		Type: typeDecl,
	})
	newFKs := append(append([]schema.ForeignKey{}, fks...), schema.ForeignKey{
		ID:           nextConstraintID(fks),
		LocalTable:   m.table,
		LocalField:   name,
		RelatedTable: fk.RelatedTable,
		RelatedField: fk.RelatedField,
		OnUpdate:     fk.OnUpdate,
		OnDelete:     fk.OnDelete,
	})

	if err := m.recreateTable(ctx, newFields, newFKs, fieldNames(fields)); err != nil {
		undoEnum()
		return err
	}
	return nil
}

// DeleteField removes a column through the same recreate sequence, dropping
// any foreign key whose local field matches, and cleans up display and enum
// metadata for the column. All other columns' data is preserved.
func (m *Model) DeleteField(ctx context.Context, name string) error {
	if err := schema.ValidateIdentifiers(m.table, name); err != nil {
		return err
	}

	fields, err := schema.Fields(ctx, m.d.db, m.table)
	if err != nil {
		return err
	}
	found := false
	kept := make([]schema.FieldInfo, 0, len(fields))
	for _, f := range fields {
		if f.Name == name {
			found = true
			continue
		}
		kept = append(kept, f)
	}
	if !found {
		return fmt.Errorf("table %q has no field %q", m.table, name)
	}
	if len(kept) == 0 {
		return fmt.Errorf("cannot delete the last field of table %q", m.table)
	}

	fks, err := schema.ForeignKeys(ctx, m.d.db, m.table)
	if err != nil {
		return err
	}
	keptFKs := make([]schema.ForeignKey, 0, len(fks))
	for _, fk := range fks {
		if fk.LocalField == name {
			continue
		}
		keptFKs = append(keptFKs, fk)
	}

	if err := m.recreateTable(ctx, kept, keptFKs, fieldNames(kept)); err != nil {
		return err
	}

	if err := schema.DeleteDisplayField(ctx, m.d.db, m.table, name); err != nil {
		return err
	}
	_, err = m.d.db.ExecContext(ctx,
		`DELETE FROM _meta_enum_field WHERE table_name = ? AND field_name = ?`,
		m.table, name)
	return err
}

// recreateTable swaps the table for a rebuilt one containing fields/fks,
// copying copyCols across. The whole sequence runs in one transaction with
// rollback on any failure; foreign-key enforcement is turned off around the
// swap and restored after.
func (m *Model) recreateTable(ctx context.Context, fields []schema.FieldInfo, fks []schema.ForeignKey, copyCols []string) error {
	if _, err := m.d.db.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return err
	}
	defer m.d.db.ExecContext(ctx, "PRAGMA foreign_keys = ON")

	tx, err := m.d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	tempTable := m.table + "_temp"
	cols := strings.Join(copyCols, ", ")
	steps := []string{
		buildCreateTable(tempTable, fields, fks),
		fmt.Sprintf("INSERT INTO '%s' (%s) SELECT %s FROM '%s'", tempTable, cols, cols, m.table),
		fmt.Sprintf("DROP TABLE '%s'", m.table),
		fmt.Sprintf("ALTER TABLE '%s' RENAME TO '%s'", tempTable, m.table),
	}
	for _, stmt := range steps {
		debug.SQL("recreate_table", stmt, nil)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return &QueryError{Op: "recreate_table", Table: m.table, Cause: err}
		}
	}
	return tx.Commit()
}

func (m *Model) createEnumTable(ctx context.Context, enumTable string, values []string) error {
	if err := schema.ValidateIdentifier(enumTable); err != nil {
		return err
	}
	stmt := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS '%s' (id INTEGER PRIMARY KEY AUTOINCREMENT, value TEXT NOT NULL UNIQUE)",
		enumTable)
	debug.SQL("add_field", stmt, nil)
	if _, err := m.d.db.ExecContext(ctx, stmt); err != nil {
		return &QueryError{Op: "add_field", Table: enumTable, Cause: err}
	}
	insert := fmt.Sprintf("INSERT OR IGNORE INTO '%s' (value) VALUES (?)", enumTable)
	for _, v := range values {
		if _, err := m.d.db.ExecContext(ctx, insert, v); err != nil {
			return &QueryError{Op: "add_field", Table: enumTable, Cause: err}
		}
	}
	return nil
}

// CreateJunctionTable creates the physical junction table for a many-to-many
// relationship, registers the tracked direction(s) in the metadata table and
// optionally records display-field metadata.
//
// The junction is named "<From>_<To>", its columns "<Table>_<field>", with a
// composite primary key of the two columns and both foreign keys ON DELETE
// CASCADE.
func (d *Database) CreateJunctionTable(ctx context.Context, spec JunctionSpec) error {
	if spec.FromField == "" {
		spec.FromField = "id"
	}
	if spec.ToField == "" {
		spec.ToField = "id"
	}
	if spec.FromTrackField == "" {
		spec.FromTrackField = spec.ToTable + "_ids"
	}
	if spec.ToTrackField == "" {
		spec.ToTrackField = spec.FromTable + "_ids"
	}
	if err := schema.ValidateIdentifiers(
		spec.FromTable, spec.FromField, spec.ToTable, spec.ToField,
		spec.FromTrackField, spec.ToTrackField); err != nil {
		return err
	}

	junction := spec.FromTable + "_" + spec.ToTable
	fromCol := spec.FromTable + "_" + spec.FromField
	toCol := spec.ToTable + "_" + spec.ToField

	fromType, err := columnType(ctx, d.db, spec.FromTable, spec.FromField)
	if err != nil {
		return err
	}
	toType, err := columnType(ctx, d.db, spec.ToTable, spec.ToField)
	if err != nil {
		return err
	}

	stmt := fmt.Sprintf(
		"CREATE TABLE '%s' (%s %s NOT NULL, %s %s NOT NULL, PRIMARY KEY (%s, %s), "+
			"FOREIGN KEY (%s) REFERENCES '%s' (%s) ON DELETE CASCADE, "+
			"FOREIGN KEY (%s) REFERENCES '%s' (%s) ON DELETE CASCADE)",
		junction, fromCol, fromType, toCol, toType, fromCol, toCol,
		fromCol, spec.FromTable, spec.FromField,
		toCol, spec.ToTable, spec.ToField)
	debug.SQL("create_junction_table", stmt, nil)
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return &QueryError{Op: "create_junction_table", Table: junction, Cause: err}
	}

	if err := schema.RegisterManyToMany(ctx, d.db, spec.FromTable, spec.FromTrackField, junction); err != nil {
		return err
	}
	if spec.TrackReverse {
		if err := schema.RegisterManyToMany(ctx, d.db, spec.ToTable, spec.ToTrackField, junction); err != nil {
			return err
		}
	}
	if spec.DisplayField != "" {
		return schema.SetDisplayField(ctx, d.db, schema.DisplayField{
			Table:        spec.FromTable,
			Field:        spec.FromTrackField,
			DisplayField: spec.DisplayField,
			Format:       spec.DisplayFormat,
		})
	}
	return nil
}

// buildCreateTable renders a full CREATE TABLE statement from field and
// foreign-key snapshots. A single INTEGER primary key stays inline so the
// column keeps its rowid alias; composite keys become a table constraint.
func buildCreateTable(name string, fields []schema.FieldInfo, fks []schema.ForeignKey) string {
	var pks []schema.FieldInfo
	for _, f := range fields {
		if f.PrimaryKey {
			pks = append(pks, f)
		}
	}
	sort.Slice(pks, func(i, j int) bool { return pks[i].PrimaryKeySeq < pks[j].PrimaryKeySeq })
	inlinePK := len(pks) == 1 && strings.EqualFold(pks[0].Type, "INTEGER")

	var defs []string
	for _, f := range fields {
		def := f.Name + " " + f.Type
		if inlinePK && f.PrimaryKey {
			def += " PRIMARY KEY"
		}
		if f.NotNull {
			def += " NOT NULL"
		}
		if f.Default != nil {
			def += " DEFAULT " + *f.Default
		}
		if f.Unique && !f.PrimaryKey {
			def += " UNIQUE"
		}
		defs = append(defs, def)
	}

	if !inlinePK && len(pks) > 0 {
		names := make([]string, len(pks))
		for i, f := range pks {
			names[i] = f.Name
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(names, ", ")+")")
	}

	for _, group := range groupForeignKeys(fks) {
		var locals, relateds []string
		for _, fk := range group {
			locals = append(locals, fk.LocalField)
			relateds = append(relateds, fk.RelatedField)
		}
		def := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES '%s' (%s)",
			strings.Join(locals, ", "), group[0].RelatedTable, strings.Join(relateds, ", "))
		if a := group[0].OnUpdate; a != "" && !strings.EqualFold(a, "NO ACTION") {
			def += " ON UPDATE " + a
		}
		if a := group[0].OnDelete; a != "" && !strings.EqualFold(a, "NO ACTION") {
			def += " ON DELETE " + a
		}
		defs = append(defs, def)
	}

	return fmt.Sprintf("CREATE TABLE '%s' (%s)", name, strings.Join(defs, ", "))
}

// groupForeignKeys groups per-column rows into constraints by id, seq order
// preserved.
func groupForeignKeys(fks []schema.ForeignKey) [][]schema.ForeignKey {
	byID := map[int][]schema.ForeignKey{}
	var order []int
	for _, fk := range fks {
		if _, ok := byID[fk.ID]; !ok {
			order = append(order, fk.ID)
		}
		byID[fk.ID] = append(byID[fk.ID], fk)
	}
	groups := make([][]schema.ForeignKey, 0, len(order))
	for _, id := range order {
		group := byID[id]
		sort.Slice(group, func(i, j int) bool { return group[i].Seq < group[j].Seq })
		groups = append(groups, group)
	}
	return groups
}

func nextConstraintID(fks []schema.ForeignKey) int {
	next := 0
	for _, fk := range fks {
		if fk.ID >= next {
			next = fk.ID + 1
		}
	}
	return next
}

func fieldNames(fields []schema.FieldInfo) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

func columnType(ctx context.Context, db *sql.DB, table, field string) (string, error) {
	f, err := schema.Field(ctx, db, table, field)
	if err != nil {
		return "", err
	}
	if f.Type == "" {
		return "INTEGER", nil
	}
	return f.Type, nil
}
