// Package schema provides field, key and relationship metadata for SQLite
// tables, introspected at runtime through PRAGMA statements and the _meta_*
// side tables.
package schema

// FieldInfo describes a single column of a table, or a virtual many-to-many
// field exposed under its track-field name.
type FieldInfo struct {
	// ID is the column ordinal from PRAGMA table_info. Virtual fields use -1.
	ID int

	Name    string
	Type    string
	NotNull bool

	// Default is the raw SQL default expression, verbatim from table_info.
	Default *string

	// PrimaryKey reports whether the column is part of the primary key;
	// PrimaryKeySeq is SQLite's 1-based position inside a composite key
	// (0 when not part of the key).
	PrimaryKey    bool
	PrimaryKeySeq int

	// Unique is derived from unique indexes, not only declared constraints.
	Unique bool

	ForeignKey *ForeignKey
	ManyToMany *ManyToManyField
}

// IsVirtual reports whether the field has no backing column in the table
// itself (many-to-many track fields).
func (f FieldInfo) IsVirtual() bool {
	return f.ManyToMany != nil
}

// ForeignKey describes one column of a foreign-key constraint as reported by
// PRAGMA foreign_key_list. Composite constraints share an ID and are ordered
// by Seq.
type ForeignKey struct {
	ID  int
	Seq int

	LocalTable   string
	LocalField   string
	RelatedTable string
	RelatedField string

	OnUpdate string
	OnDelete string
	Match    string
}

// ManyToManyField describes a virtual column backed by a junction table.
type ManyToManyField struct {
	// TrackField is the name under which the relationship is exposed to
	// query callers.
	TrackField string

	LocalTable    string
	RelatedTable  string
	JunctionTable string

	// LocalKey and RelatedKey are the junction table's foreign keys pointing
	// back at each side.
	LocalKey   *ForeignKey
	RelatedKey *ForeignKey
}

// DisplayField maps a foreign-key or many-to-many column to a human-readable
// field on the related table.
type DisplayField struct {
	Table        string
	Field        string
	DisplayField string
	Format       string
}

// EnumField records the association between a column and its enum side table.
type EnumField struct {
	Table       string
	Field       string
	EnumTable   string
	Description string
}
