// Package client binds a physical SQLite file to the schema and query
// layers. Database is the entry point; Model exposes per-table CRUD, DDL and
// relationship-aware queries.
package client

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/dynaorm/dynaorm/internal/debug"
	"github.com/dynaorm/dynaorm/schema"
)

// Database wraps a single SQLite connection. All operations execute
// synchronously on the calling connection; SQLite's own serialization is the
// only coordination provided.
type Database struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the SQLite database at path with foreign keys
// enforced, and bootstraps the metadata side tables.
func Open(path string) (*Database, error) {
	dsn := path
	if path == ":memory:" {
		dsn = "file::memory:"
	}
	if strings.Contains(dsn, "?") {
		dsn += "&_foreign_keys=on"
	} else {
		dsn += "?_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	// A single connection: the schema layer issues PRAGMAs and multi
	// statement swaps that must observe each other.
	db.SetMaxOpenConns(1)

	d := &Database{db: db, path: path}
	if err := schema.Bootstrap(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// OpenDB wraps an existing connection and bootstraps the metadata tables.
func OpenDB(db *sql.DB) (*Database, error) {
	d := &Database{db: db}
	if err := schema.Bootstrap(context.Background(), db); err != nil {
		return nil, err
	}
	return d, nil
}

// DB exposes the underlying connection.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Path returns the database file path ("" when wrapping a connection).
func (d *Database) Path() string {
	return d.path
}

// Close closes the connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Tables lists user tables, excluding SQLite internals and metadata tables.
func (d *Database) Tables(ctx context.Context) ([]string, error) {
	return schema.Tables(ctx, d.db)
}

// Model returns a handle for one table. The table does not have to exist
// yet; introspection fails lazily.
func (d *Database) Model(table string) *Model {
	return &Model{d: d, table: table}
}

// CreateTable creates a table from a column-name to type-declaration
// mapping. Names are validated before any SQL text is built; columns are
// emitted in sorted name order.
func (d *Database) CreateTable(ctx context.Context, name string, fields map[string]string) error {
	if err := schema.ValidateIdentifier(name); err != nil {
		return err
	}
	if len(fields) == 0 {
		return fmt.Errorf("create table %q: no fields given", name)
	}

	cols := make([]string, 0, len(fields))
	for col := range fields {
		if err := schema.ValidateIdentifier(col); err != nil {
			return err
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	defs := make([]string, len(cols))
	for i, col := range cols {
		defs[i] = col + " " + fields[col]
	}
	stmt := fmt.Sprintf("CREATE TABLE '%s' (%s)", name, strings.Join(defs, ", "))
	debug.SQL("create_table", stmt, nil)
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %q: %w", name, err)
	}
	return nil
}

// DeleteTable drops a table and every metadata row that refers to it.
func (d *Database) DeleteTable(ctx context.Context, name string) error {
	if err := schema.ValidateIdentifier(name); err != nil {
		return err
	}
	if err := schema.DropTableMetadata(ctx, d.db, name); err != nil {
		return err
	}
	stmt := fmt.Sprintf("DROP TABLE IF EXISTS '%s'", name)
	debug.SQL("delete_table", stmt, nil)
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("drop table %q: %w", name, err)
	}
	return nil
}
