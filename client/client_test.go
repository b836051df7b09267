package client_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynaorm/dynaorm/client"
	"github.com/dynaorm/dynaorm/query/resolver"
	"github.com/dynaorm/dynaorm/schema"
)

func newTestDatabase(t *testing.T) *client.Database {
	t.Helper()
	db, err := client.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// seedPipeline builds a small production tracking schema:
// Projects <- Sequences <- Shots <- Tasks <- Assets.
func seedPipeline(t *testing.T, db *client.Database) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, db.CreateTable(ctx, "Projects", map[string]string{
		"id":   "INTEGER PRIMARY KEY",
		"name": "TEXT NOT NULL",
	}))
	require.NoError(t, db.CreateTable(ctx, "Sequences", map[string]string{
		"id":      "INTEGER PRIMARY KEY",
		"name":    "TEXT NOT NULL",
		"project": "INTEGER REFERENCES Projects (id)",
	}))
	require.NoError(t, db.CreateTable(ctx, "Shots", map[string]string{
		"id":       "INTEGER PRIMARY KEY",
		"name":     "TEXT NOT NULL",
		"sequence": "INTEGER REFERENCES Sequences (id)",
	}))
	require.NoError(t, db.CreateTable(ctx, "Tasks", map[string]string{
		"id":     "INTEGER PRIMARY KEY",
		"name":   "TEXT NOT NULL",
		"status": "TEXT",
		"shot":   "INTEGER REFERENCES Shots (id)",
	}))
	require.NoError(t, db.CreateTable(ctx, "Assets", map[string]string{
		"id":   "INTEGER PRIMARY KEY",
		"name": "TEXT NOT NULL",
		"task": "INTEGER REFERENCES Tasks (id)",
	}))

	insert := func(table string, rows []map[string]any) {
		m := db.Model(table)
		for _, row := range rows {
			_, err := m.InsertRecord(ctx, row, false)
			require.NoError(t, err)
		}
	}
	insert("Projects", []map[string]any{{"id": 1, "name": "Alpha"}})
	insert("Sequences", []map[string]any{{"id": 1, "name": "SEQ01", "project": 1}})
	insert("Shots", []map[string]any{{"id": 1, "name": "SH010", "sequence": 1}})
	insert("Tasks", []map[string]any{
		{"id": 1, "name": "comp", "status": "active", "shot": 1},
		{"id": 2, "name": "anim", "status": "done", "shot": 1},
	})
	insert("Assets", []map[string]any{
		{"id": 1, "name": "cache", "task": 1},
		{"id": 2, "name": "spark", "task": 1},
	})
}

// reverseRels registers the one-to-many direction from tasks to their assets.
// Assets is not reachable from Tasks through forward foreign keys, so both
// sides of the reverse hop are supplied by hand.
func reverseRels() resolver.Relationships {
	return resolver.Relationships{
		"Tasks.assets": "Assets.task",
		"Assets.task":  "Tasks.id",
	}
}

func TestQuery_Conditions(t *testing.T) {
	db := newTestDatabase(t)
	seedPipeline(t, db)
	ctx := context.Background()

	rows, err := db.Model("Tasks").Query(ctx, client.QueryOptions{
		Fields:     []string{"name", "status"},
		Conditions: map[string]any{"status": "active"},
	})
	require.NoError(t, err)
	got, err := rows.AllMaps()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "comp", got[0]["name"])

	rows, err = db.Model("Tasks").Query(ctx, client.QueryOptions{
		Fields: []string{"name"},
		Conditions: map[string]any{
			"OR": map[string]any{
				"name":   map[string]any{"starts_with": "co"},
				"status": map[string]any{"in": []any{"done"}},
			},
		},
	})
	require.NoError(t, err)
	got, err = rows.AllMaps()
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestQuery_RelationChain(t *testing.T) {
	db := newTestDatabase(t)
	seedPipeline(t, db)

	rows, err := db.Model("Tasks").Query(context.Background(), client.QueryOptions{
		Fields:     []string{"name", "shot.name", "shot.sequence.project.name"},
		Conditions: map[string]any{"name": "comp"},
	})
	require.NoError(t, err)
	got, err := rows.AllMaps()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "SH010", got[0]["shot.name"])
	assert.Equal(t, "Alpha", got[0]["shot.sequence.project.name"])
}

func TestQuery_OneToManyAggregation(t *testing.T) {
	db := newTestDatabase(t)
	seedPipeline(t, db)

	rows, err := db.Model("Tasks").Query(context.Background(), client.QueryOptions{
		Fields:        []string{"name", "assets.name"},
		Relationships: reverseRels(),
		OrderBy: []client.OrderBy{
			{Field: "name"},
		},
	})
	require.NoError(t, err)
	got, err := rows.AllMaps()
	require.NoError(t, err)
	require.Len(t, got, 2)

	// anim has no assets: the aggregate decodes to an empty list, not [null].
	assert.Equal(t, "anim", got[0]["name"])
	assert.Empty(t, got[0]["assets.name"])

	assert.Equal(t, "comp", got[1]["name"])
	assert.ElementsMatch(t, []any{"cache", "spark"}, got[1]["assets.name"])
}

func TestQuery_OrderLimitDistinct(t *testing.T) {
	db := newTestDatabase(t)
	seedPipeline(t, db)
	ctx := context.Background()

	one := 1
	rows, err := db.Model("Tasks").Query(ctx, client.QueryOptions{
		Fields:  []string{"name"},
		OrderBy: []client.OrderBy{{Field: "name", Direction: "desc"}},
		Limit:   &one,
	})
	require.NoError(t, err)
	got, err := rows.AllMaps()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "comp", got[0]["name"])

	zero := 0
	rows, err = db.Model("Tasks").Query(ctx, client.QueryOptions{Limit: &zero})
	require.NoError(t, err)
	got, err = rows.AllMaps()
	require.NoError(t, err)
	assert.Empty(t, got)

	rows, err = db.Model("Tasks").Query(ctx, client.QueryOptions{
		Fields:   []string{"shot.sequence.name"},
		Distinct: true,
	})
	require.NoError(t, err)
	got, err = rows.AllMaps()
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestUpdateAndDeleteRecord(t *testing.T) {
	db := newTestDatabase(t)
	seedPipeline(t, db)
	ctx := context.Background()
	tasks := db.Model("Tasks")

	require.NoError(t, tasks.UpdateRecord(ctx, map[string]any{"status": "review"}, 1, "id", false))
	rows, err := tasks.Query(ctx, client.QueryOptions{
		Fields:     []string{"status"},
		Conditions: map[string]any{"id": 1},
	})
	require.NoError(t, err)
	got, err := rows.AllMaps()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "review", got[0]["status"])

	// Empty pkField falls back to the table's primary key.
	require.NoError(t, tasks.DeleteRecord(ctx, 2, ""))
	rows, err = tasks.Query(ctx, client.QueryOptions{Fields: []string{"id"}})
	require.NoError(t, err)
	got, err = rows.AllMaps()
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func seedManyToMany(t *testing.T, db *client.Database) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, db.CreateTable(ctx, "Posts", map[string]string{
		"id":    "INTEGER PRIMARY KEY",
		"title": "TEXT NOT NULL",
	}))
	require.NoError(t, db.CreateTable(ctx, "Tags", map[string]string{
		"id":   "INTEGER PRIMARY KEY",
		"name": "TEXT NOT NULL",
	}))
	require.NoError(t, db.CreateJunctionTable(ctx, client.JunctionSpec{
		FromTable:    "Posts",
		ToTable:      "Tags",
		TrackReverse: true,
		DisplayField: "name",
	}))

	tags := db.Model("Tags")
	for id, name := range map[int]string{1: "go", 2: "sql", 3: "orm"} {
		_, err := tags.InsertRecord(ctx, map[string]any{"id": id, "name": name}, false)
		require.NoError(t, err)
	}
}

func TestManyToManyRoundTrip(t *testing.T) {
	db := newTestDatabase(t)
	seedManyToMany(t, db)
	ctx := context.Background()
	posts := db.Model("Posts")

	rowID, err := posts.InsertRecord(ctx, map[string]any{
		"title":    "hello",
		"Tags_ids": []any{1, 2},
	}, true)
	require.NoError(t, err)

	related, err := posts.GetManyToManyData(ctx, "Tags_ids", rowID)
	require.NoError(t, err)
	names := make([]any, len(related))
	for i, r := range related {
		names[i] = r["name"]
	}
	assert.ElementsMatch(t, []any{"go", "sql"}, names)

	// The track field surfaces as a virtual field on the model.
	f, err := posts.Field(ctx, "Tags_ids")
	require.NoError(t, err)
	require.NotNil(t, f.ManyToMany)
	assert.True(t, f.IsVirtual())
	assert.Equal(t, "Posts_Tags", f.ManyToMany.JunctionTable)

	d, err := schema.DisplayFieldFor(ctx, db.DB(), "Posts", "Tags_ids")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "name", d.DisplayField)
}

func TestManyToManyUpdateReplacesLinks(t *testing.T) {
	db := newTestDatabase(t)
	seedManyToMany(t, db)
	ctx := context.Background()
	posts := db.Model("Posts")

	rowID, err := posts.InsertRecord(ctx, map[string]any{
		"title":    "hello",
		"Tags_ids": []any{1, 2},
	}, true)
	require.NoError(t, err)

	// A payload holding only the track field must not touch the row itself.
	require.NoError(t, posts.UpdateRecord(ctx, map[string]any{
		"Tags_ids": []any{3},
	}, rowID, "id", true))

	related, err := posts.GetManyToManyData(ctx, "Tags_ids", rowID)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "orm", related[0]["name"])
}

func TestManyToManyDeleteCleansJunction(t *testing.T) {
	db := newTestDatabase(t)
	seedManyToMany(t, db)
	ctx := context.Background()
	posts := db.Model("Posts")

	rowID, err := posts.InsertRecord(ctx, map[string]any{
		"title":    "hello",
		"Tags_ids": []any{1, 2, 3},
	}, true)
	require.NoError(t, err)

	require.NoError(t, posts.DeleteRecord(ctx, rowID, "id"))

	var count int
	require.NoError(t, db.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM Posts_Tags").Scan(&count))
	assert.Zero(t, count)
}

func TestAddFieldPlain(t *testing.T) {
	db := newTestDatabase(t)
	seedPipeline(t, db)
	ctx := context.Background()
	tasks := db.Model("Tasks")

	require.NoError(t, tasks.AddField(ctx, "priority", "INTEGER", nil, nil))
	f, err := tasks.Field(ctx, "priority")
	require.NoError(t, err)
	assert.Equal(t, "INTEGER", f.Type)
}

func TestAddFieldForeignKeyPreservesData(t *testing.T) {
	db := newTestDatabase(t)
	seedPipeline(t, db)
	ctx := context.Background()

	require.NoError(t, db.CreateTable(ctx, "Users", map[string]string{
		"id":   "INTEGER PRIMARY KEY",
		"name": "TEXT NOT NULL",
	}))

	tasks := db.Model("Tasks")
	require.NoError(t, tasks.AddField(ctx, "assignee", "INTEGER", &client.ForeignKeyDef{
		RelatedTable: "Users",
		RelatedField: "id",
	}, nil))

	fks, err := schema.ForeignKeys(ctx, db.DB(), "Tasks")
	require.NoError(t, err)
	var found bool
	for _, fk := range fks {
		if fk.LocalField == "assignee" {
			found = true
			assert.Equal(t, "Users", fk.RelatedTable)
		}
	}
	assert.True(t, found, "expected a foreign key on assignee")

	// The recreate swap kept every existing row and relation intact.
	rows, err := tasks.Query(ctx, client.QueryOptions{
		Fields:  []string{"name", "shot.name"},
		OrderBy: []client.OrderBy{{Field: "name"}},
	})
	require.NoError(t, err)
	got, err := rows.AllMaps()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "anim", got[0]["name"])
	assert.Equal(t, "SH010", got[0]["shot.name"])
}

func TestAddFieldEnum(t *testing.T) {
	db := newTestDatabase(t)
	seedPipeline(t, db)
	ctx := context.Background()
	tasks := db.Model("Tasks")

	require.NoError(t, tasks.AddField(ctx, "phase", "", nil, &client.EnumDef{
		Values: []string{"modeling", "rigging", "lighting"},
	}))

	e, err := schema.EnumFieldFor(ctx, db.DB(), "Tasks", "phase")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "enum_phase", e.EnumTable)

	var count int
	require.NoError(t, db.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM enum_phase").Scan(&count))
	assert.Equal(t, 3, count)

	fks, err := schema.ForeignKeys(ctx, db.DB(), "Tasks")
	require.NoError(t, err)
	var found bool
	for _, fk := range fks {
		if fk.LocalField == "phase" && fk.RelatedTable == "enum_phase" {
			found = true
		}
	}
	assert.True(t, found, "expected a foreign key into the enum table")
}

func TestAddFieldEnumRollback(t *testing.T) {
	db := newTestDatabase(t)
	seedPipeline(t, db)
	ctx := context.Background()

	// Occupying the temp name makes the recreate swap fail on its first step.
	require.NoError(t, db.CreateTable(ctx, "Tasks_temp", map[string]string{
		"id": "INTEGER",
	}))

	err := db.Model("Tasks").AddField(ctx, "phase", "", nil, &client.EnumDef{
		Values: []string{"modeling", "rigging"},
	})
	require.Error(t, err)

	// The failed add left neither the enum side table nor its registration.
	e, err := schema.EnumFieldFor(ctx, db.DB(), "Tasks", "phase")
	require.NoError(t, err)
	assert.Nil(t, e)
	tables, err := db.Tables(ctx)
	require.NoError(t, err)
	assert.NotContains(t, tables, "enum_phase")

	rows, err := db.Model("Tasks").Query(ctx, client.QueryOptions{Fields: []string{"id"}})
	require.NoError(t, err)
	got, err := rows.AllMaps()
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestDeleteFieldPreservesData(t *testing.T) {
	db := newTestDatabase(t)
	seedPipeline(t, db)
	ctx := context.Background()
	tasks := db.Model("Tasks")

	require.NoError(t, schema.SetDisplayField(ctx, db.DB(), schema.DisplayField{
		Table:        "Tasks",
		Field:        "status",
		DisplayField: "status",
	}))

	require.NoError(t, tasks.DeleteField(ctx, "status"))

	_, err := tasks.Field(ctx, "status")
	require.Error(t, err)

	d, err := schema.DisplayFieldFor(ctx, db.DB(), "Tasks", "status")
	require.NoError(t, err)
	assert.Nil(t, d)

	rows, err := tasks.Query(ctx, client.QueryOptions{
		Fields:  []string{"name", "shot.name"},
		OrderBy: []client.OrderBy{{Field: "name"}},
	})
	require.NoError(t, err)
	got, err := rows.AllMaps()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "comp", got[1]["name"])
	assert.Equal(t, "SH010", got[1]["shot.name"])
}

func TestIdentifierRejection(t *testing.T) {
	db := newTestDatabase(t)
	seedPipeline(t, db)
	ctx := context.Background()

	var verr *schema.ValidationError
	err := db.CreateTable(ctx, "bad name", map[string]string{"id": "INTEGER"})
	require.ErrorAs(t, err, &verr)

	err = db.CreateTable(ctx, "Evil", map[string]string{"id; DROP TABLE Tasks": "INTEGER"})
	require.ErrorAs(t, err, &verr)

	_, err = db.Model("Tasks").InsertRecord(ctx, map[string]any{
		"name": "x", "status'; --": "y",
	}, false)
	require.ErrorAs(t, err, &verr)

	_, err = db.Model("Tasks").Query(ctx, client.QueryOptions{
		Fields: []string{"name FROM sqlite_master; --"},
	})
	require.Error(t, err)

	// Nothing was mutated by any of the rejected calls.
	tables, err := db.Tables(ctx)
	require.NoError(t, err)
	assert.NotContains(t, tables, "Evil")
	rows, err := db.Model("Tasks").Query(ctx, client.QueryOptions{Fields: []string{"id"}})
	require.NoError(t, err)
	got, err := rows.AllMaps()
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestQueryMissingTable(t *testing.T) {
	db := newTestDatabase(t)

	_, err := db.Model("Ghost").Query(context.Background(), client.QueryOptions{})
	require.ErrorIs(t, err, client.ErrNoSuchTable)
	var qerr *client.QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, "Ghost", qerr.Table)
}

func TestDeleteTableDropsMetadata(t *testing.T) {
	db := newTestDatabase(t)
	seedManyToMany(t, db)
	ctx := context.Background()

	require.NoError(t, db.DeleteTable(ctx, "Posts"))

	tables, err := db.Tables(ctx)
	require.NoError(t, err)
	assert.NotContains(t, tables, "Posts")

	m2ms, err := schema.ManyToManyFields(ctx, db.DB(), "Posts")
	require.NoError(t, err)
	assert.Empty(t, m2ms)
}
