package sqlgen

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynaorm/dynaorm/query/resolver"
)

// testRelationships models a production tracking schema: task -> shot ->
// sequence -> project, plus a reverse one-to-many from tasks to assets.
func testRelationships() resolver.Relationships {
	return resolver.Relationships{
		"Tasks.shot":        "Shots.id",
		"Shots.sequence":    "Sequences.id",
		"Sequences.project": "Projects.id",
		"Tasks.assets":      "Assets.task",
		"Assets.task":       "Tasks.id",
	}
}

func testFieldNames(table string) ([]string, error) {
	names := map[string][]string{
		"Tasks":     {"id", "name", "status", "shot"},
		"Shots":     {"id", "name", "sequence"},
		"Sequences": {"id", "name", "project"},
		"Projects":  {"id", "name"},
		"Assets":    {"id", "name", "task"},
	}
	cols, ok := names[table]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	return cols, nil
}

func testCompiler() *Compiler {
	return &Compiler{
		Table:         "Tasks",
		Relationships: testRelationships(),
		FieldNames:    testFieldNames,
	}
}

func TestPropagateHierarchies(t *testing.T) {
	fields := []string{"a.b.c.d", "a.b.x", "name", "a.y"}

	got := PropagateHierarchies(fields, true)
	assert.Equal(t, []string{"a", "a.b", "a.b.c"}, got)

	// Pure function: a second call with the same input is identical.
	again := PropagateHierarchies(fields, true)
	assert.Equal(t, got, again)

	withLeaves := PropagateHierarchies([]string{"a.b", "a"}, false)
	assert.Equal(t, []string{"a", "a.b"}, withLeaves)
}

func TestCompile_BareFields(t *testing.T) {
	q, err := testCompiler().Compile(Options{Fields: []string{"id", "name"}})
	require.NoError(t, err)
	assert.Equal(t, "SELECT\n\t_.id,\n\t_.name\nFROM\n\t'Tasks' AS _", q.SQL)
	assert.Empty(t, q.Args)
	assert.Empty(t, q.GroupedAliases)
}

func TestCompile_SelectStar(t *testing.T) {
	q, err := testCompiler().Compile(Options{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT\n\t_.*\nFROM\n\t'Tasks' AS _", q.SQL)
}

func TestCompile_RelationChain(t *testing.T) {
	q, err := testCompiler().Compile(Options{
		Fields: []string{"name", "shot.sequence.project.name"},
	})
	require.NoError(t, err)

	assert.Contains(t, q.SQL, "'shot.sequence.project'.name AS 'shot.sequence.project.name'")
	assert.Contains(t, q.SQL, "LEFT JOIN 'Shots' AS 'shot' ON _.shot = 'shot'.id")
	assert.Contains(t, q.SQL, "LEFT JOIN 'Sequences' AS 'shot.sequence' ON 'shot'.sequence = 'shot.sequence'.id")
	assert.Contains(t, q.SQL, "LEFT JOIN 'Projects' AS 'shot.sequence.project' ON 'shot.sequence'.project = 'shot.sequence.project'.id")
}

func TestCompile_JoinDeduplication(t *testing.T) {
	// Two leaves through the same prefix plus a condition on a third:
	// exactly one JOIN per distinct prefix.
	q, err := testCompiler().Compile(Options{
		Fields:     []string{"shot.name", "shot.sequence.name"},
		Conditions: map[string]any{"shot.sequence.name": "SEQ01"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(q.SQL, "LEFT JOIN 'Shots' AS 'shot'"))
	assert.Equal(t, 1, strings.Count(q.SQL, "LEFT JOIN 'Sequences' AS 'shot.sequence'"))
}

func TestCompile_ConditionFieldClosure(t *testing.T) {
	// Filtering on a related field that is not selected still joins it.
	q, err := testCompiler().Compile(Options{
		Fields:     []string{"name"},
		Conditions: map[string]any{"shot.sequence.name": "SEQ01"},
	})
	require.NoError(t, err)

	assert.Contains(t, q.SQL, "LEFT JOIN 'Shots' AS 'shot'")
	assert.Contains(t, q.SQL, "LEFT JOIN 'Sequences' AS 'shot.sequence'")
	assert.Contains(t, q.SQL, "WHERE\n\t'shot.sequence'.name = ?")
	assert.Equal(t, []any{"SEQ01"}, q.Args)
}

func TestCompile_IndirectRelation(t *testing.T) {
	q, err := testCompiler().Compile(Options{
		Fields: []string{"name", "assets.name"},
	})
	require.NoError(t, err)

	assert.Contains(t, q.SQL, "JSON_GROUP_ARRAY('assets'.name) AS 'assets.name'")
	assert.Contains(t, q.SQL, "LEFT JOIN 'Assets' AS 'assets' ON _.id = 'assets'.task")
	assert.Contains(t, q.SQL, "GROUP BY\n\t_.id")
	assert.Equal(t, []string{"assets.name"}, q.GroupedAliases)
}

func TestCompile_NoGroupByWithoutIndirect(t *testing.T) {
	q, err := testCompiler().Compile(Options{
		Fields: []string{"name", "shot.name"},
	})
	require.NoError(t, err)
	assert.NotContains(t, q.SQL, "GROUP BY")
	assert.NotContains(t, q.SQL, "JSON_GROUP_ARRAY")
}

func TestCompile_OrderByAndLimit(t *testing.T) {
	limit := 10
	q, err := testCompiler().Compile(Options{
		Fields:  []string{"name"},
		OrderBy: []OrderBy{{Field: "name", Direction: "desc"}, {Field: "shot.name"}},
		Limit:   &limit,
	})
	require.NoError(t, err)

	assert.Contains(t, q.SQL, "ORDER BY\n\t_.name DESC, 'shot'.name ASC")
	assert.Contains(t, q.SQL, "LIMIT 10")
	// Ordering through a relation joins it even when unselected.
	assert.Contains(t, q.SQL, "LEFT JOIN 'Shots' AS 'shot'")
}

func TestCompile_LimitZeroVersusAbsent(t *testing.T) {
	zero := 0
	q, err := testCompiler().Compile(Options{Fields: []string{"name"}, Limit: &zero})
	require.NoError(t, err)
	assert.Contains(t, q.SQL, "LIMIT 0")

	q, err = testCompiler().Compile(Options{Fields: []string{"name"}})
	require.NoError(t, err)
	assert.NotContains(t, q.SQL, "LIMIT")
}

func TestCompile_Distinct(t *testing.T) {
	q, err := testCompiler().Compile(Options{Fields: []string{"status"}, Distinct: true})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(q.SQL, "SELECT DISTINCT\n\t_.status"))
}

func TestCompile_ClauseOrder(t *testing.T) {
	limit := 5
	q, err := testCompiler().Compile(Options{
		Fields:     []string{"name", "assets.name"},
		Conditions: map[string]any{"status": "active"},
		OrderBy:    []OrderBy{{Field: "name"}},
		Limit:      &limit,
	})
	require.NoError(t, err)

	positions := []int{
		strings.Index(q.SQL, "SELECT"),
		strings.Index(q.SQL, "FROM"),
		strings.Index(q.SQL, "LEFT JOIN"),
		strings.Index(q.SQL, "WHERE"),
		strings.Index(q.SQL, "GROUP BY"),
		strings.Index(q.SQL, "ORDER BY"),
		strings.Index(q.SQL, "LIMIT"),
	}
	for i, pos := range positions {
		require.GreaterOrEqual(t, pos, 0, "clause %d missing in:\n%s", i, q.SQL)
		if i > 0 {
			assert.Greater(t, pos, positions[i-1], "clause order broken in:\n%s", q.SQL)
		}
	}
}

func TestCompile_Errors(t *testing.T) {
	_, err := testCompiler().Compile(Options{Fields: []string{"nope.name"}})
	var rerr *resolver.ResolveError
	require.ErrorAs(t, err, &rerr)

	_, err = testCompiler().Compile(Options{Fields: []string{"bad name"}})
	require.Error(t, err)

	_, err = testCompiler().Compile(Options{
		Fields:  []string{"name"},
		OrderBy: []OrderBy{{Field: "name", Direction: "sideways"}},
	})
	require.Error(t, err)
}
