// Package resolver walks foreign-key metadata to turn dotted field chains
// (shot.sequence.project.name) into ordered join steps, and classifies
// reverse (one-to-many) relations that need aggregation.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/dynaorm/dynaorm/schema"
)

// Relationships maps "<table>.<field>" to "<related_table>.<related_field>".
// Entries are derived from foreign keys (Build) and may be supplemented with
// manually registered reverse entries, e.g.
//
//	rels["Tasks.assets"] = "Assets.task"
//
// where Assets.task is itself a foreign key back into Tasks.
type Relationships map[string]string

// Key builds a relationships-map key.
func Key(table, field string) string {
	return table + "." + field
}

// Related returns the target table and field for a key.
func (r Relationships) Related(table, field string) (relTable, relField string, ok bool) {
	target, ok := r[Key(table, field)]
	if !ok {
		return "", "", false
	}
	relTable, relField, ok = splitTarget(target)
	return relTable, relField, ok
}

// Indirect reports whether the entry for table.field is a reverse
// (one-to-many) relation: its target side is itself a key in the map, i.e.
// the target column is a foreign key on the related table.
func (r Relationships) Indirect(table, field string) bool {
	target, ok := r[Key(table, field)]
	if !ok {
		return false
	}
	_, reverse := r[target]
	return reverse
}

// Merge copies entries from other, overriding on collision, and returns r.
func (r Relationships) Merge(other Relationships) Relationships {
	for k, v := range other {
		r[k] = v
	}
	return r
}

func splitTarget(target string) (table, field string, ok bool) {
	i := strings.LastIndex(target, ".")
	if i <= 0 || i == len(target)-1 {
		return "", "", false
	}
	return target[:i], target[i+1:], true
}

// Build walks foreign keys transitively from the root table and returns the
// relationships map. A visited set guards against reference cycles.
func Build(ctx context.Context, q schema.Querier, root string) (Relationships, error) {
	rels := Relationships{}
	visited := map[string]struct{}{}
	if err := build(ctx, q, root, rels, visited); err != nil {
		return nil, err
	}
	return rels, nil
}

func build(ctx context.Context, q schema.Querier, table string, rels Relationships, visited map[string]struct{}) error {
	if _, ok := visited[table]; ok {
		return nil
	}
	visited[table] = struct{}{}

	fks, err := schema.ForeignKeys(ctx, q, table)
	if err != nil {
		return err
	}
	for _, fk := range fks {
		rels[Key(table, fk.LocalField)] = Key(fk.RelatedTable, fk.RelatedField)
		if err := build(ctx, q, fk.RelatedTable, rels, visited); err != nil {
			return err
		}
	}
	return nil
}

// Step is one hop of a resolved relationship chain. The terminal step carries
// the selected leaf field in Field with RelatedTable left empty.
type Step struct {
	Table        string
	Field        string
	RelatedTable string
	RelatedField string
	Indirect     bool
}

// ResolveError describes a chain that could not be resolved.
type ResolveError struct {
	Table  string
	Chain  string
	Reason string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("cannot resolve %q on table %q: %s", e.Chain, e.Table, e.Reason)
}

// FieldNamesFunc supplies the physical column names of a table; used to
// validate the terminal segment of a chain.
type FieldNamesFunc func(table string) ([]string, error)

// Resolve splits chain on dots and walks rels from table. Every segment but
// the last must be a relationship key on the current table; the final segment
// must name a plain column on the table reached.
func Resolve(table, chain string, rels Relationships, fieldNames FieldNamesFunc) ([]Step, error) {
	segments := strings.Split(chain, ".")
	if len(segments) < 2 {
		return nil, &ResolveError{Table: table, Chain: chain,
			Reason: "a relationship chain needs at least two segments"}
	}

	var steps []Step
	current := table
	for _, seg := range segments[:len(segments)-1] {
		relTable, relField, ok := rels.Related(current, seg)
		if !ok {
			return nil, &ResolveError{Table: table, Chain: chain,
				Reason: fmt.Sprintf("%q is not a foreign key of table %q", seg, current)}
		}
		steps = append(steps, Step{
			Table:        current,
			Field:        seg,
			RelatedTable: relTable,
			RelatedField: relField,
			Indirect:     rels.Indirect(current, seg),
		})
		current = relTable
	}

	leaf := segments[len(segments)-1]
	names, err := fieldNames(current)
	if err != nil {
		return nil, err
	}
	found := false
	for _, n := range names {
		if n == leaf {
			found = true
			break
		}
	}
	if !found {
		return nil, &ResolveError{Table: table, Chain: chain,
			Reason: fmt.Sprintf("table %q has no field %q", current, leaf)}
	}
	steps = append(steps, Step{Table: current, Field: leaf})
	return steps, nil
}

// ChainIndirect reports whether any hop of a dotted chain crosses an indirect
// relation when walked from table. Unresolvable hops report false; Resolve is
// where they fail.
func ChainIndirect(table, chain string, rels Relationships) bool {
	segments := strings.Split(chain, ".")
	current := table
	for _, seg := range segments[:len(segments)-1] {
		if rels.Indirect(current, seg) {
			return true
		}
		relTable, _, ok := rels.Related(current, seg)
		if !ok {
			return false
		}
		current = relTable
	}
	return false
}
