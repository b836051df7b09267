package sqlgen

import (
	"fmt"
	"strings"

	"github.com/dynaorm/dynaorm/query/resolver"
	"github.com/dynaorm/dynaorm/schema"
)

// BaseAlias is the alias the base table is always bound to.
const BaseAlias = "_"

// Query is a compiled statement with its bound parameters. GroupedAliases
// lists the output columns wrapped in JSON_GROUP_ARRAY; their text must be
// decoded back into lists when rows are read.
type Query struct {
	SQL            string
	Args           []any
	GroupedAliases []string
}

// OrderBy orders results by a field or dotted chain. Direction is
// normalized to upper-case ASC/DESC; empty means ASC.
type OrderBy struct {
	Field     string
	Direction string
}

// Options selects what a compiled query returns.
type Options struct {
	// Fields are column names or dotted relationship chains. Empty selects
	// every column of the base table.
	Fields []string

	// Conditions is the tree passed to BuildWhereClause.
	Conditions map[string]any

	OrderBy []OrderBy

	// Limit: nil omits the clause; zero emits LIMIT 0 and returns no rows.
	Limit *int

	Distinct bool
}

// Compiler turns Options into a single SELECT statement for one base table.
// Relationships supplies the join graph; FieldNames validates leaf columns.
type Compiler struct {
	Table         string
	Relationships resolver.Relationships
	FieldNames    resolver.FieldNamesFunc
}

// Compile assembles SELECT, FROM, JOIN, WHERE, GROUP BY, ORDER BY and LIMIT,
// in that fixed order, omitting empty clauses.
//
// Every relationship-chain prefix referenced by the selected fields, the
// condition fields or the order-by fields gets exactly one aliased LEFT JOIN;
// fields crossing an indirect (one-to-many) relation compile to
// JSON_GROUP_ARRAY with a GROUP BY on the parent-side key.
func (c *Compiler) Compile(opts Options) (*Query, error) {
	if err := schema.ValidateIdentifier(c.Table); err != nil {
		return nil, err
	}

	where, condFields, args, err := BuildWhereClause(opts.Conditions, c.resolveRef)
	if err != nil {
		return nil, err
	}

	selectClause, grouped, err := c.buildSelect(opts)
	if err != nil {
		return nil, err
	}

	joinFields := make([]string, 0, len(opts.Fields)+len(condFields)+len(opts.OrderBy))
	joinFields = append(joinFields, opts.Fields...)
	joinFields = append(joinFields, condFields...)
	for _, ob := range opts.OrderBy {
		joinFields = append(joinFields, ob.Field)
	}

	for _, field := range joinFields {
		if err := c.validateChain(field); err != nil {
			return nil, err
		}
	}

	joins, groupBy, err := c.buildJoins(joinFields)
	if err != nil {
		return nil, err
	}

	orderBy, err := c.buildOrderBy(opts.OrderBy)
	if err != nil {
		return nil, err
	}

	clauses := []string{
		selectClause,
		"FROM\n\t'" + c.Table + "' AS " + BaseAlias,
	}
	clauses = append(clauses, joins...)
	if where != "" {
		clauses = append(clauses, "WHERE\n\t"+where)
	}
	if len(groupBy) > 0 {
		clauses = append(clauses, "GROUP BY\n\t"+strings.Join(groupBy, ", "))
	}
	if orderBy != "" {
		clauses = append(clauses, orderBy)
	}
	if opts.Limit != nil {
		clauses = append(clauses, fmt.Sprintf("LIMIT %d", *opts.Limit))
	}

	return &Query{
		SQL:            strings.Join(clauses, "\n"),
		Args:           args,
		GroupedAliases: grouped,
	}, nil
}

// validateChain resolves a dotted chain against the relationship graph and
// the terminal table's columns. Bare fields only need identifier validation;
// without a FieldNames source terminal columns go unchecked.
func (c *Compiler) validateChain(field string) error {
	if !strings.Contains(field, ".") || c.FieldNames == nil {
		return nil
	}
	_, err := resolver.Resolve(c.Table, field, c.Relationships, c.FieldNames)
	return err
}

// resolveRef maps a field to its inner SQL reference: bare fields to
// "_.<field>", dotted chains to "'<prefix>'.<leaf>" where the prefix string
// itself is the join alias.
func (c *Compiler) resolveRef(field string) (string, error) {
	segments := strings.Split(field, ".")
	if err := schema.ValidateIdentifiers(segments...); err != nil {
		return "", err
	}
	if len(segments) == 1 {
		return BaseAlias + "." + field, nil
	}
	prefix := strings.Join(segments[:len(segments)-1], ".")
	return "'" + prefix + "'." + segments[len(segments)-1], nil
}

func (c *Compiler) buildSelect(opts Options) (string, []string, error) {
	kw := "SELECT"
	if opts.Distinct {
		kw = "SELECT DISTINCT"
	}
	if len(opts.Fields) == 0 {
		return kw + "\n\t" + BaseAlias + ".*", nil, nil
	}

	var cols []string
	var grouped []string
	for _, field := range opts.Fields {
		ref, err := c.resolveRef(field)
		if err != nil {
			return "", nil, err
		}
		switch {
		case resolver.ChainIndirect(c.Table, field, c.Relationships):
			cols = append(cols, "JSON_GROUP_ARRAY("+ref+") AS '"+field+"'")
			grouped = append(grouped, field)
		case strings.Contains(field, "."):
			// Output column keyed by the dotted chain string as-is.
			cols = append(cols, ref+" AS '"+field+"'")
		default:
			cols = append(cols, ref)
		}
	}
	return kw + "\n\t" + strings.Join(cols, ",\n\t"), grouped, nil
}

// buildJoins emits one LEFT JOIN per distinct chain prefix. Sorted prefix
// order guarantees a parent is established before any of its children, so
// the left side is either the base alias or an earlier prefix alias.
func (c *Compiler) buildJoins(fields []string) (lines []string, groupBy []string, err error) {
	prefixes := PropagateHierarchies(fields, true)
	tableByPrefix := map[string]string{}
	groupSeen := map[string]struct{}{}

	for _, prefix := range prefixes {
		parent, last := parentPrefix(prefix)

		parentTable := c.Table
		parentAlias := BaseAlias
		if parent != "" {
			t, ok := tableByPrefix[parent]
			if !ok {
				return nil, nil, &resolver.ResolveError{Table: c.Table, Chain: prefix,
					Reason: fmt.Sprintf("missing join for parent prefix %q", parent)}
			}
			parentTable = t
			parentAlias = "'" + parent + "'"
		}

		relTable, relField, ok := c.Relationships.Related(parentTable, last)
		if !ok {
			return nil, nil, &resolver.ResolveError{Table: c.Table, Chain: prefix,
				Reason: fmt.Sprintf("%q is not a foreign key of table %q", last, parentTable)}
		}

		j := join{relatedTable: relTable, alias: prefix}
		if c.Relationships.Indirect(parentTable, last) {
			// Reverse relation: the local side has no backing column. The
			// parent-side key is the target of the related table's own
			// foreign key, and it anchors the GROUP BY.
			_, parentKey, ok := c.Relationships.Related(relTable, relField)
			if !ok {
				return nil, nil, &resolver.ResolveError{Table: c.Table, Chain: prefix,
					Reason: fmt.Sprintf("reverse relation %q.%q does not point back through a foreign key", relTable, relField)}
			}
			j.leftRef = parentAlias + "." + parentKey
			j.rightRef = "'" + prefix + "'." + relField
			if _, seen := groupSeen[j.leftRef]; !seen {
				groupSeen[j.leftRef] = struct{}{}
				groupBy = append(groupBy, j.leftRef)
			}
		} else {
			j.leftRef = parentAlias + "." + last
			j.rightRef = "'" + prefix + "'." + relField
		}

		lines = append(lines, j.String())
		tableByPrefix[prefix] = relTable
	}
	return lines, groupBy, nil
}

func (c *Compiler) buildOrderBy(orderBy []OrderBy) (string, error) {
	if len(orderBy) == 0 {
		return "", nil
	}
	parts := make([]string, len(orderBy))
	for i, ob := range orderBy {
		ref, err := c.resolveRef(ob.Field)
		if err != nil {
			return "", err
		}
		dir := strings.ToUpper(strings.TrimSpace(ob.Direction))
		if dir == "" {
			dir = "ASC"
		}
		if dir != "ASC" && dir != "DESC" {
			return "", fmt.Errorf("invalid order direction %q for field %q", ob.Direction, ob.Field)
		}
		parts[i] = ref + " " + dir
	}
	return "ORDER BY\n\t" + strings.Join(parts, ", "), nil
}
