// Package sqlgen compiles condition trees and field selections into
// parameterized SQLite statements: SELECT with aliased LEFT JOINs,
// JSON_GROUP_ARRAY aggregation for one-to-many fields, WHERE, GROUP BY,
// ORDER BY and LIMIT in a fixed clause order.
package sqlgen

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Operator identifies a filter operator. The set is fixed at compile time;
// there is no runtime registry.
type Operator int

const (
	OpEq Operator = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpContains
	OpNotContains
	OpStartsWith
	OpNotStartsWith
	OpEndsWith
	OpNotEndsWith
	OpIsNull
	OpIsNotNull
	OpIn
	OpNotIn
	OpBetween
	OpNotBetween
)

var operatorNames = map[string]Operator{
	"eq":              OpEq,
	"neq":             OpNeq,
	"lt":              OpLt,
	"lte":             OpLte,
	"gt":              OpGt,
	"gte":             OpGte,
	"contains":        OpContains,
	"not_contains":    OpNotContains,
	"starts_with":     OpStartsWith,
	"not_starts_with": OpNotStartsWith,
	"ends_with":       OpEndsWith,
	"not_ends_with":   OpNotEndsWith,
	"is_null":         OpIsNull,
	"is_not_null":     OpIsNotNull,
	"in":              OpIn,
	"not_in":          OpNotIn,
	"between":         OpBetween,
	"not_between":     OpNotBetween,
}

// OperatorError reports an unknown operator name or a value that does not
// match the operator's arity or type. It is raised during compilation, before
// any SQL executes.
type OperatorError struct {
	Name   string
	Reason string
}

func (e *OperatorError) Error() string {
	return fmt.Sprintf("operator %q: %s", e.Name, e.Reason)
}

// FieldResolver maps a field name or dotted chain to its inner SQL reference
// (bare fields resolve against the base alias "_", dotted fields against
// their quoted prefix alias).
type FieldResolver func(field string) (string, error)

// BuildWhereClause compiles a conditions mapping into a WHERE fragment.
//
// Keys are field names (or dotted chains), or the group keywords "AND"/"OR"
// whose value is a nested conditions map compiled into a parenthesized
// sub-clause. A plain value means equality; a single-entry map selects an
// operator by name.
//
// It returns the clause text (empty for an empty mapping), the fields the
// clause references so the join compiler can pull in their joins, and the
// bound parameters in clause order. Go maps have no iteration order, so keys
// compile deterministically: plain fields sorted first, groups after.
func BuildWhereClause(conditions map[string]any, resolve FieldResolver) (clause string, fields []string, args []any, err error) {
	if len(conditions) == 0 {
		return "", nil, nil, nil
	}
	seen := map[string]struct{}{}
	clause, args, err = buildGroup(conditions, "AND", resolve, &fields, seen)
	return clause, fields, args, err
}

func buildGroup(conditions map[string]any, joiner string, resolve FieldResolver, fields *[]string, seen map[string]struct{}) (string, []any, error) {
	var parts []string
	var args []any

	for _, key := range sortedConditionKeys(conditions) {
		value := conditions[key]

		if key == "AND" || key == "OR" {
			nested, ok := value.(map[string]any)
			if !ok {
				return "", nil, &OperatorError{Name: key,
					Reason: "group value must be a conditions mapping"}
			}
			if len(nested) == 0 {
				continue
			}
			sub, subArgs, err := buildGroup(nested, key, resolve, fields, seen)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, "("+sub+")")
			args = append(args, subArgs...)
			continue
		}

		ref, err := resolve(key)
		if err != nil {
			return "", nil, err
		}
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			*fields = append(*fields, key)
		}

		op, opValue, err := splitCondition(value)
		if err != nil {
			return "", nil, err
		}
		frag, condArgs, err := compileCondition(ref, op, opValue)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, frag)
		args = append(args, condArgs...)
	}

	return strings.Join(parts, " "+joiner+" "), args, nil
}

// sortedConditionKeys orders plain field keys lexicographically before group
// keys so compilation is deterministic.
func sortedConditionKeys(conditions map[string]any) []string {
	var plain, groups []string
	for k := range conditions {
		if k == "AND" || k == "OR" {
			groups = append(groups, k)
		} else {
			plain = append(plain, k)
		}
	}
	sort.Strings(plain)
	sort.Strings(groups)
	return append(plain, groups...)
}

// splitCondition extracts the operator and its value. A non-mapping value
// implies equality; a single-entry mapping selects the operator by name.
func splitCondition(value any) (Operator, any, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return OpEq, value, nil
	}
	if len(m) != 1 {
		return 0, nil, &OperatorError{Name: fmt.Sprintf("%v", m),
			Reason: "an operator mapping must have exactly one entry"}
	}
	for name, v := range m {
		op, ok := operatorNames[name]
		if !ok {
			return 0, nil, &OperatorError{Name: name, Reason: "unknown operator"}
		}
		return op, v, nil
	}
	panic("unreachable")
}

func compileCondition(ref string, op Operator, value any) (string, []any, error) {
	switch op {
	case OpEq:
		return ref + " = ?", []any{value}, nil
	case OpNeq:
		return ref + " != ?", []any{value}, nil
	case OpLt:
		return ref + " < ?", []any{value}, nil
	case OpLte:
		return ref + " <= ?", []any{value}, nil
	case OpGt:
		return ref + " > ?", []any{value}, nil
	case OpGte:
		return ref + " >= ?", []any{value}, nil

	// LIKE patterns concatenate wildcards into the bound value; literal
	// % and _ in the input act as wildcards.
	case OpContains:
		return ref + " LIKE ?", []any{"%" + fmt.Sprintf("%v", value) + "%"}, nil
	case OpNotContains:
		return ref + " NOT LIKE ?", []any{"%" + fmt.Sprintf("%v", value) + "%"}, nil
	case OpStartsWith:
		return ref + " LIKE ?", []any{fmt.Sprintf("%v", value) + "%"}, nil
	case OpNotStartsWith:
		return ref + " NOT LIKE ?", []any{fmt.Sprintf("%v", value) + "%"}, nil
	case OpEndsWith:
		return ref + " LIKE ?", []any{"%" + fmt.Sprintf("%v", value)}, nil
	case OpNotEndsWith:
		return ref + " NOT LIKE ?", []any{"%" + fmt.Sprintf("%v", value)}, nil

	case OpIsNull:
		return ref + " IS NULL", nil, nil
	case OpIsNotNull:
		return ref + " IS NOT NULL", nil, nil

	case OpIn, OpNotIn:
		values, err := sliceValues(op, value)
		if err != nil {
			return "", nil, err
		}
		// SQLite rejects an empty IN () list; fail before execution.
		if len(values) == 0 {
			return "", nil, &OperatorError{Name: operatorName(op),
				Reason: "needs at least one value"}
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		kw := "IN"
		if op == OpNotIn {
			kw = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", ref, kw, placeholders), values, nil

	case OpBetween, OpNotBetween:
		values, err := sliceValues(op, value)
		if err != nil {
			return "", nil, err
		}
		if len(values) != 2 {
			return "", nil, &OperatorError{Name: operatorName(op),
				Reason: fmt.Sprintf("needs exactly two values, got %d", len(values))}
		}
		kw := "BETWEEN"
		if op == OpNotBetween {
			kw = "NOT BETWEEN"
		}
		// Values bind in caller order; no min/max reordering.
		return fmt.Sprintf("%s %s ? AND ?", ref, kw), values, nil
	}
	return "", nil, &OperatorError{Name: fmt.Sprintf("%d", op), Reason: "unknown operator"}
}

// sliceValues flattens a multi-value operand. Strings and byte slices are
// rejected: iterating their elements is never what the caller meant.
func sliceValues(op Operator, value any) ([]any, error) {
	switch value.(type) {
	case string, []byte:
		return nil, &OperatorError{Name: operatorName(op),
			Reason: "value must be a non-string sequence"}
	}
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, &OperatorError{Name: operatorName(op),
			Reason: fmt.Sprintf("value must be a sequence, got %T", value)}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func operatorName(op Operator) string {
	for name, o := range operatorNames {
		if o == op {
			return name
		}
	}
	return fmt.Sprintf("operator(%d)", op)
}
