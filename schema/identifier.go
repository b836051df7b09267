package schema

import (
	"fmt"
	"strings"
)

// ValidationError is returned when a dynamic identifier fails validation.
// Identifiers are interpolated into SQL text, so this check is the sole
// injection defense for table and field names; values always bind as
// parameters.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid identifier %q: %s", e.Name, e.Reason)
}

// reservedWords are SQLite keywords that may not be used as bare table or
// column names.
var reservedWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"abort", "action", "add", "after", "all", "alter", "analyze", "and",
		"as", "asc", "attach", "autoincrement", "before", "begin", "between",
		"by", "cascade", "case", "cast", "check", "collate", "column",
		"commit", "conflict", "constraint", "create", "cross", "current_date",
		"current_time", "current_timestamp", "database", "default",
		"deferrable", "deferred", "delete", "desc", "detach", "distinct",
		"drop", "each", "else", "end", "escape", "except", "exclusive",
		"exists", "explain", "fail", "for", "foreign", "from", "full", "glob",
		"group", "having", "if", "ignore", "immediate", "in", "index",
		"indexed", "initially", "inner", "insert", "instead", "intersect",
		"into", "is", "isnull", "join", "key", "left", "like", "limit",
		"match", "natural", "no", "not", "notnull", "null", "of", "offset",
		"on", "or", "order", "outer", "plan", "pragma", "primary", "query",
		"raise", "recursive", "references", "regexp", "reindex", "release",
		"rename", "replace", "restrict", "right", "rollback", "row",
		"savepoint", "select", "set", "table", "temp", "temporary", "then",
		"to", "transaction", "trigger", "union", "unique", "update", "using",
		"vacuum", "values", "view", "virtual", "when", "where", "with",
		"without",
	} {
		reservedWords[w] = struct{}{}
	}
}

// ValidIdentifier reports whether name is acceptable as a bare SQL
// identifier: non-empty, letter or underscore first, alphanumeric or
// underscore after, and not a reserved word.
func ValidIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	_, reserved := reservedWords[strings.ToLower(name)]
	return !reserved
}

// ValidateIdentifier fails with a ValidationError when name is not a valid
// bare identifier. Every DDL/DML path calls this before interpolating the
// name into SQL text.
func ValidateIdentifier(name string) error {
	if ValidIdentifier(name) {
		return nil
	}
	reason := "must start with a letter or underscore and contain only letters, digits and underscores"
	if name == "" {
		reason = "must not be empty"
	} else if _, ok := reservedWords[strings.ToLower(name)]; ok {
		reason = "is a reserved word"
	}
	return &ValidationError{Name: name, Reason: reason}
}

// ValidateIdentifiers validates every name, stopping at the first failure.
func ValidateIdentifiers(names ...string) error {
	for _, n := range names {
		if err := ValidateIdentifier(n); err != nil {
			return err
		}
	}
	return nil
}
