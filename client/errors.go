package client

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the client layer.
var (
	// ErrNoSuchTable is returned when an operation targets a missing table.
	ErrNoSuchTable = errors.New("no such table")
)

// QueryError wraps a database error with the operation and table it came
// from. Engine errors (constraint violations, locked database) propagate
// unchanged through Unwrap.
type QueryError struct {
	Op    string
	Table string
	Cause error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s on %s: %v", e.Op, e.Table, e.Cause)
}

func (e *QueryError) Unwrap() error {
	return e.Cause
}
