package persistence

import (
	"errors"
	"fmt"
)

// ConnectionError is a transport or authentication failure. The connection
// may be re-established and the statement retried.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("persistence: connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// StatementError is a malformed statement or a constraint violation.
// It is never retried.
type StatementError struct {
	Query string
	Err   error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("persistence: statement failed (%s): %v", e.Query, e.Err)
}

func (e *StatementError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err wraps a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsStatementError reports whether err wraps a *StatementError.
func IsStatementError(err error) bool {
	var se *StatementError
	return errors.As(err, &se)
}

// abbrev keeps error messages readable for long statements.
func abbrev(query string) string {
	const max = 80
	if len(query) <= max {
		return query
	}
	return query[:max] + "..."
}
