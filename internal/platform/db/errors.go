// Package db holds the PostgreSQL plumbing shared by the identity cache and
// the explain server.
package db

import (
	"errors"
	"fmt"
)

// PersistenceError is the error kind of every failure originating in the
// persistence layer, including identity lookups that cannot be resolved.
// Callers above the persistence layer return it unmodified.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Err == nil {
		return "persistence: " + e.Op
	}
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ErrNotFound marks lookups of identities that do not exist.
var ErrNotFound = errors.New("not found")

// NotFound returns a PersistenceError for a missing identity.
func NotFound(op, name string) error {
	return &PersistenceError{Op: op, Err: fmt.Errorf("%w: %s", ErrNotFound, name)}
}

// IsPersistence reports whether err is or wraps a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
