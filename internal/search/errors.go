package search

import (
	"errors"
	"fmt"

	"github.com/ehr/fhirquery/internal/search/param"
)

// ErrNotSupported is matched by every NotSupportedError.
var ErrNotSupported = errors.New("not supported")

// NotSupportedError reports a search parameter type the compiler cannot
// translate. It is a request or configuration error and is never retried.
type NotSupportedError struct {
	Code string
	Type param.Type
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("search type %s not supported (parameter %q)", e.Type, e.Code)
}

func (e *NotSupportedError) Is(target error) bool {
	return target == ErrNotSupported
}

// InvalidParameterError reports a search parameter that could not be parsed
// or resolved against the registry.
type InvalidParameterError struct {
	Name   string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid search parameter %q: %s", e.Name, e.Reason)
}

// Invalid returns an InvalidParameterError.
func Invalid(name, format string, args ...interface{}) error {
	return &InvalidParameterError{Name: name, Reason: fmt.Sprintf(format, args...)}
}
