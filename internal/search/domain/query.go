// Package domain is the schema-agnostic model of one compiled search query:
// a closed set of parameter nodes and extensions, walked by a Visitor.
package domain

import (
	"fmt"

	"github.com/ehr/fhirquery/internal/search"
)

// Kind is the renderable variant of a Query.
type Kind int

const (
	KindCount Kind = iota
	KindData
	KindSort
	KindInclude
	KindWholeSystemFilter
	KindWholeSystemData
	KindWholeSystemUnion
)

var kindNames = [...]string{
	KindCount:             "count",
	KindData:              "data",
	KindSort:              "sort",
	KindInclude:           "include",
	KindWholeSystemFilter: "whole-system-filter",
	KindWholeSystemData:   "whole-system-data",
	KindWholeSystemUnion:  "whole-system-union",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Query is one renderable query. A union query owns SubQueries and no
// Params; every other kind owns Params and Extensions.
type Query struct {
	Kind           Kind
	ResourceType   string
	ResourceTypeID int
	// Counting marks the count variant of a whole-system filter or union
	// query; plain count queries use KindCount.
	Counting bool

	Params     []Param
	Extensions []Extension
	Sort       []search.SortParameter
	SubQueries []*Query
}

// New returns an empty query of the given kind.
func New(kind Kind, resourceType string, resourceTypeID int) *Query {
	return &Query{Kind: kind, ResourceType: resourceType, ResourceTypeID: resourceTypeID}
}

// Add appends parameter nodes.
func (q *Query) Add(params ...Param) {
	q.Params = append(q.Params, params...)
}

// AddExtension appends extensions.
func (q *Query) AddExtension(exts ...Extension) {
	q.Extensions = append(q.Extensions, exts...)
}

// IsCount reports whether the query returns a row count instead of rows.
func (q *Query) IsCount() bool {
	return q.Kind == KindCount || q.Counting
}

// Walk visits the extensions, then the parameters, in order. It stops at
// the first error.
func (q *Query) Walk(v Visitor) error {
	for _, e := range q.Extensions {
		if err := e.Accept(v); err != nil {
			return err
		}
	}
	for _, p := range q.Params {
		if err := p.Accept(v); err != nil {
			return err
		}
	}
	return nil
}

// ExtensionOf returns the first extension of q with type T.
func ExtensionOf[T Extension](q *Query) (T, bool) {
	for _, e := range q.Extensions {
		if t, ok := e.(T); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}
