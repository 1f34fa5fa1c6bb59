// Package search holds the request-level types shared by the query
// compiler: the search context handed to the builder and the error kinds
// surfaced to callers.
package search

import (
	"github.com/ehr/fhirquery/internal/search/param"
)

// Abstract resource types. A search against ResourceTypeAny is a
// whole-system search.
const (
	ResourceTypeAny    = "Resource"
	ResourceTypeDomain = "DomainResource"
)

// SortParameter is one _sort directive.
type SortParameter struct {
	Code       string
	Type       param.Type
	Descending bool
}

// InclusionKind distinguishes _include from _revinclude.
type InclusionKind int

const (
	Include InclusionKind = iota
	RevInclude
)

func (k InclusionKind) String() string {
	if k == RevInclude {
		return "_revinclude"
	}
	return "_include"
}

// InclusionParameter is one _include or _revinclude directive:
// JoinResourceType:SearchParameter[:SearchParameterTargetType].
type InclusionParameter struct {
	Kind             InclusionKind
	JoinResourceType string
	SearchParameter  string
	// SearchParameterTargetType is the resource type on the far side of the
	// reference; for _include it is the type of the included resources.
	SearchParameterTargetType string
	Iterate                   bool
}

// IncludedResourceType returns the type of the resources an inclusion adds
// to a result.
func (p InclusionParameter) IncludedResourceType() string {
	if p.Kind == RevInclude {
		return p.JoinResourceType
	}
	return p.SearchParameterTargetType
}

// Compartment scopes a search to the resources of one compartment,
// e.g. Patient/123/Observation.
type Compartment struct {
	Type string
	ID   string
}

// SearchContext is the immutable input of one search request.
type SearchContext struct {
	ResourceType string
	Parameters   []param.QueryParameter
	Sort         []SortParameter
	Inclusions   []InclusionParameter
	// ResourceTypes is the explicit _type list of a whole-system search.
	ResourceTypes []string
	Compartment   *Compartment

	PageNumber      int
	PageSize        int
	MaxIncludeCount int
}

// IsWholeSystem reports whether the search spans all resource types.
func (c SearchContext) IsWholeSystem() bool {
	return c.ResourceType == "" || c.ResourceType == ResourceTypeAny
}

// Includes returns the _include directives.
func (c SearchContext) Includes() []InclusionParameter {
	return c.inclusions(Include)
}

// RevIncludes returns the _revinclude directives.
func (c SearchContext) RevIncludes() []InclusionParameter {
	return c.inclusions(RevInclude)
}

func (c SearchContext) inclusions(kind InclusionKind) []InclusionParameter {
	var out []InclusionParameter
	for _, p := range c.Inclusions {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}
