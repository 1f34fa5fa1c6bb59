package domain

import "github.com/ehr/fhirquery/internal/search"

// Extension is a query modifier that is not a search parameter. Like Param
// it is sealed to this package.
type Extension interface {
	Accept(v Visitor) error
	searchExtension()
}

// ResourceTypeIDExtension narrows a whole-system filter query to the listed
// resource types.
type ResourceTypeIDExtension struct {
	ResourceTypeIDs []int
}

// IncludeExtension scopes an include query to the resources related to the
// logical resources matched by the primary search.
type IncludeExtension struct {
	Inclusion search.InclusionParameter
	// BaseResourceType is the type of the primary search results.
	BaseResourceType   string
	LogicalResourceIDs []int64
}

// WholeSystemDataExtension selects the data of the given logical resources
// of one type, the second phase of a whole-system filter search.
type WholeSystemDataExtension struct {
	ResourceType       string
	ResourceTypeID     int
	LogicalResourceIDs []int64
}

// Area is a latitude/longitude bounding box, inclusive on all sides.
type Area struct {
	Code         string
	MinLatitude  float64
	MaxLatitude  float64
	MinLongitude float64
	MaxLongitude float64
}

// LocationExtension carries the bounding boxes computed from all
// geolocation parameters of a Location search, which depend on each other
// (a near-distance value changes the box of every near value).
type LocationExtension struct {
	Areas []Area
}

func (e *ResourceTypeIDExtension) Accept(v Visitor) error  { return v.VisitResourceTypeIDExtension(e) }
func (e *IncludeExtension) Accept(v Visitor) error         { return v.VisitIncludeExtension(e) }
func (e *WholeSystemDataExtension) Accept(v Visitor) error { return v.VisitWholeSystemDataExtension(e) }
func (e *LocationExtension) Accept(v Visitor) error        { return v.VisitLocationExtension(e) }

func (e *ResourceTypeIDExtension) searchExtension()  {}
func (e *IncludeExtension) searchExtension()         {}
func (e *WholeSystemDataExtension) searchExtension() {}
func (e *LocationExtension) searchExtension()        {}

// AreasFor returns the boxes computed for parameter code.
func (e *LocationExtension) AreasFor(code string) []Area {
	var out []Area
	for _, a := range e.Areas {
		if a.Code == code {
			out = append(out, a)
		}
	}
	return out
}
