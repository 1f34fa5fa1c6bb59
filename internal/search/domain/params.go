package domain

import (
	"github.com/ehr/fhirquery/internal/search/canonical"
	"github.com/ehr/fhirquery/internal/search/param"
)

// Param is one search-parameter node of a query.
//
// This is a sealed interface: the unexported marker method keeps every
// implementation in this package, so a new node kind is added here together
// with its Visitor method, and every Visitor stops compiling until it
// handles the new kind.
type Param interface {
	Accept(v Visitor) error
	Node() *Base
	searchParam()
}

// Base is embedded by every node.
type Base struct {
	ResourceType string
	Code         string
	Parameter    param.QueryParameter
}

func (b *Base) Node() *Base  { return b }
func (b *Base) searchParam() {}

func newBase(resourceType string, p param.QueryParameter) Base {
	return Base{ResourceType: resourceType, Code: p.Code, Parameter: p}
}

// IDParam filters on the logical id (_id).
type IDParam struct{ Base }

// LastUpdatedParam filters on the last updated instant (_lastUpdated).
type LastUpdatedParam struct{ Base }

// MissingParam tests for the absence (or presence) of any indexed value.
type MissingParam struct {
	Base
	// Missing is true for :missing=true.
	Missing bool
}

// LocationParam filters Location resources by proximity (near).
type LocationParam struct {
	Base
	Areas []Area
}

// StringParam matches normalized string values.
type StringParam struct{ Base }

// ReferenceParam matches references to ResourceType/id.
type ReferenceParam struct{ Base }

// Hop is one reference traversal of a chain.
type Hop struct {
	Code       string // reference parameter code, defined on SourceType
	SourceType string
	TargetType string
	// Reverse hops walk from the referenced resource back to SourceType.
	Reverse bool
}

// ChainedParam filters on a parameter of a resource reached through one or
// more references (chains and _has reverse chains).
type ChainedParam struct {
	Base
	Hops []Hop
	// Target is the terminal node, classified against the last hop's type.
	Target Param
}

// InclusionParam restricts results to a compartment: any of the reference
// parameters in Codes points at Compartment.
type InclusionParam struct {
	Base
	Codes []string
}

// DateBound is one prefixed date constraint.
type DateBound struct {
	Prefix param.Prefix
	Value  param.DateValue
}

// DateParam matches date ranges. Bounds are OR'ed values of one parameter,
// or, when Consolidated, the AND'ed bounds of a consolidated range.
type DateParam struct {
	Base
	Bounds       []DateBound
	Consolidated bool
}

// TokenParam matches coded values.
type TokenParam struct{ Base }

// TagParam matches meta.tag through the dedicated tag tables.
type TagParam struct{ Base }

// SecurityParam matches meta.security through the dedicated security tables.
type SecurityParam struct{ Base }

// NumberParam matches decimal values.
type NumberParam struct{ Base }

// QuantityParam matches quantities with optional units.
type QuantityParam struct{ Base }

// CanonicalParam matches canonical references (uri|version#fragment).
type CanonicalParam struct {
	Base
	Values []canonical.Value
}

// CompositeParam matches composites. Each entry of Components corresponds
// to one OR'ed value and lists the AND'ed component nodes.
type CompositeParam struct {
	Base
	Components [][]Param
}

func (p *IDParam) Accept(v Visitor) error          { return v.VisitID(p) }
func (p *LastUpdatedParam) Accept(v Visitor) error { return v.VisitLastUpdated(p) }
func (p *MissingParam) Accept(v Visitor) error     { return v.VisitMissing(p) }
func (p *LocationParam) Accept(v Visitor) error    { return v.VisitLocation(p) }
func (p *StringParam) Accept(v Visitor) error      { return v.VisitString(p) }
func (p *ReferenceParam) Accept(v Visitor) error   { return v.VisitReference(p) }
func (p *ChainedParam) Accept(v Visitor) error     { return v.VisitChained(p) }
func (p *InclusionParam) Accept(v Visitor) error   { return v.VisitInclusion(p) }
func (p *DateParam) Accept(v Visitor) error        { return v.VisitDate(p) }
func (p *TokenParam) Accept(v Visitor) error       { return v.VisitToken(p) }
func (p *TagParam) Accept(v Visitor) error         { return v.VisitTag(p) }
func (p *SecurityParam) Accept(v Visitor) error    { return v.VisitSecurity(p) }
func (p *NumberParam) Accept(v Visitor) error      { return v.VisitNumber(p) }
func (p *QuantityParam) Accept(v Visitor) error    { return v.VisitQuantity(p) }
func (p *CanonicalParam) Accept(v Visitor) error   { return v.VisitCanonical(p) }
func (p *CompositeParam) Accept(v Visitor) error   { return v.VisitComposite(p) }

// Constructors.

func NewID(rt string, p param.QueryParameter) *IDParam { return &IDParam{newBase(rt, p)} }
func NewLastUpdated(rt string, p param.QueryParameter) *LastUpdatedParam {
	return &LastUpdatedParam{newBase(rt, p)}
}
func NewMissing(rt string, p param.QueryParameter, missing bool) *MissingParam {
	return &MissingParam{Base: newBase(rt, p), Missing: missing}
}
func NewLocation(rt string, p param.QueryParameter, areas []Area) *LocationParam {
	return &LocationParam{Base: newBase(rt, p), Areas: areas}
}
func NewString(rt string, p param.QueryParameter) *StringParam { return &StringParam{newBase(rt, p)} }
func NewReference(rt string, p param.QueryParameter) *ReferenceParam {
	return &ReferenceParam{newBase(rt, p)}
}
func NewChained(rt string, p param.QueryParameter, hops []Hop, target Param) *ChainedParam {
	return &ChainedParam{Base: newBase(rt, p), Hops: hops, Target: target}
}
func NewInclusion(rt string, p param.QueryParameter, codes []string) *InclusionParam {
	return &InclusionParam{Base: newBase(rt, p), Codes: codes}
}
func NewDate(rt string, p param.QueryParameter, bounds []DateBound, consolidated bool) *DateParam {
	return &DateParam{Base: newBase(rt, p), Bounds: bounds, Consolidated: consolidated}
}
func NewToken(rt string, p param.QueryParameter) *TokenParam       { return &TokenParam{newBase(rt, p)} }
func NewTag(rt string, p param.QueryParameter) *TagParam           { return &TagParam{newBase(rt, p)} }
func NewSecurity(rt string, p param.QueryParameter) *SecurityParam { return &SecurityParam{newBase(rt, p)} }
func NewNumber(rt string, p param.QueryParameter) *NumberParam     { return &NumberParam{newBase(rt, p)} }
func NewQuantity(rt string, p param.QueryParameter) *QuantityParam { return &QuantityParam{newBase(rt, p)} }
func NewCanonical(rt string, p param.QueryParameter, values []canonical.Value) *CanonicalParam {
	return &CanonicalParam{Base: newBase(rt, p), Values: values}
}
func NewComposite(rt string, p param.QueryParameter, components [][]Param) *CompositeParam {
	return &CompositeParam{Base: newBase(rt, p), Components: components}
}
