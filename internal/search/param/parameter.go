package param

import "strings"

// Well-known parameter codes.
const (
	CodeID          = "_id"
	CodeLastUpdated = "_lastUpdated"
	CodeTag         = "_tag"
	CodeSecurity    = "_security"
	CodeProfile     = "_profile"
	CodeSource      = "_source"
	CodeURL         = "url"
	CodeNear        = "near"
	CodeHas         = "_has"

	// CodeNearDistance is the legacy distance parameter that overrides the
	// distance of every near value of the same request.
	CodeNearDistance = "near-distance"
)

// QueryParameter is one typed constraint of a search request.
//
// Chain is an owned, ordered list of further parameters whose meaning
// depends on the flags:
//   - Chained: the hops after this reference, the last one holding the values
//     (subject:Patient.organization.name=x -> organization, name).
//   - ReverseChained: the same, evaluated from the referencing resource
//     (_has:Observation:patient:code=x -> code).
//   - InclusionCriteria: alternative reference parameters OR'ed with this one.
//   - otherwise, for DATE: the remaining bounds of a consolidated range.
//
// A QueryParameter is treated as immutable once constructed; use Clone
// before deriving a modified copy.
type QueryParameter struct {
	Code     string
	Type     Type
	Modifier Modifier
	// ModifierResourceType is the resource type named by a :Type modifier,
	// or the source type of a reverse chain.
	ModifierResourceType string
	Values               []Value

	Chained           bool
	ReverseChained    bool
	InclusionCriteria bool
	// Canonical marks uri parameters whose values are canonical references.
	Canonical bool

	Chain []QueryParameter
}

// Clone returns a deep copy of p.
func (p QueryParameter) Clone() QueryParameter {
	c := p
	if p.Values != nil {
		c.Values = make([]Value, len(p.Values))
		for i, v := range p.Values {
			c.Values[i] = v.clone()
		}
	}
	if p.Chain != nil {
		c.Chain = make([]QueryParameter, len(p.Chain))
		for i, next := range p.Chain {
			c.Chain[i] = next.Clone()
		}
	}
	return c
}

func (v Value) clone() Value {
	c := v
	if v.Date != nil {
		d := *v.Date
		c.Date = &d
	}
	if v.Number != nil {
		n := *v.Number
		c.Number = &n
	}
	if v.Location != nil {
		l := *v.Location
		c.Location = &l
	}
	if v.Component != nil {
		c.Component = make([]QueryParameter, len(v.Component))
		for i, comp := range v.Component {
			c.Component[i] = comp.Clone()
		}
	}
	return c
}

// WithChain returns a copy of p whose chain is replaced by next.
func (p QueryParameter) WithChain(next ...QueryParameter) QueryParameter {
	c := p.Clone()
	c.Chain = nil
	for _, n := range next {
		c.Chain = append(c.Chain, n.Clone())
	}
	return c
}

// Last returns the final hop of a chained parameter, or p itself.
func (p QueryParameter) Last() QueryParameter {
	if len(p.Chain) == 0 {
		return p
	}
	return p.Chain[len(p.Chain)-1]
}

// Name returns the code with its modifier, as written in a request.
func (p QueryParameter) Name() string {
	switch {
	case p.ReverseChained:
		return CodeHas + ":" + p.ModifierResourceType + ":" + p.Code
	case p.Modifier == ModifierType:
		return p.Code + ":" + p.ModifierResourceType
	case p.Modifier != ModifierNone:
		return p.Code + ":" + string(p.Modifier)
	default:
		return p.Code
	}
}

func (p QueryParameter) String() string {
	var b strings.Builder
	b.WriteString(p.Name())
	if (p.Chained || p.ReverseChained) && len(p.Chain) > 0 {
		for _, hop := range p.Chain {
			if p.ReverseChained {
				b.WriteString(":")
			} else {
				b.WriteString(".")
			}
			b.WriteString(hop.Name())
		}
		p = p.Last()
	}
	b.WriteString("=")
	vals := make([]string, len(p.Values))
	for i, v := range p.Values {
		vals[i] = v.String()
	}
	b.WriteString(strings.Join(vals, ","))
	return b.String()
}
