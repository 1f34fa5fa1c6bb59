package builder

import (
	"time"

	"github.com/ehr/fhirquery/internal/search/domain"
	"github.com/ehr/fhirquery/internal/search/param"
)

// dateBound is the most restrictive bound seen so far in one bucket.
type dateBound struct {
	p      param.QueryParameter
	prefix param.Prefix
	value  param.DateValue
	// at is the instant of the value the prefix compares against.
	at time.Time
}

// consolidateDates merges the parameters of one date code into a single
// consolidated node holding at most four bounds: the tightest lower bound
// (gt or ge), sa, eb and the tightest upper bound (lt or le), in that order.
// Prefixes outside those buckets pass through as their own nodes.
//
// A group with one parameter, or in which any parameter has a modifier, is
// chained, is an inclusion criterion or has more than one value, is not
// consolidated: each parameter becomes its own node.
func (b *Builder) consolidateDates(resourceType string, group []param.QueryParameter) ([]domain.Param, error) {
	if !consolidatable(group) {
		return b.classifyEach(resourceType, group)
	}

	var (
		lower, upper, sa, eb *dateBound
		passthrough          []param.QueryParameter
	)
	for _, p := range group {
		v := p.Values[0]
		d := *v.Date
		switch v.Prefix {
		case param.PrefixGt:
			lower = tighterLower(lower, &dateBound{p: p, prefix: v.Prefix, value: d, at: d.UpperBound()})
		case param.PrefixGe:
			lower = tighterLower(lower, &dateBound{p: p, prefix: v.Prefix, value: d, at: d.LowerBound()})
		case param.PrefixSa:
			sa = later(sa, &dateBound{p: p, prefix: v.Prefix, value: d, at: d.UpperBound()})
		case param.PrefixLt:
			upper = tighterUpper(upper, &dateBound{p: p, prefix: v.Prefix, value: d, at: d.LowerBound()})
		case param.PrefixLe:
			upper = tighterUpper(upper, &dateBound{p: p, prefix: v.Prefix, value: d, at: d.UpperBound()})
		case param.PrefixEb:
			eb = earlier(eb, &dateBound{p: p, prefix: v.Prefix, value: d, at: d.LowerBound()})
		default:
			passthrough = append(passthrough, p)
		}
	}

	// A target range never ends before it starts, so starting after an
	// instant at or past the lower bound already satisfies it.
	if sa != nil && lower != nil && !sa.at.Before(lower.at) {
		lower = nil
	}
	if eb != nil && upper != nil && !eb.at.After(upper.at) {
		upper = nil
	}

	var kept []*dateBound
	for _, bd := range []*dateBound{lower, sa, eb, upper} {
		if bd != nil {
			kept = append(kept, bd)
		}
	}

	b.logger.Debug().
		Str("code", group[0].Code).
		Int("parameters", len(group)).
		Int("kept_bounds", len(kept)).
		Int("passthrough", len(passthrough)).
		Msg("consolidated date parameters")

	var nodes []domain.Param
	if len(kept) > 0 {
		bounds := make([]domain.DateBound, len(kept))
		chain := make([]param.QueryParameter, 0, len(kept)-1)
		for i, bd := range kept {
			bounds[i] = domain.DateBound{Prefix: bd.prefix, Value: bd.value}
			if i > 0 {
				chain = append(chain, bd.p)
			}
		}
		head := kept[0].p.WithChain(chain...)
		nodes = append(nodes, domain.NewDate(resourceType, head, bounds, true))
	}
	rest, err := b.classifyEach(resourceType, passthrough)
	if err != nil {
		return nil, err
	}
	return append(nodes, rest...), nil
}

func consolidatable(group []param.QueryParameter) bool {
	if len(group) < 2 {
		return false
	}
	for _, p := range group {
		if p.Modifier != param.ModifierNone || p.Chained || p.ReverseChained || p.InclusionCriteria {
			return false
		}
		if len(p.Values) != 1 || p.Values[0].Date == nil {
			return false
		}
	}
	return true
}

func (b *Builder) classifyEach(resourceType string, params []param.QueryParameter) ([]domain.Param, error) {
	nodes := make([]domain.Param, 0, len(params))
	for _, p := range params {
		node, err := b.classify(resourceType, p)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// tighterLower keeps the later lower bound. On equal instants gt beats ge
// and otherwise the first one seen is kept.
func tighterLower(cur, next *dateBound) *dateBound {
	switch {
	case cur == nil || next.at.After(cur.at):
		return next
	case next.at.Equal(cur.at) && next.prefix == param.PrefixGt && cur.prefix == param.PrefixGe:
		return next
	default:
		return cur
	}
}

// tighterUpper keeps the earlier upper bound. On equal instants lt beats le
// and otherwise the first one seen is kept.
func tighterUpper(cur, next *dateBound) *dateBound {
	switch {
	case cur == nil || next.at.Before(cur.at):
		return next
	case next.at.Equal(cur.at) && next.prefix == param.PrefixLt && cur.prefix == param.PrefixLe:
		return next
	default:
		return cur
	}
}

func later(cur, next *dateBound) *dateBound {
	if cur == nil || next.at.After(cur.at) {
		return next
	}
	return cur
}

func earlier(cur, next *dateBound) *dateBound {
	if cur == nil || next.at.Before(cur.at) {
		return next
	}
	return cur
}
