// Package parse turns the query string of a FHIR search request into a
// search.SearchContext, resolving every parameter against the registry.
//
// Keys are processed in sorted order so that the same query string always
// yields the same context. Comma-separated values of one key are
// alternatives; a repeated key adds another parameter that must also hold.
//
// A whole-system search resolves a code Resource does not define against
// the _type list, or every concrete type when there is none. The code is
// accepted when all of those types define it with the same search type.
package parse

import (
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"

	"github.com/ehr/fhirquery/internal/search"
	"github.com/ehr/fhirquery/internal/search/param"
	"github.com/ehr/fhirquery/internal/search/registry"
	"github.com/ehr/fhirquery/pkg/pagination"
)

// Control parameters.
const (
	keySort       = "_sort"
	keyInclude    = "_include"
	keyRevInclude = "_revinclude"
	keyType       = "_type"
	keyCount      = "_count"
	keyPage       = "_page"
)

// ignored are result-shaping parameters with no effect on the query.
var ignored = map[string]bool{
	keyCount:         true,
	keyPage:          true,
	"_format":        true,
	"_pretty":        true,
	"_summary":       true,
	"_elements":      true,
	"_total":         true,
	"_contained":     true,
	"_containedType": true,
}

// DefaultMaxIncludeCount caps the resources an include query may return.
const DefaultMaxIncludeCount = 1000

// Parser is read-only after construction and safe for concurrent use.
type Parser struct {
	reg             *registry.Registry
	limits          pagination.Limits
	maxIncludeCount int
}

// Option configures a Parser.
type Option func(*Parser)

// WithLimits sets the default and maximum page size.
func WithLimits(l pagination.Limits) Option {
	return func(p *Parser) { p.limits = l }
}

// WithMaxIncludeCount sets the include cap copied into every context.
func WithMaxIncludeCount(n int) Option {
	return func(p *Parser) { p.maxIncludeCount = n }
}

// New returns a Parser resolving parameters against reg.
func New(reg *registry.Registry, opts ...Option) *Parser {
	p := &Parser{
		reg:             reg,
		limits:          pagination.DefaultLimits(),
		maxIncludeCount: DefaultMaxIncludeCount,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse parses the query of a search on resourceType. An empty
// resourceType, or Resource, is a whole-system search.
func (p *Parser) Parse(resourceType string, q url.Values) (search.SearchContext, error) {
	if resourceType == "" {
		resourceType = search.ResourceTypeAny
	}
	if !p.reg.HasResourceType(resourceType) {
		return search.SearchContext{}, search.Invalid(keyType, "unknown resource type %q", resourceType)
	}

	page := pagination.FromValues(q, p.limits)
	ctx := search.SearchContext{
		ResourceType:    resourceType,
		PageNumber:      page.PageNumber,
		PageSize:        page.PageSize,
		MaxIncludeCount: p.maxIncludeCount,
	}

	// _type narrows how every other code of a whole-system search resolves.
	for _, raw := range q[keyType] {
		if err := p.apply(&ctx, keyType, raw); err != nil {
			return search.SearchContext{}, err
		}
	}

	// url.Values has no order. Lexical key order is what the builder's
	// stable priority sort starts from.
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if ignored[key] || key == keyType {
			continue
		}
		for _, raw := range q[key] {
			if err := p.apply(&ctx, key, raw); err != nil {
				return search.SearchContext{}, err
			}
		}
	}
	return ctx, nil
}

// ParseCompartment parses a search of resourceType within the compartment
// compartmentType/id, e.g. Patient/123/Observation.
func (p *Parser) ParseCompartment(compartmentType, id, resourceType string, q url.Values) (search.SearchContext, error) {
	if id == "" {
		return search.SearchContext{}, search.Invalid(compartmentType, "compartment id is empty")
	}
	codes, ok := p.reg.CompartmentParams(compartmentType, resourceType)
	if !ok {
		return search.SearchContext{}, search.Invalid(compartmentType, "%s is not a member of the %s compartment", resourceType, compartmentType)
	}
	ctx, err := p.Parse(resourceType, q)
	if err != nil {
		return search.SearchContext{}, err
	}

	criterion := param.QueryParameter{
		Code:              codes[0],
		Type:              param.TypeReference,
		Values:            []param.Value{param.ReferenceValue(compartmentType, id)},
		InclusionCriteria: true,
	}
	for _, code := range codes[1:] {
		criterion.Chain = append(criterion.Chain, param.QueryParameter{Code: code, Type: param.TypeReference})
	}
	ctx.Parameters = append([]param.QueryParameter{criterion}, ctx.Parameters...)
	ctx.Compartment = &search.Compartment{Type: compartmentType, ID: id}
	return ctx, nil
}

func (p *Parser) apply(ctx *search.SearchContext, key, raw string) error {
	switch name, mod, _ := strings.Cut(key, ":"); name {
	case keySort:
		sorts, err := p.sort(ctx.ResourceType, p.candidates(*ctx), raw)
		if err != nil {
			return err
		}
		ctx.Sort = append(ctx.Sort, sorts...)
		return nil
	case keyInclude, keyRevInclude:
		inclusions, err := p.inclusion(ctx.ResourceType, name, mod, raw)
		if err != nil {
			return err
		}
		ctx.Inclusions = append(ctx.Inclusions, inclusions...)
		return nil
	case keyType:
		if !ctx.IsWholeSystem() {
			return search.Invalid(keyType, "only valid on a whole-system search")
		}
		for _, rt := range split(raw, ',') {
			if !p.reg.HasResourceType(rt) {
				return search.Invalid(keyType, "unknown resource type %q", rt)
			}
			if !contains(ctx.ResourceTypes, rt) {
				ctx.ResourceTypes = append(ctx.ResourceTypes, rt)
			}
		}
		return nil
	}

	qp, err := p.parameter(ctx.ResourceType, p.candidates(*ctx), key, raw)
	if err != nil {
		return err
	}
	ctx.Parameters = append(ctx.Parameters, qp)
	return nil
}

// parameter parses one key=value pair. Chained keys become a head parameter
// whose Chain holds the remaining hops and, last, the terminal parameter.
func (p *Parser) parameter(resourceType string, candidates []string, key, raw string) (param.QueryParameter, error) {
	hops, rt, name, err := p.hops(resourceType, candidates, key)
	if err != nil {
		return param.QueryParameter{}, err
	}
	leaf, err := p.leaf(rt, candidates, name, raw)
	if err != nil {
		return param.QueryParameter{}, err
	}
	if len(hops) == 0 {
		return leaf, nil
	}
	head := hops[0]
	head.Chain = append(hops[1:], leaf)
	return head, nil
}

// hops consumes the reverse (_has:Type:ref:) and forward (ref:Type.) chain
// segments at the start of key. It returns them with the resource type and
// name of the terminal parameter.
func (p *Parser) hops(resourceType string, candidates []string, key string) ([]param.QueryParameter, string, string, error) {
	var hops []param.QueryParameter
	current, rest := resourceType, key
	for {
		if strings.HasPrefix(rest, param.CodeHas+":") {
			parts := strings.SplitN(rest, ":", 4)
			if len(parts) < 4 || parts[3] == "" {
				return nil, "", "", search.Invalid(key, "expected _has:Type:reference:parameter")
			}
			source, code := parts[1], parts[2]
			if !p.reg.HasResourceType(source) {
				return nil, "", "", search.Invalid(key, "unknown resource type %q", source)
			}
			def, err := p.reference(key, source, nil, code)
			if err != nil {
				return nil, "", "", err
			}
			if len(def.Targets) > 0 && !contains(def.Targets, current) {
				return nil, "", "", search.Invalid(key, "%s.%s does not refer to %s", source, code, current)
			}
			hops = append(hops, param.QueryParameter{
				Code:                 code,
				Type:                 param.TypeReference,
				ModifierResourceType: source,
				ReverseChained:       true,
			})
			current, rest = source, parts[3]
			continue
		}

		segment, tail, chained := strings.Cut(rest, ".")
		if !chained {
			return hops, current, rest, nil
		}
		hop, err := p.forward(key, current, candidates, segment)
		if err != nil {
			return nil, "", "", err
		}
		hops = append(hops, hop)
		current, rest = hop.ModifierResourceType, tail
	}
}

// forward resolves one ref[:Type] segment of a chain. Without an explicit
// type the reference must have exactly one declared target.
func (p *Parser) forward(key, resourceType string, candidates []string, segment string) (param.QueryParameter, error) {
	code, mod, target, err := param.SplitModifier(segment)
	if err != nil {
		return param.QueryParameter{}, search.Invalid(key, "%v", err)
	}
	if mod != param.ModifierNone && mod != param.ModifierType {
		return param.QueryParameter{}, search.Invalid(key, "modifier %q cannot be chained", mod)
	}
	def, err := p.reference(key, resourceType, candidates, code)
	if err != nil {
		return param.QueryParameter{}, err
	}
	switch {
	case target != "":
		if len(def.Targets) > 0 && !contains(def.Targets, target) {
			return param.QueryParameter{}, search.Invalid(key, "%s.%s cannot refer to %s", resourceType, code, target)
		}
	case len(def.Targets) == 1:
		target = def.Targets[0]
	default:
		return param.QueryParameter{}, search.Invalid(key, "chain through %s.%s needs a :Type modifier", resourceType, code)
	}
	return param.QueryParameter{
		Code:                 code,
		Type:                 param.TypeReference,
		Modifier:             param.ModifierType,
		ModifierResourceType: target,
		Chained:              true,
	}, nil
}

func (p *Parser) reference(key, resourceType string, candidates []string, code string) (registry.Definition, error) {
	def, ok := p.lookup(resourceType, candidates, code)
	if !ok {
		return registry.Definition{}, search.Invalid(key, "unknown parameter %q on %s", code, resourceType)
	}
	if def.Type != param.TypeReference {
		return registry.Definition{}, search.Invalid(key, "%s.%s is not a reference", resourceType, code)
	}
	return def, nil
}

// leaf parses name=raw against resourceType.
func (p *Parser) leaf(resourceType string, candidates []string, name, raw string) (param.QueryParameter, error) {
	code, mod, typeName, err := param.SplitModifier(name)
	if err != nil {
		return param.QueryParameter{}, search.Invalid(name, "%v", err)
	}
	def, ok := p.lookup(resourceType, candidates, code)
	if !ok {
		return param.QueryParameter{}, search.Invalid(name, "unknown parameter on %s", resourceType)
	}
	qp := param.QueryParameter{
		Code:                 code,
		Type:                 def.Type,
		Modifier:             mod,
		ModifierResourceType: typeName,
		Canonical:            def.Canonical,
	}

	switch mod {
	case param.ModifierMissing:
		if raw != "true" && raw != "false" {
			return param.QueryParameter{}, search.Invalid(name, "expected true or false, got %q", raw)
		}
		qp.Values = []param.Value{param.StringValue(raw)}
		return qp, nil
	case param.ModifierType:
		if def.Type != param.TypeReference {
			return param.QueryParameter{}, search.Invalid(name, "a type modifier needs a reference parameter")
		}
		if len(def.Targets) > 0 && !contains(def.Targets, typeName) {
			return param.QueryParameter{}, search.Invalid(name, "%s.%s cannot refer to %s", resourceType, code, typeName)
		}
	}

	for _, s := range split(raw, ',') {
		v, err := p.value(resourceType, candidates, def, s)
		if err != nil {
			return param.QueryParameter{}, search.Invalid(name, "%v", err)
		}
		if def.Type == param.TypeReference && v.ResourceType != "" && !p.reg.HasResourceType(v.ResourceType) {
			return param.QueryParameter{}, search.Invalid(name, "unknown resource type %q", v.ResourceType)
		}
		qp.Values = append(qp.Values, v)
	}
	if len(qp.Values) == 0 {
		return param.QueryParameter{}, search.Invalid(name, "no value")
	}
	return qp, nil
}

// value parses one alternative. Composite values are split on '$' into one
// parameter per declared component.
func (p *Parser) value(resourceType string, candidates []string, def registry.Definition, raw string) (param.Value, error) {
	if def.Type != param.TypeComposite {
		return param.ParseValue(def.Type, raw)
	}
	parts := split(raw, '$')
	if len(parts) != len(def.Components) {
		return param.Value{}, fmt.Errorf("expected %d components, got %d", len(def.Components), len(parts))
	}
	v := param.Value{Prefix: param.PrefixEq, Text: raw}
	for i, code := range def.Components {
		cdef, ok := p.lookup(resourceType, candidates, code)
		if !ok {
			return param.Value{}, fmt.Errorf("unknown component %q", code)
		}
		cv, err := param.ParseValue(cdef.Type, parts[i])
		if err != nil {
			return param.Value{}, err
		}
		v.Component = append(v.Component, param.QueryParameter{
			Code:   code,
			Type:   cdef.Type,
			Values: []param.Value{cv},
		})
	}
	return v, nil
}

// sort parses a _sort value: a comma-separated list of codes, each
// descending when prefixed with '-'.
func (p *Parser) sort(resourceType string, candidates []string, raw string) ([]search.SortParameter, error) {
	var out []search.SortParameter
	for _, s := range split(raw, ',') {
		desc := strings.HasPrefix(s, "-")
		code := strings.TrimPrefix(s, "-")
		def, ok := p.lookup(resourceType, candidates, code)
		if !ok {
			return nil, search.Invalid(keySort, "unknown parameter %q on %s", code, resourceType)
		}
		out = append(out, search.SortParameter{Code: code, Type: def.Type, Descending: desc})
	}
	if len(out) == 0 {
		return nil, search.Invalid(keySort, "no sort parameter")
	}
	return out, nil
}

// inclusion parses Type:reference[:Target]. Without a target an _include
// expands to every declared target of the reference, and a _revinclude
// targets the searched type.
func (p *Parser) inclusion(resourceType, key, mod, raw string) ([]search.InclusionParameter, error) {
	kind := search.Include
	if key == keyRevInclude {
		kind = search.RevInclude
	}
	var iterate bool
	switch mod {
	case "":
	case "iterate", "recurse":
		iterate = true
	default:
		return nil, search.Invalid(key, "unknown modifier %q", mod)
	}

	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, search.Invalid(key, "expected Type:parameter[:Target], got %q", raw)
	}
	join, code := parts[0], parts[1]
	if !p.reg.HasResourceType(join) {
		return nil, search.Invalid(key, "unknown resource type %q", join)
	}
	if kind == search.Include && !iterate && resourceType != search.ResourceTypeAny && join != resourceType {
		return nil, search.Invalid(key, "%s does not apply to a %s search", raw, resourceType)
	}
	def, err := p.reference(key, join, nil, code)
	if err != nil {
		return nil, err
	}

	var targets []string
	switch {
	case len(parts) == 3:
		if len(def.Targets) > 0 && !contains(def.Targets, parts[2]) {
			return nil, search.Invalid(key, "%s.%s cannot refer to %s", join, code, parts[2])
		}
		targets = []string{parts[2]}
	case kind == search.RevInclude && resourceType != search.ResourceTypeAny && !iterate:
		if len(def.Targets) > 0 && !contains(def.Targets, resourceType) {
			return nil, search.Invalid(key, "%s.%s does not refer to %s", join, code, resourceType)
		}
		targets = []string{resourceType}
	default:
		targets = def.Targets
	}
	if len(targets) == 0 {
		return nil, search.Invalid(key, "%s.%s declares no target type", join, code)
	}

	out := make([]search.InclusionParameter, 0, len(targets))
	for _, t := range targets {
		out = append(out, search.InclusionParameter{
			Kind:                      kind,
			JoinResourceType:          join,
			SearchParameter:           code,
			SearchParameterTargetType: t,
			Iterate:                   iterate,
		})
	}
	return out, nil
}

// candidates are the types a code of a whole-system search must resolve on.
// They are nil for a typed search.
func (p *Parser) candidates(ctx search.SearchContext) []string {
	if !ctx.IsWholeSystem() {
		return nil
	}
	if len(ctx.ResourceTypes) > 0 {
		return ctx.ResourceTypes
	}
	var out []string
	for _, rt := range p.reg.ResourceTypes() {
		if rt != search.ResourceTypeAny && rt != search.ResourceTypeDomain {
			out = append(out, rt)
		}
	}
	return out
}

// lookup resolves code on resourceType. On Resource, a code the registry
// does not define there resolves when every candidate defines it with the
// same search type and components. References carry the union of the
// candidates' targets, or none when any candidate leaves them open.
func (p *Parser) lookup(resourceType string, candidates []string, code string) (registry.Definition, bool) {
	def, ok := p.reg.Lookup(resourceType, code)
	if ok || resourceType != search.ResourceTypeAny || len(candidates) == 0 {
		return def, ok
	}

	var (
		merged registry.Definition
		open   bool
	)
	for i, rt := range candidates {
		d, ok := p.reg.Lookup(rt, code)
		if !ok {
			return registry.Definition{}, false
		}
		if i == 0 {
			merged = d
			merged.ResourceType = search.ResourceTypeAny
			merged.Targets = nil
		} else if d.Type != merged.Type || d.Canonical != merged.Canonical || !slices.Equal(d.Components, merged.Components) {
			return registry.Definition{}, false
		}
		if len(d.Targets) == 0 {
			open = true
		}
		for _, t := range d.Targets {
			if !contains(merged.Targets, t) {
				merged.Targets = append(merged.Targets, t)
			}
		}
	}
	if open {
		merged.Targets = nil
	}
	return merged, true
}

// split splits s on sep, honouring backslash-escaped separators. Empty
// parts are dropped.
func split(s string, sep byte) []string {
	var (
		out []string
		b   strings.Builder
	)
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\' && i+1 < len(s) && s[i+1] == sep:
			b.WriteByte(sep)
			i++
		case s[i] == sep:
			if b.Len() > 0 {
				out = append(out, b.String())
			}
			b.Reset()
		default:
			b.WriteByte(s[i])
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
