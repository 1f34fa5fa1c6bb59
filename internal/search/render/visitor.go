package render

import (
	"fmt"
	"strings"

	"github.com/ehr/fhirquery/internal/search"
	"github.com/ehr/fhirquery/internal/search/domain"
	"github.com/ehr/fhirquery/internal/search/param"
)

// visitor collects the predicates of one query, correlated with the
// logical resources row aliased lr of type rt.
type visitor struct {
	r        *Renderer
	st       *statement
	rt       string
	lr       string
	location *domain.LocationExtension
	preds    []string
}

var _ domain.Visitor = (*visitor)(nil)

func (r *Renderer) visitor(st *statement, resourceType, lr string) *visitor {
	return &visitor{r: r, st: st, rt: resourceType, lr: lr}
}

func (v *visitor) add(pred string, err error) error {
	if err != nil {
		return err
	}
	v.preds = append(v.preds, pred)
	return nil
}

// match describes the value rows a predicate runs over.
type match struct {
	suffix string
	// named rows are keyed by parameter_name_id.
	named bool
	join  func(a string) string
	cond  func(a string) (string, error)
}

// exists renders an EXISTS over the rows of m belonging to the current
// resource.
func (v *visitor) exists(code string, m match) (string, error) {
	a := v.st.alias("P")
	join := ""
	if m.join != nil {
		join = m.join(a)
	}
	if !m.named {
		code = ""
	}
	where := v.r.correlate(v.st, a, v.lr, code)
	cond, err := m.cond(a)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("EXISTS (SELECT 1 FROM %s AS %s%s WHERE %s AND %s)", table(v.rt, m.suffix), a, join, where, cond), nil
}

func unsupportedModifier(p param.QueryParameter) error {
	return search.Invalid(p.Name(), "modifier %q is not supported for %s parameters", p.Modifier, p.Type)
}

func tokenText(val param.Value) string {
	if val.Code != "" {
		return val.Code
	}
	return val.Text
}

func (v *visitor) VisitID(p *domain.IDParam) error {
	ids := make([]string, 0, len(p.Parameter.Values))
	for _, val := range p.Parameter.Values {
		ids = append(ids, tokenText(val))
	}
	pred := fmt.Sprintf("%s.logical_id = ANY(%s)", v.lr, v.st.arg(ids))
	switch p.Parameter.Modifier {
	case param.ModifierNone:
	case param.ModifierNot:
		pred = "NOT " + pred
	default:
		return unsupportedModifier(p.Parameter)
	}
	return v.add(pred, nil)
}

func (v *visitor) VisitLastUpdated(p *domain.LastUpdatedParam) error {
	col := v.lr + ".last_updated"
	alts := make([]string, 0, len(p.Parameter.Values))
	for _, val := range p.Parameter.Values {
		if val.Date == nil {
			return search.Invalid(p.Code, "value %q is not a date", val.Text)
		}
		alts = append(alts, v.dateCond(col, col, domain.DateBound{Prefix: val.Prefix, Value: *val.Date}))
	}
	return v.add(or(alts), nil)
}

func (v *visitor) VisitMissing(p *domain.MissingParam) error {
	switch p.Code {
	case param.CodeID, param.CodeLastUpdated:
		if p.Missing {
			return v.add("FALSE", nil)
		}
		return v.add("TRUE", nil)
	}

	suffix, named := v.r.valueTable(p.Parameter)
	a := v.st.alias("P")
	code := ""
	if named {
		code = p.Code
	}
	pred := fmt.Sprintf("EXISTS (SELECT 1 FROM %s AS %s WHERE %s)", table(v.rt, suffix), a, v.r.correlate(v.st, a, v.lr, code))
	if p.Missing {
		pred = "NOT " + pred
	}
	return v.add(pred, nil)
}

func (v *visitor) VisitLocation(p *domain.LocationParam) error {
	areas := p.Areas
	if v.location != nil {
		areas = v.location.AreasFor(p.Code)
	}
	if len(areas) == 0 {
		return v.add("FALSE", nil)
	}
	return v.add(v.exists(p.Code, match{
		suffix: tableLatLngValues,
		named:  true,
		cond: func(a string) (string, error) {
			alts := make([]string, 0, len(areas))
			for _, area := range areas {
				alts = append(alts, fmt.Sprintf("(%s.latitude_value BETWEEN %s AND %s AND %s.longitude_value BETWEEN %s AND %s)",
					a, v.st.arg(area.MinLatitude), v.st.arg(area.MaxLatitude),
					a, v.st.arg(area.MinLongitude), v.st.arg(area.MaxLongitude)))
			}
			return or(alts), nil
		},
	}))
}

func (v *visitor) VisitString(p *domain.StringParam) error {
	m, err := v.stringMatch(p.Parameter)
	if err != nil {
		return err
	}
	return v.add(v.exists(p.Code, m))
}

func (v *visitor) stringMatch(p param.QueryParameter) (match, error) {
	switch p.Modifier {
	case param.ModifierNone, param.ModifierExact, param.ModifierContains:
	default:
		return match{}, unsupportedModifier(p)
	}
	return match{
		suffix: tableStrValues,
		named:  true,
		cond: func(a string) (string, error) {
			alts := make([]string, 0, len(p.Values))
			for _, val := range p.Values {
				switch {
				case p.Modifier == param.ModifierExact || p.Type == param.TypeURI:
					alts = append(alts, fmt.Sprintf("%s.str_value = %s", a, v.st.arg(val.Text)))
				case p.Modifier == param.ModifierContains:
					alts = append(alts, fmt.Sprintf("%s.str_value_lcase LIKE %s", a, v.st.arg("%"+escapeLike(normalize(val.Text))+"%")))
				default:
					alts = append(alts, fmt.Sprintf("%s.str_value_lcase LIKE %s", a, v.st.arg(escapeLike(normalize(val.Text))+"%")))
				}
			}
			return or(alts), nil
		},
	}, nil
}

func (v *visitor) VisitReference(p *domain.ReferenceParam) error {
	m, err := v.referenceMatch(p.Parameter)
	if err != nil {
		return err
	}
	return v.add(v.exists(p.Code, m))
}

func (v *visitor) referenceMatch(p param.QueryParameter) (match, error) {
	switch p.Modifier {
	case param.ModifierNone, param.ModifierType:
	default:
		return match{}, unsupportedModifier(p)
	}
	return match{
		suffix: tableRefValues,
		named:  true,
		cond: func(a string) (string, error) {
			alts := make([]string, 0, len(p.Values))
			for _, val := range p.Values {
				rt := val.ResourceType
				if rt == "" && p.Modifier == param.ModifierType {
					rt = p.ModifierResourceType
				}
				if rt == "" {
					alts = append(alts, fmt.Sprintf("%s.ref_logical_id = %s", a, v.st.arg(val.ID)))
					continue
				}
				id, err := v.r.typeID(rt)
				if err != nil {
					return "", err
				}
				alts = append(alts, fmt.Sprintf("(%s.ref_resource_type_id = %s AND %s.ref_logical_id = %s)",
					a, v.st.arg(id), a, v.st.arg(val.ID)))
			}
			return or(alts), nil
		},
	}, nil
}

func (v *visitor) VisitChained(p *domain.ChainedParam) error {
	return v.add(v.hop(p.Hops, v.lr, p.Target))
}

// hop renders the first of hops as an EXISTS joining the referenced (or,
// for reverse hops, referencing) resource, nesting the remaining hops and
// finally the target predicate inside it.
func (v *visitor) hop(hops []domain.Hop, lr string, target domain.Param) (string, error) {
	if len(hops) == 0 {
		child := v.r.visitor(v.st, target.Node().ResourceType, lr)
		if err := target.Accept(child); err != nil {
			return "", err
		}
		return and(child.preds), nil
	}

	h := hops[0]
	ref := v.st.alias("R")
	next := v.st.alias("LR")
	var join, where string
	if h.Reverse {
		id, err := v.r.typeID(h.TargetType)
		if err != nil {
			return "", err
		}
		join = fmt.Sprintf(" JOIN %s AS %s ON %s.logical_resource_id = %s.logical_resource_id%s AND %s.is_deleted = 'N'",
			table(h.SourceType, tableLogicalResources), next, next, ref, v.r.shard(next, ref), next)
		where = fmt.Sprintf("%s.parameter_name_id = %s AND %s.ref_resource_type_id = %s AND %s.ref_logical_id = %s.logical_id",
			ref, v.st.arg(v.r.cache.ParameterNameID(h.Code)), ref, v.st.arg(id), ref, lr)
	} else {
		id, err := v.r.typeID(h.TargetType)
		if err != nil {
			return "", err
		}
		join = fmt.Sprintf(" JOIN %s AS %s ON %s.logical_id = %s.ref_logical_id AND %s.is_deleted = 'N'",
			table(h.TargetType, tableLogicalResources), next, next, ref, next)
		where = fmt.Sprintf("%s AND %s.ref_resource_type_id = %s",
			v.r.correlate(v.st, ref, lr, h.Code), ref, v.st.arg(id))
	}

	inner, err := v.hop(hops[1:], next, target)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("EXISTS (SELECT 1 FROM %s AS %s%s WHERE %s AND %s)",
		table(h.SourceType, tableRefValues), ref, join, where, inner), nil
}

func (v *visitor) VisitInclusion(p *domain.InclusionParam) error {
	if len(p.Parameter.Values) == 0 {
		return search.Invalid(p.Code, "compartment criterion without a reference")
	}
	ref := p.Parameter.Values[0]
	id, err := v.r.typeID(ref.ResourceType)
	if err != nil {
		return err
	}
	names := make([]int, len(p.Codes))
	for i, code := range p.Codes {
		names[i] = v.r.cache.ParameterNameID(code)
	}
	a := v.st.alias("P")
	return v.add(fmt.Sprintf("EXISTS (SELECT 1 FROM %s AS %s WHERE %s AND %s.parameter_name_id = ANY(%s) AND %s.ref_resource_type_id = %s AND %s.ref_logical_id = %s)",
		table(v.rt, tableRefValues), a, v.r.correlate(v.st, a, v.lr, ""),
		a, v.st.arg(names), a, v.st.arg(id), a, v.st.arg(ref.ID)), nil)
}

func (v *visitor) VisitDate(p *domain.DateParam) error {
	if p.Parameter.Modifier != param.ModifierNone {
		return unsupportedModifier(p.Parameter)
	}
	return v.add(v.exists(p.Code, v.dateMatch(p)))
}

// dateMatch ANDs the bounds of a consolidated node and ORs the values of
// any other.
func (v *visitor) dateMatch(p *domain.DateParam) match {
	return match{
		suffix: tableDateValues,
		named:  true,
		cond: func(a string) (string, error) {
			conds := make([]string, 0, len(p.Bounds))
			for _, bd := range p.Bounds {
				conds = append(conds, v.dateCond(a+".date_start", a+".date_end", bd))
			}
			if p.Consolidated {
				return and(conds), nil
			}
			return or(conds), nil
		},
	}
}

func (v *visitor) VisitToken(p *domain.TokenParam) error {
	return v.tokenExists(p.Parameter, tableTokenRefs, true)
}

func (v *visitor) VisitTag(p *domain.TagParam) error {
	return v.tokenExists(p.Parameter, tableTags, false)
}

func (v *visitor) VisitSecurity(p *domain.SecurityParam) error {
	return v.tokenExists(p.Parameter, tableSecurity, false)
}

func (v *visitor) tokenExists(p param.QueryParameter, suffix string, named bool) error {
	m, err := v.tokenMatch(p, suffix, named)
	if err != nil {
		return err
	}
	pred, err := v.exists(p.Code, m)
	if err != nil {
		return err
	}
	if p.Modifier == param.ModifierNot {
		pred = "NOT " + pred
	}
	return v.add(pred, nil)
}

func (v *visitor) tokenMatch(p param.QueryParameter, suffix string, named bool) (match, error) {
	switch p.Modifier {
	case param.ModifierNone, param.ModifierNot:
	default:
		return match{}, unsupportedModifier(p)
	}
	return match{
		suffix: suffix,
		named:  named,
		join:   tokenJoin,
		cond: func(a string) (string, error) {
			t := tokenAlias(a)
			alts := make([]string, 0, len(p.Values))
			for _, val := range p.Values {
				var conds []string
				if val.Code != "" {
					conds = append(conds, fmt.Sprintf("%s.token_value = %s", t, v.st.arg(val.Code)))
				}
				switch {
				case val.System != "":
					conds = append(conds, fmt.Sprintf("%s.code_system_id = %s", t, v.st.arg(v.r.cache.CodeSystemID(val.System))))
				case val.HasExplicitNoSystem():
					conds = append(conds, t+".code_system_id IS NULL")
				}
				switch len(conds) {
				case 0:
					return "", search.Invalid(p.Name(), "empty token value")
				case 1:
					alts = append(alts, conds[0])
				default:
					alts = append(alts, "("+and(conds)+")")
				}
			}
			return or(alts), nil
		},
	}, nil
}

func (v *visitor) VisitNumber(p *domain.NumberParam) error {
	m, err := v.numberMatch(p.Parameter)
	if err != nil {
		return err
	}
	return v.add(v.exists(p.Code, m))
}

func (v *visitor) numberMatch(p param.QueryParameter) (match, error) {
	if p.Modifier != param.ModifierNone {
		return match{}, unsupportedModifier(p)
	}
	return match{
		suffix: tableNumberValues,
		named:  true,
		cond: func(a string) (string, error) {
			alts := make([]string, 0, len(p.Values))
			for _, val := range p.Values {
				if val.Number == nil {
					return "", search.Invalid(p.Name(), "value %q is not a number", val.Text)
				}
				alts = append(alts, v.numberCond(a+".number_value", val.Prefix, *val.Number))
			}
			return or(alts), nil
		},
	}, nil
}

func (v *visitor) VisitQuantity(p *domain.QuantityParam) error {
	m, err := v.quantityMatch(p.Parameter)
	if err != nil {
		return err
	}
	return v.add(v.exists(p.Code, m))
}

func (v *visitor) quantityMatch(p param.QueryParameter) (match, error) {
	if p.Modifier != param.ModifierNone {
		return match{}, unsupportedModifier(p)
	}
	return match{
		suffix: tableQuantityValues,
		named:  true,
		cond: func(a string) (string, error) {
			alts := make([]string, 0, len(p.Values))
			for _, val := range p.Values {
				if val.Number == nil {
					return "", search.Invalid(p.Name(), "value %q is not a quantity", val.Text)
				}
				conds := []string{v.numberCond(a+".quantity_value", val.Prefix, *val.Number)}
				if val.Code != "" {
					conds = append(conds, fmt.Sprintf("%s.code = %s", a, v.st.arg(val.Code)))
				}
				if val.System != "" {
					conds = append(conds, fmt.Sprintf("%s.code_system_id = %s", a, v.st.arg(v.r.cache.CodeSystemID(val.System))))
				}
				if len(conds) == 1 {
					alts = append(alts, conds[0])
				} else {
					alts = append(alts, "("+and(conds)+")")
				}
			}
			return or(alts), nil
		},
	}, nil
}

func (v *visitor) VisitCanonical(p *domain.CanonicalParam) error {
	if p.Parameter.Modifier != param.ModifierNone {
		return unsupportedModifier(p.Parameter)
	}
	if p.Code == param.CodeProfile && !v.r.legacy {
		return v.add(v.exists(p.Code, match{
			suffix: tableProfiles,
			join:   canonicalJoin,
			cond: func(a string) (string, error) {
				c := canonicalAlias(a)
				alts := make([]string, 0, len(p.Values))
				for _, cv := range p.Values {
					conds := []string{fmt.Sprintf("%s.url = %s", c, v.st.arg(cv.URI))}
					if cv.HasVersion() {
						conds = append(conds, fmt.Sprintf("%s.version = %s", a, v.st.arg(cv.Version)))
					}
					if cv.HasFragment() {
						conds = append(conds, fmt.Sprintf("%s.fragment = %s", a, v.st.arg(cv.Fragment)))
					}
					if len(conds) == 1 {
						alts = append(alts, conds[0])
					} else {
						alts = append(alts, "("+and(conds)+")")
					}
				}
				return or(alts), nil
			},
		}))
	}

	// Other canonical parameters are indexed as strings of the form
	// uri[|version]; an unversioned value matches every version.
	return v.add(v.exists(p.Code, match{
		suffix: tableStrValues,
		named:  true,
		cond: func(a string) (string, error) {
			alts := make([]string, 0, len(p.Values))
			for _, cv := range p.Values {
				if cv.HasVersion() {
					alts = append(alts, fmt.Sprintf("%s.str_value = %s", a, v.st.arg(cv.URI+"|"+cv.Version)))
					continue
				}
				alts = append(alts, fmt.Sprintf("(%s.str_value = %s OR %s.str_value LIKE %s)",
					a, v.st.arg(cv.URI), a, v.st.arg(escapeLike(cv.URI)+"|%")))
			}
			return or(alts), nil
		},
	}))
}

func (v *visitor) VisitComposite(p *domain.CompositeParam) error {
	alts := make([]string, 0, len(p.Components))
	for _, components := range p.Components {
		c := v.st.alias("C")
		conds := []string{v.r.correlate(v.st, c, v.lr, p.Code)}
		var joins strings.Builder
		for i, n := range components {
			m, err := v.componentMatch(n)
			if err != nil {
				return err
			}
			ca := fmt.Sprintf("%s_%d", c, i+1)
			fmt.Fprintf(&joins, " JOIN %s AS %s ON %s.row_id = %s.comp%d", table(v.rt, m.suffix), ca, ca, c, i+1)
			if m.join != nil {
				joins.WriteString(m.join(ca))
			}
			cond, err := m.cond(ca)
			if err != nil {
				return err
			}
			conds = append(conds, cond)
		}
		alts = append(alts, fmt.Sprintf("EXISTS (SELECT 1 FROM %s AS %s%s WHERE %s)",
			table(v.rt, tableComposites), c, joins.String(), and(conds)))
	}
	return v.add(or(alts), nil)
}

func (v *visitor) componentMatch(n domain.Param) (match, error) {
	switch n := n.(type) {
	case *domain.StringParam:
		return v.stringMatch(n.Parameter)
	case *domain.TokenParam:
		return v.tokenMatch(n.Parameter, tableTokenRefs, true)
	case *domain.DateParam:
		return v.dateMatch(n), nil
	case *domain.NumberParam:
		return v.numberMatch(n.Parameter)
	case *domain.QuantityParam:
		return v.quantityMatch(n.Parameter)
	case *domain.ReferenceParam:
		return v.referenceMatch(n.Parameter)
	default:
		return match{}, search.Invalid(n.Node().Code, "composite component of kind %T cannot be matched", n)
	}
}

func (v *visitor) VisitResourceTypeIDExtension(e *domain.ResourceTypeIDExtension) error {
	if len(e.ResourceTypeIDs) == 0 {
		return nil
	}
	return v.add(fmt.Sprintf("%s.resource_type_id = ANY(%s)", v.lr, v.st.arg(e.ResourceTypeIDs)), nil)
}

// VisitIncludeExtension restricts the query to the resources referenced by
// (_include) or referencing (_revinclude) the matched logical resources.
func (v *visitor) VisitIncludeExtension(e *domain.IncludeExtension) error {
	in := e.Inclusion
	ref := v.st.alias("R")
	if in.Kind == search.RevInclude {
		baseID, err := v.r.typeID(e.BaseResourceType)
		if err != nil {
			return err
		}
		base := v.st.alias("B")
		return v.add(fmt.Sprintf("EXISTS (SELECT 1 FROM %s AS %s JOIN %s AS %s ON %s.logical_id = %s.ref_logical_id WHERE %s AND %s.ref_resource_type_id = %s AND %s.logical_resource_id = ANY(%s))",
			table(v.rt, tableRefValues), ref, table(e.BaseResourceType, tableLogicalResources), base, base, ref,
			v.r.correlate(v.st, ref, v.lr, in.SearchParameter),
			ref, v.st.arg(baseID), base, v.st.arg(e.LogicalResourceIDs)), nil)
	}

	targetID, err := v.r.typeID(v.rt)
	if err != nil {
		return err
	}
	return v.add(fmt.Sprintf("EXISTS (SELECT 1 FROM %s AS %s WHERE %s.parameter_name_id = %s AND %s.ref_resource_type_id = %s AND %s.ref_logical_id = %s.logical_id AND %s.logical_resource_id = ANY(%s))",
		table(in.JoinResourceType, tableRefValues), ref,
		ref, v.st.arg(v.r.cache.ParameterNameID(in.SearchParameter)),
		ref, v.st.arg(targetID), ref, v.lr, ref, v.st.arg(e.LogicalResourceIDs)), nil)
}

func (v *visitor) VisitWholeSystemDataExtension(e *domain.WholeSystemDataExtension) error {
	return v.add(fmt.Sprintf("%s.logical_resource_id = ANY(%s)", v.lr, v.st.arg(e.LogicalResourceIDs)), nil)
}

func (v *visitor) VisitLocationExtension(e *domain.LocationExtension) error {
	v.location = e
	return nil
}
