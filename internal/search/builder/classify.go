package builder

import (
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ehr/fhirquery/internal/search"
	"github.com/ehr/fhirquery/internal/search/canonical"
	"github.com/ehr/fhirquery/internal/search/domain"
	"github.com/ehr/fhirquery/internal/search/param"
)

const resourceTypeLocation = "Location"

// kmPerDegree is the length of one degree of latitude.
const kmPerDegree = 111.32

var unitKilometres = map[string]float64{
	"km":     1,
	"m":      0.001,
	"mi":     1.609344,
	"[mi_i]": 1.609344,
}

// priority orders _id first and _lastUpdated second; everything else keeps
// its relative order.
func priority(code string) int {
	switch code {
	case param.CodeID:
		return -100
	case param.CodeLastUpdated:
		return -90
	default:
		return 0
	}
}

// SortParameters returns params stably sorted by priority. The input is not
// modified.
func SortParameters(params []param.QueryParameter) []param.QueryParameter {
	out := make([]param.QueryParameter, len(params))
	copy(out, params)
	sort.SliceStable(out, func(i, j int) bool {
		return priority(out[i].Code) < priority(out[j].Code)
	})
	return out
}

// addParameters classifies params against resourceType and appends the
// resulting nodes to q. Date parameters are grouped by code and
// consolidated; their nodes follow the others, in order of first
// appearance of the code.
func (b *Builder) addParameters(q *domain.Query, resourceType string, params []param.QueryParameter) error {
	sorted := SortParameters(params)

	var override *float64
	if resourceType == resourceTypeLocation {
		override = nearDistanceOverride(sorted)
		q.AddExtension(&domain.LocationExtension{Areas: locationAreas(sorted, override)})
	}

	var (
		dateCodes  []string
		dateGroups = make(map[string][]param.QueryParameter)
	)
	for _, p := range sorted {
		if p.Type == param.TypeDate && p.Code != param.CodeLastUpdated && p.Modifier != param.ModifierMissing {
			if _, seen := dateGroups[p.Code]; !seen {
				dateCodes = append(dateCodes, p.Code)
			}
			dateGroups[p.Code] = append(dateGroups[p.Code], p)
			continue
		}
		if resourceType == resourceTypeLocation {
			if p.Code == param.CodeNearDistance {
				// Folded into the near areas by the Location extension.
				continue
			}
			if isNear(p) {
				q.Add(domain.NewLocation(resourceType, p, areasFor(p, override)))
				continue
			}
		}
		node, err := b.classify(resourceType, p)
		if err != nil {
			return err
		}
		q.Add(node)
	}

	for _, code := range dateCodes {
		nodes, err := b.consolidateDates(resourceType, dateGroups[code])
		if err != nil {
			return err
		}
		q.Add(nodes...)
	}
	return nil
}

// classify maps one parameter to its node. Chain terminals and composite
// components go through the same dispatch against their own resource type.
func (b *Builder) classify(resourceType string, p param.QueryParameter) (domain.Param, error) {
	if p.Modifier == param.ModifierMissing {
		return domain.NewMissing(resourceType, p, missingValue(p)), nil
	}

	switch {
	case resourceType == resourceTypeLocation && isNear(p):
		return domain.NewLocation(resourceType, p, areasFor(p, nil)), nil
	case p.Code == param.CodeID:
		return domain.NewID(resourceType, p), nil
	case p.Code == param.CodeLastUpdated:
		return domain.NewLastUpdated(resourceType, p), nil
	}

	switch p.Type {
	case param.TypeString:
		return domain.NewString(resourceType, p), nil
	case param.TypeReference:
		switch {
		case p.ReverseChained || p.Chained:
			return b.classifyChain(resourceType, p)
		case p.InclusionCriteria:
			codes := []string{p.Code}
			for _, alt := range p.Chain {
				codes = append(codes, alt.Code)
			}
			return domain.NewInclusion(resourceType, p, codes), nil
		default:
			return domain.NewReference(resourceType, p), nil
		}
	case param.TypeDate:
		bounds := make([]domain.DateBound, 0, len(p.Values))
		for _, v := range p.Values {
			if v.Date == nil {
				return nil, search.Invalid(p.Code, "value %q is not a date", v.Text)
			}
			bounds = append(bounds, domain.DateBound{Prefix: v.Prefix, Value: *v.Date})
		}
		return domain.NewDate(resourceType, p, bounds, false), nil
	case param.TypeToken:
		switch {
		case p.Code == param.CodeTag && !b.legacy:
			return domain.NewTag(resourceType, p), nil
		case p.Code == param.CodeSecurity && !b.legacy:
			return domain.NewSecurity(resourceType, p), nil
		default:
			return domain.NewToken(resourceType, p), nil
		}
	case param.TypeNumber:
		return domain.NewNumber(resourceType, p), nil
	case param.TypeQuantity:
		return domain.NewQuantity(resourceType, p), nil
	case param.TypeURI:
		if (p.Code == param.CodeProfile && !b.legacy) || p.Code == param.CodeURL || p.Canonical {
			values := make([]canonical.Value, len(p.Values))
			for i, v := range p.Values {
				values[i] = canonical.Parse(v.Text)
			}
			return domain.NewCanonical(resourceType, p, values), nil
		}
		return domain.NewString(resourceType, p), nil
	case param.TypeComposite:
		return b.classifyComposite(resourceType, p)
	default:
		return nil, &search.NotSupportedError{Code: p.Code, Type: p.Type}
	}
}

// classifyChain walks the hops of a chained or reverse-chained reference
// and classifies the terminal parameter against the last hop's type.
func (b *Builder) classifyChain(resourceType string, p param.QueryParameter) (domain.Param, error) {
	if len(p.Chain) == 0 {
		return nil, search.Invalid(p.Name(), "chain without a target parameter")
	}
	elems := append([]param.QueryParameter{p}, p.Chain[:len(p.Chain)-1]...)
	hops := make([]domain.Hop, 0, len(elems))
	current := resourceType
	for _, e := range elems {
		if e.ModifierResourceType == "" {
			return nil, search.Invalid(p.Name(), "hop %q has no resource type", e.Code)
		}
		if e.ReverseChained {
			hops = append(hops, domain.Hop{Code: e.Code, SourceType: e.ModifierResourceType, TargetType: current, Reverse: true})
		} else {
			hops = append(hops, domain.Hop{Code: e.Code, SourceType: current, TargetType: e.ModifierResourceType})
		}
		current = e.ModifierResourceType
	}

	target, err := b.classify(current, p.Last())
	if err != nil {
		return nil, err
	}
	return domain.NewChained(resourceType, p, hops, target), nil
}

func (b *Builder) classifyComposite(resourceType string, p param.QueryParameter) (domain.Param, error) {
	components := make([][]domain.Param, 0, len(p.Values))
	for _, v := range p.Values {
		if len(v.Component) == 0 {
			return nil, search.Invalid(p.Code, "composite value %q has no components", v.Text)
		}
		nodes := make([]domain.Param, 0, len(v.Component))
		for _, c := range v.Component {
			node, err := b.classify(resourceType, c)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		}
		components = append(components, nodes)
	}
	return domain.NewComposite(resourceType, p, components), nil
}

func missingValue(p param.QueryParameter) bool {
	if len(p.Values) == 0 {
		return true
	}
	return strings.EqualFold(p.Values[0].Text, "true")
}

func isNear(p param.QueryParameter) bool {
	return p.Code == param.CodeNear && p.Type == param.TypeSpecial && p.Modifier != param.ModifierMissing
}

// locationAreas computes the bounding boxes of every near parameter.
func locationAreas(params []param.QueryParameter, override *float64) []domain.Area {
	var areas []domain.Area
	for _, p := range params {
		if isNear(p) {
			areas = append(areas, areasFor(p, override)...)
		}
	}
	return areas
}

// nearDistanceOverride returns the distance in kilometres of the first
// near-distance value, or nil.
func nearDistanceOverride(params []param.QueryParameter) *float64 {
	for _, p := range params {
		if p.Code != param.CodeNearDistance || len(p.Values) == 0 || p.Values[0].Number == nil {
			continue
		}
		v := p.Values[0]
		km := toKilometres(*v.Number, v.Code)
		return &km
	}
	return nil
}

func areasFor(p param.QueryParameter, override *float64) []domain.Area {
	areas := make([]domain.Area, 0, len(p.Values))
	for _, v := range p.Values {
		if v.Location == nil {
			continue
		}
		lat, _ := v.Location.Latitude.Float64()
		lng, _ := v.Location.Longitude.Float64()
		km := toKilometres(v.Location.Distance, v.Location.Unit)
		if override != nil {
			km = *override
		}
		dLat := km / kmPerDegree
		dLng := dLat
		if c := math.Cos(lat * math.Pi / 180); c > 1e-9 {
			dLng = km / (kmPerDegree * c)
		}
		areas = append(areas, domain.Area{
			Code:         p.Code,
			MinLatitude:  math.Max(lat-dLat, -90),
			MaxLatitude:  math.Min(lat+dLat, 90),
			MinLongitude: math.Max(lng-dLng, -180),
			MaxLongitude: math.Min(lng+dLng, 180),
		})
	}
	return areas
}

func toKilometres(d decimal.Decimal, unit string) float64 {
	f, _ := d.Float64()
	factor, ok := unitKilometres[unit]
	if !ok {
		factor = 1
	}
	return f * factor
}
