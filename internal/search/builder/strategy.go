package builder

import (
	"sort"

	"github.com/ehr/fhirquery/internal/search"
	"github.com/ehr/fhirquery/internal/search/domain"
	"github.com/ehr/fhirquery/internal/search/param"
	"github.com/ehr/fhirquery/pkg/pagination"
)

// Strategy is the shape of a compiled search.
type Strategy int

const (
	// StrategySingle searches one resource type.
	StrategySingle Strategy = iota
	// StrategyFilter searches the shared cross-type tables once.
	StrategyFilter
	// StrategyUnion unions one sub-query per candidate resource type.
	StrategyUnion
)

func (s Strategy) String() string {
	switch s {
	case StrategyFilter:
		return "filter"
	case StrategyUnion:
		return "union"
	default:
		return "single"
	}
}

// Prepared is a search whose strategy has been decided. The count and data
// queries built from it always share the strategy and candidate types.
type Prepared struct {
	b        *Builder
	ctx      search.SearchContext
	strategy Strategy

	resourceTypeID int
	// candidates are the per-type sub-query types of a union.
	candidates []string
	// typeIDs narrow a filter to an explicit _type list.
	typeIDs []int
}

// Prepare selects the strategy of ctx. Identity failures are returned
// unmodified.
func (b *Builder) Prepare(ctx search.SearchContext) (*Prepared, error) {
	p := &Prepared{b: b, ctx: ctx}

	if !ctx.IsWholeSystem() {
		id, err := b.cache.ResourceTypeID(ctx.ResourceType)
		if err != nil {
			return nil, err
		}
		p.strategy = StrategySingle
		p.resourceTypeID = id
		return p, nil
	}

	if b.globallyIndexed(ctx) {
		p.strategy = StrategyFilter
		for _, rt := range ctx.ResourceTypes {
			id, err := b.cache.ResourceTypeID(rt)
			if err != nil {
				return nil, err
			}
			p.typeIDs = append(p.typeIDs, id)
		}
	} else {
		p.strategy = StrategyUnion
		p.candidates = b.candidateTypes(ctx)
	}

	b.logger.Debug().
		Str("strategy", p.strategy.String()).
		Int("candidate_types", len(p.candidates)).
		Int("explicit_types", len(ctx.ResourceTypes)).
		Msg("selected whole-system strategy")
	return p, nil
}

// Strategy returns the selected strategy.
func (p *Prepared) Strategy() Strategy { return p.strategy }

// CandidateTypes returns the union sub-query types, sorted.
func (p *Prepared) CandidateTypes() []string {
	return append([]string(nil), p.candidates...)
}

// globallyIndexed reports whether every parameter and sort code of a
// whole-system request is indexed in the shared cross-type tables.
func (b *Builder) globallyIndexed(ctx search.SearchContext) bool {
	for _, p := range ctx.Parameters {
		if !b.isGlobalCode(p.Code) || p.Chained || p.ReverseChained {
			return false
		}
	}
	for _, s := range ctx.Sort {
		if s.Code != param.CodeID && s.Code != param.CodeLastUpdated {
			return false
		}
	}
	return true
}

func (b *Builder) isGlobalCode(code string) bool {
	switch code {
	case param.CodeID, param.CodeLastUpdated:
		return true
	case param.CodeTag, param.CodeSecurity, param.CodeProfile:
		return !b.legacy
	default:
		return false
	}
}

// candidateTypes is the explicit _type list, or every known type except
// the abstract ones, sorted by name.
func (b *Builder) candidateTypes(ctx search.SearchContext) []string {
	var types []string
	if len(ctx.ResourceTypes) > 0 {
		types = append(types, ctx.ResourceTypes...)
	} else {
		for _, rt := range b.cache.ResourceTypeNames() {
			if rt != search.ResourceTypeAny && rt != search.ResourceTypeDomain {
				types = append(types, rt)
			}
		}
	}
	sort.Strings(types)
	return types
}

// CountQuery builds the count variant.
func (p *Prepared) CountQuery() (*domain.Query, error) {
	return p.query(true)
}

// DataQuery builds the data variant.
func (p *Prepared) DataQuery() (*domain.Query, error) {
	return p.query(false)
}

func (p *Prepared) query(count bool) (*domain.Query, error) {
	ctx := p.ctx
	switch p.strategy {
	case StrategyFilter:
		q := domain.New(domain.KindWholeSystemFilter, search.ResourceTypeAny, 0)
		q.Counting = count
		if len(p.typeIDs) > 0 {
			q.AddExtension(&domain.ResourceTypeIDExtension{ResourceTypeIDs: append([]int(nil), p.typeIDs...)})
		}
		if !count {
			q.Sort = ctx.Sort
		}
		if err := p.b.addParameters(q, search.ResourceTypeAny, ctx.Parameters); err != nil {
			return nil, err
		}
		return q, nil

	case StrategyUnion:
		q := domain.New(domain.KindWholeSystemUnion, search.ResourceTypeAny, 0)
		q.Counting = count
		if !count {
			q.Sort = ctx.Sort
		}
		for _, rt := range p.candidates {
			id, err := p.b.cache.ResourceTypeID(rt)
			if err != nil {
				return nil, err
			}
			sub := domain.New(domain.KindData, rt, id)
			if !count {
				sub.Sort = ctx.Sort
			}
			if err := p.b.addParameters(sub, rt, ctx.Parameters); err != nil {
				return nil, err
			}
			q.SubQueries = append(q.SubQueries, sub)
		}
		return q, nil

	default:
		kind := domain.KindData
		switch {
		case count:
			kind = domain.KindCount
		case len(ctx.Sort) > 0:
			kind = domain.KindSort
		}
		q := domain.New(kind, ctx.ResourceType, p.resourceTypeID)
		if kind == domain.KindSort {
			q.Sort = ctx.Sort
		}
		if err := p.b.addParameters(q, ctx.ResourceType, ctx.Parameters); err != nil {
			return nil, err
		}
		return q, nil
	}
}

// Count renders the count statement.
func (p *Prepared) Count() (domain.Statement, error) {
	q, err := p.CountQuery()
	if err != nil {
		return domain.Statement{}, err
	}
	return p.b.renderer.Render(q, nil)
}

// Data renders the data statement for the context's page.
func (p *Prepared) Data() (domain.Statement, error) {
	q, err := p.DataQuery()
	if err != nil {
		return domain.Statement{}, err
	}
	w := pagination.NewWindow(p.ctx.PageNumber, p.ctx.PageSize)
	return p.b.renderer.Render(q, &w)
}

// BuildCountQuery prepares ctx and renders its count statement.
func (b *Builder) BuildCountQuery(ctx search.SearchContext) (domain.Statement, error) {
	p, err := b.Prepare(ctx)
	if err != nil {
		return domain.Statement{}, err
	}
	return p.Count()
}

// BuildDataQuery prepares ctx and renders its data statement.
func (b *Builder) BuildDataQuery(ctx search.SearchContext) (domain.Statement, error) {
	p, err := b.Prepare(ctx)
	if err != nil {
		return domain.Statement{}, err
	}
	return p.Data()
}
