package builder

import (
	"sort"

	"github.com/ehr/fhirquery/internal/search"
	"github.com/ehr/fhirquery/internal/search/domain"
	"github.com/ehr/fhirquery/pkg/pagination"
)

// IncludeWindow is the window of every include query: the first page of
// maxIncludeCount+1 rows, so that a result over the limit is detected.
func IncludeWindow(maxIncludeCount int) pagination.Window {
	return pagination.NewWindow(1, maxIncludeCount+1)
}

// IncludeQuery builds the include or revinclude query selecting the
// resources related to logicalResourceIDs, which are resources of
// baseResourceType matched by the primary search.
func (b *Builder) IncludeQuery(inclusion search.InclusionParameter, baseResourceType string, logicalResourceIDs []int64) (*domain.Query, error) {
	target := inclusion.IncludedResourceType()
	if target == "" {
		return nil, search.Invalid(inclusion.Kind.String(), "no target type for %s:%s", inclusion.JoinResourceType, inclusion.SearchParameter)
	}
	id, err := b.cache.ResourceTypeID(target)
	if err != nil {
		return nil, err
	}

	q := domain.New(domain.KindInclude, target, id)
	q.AddExtension(&domain.IncludeExtension{
		Inclusion:          inclusion,
		BaseResourceType:   baseResourceType,
		LogicalResourceIDs: append([]int64(nil), logicalResourceIDs...),
	})
	if err := b.addParameters(q, target, nil); err != nil {
		return nil, err
	}

	b.logger.Debug().
		Str("kind", inclusion.Kind.String()).
		Str("target", target).
		Int("ids", len(logicalResourceIDs)).
		Msg("built include query")
	return q, nil
}

// BuildIncludeQuery renders an include query. It depends only on its
// arguments: the window is always IncludeWindow(maxIncludeCount) and no
// pagination state of the primary search is read or changed.
func (b *Builder) BuildIncludeQuery(inclusion search.InclusionParameter, baseResourceType string, logicalResourceIDs []int64, maxIncludeCount int) (domain.Statement, error) {
	q, err := b.IncludeQuery(inclusion, baseResourceType, logicalResourceIDs)
	if err != nil {
		return domain.Statement{}, err
	}
	w := IncludeWindow(maxIncludeCount)
	return b.renderer.Render(q, &w)
}

// WholeSystemDataQuery builds the second phase of a filter search: the data
// of the logical resources found by the filter, keyed by resource type id.
func (b *Builder) WholeSystemDataQuery(ids map[int][]int64) (*domain.Query, error) {
	typeIDs := make([]int, 0, len(ids))
	for id := range ids {
		typeIDs = append(typeIDs, id)
	}
	sort.Ints(typeIDs)

	union := domain.New(domain.KindWholeSystemUnion, search.ResourceTypeAny, 0)
	for _, id := range typeIDs {
		if len(ids[id]) == 0 {
			continue
		}
		name, err := b.cache.ResourceTypeName(id)
		if err != nil {
			return nil, err
		}
		sub := domain.New(domain.KindWholeSystemData, name, id)
		sub.AddExtension(&domain.WholeSystemDataExtension{
			ResourceType:       name,
			ResourceTypeID:     id,
			LogicalResourceIDs: append([]int64(nil), ids[id]...),
		})
		union.SubQueries = append(union.SubQueries, sub)
	}
	return union, nil
}

// BuildWholeSystemDataQuery renders WholeSystemDataQuery.
func (b *Builder) BuildWholeSystemDataQuery(ids map[int][]int64) (domain.Statement, error) {
	q, err := b.WholeSystemDataQuery(ids)
	if err != nil {
		return domain.Statement{}, err
	}
	if len(q.SubQueries) == 0 {
		return domain.Statement{}, search.Invalid("_id", "no logical resource ids to fetch")
	}
	return b.renderer.Render(q, nil)
}
