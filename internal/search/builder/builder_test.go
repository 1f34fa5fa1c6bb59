package builder

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/fhirquery/internal/platform/db"
	"github.com/ehr/fhirquery/internal/platform/identity"
	"github.com/ehr/fhirquery/internal/search"
	"github.com/ehr/fhirquery/internal/search/domain"
	"github.com/ehr/fhirquery/internal/search/param"
	"github.com/ehr/fhirquery/pkg/pagination"
)

// describeRenderer renders the readable form of a query and records the
// window it was given.
type describeRenderer struct {
	legacy  bool
	windows []*pagination.Window
}

func (r *describeRenderer) LegacyWholeSystemParams() bool { return r.legacy }

func (r *describeRenderer) Render(q *domain.Query, w *pagination.Window) (domain.Statement, error) {
	r.windows = append(r.windows, w)
	stmt := domain.Statement{SQL: domain.Describe(q)}
	if w != nil {
		stmt.Args = []interface{}{w.Offset, w.RowsPerPage}
	}
	return stmt, nil
}

var testTypes = []string{"Resource", "DomainResource", "Location", "Observation", "Patient", "Practitioner"}

func newTestBuilder(opts ...Option) (*Builder, *describeRenderer) {
	return newTestBuilderWith(&describeRenderer{}, opts...)
}

func newLegacyTestBuilder() *Builder {
	b, _ := newTestBuilderWith(&describeRenderer{legacy: true})
	return b
}

func newTestBuilderWith(r *describeRenderer, opts ...Option) (*Builder, *describeRenderer) {
	cache := identity.NewStatic(testTypes, []string{"_id", "name", "birthdate"}, identity.WellKnownCodeSystems)
	return New(cache, r, opts...), r
}

func str(code, value string) param.QueryParameter {
	return param.QueryParameter{Code: code, Type: param.TypeString, Values: []param.Value{param.StringValue(value)}}
}

func tok(code, system, value string) param.QueryParameter {
	return param.QueryParameter{Code: code, Type: param.TypeToken, Values: []param.Value{param.TokenValue(system, value)}}
}

func date(code string, prefix param.Prefix, value string) param.QueryParameter {
	return param.QueryParameter{
		Code:   code,
		Type:   param.TypeDate,
		Values: []param.Value{param.DateOf(prefix, param.MustParseDate(value))},
	}
}

func codes(params []param.QueryParameter) []string {
	out := make([]string, len(params))
	for i, p := range params {
		out[i] = p.Code
	}
	return out
}

func TestSortParametersForcedOrdering(t *testing.T) {
	in := []param.QueryParameter{
		date("birthdate", param.PrefixEq, "2020"),
		tok("_id", "", "123"),
		str("name", "smith"),
		date("_lastUpdated", param.PrefixGt, "2021"),
	}
	sorted := SortParameters(in)
	assert.Equal(t, []string{"_id", "_lastUpdated", "birthdate", "name"}, codes(sorted))
	assert.Equal(t, []string{"birthdate", "_id", "name", "_lastUpdated"}, codes(in), "input must not be reordered")
}

func TestClassifyDispatch(t *testing.T) {
	reference := param.QueryParameter{Code: "subject", Type: param.TypeReference, Values: []param.Value{param.ReferenceValue("Patient", "1")}}
	inclusion := reference.Clone()
	inclusion.InclusionCriteria = true
	inclusion.Chain = []param.QueryParameter{{Code: "performer", Type: param.TypeReference}}

	tests := []struct {
		name   string
		legacy bool
		rt     string
		p      param.QueryParameter
		want   domain.Param
	}{
		{"missing short-circuits", false, "Patient", param.QueryParameter{Code: "name", Type: param.TypeString, Modifier: param.ModifierMissing, Values: []param.Value{param.StringValue("true")}}, &domain.MissingParam{}},
		{"id", false, "Patient", tok("_id", "", "1"), &domain.IDParam{}},
		{"lastUpdated", false, "Patient", date("_lastUpdated", param.PrefixGe, "2020"), &domain.LastUpdatedParam{}},
		{"string", false, "Patient", str("name", "smith"), &domain.StringParam{}},
		{"reference", false, "Observation", reference, &domain.ReferenceParam{}},
		{"inclusion", false, "Observation", inclusion, &domain.InclusionParam{}},
		{"date", false, "Patient", date("birthdate", param.PrefixEq, "2020"), &domain.DateParam{}},
		{"token", false, "Observation", tok("code", "http://loinc.org", "1234-5"), &domain.TokenParam{}},
		{"tag", false, "Patient", tok("_tag", "", "a"), &domain.TagParam{}},
		{"security", false, "Patient", tok("_security", "", "R"), &domain.SecurityParam{}},
		{"legacy tag", true, "Patient", tok("_tag", "", "a"), &domain.TokenParam{}},
		{"legacy security", true, "Patient", tok("_security", "", "R"), &domain.TokenParam{}},
		{"number", false, "RiskAssessment", param.QueryParameter{Code: "probability", Type: param.TypeNumber, Values: []param.Value{param.NumberOf(param.PrefixGt, decimal.NewFromInt(1))}}, &domain.NumberParam{}},
		{"quantity", false, "Observation", param.QueryParameter{Code: "value-quantity", Type: param.TypeQuantity, Values: []param.Value{param.NumberOf(param.PrefixEq, decimal.NewFromInt(5))}}, &domain.QuantityParam{}},
		{"profile", false, "Patient", param.QueryParameter{Code: "_profile", Type: param.TypeURI, Values: []param.Value{param.StringValue("http://x|1")}}, &domain.CanonicalParam{}},
		{"legacy profile", true, "Patient", param.QueryParameter{Code: "_profile", Type: param.TypeURI, Values: []param.Value{param.StringValue("http://x|1")}}, &domain.StringParam{}},
		{"url", true, "ValueSet", param.QueryParameter{Code: "url", Type: param.TypeURI, Values: []param.Value{param.StringValue("http://x")}}, &domain.CanonicalParam{}},
		{"canonical flag", false, "StructureDefinition", param.QueryParameter{Code: "base", Type: param.TypeURI, Canonical: true, Values: []param.Value{param.StringValue("http://x")}}, &domain.CanonicalParam{}},
		{"plain uri", false, "Patient", param.QueryParameter{Code: "_source", Type: param.TypeURI, Values: []param.Value{param.StringValue("http://x")}}, &domain.StringParam{}},
		{"near on Location", false, "Location", param.QueryParameter{Code: "near", Type: param.TypeSpecial, Values: []param.Value{mustValue(t, param.TypeSpecial, "10|20|5|km")}}, &domain.LocationParam{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBuilderWith(&describeRenderer{legacy: tt.legacy})
			node, err := b.classify(tt.rt, tt.p)
			require.NoError(t, err)
			assert.IsType(t, tt.want, node)
			assert.Equal(t, tt.rt, node.Node().ResourceType)
			assert.Equal(t, tt.p.Code, node.Node().Code)
		})
	}
}

func mustValue(t *testing.T, typ param.Type, raw string) param.Value {
	t.Helper()
	v, err := param.ParseValue(typ, raw)
	require.NoError(t, err)
	return v
}

func TestClassifyNotSupported(t *testing.T) {
	b, _ := newTestBuilder()
	near := param.QueryParameter{Code: "near", Type: param.TypeSpecial, Values: []param.Value{mustValue(t, param.TypeSpecial, "1|2")}}

	_, err := b.classify("Patient", near)
	require.Error(t, err)
	assert.True(t, errors.Is(err, search.ErrNotSupported))

	var nse *search.NotSupportedError
	require.True(t, errors.As(err, &nse))
	assert.Equal(t, param.TypeSpecial, nse.Type)
	assert.Contains(t, err.Error(), "special")
}

func TestClassifyChained(t *testing.T) {
	b, _ := newTestBuilder()

	// Observation?subject:Patient.organization:Organization.name=acme
	chained := param.QueryParameter{
		Code:                 "subject",
		Type:                 param.TypeReference,
		Modifier:             param.ModifierType,
		ModifierResourceType: "Patient",
		Chained:              true,
		Chain: []param.QueryParameter{
			{Code: "organization", Type: param.TypeReference, ModifierResourceType: "Organization", Chained: true},
			str("name", "acme"),
		},
	}
	node, err := b.classify("Observation", chained)
	require.NoError(t, err)

	c, ok := node.(*domain.ChainedParam)
	require.True(t, ok)
	assert.Equal(t, []domain.Hop{
		{Code: "subject", SourceType: "Observation", TargetType: "Patient"},
		{Code: "organization", SourceType: "Patient", TargetType: "Organization"},
	}, c.Hops)
	target, ok := c.Target.(*domain.StringParam)
	require.True(t, ok)
	assert.Equal(t, "Organization", target.ResourceType)

	// Patient?_has:Observation:patient:code=1234
	reverse := param.QueryParameter{
		Code:                 "patient",
		Type:                 param.TypeReference,
		ModifierResourceType: "Observation",
		ReverseChained:       true,
		Chain:                []param.QueryParameter{tok("code", "", "1234")},
	}
	node, err = b.classify("Patient", reverse)
	require.NoError(t, err)
	c = node.(*domain.ChainedParam)
	assert.Equal(t, []domain.Hop{{Code: "patient", SourceType: "Observation", TargetType: "Patient", Reverse: true}}, c.Hops)
	assert.IsType(t, &domain.TokenParam{}, c.Target)
	assert.Equal(t, "Observation", c.Target.Node().ResourceType)

	_, err = b.classify("Observation", param.QueryParameter{Code: "subject", Type: param.TypeReference, Chained: true})
	var invalid *search.InvalidParameterError
	assert.True(t, errors.As(err, &invalid))
}

func TestClassifyComposite(t *testing.T) {
	b, _ := newTestBuilder()
	comp := param.QueryParameter{
		Code: "code-value-quantity",
		Type: param.TypeComposite,
		Values: []param.Value{{
			Prefix: param.PrefixEq,
			Component: []param.QueryParameter{
				tok("code", "http://loinc.org", "8480-6"),
				{Code: "value-quantity", Type: param.TypeQuantity, Values: []param.Value{param.NumberOf(param.PrefixGt, decimal.NewFromInt(140))}},
			},
		}},
	}
	node, err := b.classify("Observation", comp)
	require.NoError(t, err)
	c := node.(*domain.CompositeParam)
	require.Len(t, c.Components, 1)
	require.Len(t, c.Components[0], 2)
	assert.IsType(t, &domain.TokenParam{}, c.Components[0][0])
	assert.IsType(t, &domain.QuantityParam{}, c.Components[0][1])
}

func TestAddParametersNodeOrder(t *testing.T) {
	b, _ := newTestBuilder()
	q := domain.New(domain.KindData, "Patient", 5)
	err := b.addParameters(q, "Patient", []param.QueryParameter{
		date("birthdate", param.PrefixGe, "2000"),
		tok("_id", "", "123"),
		str("name", "smith"),
		date("death-date", param.PrefixEq, "2020"),
		date("_lastUpdated", param.PrefixGt, "2021"),
		date("birthdate", param.PrefixLt, "2010"),
	})
	require.NoError(t, err)

	var got []string
	for _, n := range q.Params {
		got = append(got, n.Node().Code)
	}
	assert.Equal(t, []string{"_id", "_lastUpdated", "name", "birthdate", "death-date"}, got)
	assert.True(t, q.Params[3].(*domain.DateParam).Consolidated)
	assert.False(t, q.Params[4].(*domain.DateParam).Consolidated)
}

func TestLocationExtension(t *testing.T) {
	b, _ := newTestBuilder()
	q := domain.New(domain.KindData, "Location", 3)
	near := param.QueryParameter{Code: "near", Type: param.TypeSpecial, Values: []param.Value{mustValue(t, param.TypeSpecial, "0|10|111.32|km")}}
	require.NoError(t, b.addParameters(q, "Location", []param.QueryParameter{str("name", "clinic"), near}))

	require.Len(t, q.Extensions, 1)
	ext, ok := q.Extensions[0].(*domain.LocationExtension)
	require.True(t, ok)
	require.Len(t, ext.Areas, 1)
	a := ext.Areas[0]
	assert.InDelta(t, -1.0, a.MinLatitude, 1e-9)
	assert.InDelta(t, 1.0, a.MaxLatitude, 1e-9)
	assert.InDelta(t, 9.0, a.MinLongitude, 1e-9)
	assert.InDelta(t, 11.0, a.MaxLongitude, 1e-9)

	require.Len(t, q.Params, 2)
	loc, ok := q.Params[1].(*domain.LocationParam)
	require.True(t, ok)
	assert.Equal(t, ext.Areas, loc.Areas)
}

func TestLocationNearDistanceOverride(t *testing.T) {
	b, _ := newTestBuilder()
	q := domain.New(domain.KindData, "Location", 3)
	near := param.QueryParameter{Code: "near", Type: param.TypeSpecial, Values: []param.Value{mustValue(t, param.TypeSpecial, "0|0|500|km")}}
	distance := param.QueryParameter{Code: "near-distance", Type: param.TypeQuantity, Values: []param.Value{mustValue(t, param.TypeQuantity, "222640|http://unitsofmeasure.org|m")}}
	require.NoError(t, b.addParameters(q, "Location", []param.QueryParameter{near, distance}))

	ext := q.Extensions[0].(*domain.LocationExtension)
	require.Len(t, ext.Areas, 1)
	assert.InDelta(t, 2.0, ext.Areas[0].MaxLatitude, 1e-9)
	require.Len(t, q.Params, 1, "near-distance is folded into the extension")
	assert.Equal(t, ext.Areas, q.Params[0].(*domain.LocationParam).Areas)
}

func TestPrepareSingle(t *testing.T) {
	b, r := newTestBuilder()
	ctx := search.SearchContext{
		ResourceType: "Patient",
		Parameters:   []param.QueryParameter{str("name", "smith")},
		PageNumber:   3,
		PageSize:     10,
	}
	p, err := b.Prepare(ctx)
	require.NoError(t, err)
	assert.Equal(t, StrategySingle, p.Strategy())

	count, err := p.Count()
	require.NoError(t, err)
	assert.Equal(t, "count Patient\n  string name=smith\n", count.SQL)
	assert.Empty(t, count.Args)

	data, err := p.Data()
	require.NoError(t, err)
	assert.Equal(t, "data Patient\n  string name=smith\n", data.SQL)
	assert.Equal(t, []interface{}{19, 12}, data.Args)
	require.Len(t, r.windows, 2)
	assert.Nil(t, r.windows[0])

	ctx.Sort = []search.SortParameter{{Code: "birthdate", Type: param.TypeDate}}
	q, err := b.Prepare(ctx)
	require.NoError(t, err)
	dq, err := q.DataQuery()
	require.NoError(t, err)
	assert.Equal(t, domain.KindSort, dq.Kind)
	cq, err := q.CountQuery()
	require.NoError(t, err)
	assert.Empty(t, cq.Sort)
}

func TestWholeSystemFilterStrategy(t *testing.T) {
	b, _ := newTestBuilder()
	ctx := search.SearchContext{
		ResourceType: search.ResourceTypeAny,
		Parameters: []param.QueryParameter{
			tok("_id", "", "1"),
			date("_lastUpdated", param.PrefixGe, "2020"),
			tok("_tag", "http://example.org/tags", "a"),
		},
		PageNumber: 1,
		PageSize:   10,
	}
	p, err := b.Prepare(ctx)
	require.NoError(t, err)
	assert.Equal(t, StrategyFilter, p.Strategy())

	data, err := p.DataQuery()
	require.NoError(t, err)
	assert.Equal(t, domain.KindWholeSystemFilter, data.Kind)
	assert.Empty(t, data.SubQueries, "filter strategy is a single query")
	assert.Len(t, data.Params, 3)
	assert.Empty(t, data.Extensions)

	count, err := p.CountQuery()
	require.NoError(t, err)
	assert.Equal(t, domain.KindWholeSystemFilter, count.Kind)
	assert.True(t, count.IsCount())
}

func TestWholeSystemFilterWithTypes(t *testing.T) {
	b, _ := newTestBuilder()
	p, err := b.Prepare(search.SearchContext{
		Parameters:    []param.QueryParameter{tok("_id", "", "1")},
		ResourceTypes: []string{"Patient", "Observation"},
	})
	require.NoError(t, err)
	q, err := p.DataQuery()
	require.NoError(t, err)
	ext, ok := domain.ExtensionOf[*domain.ResourceTypeIDExtension](q)
	require.True(t, ok)
	assert.Equal(t, []int{5, 4}, ext.ResourceTypeIDs)
}

func TestWholeSystemUnionStrategy(t *testing.T) {
	b, _ := newTestBuilder()
	ctx := search.SearchContext{
		ResourceType: search.ResourceTypeAny,
		Parameters: []param.QueryParameter{
			tok("_id", "", "1"),
			tok("_tag", "", "a"),
			str("name", "smith"),
		},
		Sort: []search.SortParameter{{Code: "_lastUpdated", Descending: true}},
	}
	p, err := b.Prepare(ctx)
	require.NoError(t, err)
	assert.Equal(t, StrategyUnion, p.Strategy())
	assert.Equal(t, []string{"Location", "Observation", "Patient", "Practitioner"}, p.CandidateTypes())

	data, err := p.DataQuery()
	require.NoError(t, err)
	assert.Equal(t, domain.KindWholeSystemUnion, data.Kind)
	assert.Empty(t, data.Params)
	require.Len(t, data.SubQueries, 4)
	assert.Equal(t, ctx.Sort, data.Sort)
	for i, sub := range data.SubQueries {
		assert.Equal(t, p.CandidateTypes()[i], sub.ResourceType)
		assert.Len(t, sub.Params, 3)
	}

	count, err := p.CountQuery()
	require.NoError(t, err)
	assert.Len(t, count.SubQueries, 4, "count and data share the candidate set")
	assert.True(t, count.IsCount())
	assert.Empty(t, count.Sort)
}

func TestWholeSystemExplicitTypesUnion(t *testing.T) {
	b, _ := newTestBuilder()
	p, err := b.Prepare(search.SearchContext{
		Parameters:    []param.QueryParameter{str("name", "x")},
		ResourceTypes: []string{"Practitioner", "Patient"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Patient", "Practitioner"}, p.CandidateTypes())
}

func TestWholeSystemLegacyTagForcesUnion(t *testing.T) {
	ctx := search.SearchContext{Parameters: []param.QueryParameter{tok("_tag", "", "a")}}

	b, _ := newTestBuilder()
	p, err := b.Prepare(ctx)
	require.NoError(t, err)
	assert.Equal(t, StrategyFilter, p.Strategy())

	p, err = newLegacyTestBuilder().Prepare(ctx)
	require.NoError(t, err)
	assert.Equal(t, StrategyUnion, p.Strategy())
}

func TestWholeSystemSortOnResourceCodeForcesUnion(t *testing.T) {
	b, _ := newTestBuilder()
	p, err := b.Prepare(search.SearchContext{
		Parameters: []param.QueryParameter{tok("_id", "", "1")},
		Sort:       []search.SortParameter{{Code: "birthdate"}},
	})
	require.NoError(t, err)
	assert.Equal(t, StrategyUnion, p.Strategy())
}

// failingCache fails every resource type lookup with the same error.
type failingCache struct {
	identity.Cache
	err error
}

func (c failingCache) ResourceTypeID(string) (int, error) { return 0, c.err }

func TestPersistenceErrorsPropagateUnmodified(t *testing.T) {
	want := &db.PersistenceError{Op: "resource type id", Err: errors.New("connection reset")}
	b := New(failingCache{Cache: identity.NewStatic(testTypes, nil, nil), err: want}, &describeRenderer{})

	_, err := b.BuildDataQuery(search.SearchContext{ResourceType: "Patient"})
	assert.Same(t, want, err)

	_, err = b.BuildCountQuery(search.SearchContext{ResourceTypes: []string{"Patient"}})
	assert.Same(t, want, err)

	_, err = b.BuildIncludeQuery(search.InclusionParameter{JoinResourceType: "Observation", SearchParameter: "subject", SearchParameterTargetType: "Patient"}, "Observation", []int64{1}, 10)
	assert.Same(t, want, err)
}

func TestUnknownResourceType(t *testing.T) {
	b, _ := newTestBuilder()
	_, err := b.BuildDataQuery(search.SearchContext{ResourceType: "Spaceship"})
	require.Error(t, err)
	assert.True(t, db.IsPersistence(err))
}

func TestIdempotence(t *testing.T) {
	b, _ := newTestBuilder()
	ctx := search.SearchContext{
		ResourceType: "Patient",
		Parameters: []param.QueryParameter{
			date("birthdate", param.PrefixGe, "2020-01-01"),
			str("name", "smith"),
			date("birthdate", param.PrefixSa, "2020-06-01"),
			tok("_id", "", "1"),
		},
		PageNumber: 2,
		PageSize:   20,
	}
	orig := ctx.Parameters[0].Clone()

	first, err := b.BuildDataQuery(ctx)
	require.NoError(t, err)
	second, err := b.BuildDataQuery(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	p1, err := b.Prepare(ctx)
	require.NoError(t, err)
	q1, err := p1.DataQuery()
	require.NoError(t, err)
	q2, err := p1.DataQuery()
	require.NoError(t, err)
	assert.Equal(t, q1, q2)

	assert.Equal(t, orig, ctx.Parameters[0], "building must not modify the input")
}

func TestIncludeQuery(t *testing.T) {
	b, r := newTestBuilder()
	inc := search.InclusionParameter{
		Kind:                      search.Include,
		JoinResourceType:          "Observation",
		SearchParameter:           "subject",
		SearchParameterTargetType: "Patient",
	}
	stmt, err := b.BuildIncludeQuery(inc, "Observation", []int64{7, 8}, 1000)
	require.NoError(t, err)
	assert.Equal(t, "include Patient\n  _include Observation:subject:Patient ids=[7 8]\n", stmt.SQL)
	assert.Equal(t, []interface{}{0, 1002}, stmt.Args)
	require.Len(t, r.windows, 1)
	assert.Equal(t, pagination.Window{Offset: 0, RowsPerPage: 1002}, *r.windows[0])

	rev := search.InclusionParameter{
		Kind:                      search.RevInclude,
		JoinResourceType:          "Observation",
		SearchParameter:           "subject",
		SearchParameterTargetType: "Patient",
	}
	q, err := b.IncludeQuery(rev, "Patient", []int64{1})
	require.NoError(t, err)
	assert.Equal(t, "Observation", q.ResourceType)
	assert.Equal(t, 4, q.ResourceTypeID)

	_, err = b.IncludeQuery(search.InclusionParameter{Kind: search.Include, JoinResourceType: "Observation", SearchParameter: "subject"}, "Observation", nil)
	var invalid *search.InvalidParameterError
	assert.True(t, errors.As(err, &invalid))
}

func TestIncludeWindowIgnoresOuterPage(t *testing.T) {
	for _, max := range []int{0, 10, 1000} {
		// a first page of max+1 rows plus its trailing boundary row
		assert.Equal(t, pagination.Window{Offset: 0, RowsPerPage: max + 2}, IncludeWindow(max))
	}
}

func TestWholeSystemDataQuery(t *testing.T) {
	b, _ := newTestBuilder()
	q, err := b.WholeSystemDataQuery(map[int][]int64{5: {10, 11}, 4: {3}, 6: nil})
	require.NoError(t, err)
	require.Len(t, q.SubQueries, 2)
	assert.Equal(t, "Observation", q.SubQueries[0].ResourceType)
	assert.Equal(t, "Patient", q.SubQueries[1].ResourceType)
	ext, ok := domain.ExtensionOf[*domain.WholeSystemDataExtension](q.SubQueries[1])
	require.True(t, ok)
	assert.Equal(t, []int64{10, 11}, ext.LogicalResourceIDs)

	_, err = b.WholeSystemDataQuery(map[int][]int64{99: {1}})
	assert.True(t, db.IsPersistence(err))

	_, err = b.BuildWholeSystemDataQuery(nil)
	assert.Error(t, err)
}
