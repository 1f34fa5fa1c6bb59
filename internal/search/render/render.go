// Package render turns compiled search queries into PostgreSQL statements
// over the per-resource-type index tables.
//
// Every search parameter becomes a predicate on the logical resources row
// aliased LR0, usually an EXISTS over the value table of its type.
// Placeholders are positional ($1, $2, ...) and numbered in text order.
package render

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/fhirquery/internal/platform/identity"
	"github.com/ehr/fhirquery/internal/search"
	"github.com/ehr/fhirquery/internal/search/domain"
	"github.com/ehr/fhirquery/internal/search/param"
	"github.com/ehr/fhirquery/pkg/pagination"
)

// Variant selects the physical schema flavour.
type Variant string

const (
	// Plain is a single-node schema.
	Plain Variant = "plain"
	// Distributed is a sharded schema in which every resource row and its
	// index rows carry the same shard_key.
	Distributed Variant = "distributed"
)

// ParseVariant validates a configured schema variant.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(s); v {
	case Plain, Distributed:
		return v, nil
	default:
		return "", fmt.Errorf("unknown schema variant %q", s)
	}
}

// outer is the alias of the logical resources row of the query being
// rendered.
const outer = "LR0"

const (
	resourceColumns = "LR0.logical_resource_id, LR0.logical_id, LR0.last_updated"
	unionColumns    = "U.resource_type_id, U.logical_resource_id, U.logical_id, U.last_updated"
)

// Renderer renders queries for one schema variant. It holds only read-only
// state and is safe for concurrent use.
type Renderer struct {
	cache   identity.Cache
	variant Variant
	legacy  bool
	now     func() time.Time
	logger  zerolog.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithVariant selects the schema variant. The default is Plain.
func WithVariant(v Variant) Option {
	return func(r *Renderer) { r.variant = v }
}

// WithLegacyWholeSystemParams renders _tag, _security and _profile through
// the generic token and string tables.
func WithLegacyWholeSystemParams(legacy bool) Option {
	return func(r *Renderer) { r.legacy = legacy }
}

// WithClock sets the clock approximate (ap) date comparisons are relative to.
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Renderer) { r.logger = l }
}

// New returns a Renderer resolving identities through cache.
func New(cache identity.Cache, opts ...Option) *Renderer {
	r := &Renderer{
		cache:   cache,
		variant: Plain,
		now:     time.Now,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Variant returns the schema variant.
func (r *Renderer) Variant() Variant { return r.variant }

// LegacyWholeSystemParams reports whether _tag, _security and _profile
// render through the generic token and string tables.
func (r *Renderer) LegacyWholeSystemParams() bool { return r.legacy }

// Render renders q. A nil window renders no OFFSET/FETCH clause.
func (r *Renderer) Render(q *domain.Query, window *pagination.Window) (domain.Statement, error) {
	st := newStatement()

	var (
		sql string
		err error
	)
	if q.Kind == domain.KindWholeSystemUnion {
		sql, err = r.union(st, q, window)
	} else {
		sql, err = r.single(st, q, window)
	}
	if err != nil {
		return domain.Statement{}, err
	}

	r.logger.Debug().
		Str("kind", q.Kind.String()).
		Str("resource_type", q.ResourceType).
		Int("args", len(st.args)).
		Msg("rendered statement")
	return domain.Statement{SQL: sql, Args: st.args}, nil
}

func (r *Renderer) single(st *statement, q *domain.Query, window *pagination.Window) (string, error) {
	var b strings.Builder
	count := q.IsCount()
	switch {
	case count:
		b.WriteString("SELECT COUNT(*)")
	case q.Kind == domain.KindWholeSystemFilter:
		b.WriteString("SELECT LR0.resource_type_id, " + resourceColumns)
	default:
		b.WriteString("SELECT " + resourceColumns)
	}

	where, err := r.where(st, q)
	if err != nil {
		return "", err
	}
	b.WriteString(" FROM " + table(q.ResourceType, tableLogicalResources) + " AS " + outer + " WHERE " + where)
	if count {
		return b.String(), nil
	}

	order := make([]string, 0, len(q.Sort)+1)
	for _, s := range q.Sort {
		key, err := r.sortKey(st, q.ResourceType, s)
		if err != nil {
			return "", err
		}
		order = append(order, key+direction(s))
	}
	order = append(order, outer+".logical_resource_id")
	b.WriteString(" ORDER BY " + strings.Join(order, ", "))
	b.WriteString(r.window(st, window))
	return b.String(), nil
}

// union renders the sub-queries of q as one UNION ALL.
func (r *Renderer) union(st *statement, q *domain.Query, window *pagination.Window) (string, error) {
	if len(q.SubQueries) == 0 {
		return "", errors.New("render: union without sub-queries")
	}
	count := q.IsCount()
	members := make([]string, 0, len(q.SubQueries))
	for _, sub := range q.SubQueries {
		m, err := r.unionMember(st, sub, count)
		if err != nil {
			return "", err
		}
		members = append(members, "("+m+")")
	}
	from := "(" + strings.Join(members, " UNION ALL ") + ") AS U"
	if count {
		return "SELECT COUNT(*) FROM " + from, nil
	}

	order := make([]string, 0, len(q.Sort)+2)
	for i, s := range q.Sort {
		order = append(order, fmt.Sprintf("U.sort_%d%s", i, direction(s)))
	}
	order = append(order, "U.resource_type_id", "U.logical_resource_id")
	return "SELECT " + unionColumns + " FROM " + from + " ORDER BY " + strings.Join(order, ", ") + r.window(st, window), nil
}

func (r *Renderer) unionMember(st *statement, q *domain.Query, count bool) (string, error) {
	cols := outer + ".logical_resource_id"
	if !count {
		cols = fmt.Sprintf("%d AS resource_type_id, %s", q.ResourceTypeID, resourceColumns)
		for i, s := range q.Sort {
			key, err := r.sortKey(st, q.ResourceType, s)
			if err != nil {
				return "", err
			}
			cols += fmt.Sprintf(", %s AS sort_%d", key, i)
		}
	}
	where, err := r.where(st, q)
	if err != nil {
		return "", err
	}
	return "SELECT " + cols + " FROM " + table(q.ResourceType, tableLogicalResources) + " AS " + outer + " WHERE " + where, nil
}

// where renders the extensions and parameters of q.
func (r *Renderer) where(st *statement, q *domain.Query) (string, error) {
	v := r.visitor(st, q.ResourceType, outer)
	v.preds = append(v.preds, outer+".is_deleted = 'N'")
	if err := q.Walk(v); err != nil {
		return "", err
	}
	return and(v.preds), nil
}

func (r *Renderer) window(st *statement, w *pagination.Window) string {
	if w == nil {
		return ""
	}
	return fmt.Sprintf(" OFFSET %s ROWS FETCH FIRST %s ROWS ONLY", st.arg(w.Offset), st.arg(w.RowsPerPage))
}

// sortKey is the expression ordering resources by s: the smallest indexed
// value for ascending sorts, the largest for descending ones.
func (r *Renderer) sortKey(st *statement, resourceType string, s search.SortParameter) (string, error) {
	switch s.Code {
	case param.CodeID:
		return outer + ".logical_id", nil
	case param.CodeLastUpdated:
		return outer + ".last_updated", nil
	}

	agg := "MIN"
	if s.Descending {
		agg = "MAX"
	}
	a := st.alias("S")
	var suffix, col, join string
	switch s.Type {
	case param.TypeString, param.TypeURI:
		suffix, col = tableStrValues, a+".str_value"
	case param.TypeDate:
		suffix, col = tableDateValues, a+".date_start"
		if s.Descending {
			col = a + ".date_end"
		}
	case param.TypeNumber:
		suffix, col = tableNumberValues, a+".number_value"
	case param.TypeQuantity:
		suffix, col = tableQuantityValues, a+".quantity_value"
	case param.TypeReference:
		suffix, col = tableRefValues, a+".ref_logical_id"
	case param.TypeToken:
		suffix, col, join = tableTokenRefs, tokenAlias(a)+".token_value", tokenJoin(a)
	default:
		return "", &search.NotSupportedError{Code: s.Code, Type: s.Type}
	}
	return fmt.Sprintf("(SELECT %s(%s) FROM %s AS %s%s WHERE %s)",
		agg, col, table(resourceType, suffix), a, join, r.correlate(st, a, outer, s.Code)), nil
}

func direction(s search.SortParameter) string {
	if s.Descending {
		return " DESC NULLS LAST"
	}
	return " ASC"
}

// correlate ties the value rows aliased a to the resource row lr and, when
// code is set, to the parameter name.
func (r *Renderer) correlate(st *statement, a, lr, code string) string {
	s := fmt.Sprintf("%s.logical_resource_id = %s.logical_resource_id%s", a, lr, r.shard(a, lr))
	if code != "" {
		s += fmt.Sprintf(" AND %s.parameter_name_id = %s", a, st.arg(r.cache.ParameterNameID(code)))
	}
	return s
}

// shard is the co-location predicate between two rows of the same resource
// in the distributed schema.
func (r *Renderer) shard(a, b string) string {
	if r.variant != Distributed {
		return ""
	}
	return fmt.Sprintf(" AND %s.shard_key = %s.shard_key", a, b)
}

// typeID resolves a resource type named in a query value. Identity
// failures, an unknown name included, are returned unmodified.
func (r *Renderer) typeID(name string) (int, error) {
	return r.cache.ResourceTypeID(name)
}
