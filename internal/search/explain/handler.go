// Package explain exposes the query compiler over HTTP. Its endpoints accept
// a FHIR search query string and answer with the statements the compiler
// produces for it, without executing them.
package explain

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirquery/internal/platform/db"
	"github.com/ehr/fhirquery/internal/search"
	"github.com/ehr/fhirquery/internal/search/builder"
	"github.com/ehr/fhirquery/internal/search/domain"
	"github.com/ehr/fhirquery/internal/search/parse"
	"github.com/ehr/fhirquery/pkg/pagination"
)

// Explain control parameters. They are consumed by the handler and never
// reach the parser. idsParam carries the logical resource ids include
// statements are built for; matchesParam is an assumed match count the
// Bundle paging links are computed from.
const (
	idsParam     = "_ids"
	matchesParam = "_matches"
)

// Response is the body of every explain endpoint.
type Response struct {
	ResourceType string                `json:"resourceType"`
	Strategy     string                `json:"strategy"`
	Parameters   []string              `json:"parameters,omitempty"`
	Plan         string                `json:"plan"`
	Count        domain.Statement      `json:"count"`
	Data         domain.Statement      `json:"data"`
	Includes     []IncludeResponse     `json:"includes,omitempty"`
	Links        []pagination.FHIRLink `json:"links,omitempty"`
}

// IncludeResponse is the statement of one _include or _revinclude.
type IncludeResponse struct {
	Directive string `json:"directive"`
	domain.Statement
}

type Handler struct {
	parser  *parse.Parser
	builder *builder.Builder
	logger  zerolog.Logger
}

func NewHandler(parser *parse.Parser, b *builder.Builder, logger zerolog.Logger) *Handler {
	return &Handler{parser: parser, builder: b, logger: logger}
}

func (h *Handler) RegisterRoutes(fhirGroup *echo.Group) {
	fhirGroup.GET("/_explain", h.ExplainSystem)
	fhirGroup.GET("/:type/_explain", h.ExplainType)
	fhirGroup.GET("/:compartment/:id/:type/_explain", h.ExplainCompartment)
}

// ExplainSystem handles GET /fhir/_explain.
func (h *Handler) ExplainSystem(c echo.Context) error {
	return h.explain(c, func(q url.Values) (search.SearchContext, error) {
		return h.parser.Parse(search.ResourceTypeAny, q)
	})
}

// ExplainType handles GET /fhir/:type/_explain.
func (h *Handler) ExplainType(c echo.Context) error {
	rt := c.Param("type")
	return h.explain(c, func(q url.Values) (search.SearchContext, error) {
		return h.parser.Parse(rt, q)
	})
}

// ExplainCompartment handles GET /fhir/:compartment/:id/:type/_explain.
func (h *Handler) ExplainCompartment(c echo.Context) error {
	comp, id, rt := c.Param("compartment"), c.Param("id"), c.Param("type")
	return h.explain(c, func(q url.Values) (search.SearchContext, error) {
		return h.parser.ParseCompartment(comp, id, rt, q)
	})
}

func (h *Handler) explain(c echo.Context, parseFn func(url.Values) (search.SearchContext, error)) error {
	q := c.QueryParams()
	ids, err := logicalResourceIDs(q.Get(idsParam))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	matches := -1
	if raw := q.Get(matchesParam); raw != "" {
		if matches, err = strconv.Atoi(raw); err != nil || matches < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, search.Invalid(matchesParam, "%q is not a match count", raw).Error())
		}
	}
	q.Del(idsParam)
	q.Del(matchesParam)

	ctx, err := parseFn(q)
	if err != nil {
		return h.httpError(c, err)
	}
	resp, err := Compile(h.builder, ctx, ids)
	if err != nil {
		return h.httpError(c, err)
	}
	if matches >= 0 {
		page := pagination.Params{PageNumber: ctx.PageNumber, PageSize: ctx.PageSize}
		resp.Links = page.FHIRLinks(strings.TrimSuffix(c.Request().URL.Path, "/_explain"), matches)
	}
	return c.JSON(http.StatusOK, resp)
}

// Compile builds every statement of ctx. Include statements are built only
// when ids, the logical resource ids of a primary result, are given.
func Compile(b *builder.Builder, ctx search.SearchContext, ids []int64) (*Response, error) {
	prepared, err := b.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	dataQuery, err := prepared.DataQuery()
	if err != nil {
		return nil, err
	}
	count, err := prepared.Count()
	if err != nil {
		return nil, err
	}
	data, err := prepared.Data()
	if err != nil {
		return nil, err
	}

	resp := &Response{
		ResourceType: ctx.ResourceType,
		Strategy:     prepared.Strategy().String(),
		Plan:         domain.Describe(dataQuery),
		Count:        count,
		Data:         data,
	}
	for _, p := range ctx.Parameters {
		resp.Parameters = append(resp.Parameters, p.String())
	}

	if len(ids) == 0 {
		return resp, nil
	}
	for _, inc := range ctx.Inclusions {
		stmt, err := b.BuildIncludeQuery(inc, ctx.ResourceType, ids, ctx.MaxIncludeCount)
		if err != nil {
			return nil, err
		}
		resp.Includes = append(resp.Includes, IncludeResponse{
			Directive: inc.Kind.String() + "=" + inc.JoinResourceType + ":" + inc.SearchParameter + ":" + inc.SearchParameterTargetType,
			Statement: stmt,
		})
	}
	return resp, nil
}

// httpError maps compiler errors to HTTP statuses: request errors are 400,
// persistence failures 503.
func (h *Handler) httpError(c echo.Context, err error) error {
	var invalid *search.InvalidParameterError
	switch {
	case errors.As(err, &invalid), errors.Is(err, search.ErrNotSupported):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case db.IsPersistence(err):
		h.logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("identity lookup failed")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "search index unavailable")
	default:
		h.logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("explain failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}

func logicalResourceIDs(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, s := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, search.Invalid(idsParam, "%q is not a logical resource id", s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
