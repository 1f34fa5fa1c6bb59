// Package builder compiles a search context into the domain model and hands
// it to a renderer. It classifies parameters, consolidates date ranges,
// selects the whole-system strategy and builds include queries.
//
// A Builder holds only read-only state and is safe for concurrent use. Every
// call builds its own model from scratch.
package builder

import (
	"github.com/rs/zerolog"

	"github.com/ehr/fhirquery/internal/platform/identity"
	"github.com/ehr/fhirquery/internal/search/domain"
	"github.com/ehr/fhirquery/pkg/pagination"
)

// Renderer turns a finished query into an executable statement. window is
// nil for queries that are not paginated.
type Renderer interface {
	Render(q *domain.Query, window *pagination.Window) (domain.Statement, error)
	// LegacyWholeSystemParams reports whether _tag, _security and _profile
	// render through the per-type token and string tables. Classification
	// follows the same mode.
	LegacyWholeSystemParams() bool
}

// Builder compiles search requests.
type Builder struct {
	cache    identity.Cache
	renderer Renderer
	logger   zerolog.Logger
	// legacy disables the tag, security and profile global tables. It is
	// taken from the renderer.
	legacy bool
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the debug logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Builder) { b.logger = logger }
}

// New returns a Builder resolving identities through cache and rendering
// with renderer.
func New(cache identity.Cache, renderer Renderer, opts ...Option) *Builder {
	b := &Builder{
		cache:    cache,
		renderer: renderer,
		logger:   zerolog.Nop(),
		legacy:   renderer.LegacyWholeSystemParams(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}
