package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/fhirquery/internal/config"
	"github.com/ehr/fhirquery/internal/platform/db"
	"github.com/ehr/fhirquery/internal/platform/identity"
	"github.com/ehr/fhirquery/internal/search/builder"
	"github.com/ehr/fhirquery/internal/search/parse"
	"github.com/ehr/fhirquery/internal/search/registry"
	"github.com/ehr/fhirquery/internal/search/render"
	"github.com/ehr/fhirquery/pkg/pagination"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "fhirquery",
		Short:        "FHIR search query compiler",
		SilenceUsage: true,
	}
	rootCmd.SetOut(out)

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(compileCmd())
	rootCmd.AddCommand(typesCmd())
	return rootCmd
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	logger := zerolog.New(out).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func loadRegistry(cfg *config.Config) (*registry.Registry, error) {
	if cfg.RegistryFile != "" {
		return registry.Load(cfg.RegistryFile)
	}
	return registry.Default()
}

// compiler is everything needed to turn a query string into statements.
type compiler struct {
	registry *registry.Registry
	parser   *parse.Parser
	builder  *builder.Builder
}

func newCompiler(cfg *config.Config, reg *registry.Registry, cache identity.Cache, logger zerolog.Logger) (*compiler, error) {
	variant, err := render.ParseVariant(cfg.SchemaVariant)
	if err != nil {
		return nil, err
	}
	r := render.New(cache,
		render.WithVariant(variant),
		render.WithLegacyWholeSystemParams(cfg.LegacyWholeSystemParams),
		render.WithLogger(logger),
	)
	b := builder.New(cache, r, builder.WithLogger(logger))
	p := parse.New(reg,
		parse.WithLimits(pagination.Limits{DefaultPageSize: cfg.DefaultPageSize, MaxPageSize: cfg.MaxPageSize}),
		parse.WithMaxIncludeCount(cfg.MaxIncludeCount),
	)
	return &compiler{registry: reg, parser: p, builder: b}, nil
}

// staticCache assigns ids in registry order. It stands in for the identity
// tables when no database is configured.
func staticCache(reg *registry.Registry) *identity.Static {
	return identity.NewStatic(reg.ResourceTypes(), reg.ParameterCodes(), identity.WellKnownCodeSystems)
}

// identityCache loads the identity tables when DATABASE_URL is set. The
// returned pool is nil otherwise and must be closed by the caller.
func identityCache(ctx context.Context, cfg *config.Config, reg *registry.Registry) (identity.Cache, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return staticCache(reg), nil, nil
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	cache, err := identity.LoadPostgres(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("load identity cache: %w", err)
	}
	return cache, pool, nil
}

func typesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the resource types known to the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			reg, err := loadRegistry(cfg)
			if err != nil {
				return err
			}
			for _, rt := range reg.ResourceTypes() {
				fmt.Fprintln(cmd.OutOrStdout(), rt)
			}
			return nil
		},
	}
}
