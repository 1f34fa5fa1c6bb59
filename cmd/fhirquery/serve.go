package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/fhirquery/internal/config"
	"github.com/ehr/fhirquery/internal/platform/auth"
	"github.com/ehr/fhirquery/internal/platform/db"
	"github.com/ehr/fhirquery/internal/platform/middleware"
	"github.com/ehr/fhirquery/internal/search/explain"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the explain API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	reg, err := loadRegistry(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load search parameter registry")
		return err
	}

	cache, pool, err := identityCache(ctx, cfg, reg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load identity cache")
		return err
	}
	if pool != nil {
		defer pool.Close()
		logger.Info().Msg("identity cache loaded from database")
	} else {
		logger.Warn().Msg("DATABASE_URL not set, using registry-assigned identities")
	}

	c, err := newCompiler(cfg, reg, cache, logger)
	if err != nil {
		return err
	}

	e := newServer(cfg, c, pool, logger)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("schema_variant", cfg.SchemaVariant).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err, ok := <-errCh:
		if ok {
			logger.Error().Err(err).Msg("server error")
			return err
		}
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer wires the middleware and routes. pool may be nil.
func newServer(cfg *config.Config, comp *compiler, pool *pgxpool.Pool, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	if cfg.AuthEnabled() {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.PublicSkipper,
		}))
	}

	var (
		pinger db.Pinger
		stats  func() *db.PoolStats
	)
	if pool != nil {
		pinger = pool
		stats = func() *db.PoolStats { return db.GetPoolStats(pool) }
	}
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pinger, stats))

	explain.NewHandler(comp.parser, comp.builder, logger).RegisterRoutes(e.Group("/fhir"))
	return e
}
