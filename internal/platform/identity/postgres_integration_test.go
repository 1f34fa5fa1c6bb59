//go:build integration

package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ehr/fhirquery/internal/platform/db"
)

const identitySchema = `
CREATE TABLE resource_types (resource_type_id INT PRIMARY KEY, resource_type TEXT NOT NULL);
CREATE TABLE parameter_names (parameter_name_id INT PRIMARY KEY, parameter_name TEXT NOT NULL);
CREATE TABLE code_systems (code_system_id INT PRIMARY KEY, code_system_name TEXT NOT NULL);
INSERT INTO resource_types VALUES (1, 'Patient'), (2, 'Observation');
INSERT INTO parameter_names VALUES (10, 'name'), (11, 'code');
INSERT INTO code_systems VALUES (20, 'http://loinc.org');
`

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("fhirquery"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := db.NewPool(ctx, dsn, 4, 1)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestLoadPostgres(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, identitySchema)
	require.NoError(t, err)

	c, err := LoadPostgres(ctx, pool)
	require.NoError(t, err)

	id, err := c.ResourceTypeID("Observation")
	require.NoError(t, err)
	assert.Equal(t, 2, id)
	assert.Equal(t, []string{"Observation", "Patient"}, c.ResourceTypeNames())
	assert.Equal(t, 11, c.ParameterNameID("code"))
	assert.Equal(t, 20, c.CodeSystemID("http://loinc.org"))
	assert.Equal(t, Unknown, c.CodeSystemID("http://snomed.info/sct"))
}

func TestLoadPostgresMissingTables(t *testing.T) {
	pool := startPostgres(t)

	_, err := LoadPostgres(context.Background(), pool)
	require.Error(t, err)
	var pe *db.PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "load resource types", pe.Op)
}
