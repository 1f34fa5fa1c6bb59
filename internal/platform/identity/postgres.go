package identity

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/ehr/fhirquery/internal/platform/db"
)

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const (
	resourceTypesSQL  = `SELECT resource_type_id, resource_type FROM resource_types ORDER BY resource_type_id`
	parameterNamesSQL = `SELECT parameter_name_id, parameter_name FROM parameter_names`
	codeSystemsSQL    = `SELECT code_system_id, code_system_name FROM code_systems`
)

// LoadPostgres reads the identity tables once and returns a static
// snapshot. Every failure is a *db.PersistenceError.
func LoadPostgres(ctx context.Context, q Querier) (*Static, error) {
	types, err := loadTable(ctx, q, "load resource types", resourceTypesSQL)
	if err != nil {
		return nil, err
	}
	params, err := loadTable(ctx, q, "load parameter names", parameterNamesSQL)
	if err != nil {
		return nil, err
	}
	systems, err := loadTable(ctx, q, "load code systems", codeSystemsSQL)
	if err != nil {
		return nil, err
	}

	s := &Static{
		typeIDs:   types,
		typeNames: make(map[int]string, len(types)),
		paramIDs:  params,
		systemIDs: systems,
	}
	for name, id := range types {
		s.typeNames[id] = name
	}
	return s, nil
}

func loadTable(ctx context.Context, q Querier, op, sql string) (map[string]int, error) {
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, &db.PersistenceError{Op: op, Err: err}
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			id   int
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, &db.PersistenceError{Op: op, Err: err}
		}
		out[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, &db.PersistenceError{Op: op, Err: err}
	}
	return out, nil
}
