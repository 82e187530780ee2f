package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mskhalsa/EZPostgres-service/internal/domain"
	"github.com/mskhalsa/EZPostgres-service/internal/repository"
	"github.com/mskhalsa/EZPostgres-service/pkg/pgident"
)

// DeployTable performs the physical half of a deployment as one transaction:
// schema ensure, table creation, catalog upsert and team grant commit or roll
// back together, so the catalog never records a table that was not created
// and never misses one that was.
func (r *Repository) DeployTable(ctx context.Context, dep domain.TableDeployment) (*domain.TableRecord, error) {
	for _, ident := range []string{dep.SchemaName, dep.TableName, dep.TeamRole} {
		if err := pgident.Valid(ident); err != nil {
			return nil, fmt.Errorf("deploy table: %w", err)
		}
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, mapPgError(err)
	}
	defer tx.Rollback(ctx)

	// Serialize concurrent deployments of the same relation: one creator
	// wins, later deployments observe the committed table and refresh the
	// record instead of racing CREATE TABLE.
	relation := dep.SchemaName + "." + dep.TableName
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, relation); err != nil {
		return nil, mapPgError(err)
	}

	if _, err := tx.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+dep.SchemaName); err != nil {
		return nil, mapPgError(err)
	}

	var exists bool
	const existsQuery = `SELECT EXISTS (
		SELECT 1 FROM pg_catalog.pg_tables WHERE schemaname = $1 AND tablename = $2)`
	if err := tx.QueryRow(ctx, existsQuery, dep.SchemaName, dep.TableName).Scan(&exists); err != nil {
		return nil, mapPgError(err)
	}

	if exists {
		// A physical table without a catalog row for the same team is a
		// naming conflict, not a re-deploy.
		var ownerTeam int64
		const ownerQuery = `SELECT team_id FROM meta.tables
			WHERE schema_name = $1 AND table_name = $2`
		err := tx.QueryRow(ctx, ownerQuery, dep.SchemaName, dep.TableName).Scan(&ownerTeam)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrConflict
		}
		if err != nil {
			return nil, mapPgError(err)
		}
		if ownerTeam != dep.TeamID {
			return nil, repository.ErrConflict
		}
	} else {
		createSQL := fmt.Sprintf("CREATE TABLE %s.%s %s", dep.SchemaName, dep.TableName, dep.Definition)
		if _, err := tx.Exec(ctx, createSQL); err != nil {
			return nil, mapPgError(err)
		}
	}

	const upsert = `INSERT INTO meta.tables (team_id, table_name, schema_name, created_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (schema_name, table_name)
		DO UPDATE SET updated_at = CURRENT_TIMESTAMP
		RETURNING id, created_at, updated_at`
	record := domain.TableRecord{
		TeamID:     dep.TeamID,
		TableName:  dep.TableName,
		SchemaName: dep.SchemaName,
		CreatedBy:  dep.CreatedBy,
	}
	if err := tx.QueryRow(ctx, upsert, dep.TeamID, dep.TableName, dep.SchemaName, dep.CreatedBy).
		Scan(&record.ID, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return nil, mapPgError(err)
	}

	grantSQL := fmt.Sprintf("GRANT ALL PRIVILEGES ON TABLE %s.%s TO %s",
		dep.SchemaName, dep.TableName, dep.TeamRole)
	if _, err := tx.Exec(ctx, grantSQL); err != nil {
		return nil, mapPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgError(err)
	}
	return &record, nil
}
