package postgres

import (
	"context"

	"github.com/mskhalsa/EZPostgres-service/internal/domain"
)

// TeamUsage aggregates member counts, table counts and total relation sizes
// per team. Relations that disappeared underneath the catalog contribute
// zero bytes rather than failing the report.
func (r *Repository) TeamUsage(ctx context.Context) ([]domain.TeamUsage, error) {
	const query = `SELECT t.id, t.name,
			COUNT(DISTINCT tm.user_id) AS members,
			COUNT(DISTINCT tbl.id) AS tables,
			COALESCE(SUM(pg_total_relation_size(
				to_regclass(quote_ident(tbl.schema_name) || '.' || quote_ident(tbl.table_name)))), 0)::bigint
		FROM meta.teams t
		LEFT JOIN meta.team_members tm ON t.id = tm.team_id
		LEFT JOIN meta.tables tbl ON t.id = tbl.team_id
		GROUP BY t.id, t.name
		ORDER BY t.id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	var usages []domain.TeamUsage
	for rows.Next() {
		var u domain.TeamUsage
		if err := rows.Scan(&u.TeamID, &u.TeamName, &u.Members, &u.Tables, &u.TotalBytes); err != nil {
			return nil, mapPgError(err)
		}
		usages = append(usages, u)
	}
	return usages, mapPgError(rows.Err())
}

// LargestTables returns the biggest deployed tables by on-disk size.
func (r *Repository) LargestTables(ctx context.Context, limit int) ([]domain.TableSize, error) {
	const query = `SELECT t.name, tbl.schema_name, tbl.table_name,
			COALESCE(pg_total_relation_size(
				to_regclass(quote_ident(tbl.schema_name) || '.' || quote_ident(tbl.table_name))), 0)::bigint AS size_bytes
		FROM meta.tables tbl
		INNER JOIN meta.teams t ON tbl.team_id = t.id
		ORDER BY size_bytes DESC
		LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	var sizes []domain.TableSize
	for rows.Next() {
		var s domain.TableSize
		if err := rows.Scan(&s.TeamName, &s.SchemaName, &s.TableName, &s.SizeBytes); err != nil {
			return nil, mapPgError(err)
		}
		sizes = append(sizes, s)
	}
	return sizes, mapPgError(rows.Err())
}
