// Package parameters stores key-value configuration parameters in
// PostgreSQL.
package parameters

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/tierstore/internal/dbx"
	"github.com/dmitrijs2005/tierstore/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetMany(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	query := `SELECT key, value FROM config_parameters WHERE key IN (` + dbx.Placeholders(1, len(keys)) + `)`
	rows, err := r.db.QueryContext(ctx, query, dbx.Args(keys)...)
	if err != nil {
		return nil, fmt.Errorf("failed to select parameters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// Set upserts a parameter.
func (r *PostgresRepository) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO config_parameters (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Delete unsets a parameter. Deleting an unset key is not an error.
func (r *PostgresRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM config_parameters WHERE key = $1`, key); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.Parameter, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value, updated_at FROM config_parameters ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to select parameters: %w", err)
	}
	defer rows.Close()

	var result []*models.Parameter
	for rows.Next() {
		var p models.Parameter
		if err := rows.Scan(&p.Key, &p.Value, &p.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}
