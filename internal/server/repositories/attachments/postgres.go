// Package attachments provides the PostgreSQL-backed repository for
// attachment records and their residency flags.
package attachments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/tierstore/internal/dbx"
	"github.com/dmitrijs2005/tierstore/internal/server/models"
)

const table = "attachments"

// maxParams keeps IN lists below the point where planners and drivers
// start to struggle.
const maxParams = 1000

const selectColumns = `id, name, res_model, res_id, res_field, COALESCE(store_fname, ''), checksum,
	file_size, mimetype, COALESCE(is_external, FALSE), is_uploaded, created_at`

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttachment(s scanner) (*models.Attachment, error) {
	var a models.Attachment
	if err := s.Scan(
		&a.ID, &a.Name, &a.ResModel, &a.ResID, &a.ResField, &a.StoreFname, &a.Checksum,
		&a.FileSize, &a.Mimetype, &a.IsExternal, &a.IsUploaded, &a.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *PostgresRepository) queryAttachments(ctx context.Context, query string, args ...any) ([]*models.Attachment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select attachments: %w", err)
	}
	defer rows.Close()

	var result []*models.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}

// Create inserts the record and fills in ID and CreatedAt.
func (r *PostgresRepository) Create(ctx context.Context, a *models.Attachment) (*models.Attachment, error) {
	query := `
		INSERT INTO attachments (name, res_model, res_id, res_field, store_fname, checksum, file_size, mimetype, is_external, is_uploaded)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		a.Name, a.ResModel, a.ResID, a.ResField, a.StoreFname, a.Checksum, a.FileSize, a.Mimetype, a.IsExternal, a.IsUploaded,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert attachment: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.Attachment, error) {
	query := `SELECT ` + selectColumns + ` FROM attachments WHERE id = $1`
	a, err := scanAttachment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("attachment %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("select attachment %d: %w", id, err)
	}
	return a, nil
}

// FindByKey returns every record referencing key, whatever its res_field.
func (r *PostgresRepository) FindByKey(ctx context.Context, key string) ([]*models.Attachment, error) {
	return r.FindByKeyAndFlags(ctx, key, nil, nil)
}

func (r *PostgresRepository) FindByKeyAndFlags(ctx context.Context, key string, external, uploaded *bool) ([]*models.Attachment, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + selectColumns + ` FROM attachments WHERE store_fname = $1`)
	args := []any{key}
	if external != nil {
		args = append(args, *external)
		fmt.Fprintf(&b, ` AND COALESCE(is_external, FALSE) = $%d`, len(args))
	}
	if uploaded != nil {
		args = append(args, *uploaded)
		fmt.Fprintf(&b, ` AND is_uploaded = $%d`, len(args))
	}
	b.WriteString(` ORDER BY id`)
	return r.queryAttachments(ctx, b.String(), args...)
}

// UpdateContent rewrites the content columns of an existing record.
func (r *PostgresRepository) UpdateContent(ctx context.Context, a *models.Attachment) error {
	query := `
		UPDATE attachments
		SET store_fname = NULLIF($2, ''), checksum = $3, file_size = $4, mimetype = $5
		WHERE id = $1`
	return r.execOne(ctx, a.ID, query, a.ID, a.StoreFname, a.Checksum, a.FileSize, a.Mimetype)
}

func (r *PostgresRepository) SetExternal(ctx context.Context, id int64, external bool) error {
	return r.execOne(ctx, id, `UPDATE attachments SET is_external = $2 WHERE id = $1`, id, external)
}

func (r *PostgresRepository) ClearUploaded(ctx context.Context, id int64) error {
	return r.execOne(ctx, id, `UPDATE attachments SET is_uploaded = FALSE WHERE id = $1`, id)
}

func (r *PostgresRepository) execOne(ctx context.Context, id int64, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("attachment %d: %w", id, ErrNotFound)
	}
	return nil
}

// Delete removes the records and reports what each one referenced.
func (r *PostgresRepository) Delete(ctx context.Context, ids []int64) ([]DeletedRow, error) {
	var out []DeletedRow
	for start := 0; start < len(ids); start += maxParams {
		chunk := ids[start:min(start+maxParams, len(ids))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		query := `DELETE FROM attachments WHERE id IN (` + dbx.Placeholders(1, len(chunk)) + `)
			RETURNING id, COALESCE(store_fname, ''), COALESCE(is_external, FALSE)`
		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("delete attachments: %w", err)
		}
		for rows.Next() {
			var d DeletedRow
			if err := rows.Scan(&d.ID, &d.StoreFname, &d.IsExternal); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan deleted row: %w", err)
			}
			out = append(out, d)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("rows error: %w", err)
		}
	}
	return out, nil
}

// SelectPendingUpload pages through external, not yet uploaded records by id.
func (r *PostgresRepository) SelectPendingUpload(ctx context.Context, afterID int64, limit int) ([]*models.Attachment, error) {
	query := `SELECT ` + selectColumns + ` FROM attachments
		WHERE is_external IS TRUE AND is_uploaded IS FALSE AND store_fname IS NOT NULL AND id > $1
		ORDER BY id
		LIMIT $2`
	return r.queryAttachments(ctx, query, afterID, limit)
}

// LocalWhitelist returns the keys whose local blob is still needed: some
// record references them and is not (external and uploaded).
func (r *PostgresRepository) LocalWhitelist(ctx context.Context, keys []string) (KeySet, error) {
	return r.keySet(ctx, keys, `(is_external IS NOT TRUE OR is_uploaded IS FALSE)`)
}

// RemoteWhitelist returns the keys some external record still references,
// uploaded or not.
func (r *PostgresRepository) RemoteWhitelist(ctx context.Context, keys []string) (KeySet, error) {
	return r.keySet(ctx, keys, `is_external IS TRUE`)
}

// PendingUploadKeys returns the keys that still have a record waiting for upload.
func (r *PostgresRepository) PendingUploadKeys(ctx context.Context, keys []string) (KeySet, error) {
	return r.keySet(ctx, keys, `is_external IS TRUE AND is_uploaded IS FALSE`)
}

func (r *PostgresRepository) keySet(ctx context.Context, keys []string, cond string) (KeySet, error) {
	set := make(KeySet, len(keys))
	for start := 0; start < len(keys); start += maxParams {
		chunk := keys[start:min(start+maxParams, len(keys))]
		query := `SELECT DISTINCT store_fname FROM attachments
			WHERE store_fname IN (` + dbx.Placeholders(1, len(chunk)) + `) AND ` + cond

		rows, err := r.db.QueryContext(ctx, query, dbx.Args(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("whitelist query: %w", err)
		}
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan key: %w", err)
			}
			set[k] = struct{}{}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("rows error: %w", err)
		}
	}
	return set, nil
}

// MarkUploaded flags every external record sharing key as uploaded and
// returns how many were updated.
func (r *PostgresRepository) MarkUploaded(ctx context.Context, key string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE attachments SET is_uploaded = TRUE WHERE store_fname = $1 AND is_external IS TRUE`, key)
	if err != nil {
		return 0, fmt.Errorf("mark uploaded: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

// LockShared blocks writers to the attachments table for the rest of the
// enclosing transaction. The repository must be bound to a *sql.Tx.
func (r *PostgresRepository) LockShared(ctx context.Context, timeout time.Duration) error {
	return dbx.LockShared(ctx, r.db, table, timeout)
}
