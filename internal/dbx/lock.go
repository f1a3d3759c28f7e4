package dbx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrLockTimeout is returned when a table lock could not be obtained within
// the configured lock_timeout.
var ErrLockTimeout = errors.New("lock timeout")

// lockNotAvailable is the PostgreSQL SQLSTATE raised when lock_timeout expires.
const lockNotAvailable = "55P03"

// LockShared takes a SHARE lock on table for the rest of the transaction.
// Concurrent readers proceed, writers block until commit. A positive timeout
// bounds the wait via SET LOCAL lock_timeout; expiry yields ErrLockTimeout.
//
// tx must be a transaction: outside one both statements are no-ops.
func LockShared(ctx context.Context, tx DBTX, table string, timeout time.Duration) error {
	if timeout > 0 {
		q := fmt.Sprintf("SET LOCAL lock_timeout TO '%dms'", timeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	q := fmt.Sprintf("LOCK TABLE %s IN SHARE MODE", pgx.Identifier{table}.Sanitize())
	if _, err := tx.ExecContext(ctx, q); err != nil {
		if IsLockTimeout(err) {
			return fmt.Errorf("%w: %s", ErrLockTimeout, table)
		}
		return fmt.Errorf("lock %s: %w", table, err)
	}
	return nil
}

// IsLockTimeout reports whether err is a PostgreSQL lock_not_available error.
func IsLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable
}
