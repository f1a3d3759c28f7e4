package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/tierstore/internal/dbx"
	"github.com/dmitrijs2005/tierstore/internal/server/repositories/repomanager"
)

// ResidencyTracker owns the is_external and is_uploaded flags. Every method
// runs on the caller's DBTX so flag changes commit or roll back with the
// surrounding record mutation.
type ResidencyTracker struct {
	repomanager repomanager.RepositoryManager
}

func NewResidencyTracker(repomanager repomanager.RepositoryManager) *ResidencyTracker {
	return &ResidencyTracker{repomanager: repomanager}
}

func (r *ResidencyTracker) MarkExternal(ctx context.Context, tx dbx.DBTX, id int64) error {
	if err := r.repomanager.Attachments(tx).SetExternal(ctx, id, true); err != nil {
		return fmt.Errorf("mark external %d: %w", id, err)
	}
	return nil
}

// MarkUploaded flags every external record holding key. The remote object
// is shared, so all of them are uploaded at once.
func (r *ResidencyTracker) MarkUploaded(ctx context.Context, tx dbx.DBTX, key string) (int64, error) {
	n, err := r.repomanager.Attachments(tx).MarkUploaded(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("mark uploaded %s: %w", key, err)
	}
	return n, nil
}

func (r *ResidencyTracker) ClearUploaded(ctx context.Context, tx dbx.DBTX, id int64) error {
	if err := r.repomanager.Attachments(tx).ClearUploaded(ctx, id); err != nil {
		return fmt.Errorf("clear uploaded %d: %w", id, err)
	}
	return nil
}

// IsExternal reports whether any record holding key is external.
func (r *ResidencyTracker) IsExternal(ctx context.Context, tx dbx.DBTX, key string) (bool, error) {
	rows, err := r.repomanager.Attachments(tx).FindByKeyAndFlags(ctx, key, ptr(true), nil)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// IsUploaded reports whether any external record holding key is uploaded.
func (r *ResidencyTracker) IsUploaded(ctx context.Context, tx dbx.DBTX, key string) (bool, error) {
	rows, err := r.repomanager.Attachments(tx).FindByKeyAndFlags(ctx, key, ptr(true), ptr(true))
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func ptr[T any](v T) *T { return &v }
