package sweep

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tierstore/internal/checklist"
	"github.com/dmitrijs2005/tierstore/internal/dbx"
	"github.com/dmitrijs2005/tierstore/internal/logging"
)

// LocalCollector unlinks local blobs that no record needs on disk any more.
type LocalCollector struct {
	deps   Deps
	logger logging.Logger
}

func NewLocalCollector(deps Deps) *LocalCollector {
	return &LocalCollector{deps: deps, logger: deps.logger().With("job", "local_gc")}
}

func (c *LocalCollector) Name() string { return "local_gc" }

// Run evaluates every local-delete marker under a SHARE lock on the
// attachments table. A blob is kept while some record is local or external
// but not yet uploaded; everything else is unlinked. Every evaluated marker is
// removed. The lock is held until the unlinks are done so no record can start
// referencing a blob between the whitelist query and its removal.
func (c *LocalCollector) Run(ctx context.Context) (Result, error) {
	var res Result
	if err := c.deps.checkStorage(); err != nil {
		return res, err
	}

	err := dbx.WithTx(ctx, c.deps.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := c.deps.Repos.Attachments(tx)
		if err := repo.LockShared(ctx, c.deps.lockTimeout()); err != nil {
			return err
		}

		batches, err := c.deps.Checklists.Drain(checklist.Local, checklist.MaxBatch)
		if err != nil {
			return err
		}
		for _, batch := range batches {
			keep, err := repo.LocalWhitelist(ctx, checklist.Keys(batch))
			if err != nil {
				return fmt.Errorf("local whitelist: %w", err)
			}
			for _, e := range batch {
				res.Checked++
				if !keep.Has(e.Key) {
					removed, err := c.deps.Files.Delete(e.Key)
					switch {
					case err != nil:
						c.logger.Error(ctx, "unlink failed", "key", e.Key, "error", err)
					case removed:
						res.Removed++
						c.logger.Debug(ctx, "unlinked", "key", e.Key)
					}
				}
				if err := c.deps.Checklists.Remove(e); err != nil {
					c.logger.Warn(ctx, "failed to drop marker", "key", e.Key, "error", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, dbx.ErrLockTimeout) {
			return res, fmt.Errorf("%w: %w", ErrSkipped, err)
		}
		return res, fmt.Errorf("local gc: %w", err)
	}

	c.logger.Info(ctx, "filestore gc finished", "checked", res.Checked, "removed", res.Removed)
	return res, nil
}
