package sweep

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tierstore/internal/checklist"
	"github.com/dmitrijs2005/tierstore/internal/dbx"
	"github.com/dmitrijs2005/tierstore/internal/logging"
	"github.com/dmitrijs2005/tierstore/internal/objectstore"
)

// RemoteCollector deletes remote objects no external record references.
type RemoteCollector struct {
	deps   Deps
	logger logging.Logger
}

func NewRemoteCollector(deps Deps) *RemoteCollector {
	return &RemoteCollector{deps: deps, logger: deps.logger().With("job", "remote_gc")}
}

func (c *RemoteCollector) Name() string { return "remote_gc" }

// Run computes the delete set under the table lock, commits, and only then
// talks to the object store. Markers of keys whose deletion failed are kept
// for the next pass.
func (c *RemoteCollector) Run(ctx context.Context) (Result, error) {
	var res Result
	if err := c.deps.checkStorage(); err != nil {
		return res, err
	}
	_, client, err := c.deps.remoteClient(ctx)
	if err != nil {
		return res, err
	}

	var evaluated []checklist.Entry
	var doomed []string
	err = dbx.WithTx(ctx, c.deps.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := c.deps.Repos.Attachments(tx)
		if err := repo.LockShared(ctx, c.deps.lockTimeout()); err != nil {
			return err
		}

		batches, err := c.deps.Checklists.Drain(checklist.Remote, checklist.MaxBatch)
		if err != nil {
			return err
		}
		for _, batch := range batches {
			keep, err := repo.RemoteWhitelist(ctx, checklist.Keys(batch))
			if err != nil {
				return fmt.Errorf("remote whitelist: %w", err)
			}
			for _, e := range batch {
				evaluated = append(evaluated, e)
				if !keep.Has(e.Key) {
					doomed = append(doomed, e.Key)
				}
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, dbx.ErrLockTimeout) {
			return res, fmt.Errorf("%w: %w", ErrSkipped, err)
		}
		return res, fmt.Errorf("remote gc: %w", err)
	}
	res.Checked = len(evaluated)

	failed := c.delete(ctx, client, doomed, &res)

	for _, e := range evaluated {
		if _, ok := failed[e.Key]; ok {
			continue
		}
		if err := c.deps.Checklists.Remove(e); err != nil {
			c.logger.Warn(ctx, "failed to drop marker", "key", e.Key, "error", err)
			continue
		}
		res.Removed++
	}
	res.Failed = len(failed)

	c.logger.Info(ctx, "remote gc finished",
		"checked", res.Checked, "deleted", res.Deleted, "failed", res.Failed, "markers_removed", res.Removed)
	return res, nil
}

func (c *RemoteCollector) delete(ctx context.Context, client objectstore.Store, keys []string, res *Result) map[string]struct{} {
	failed := make(map[string]struct{})
	for _, chunk := range objectstore.Chunk(keys, objectstore.MaxBatchDelete) {
		out, err := client.BatchDelete(ctx, chunk)
		if err != nil {
			c.logger.Error(ctx, "batch delete failed", "keys", len(chunk), "error", err)
			for _, k := range chunk {
				failed[k] = struct{}{}
			}
			continue
		}
		res.Deleted += len(out.Deleted)
		for k, reason := range out.Failed {
			c.logger.Warn(ctx, "remote delete failed", "key", k, "reason", reason)
			failed[k] = struct{}{}
		}
	}
	return failed
}
