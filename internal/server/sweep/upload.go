package sweep

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/tierstore/internal/checklist"
	"github.com/dmitrijs2005/tierstore/internal/dbx"
	"github.com/dmitrijs2005/tierstore/internal/logging"
	"github.com/dmitrijs2005/tierstore/internal/objectstore"
	"github.com/dmitrijs2005/tierstore/internal/server/services"
)

// Uploader pushes the blobs of external, not yet uploaded records to the
// remote tier.
type Uploader struct {
	deps      Deps
	residency *services.ResidencyTracker
	logger    logging.Logger
}

func NewUploader(deps Deps) *Uploader {
	return &Uploader{
		deps:      deps,
		residency: services.NewResidencyTracker(deps.Repos),
		logger:    deps.logger().With("job", "upload"),
	}
}

func (u *Uploader) Name() string { return "upload" }

// Run pages through pending records by id. A key shared by several records is
// uploaded once per pass; marking it uploaded flags all of them. Upload
// markers no pending record references any more are dropped at the end.
func (u *Uploader) Run(ctx context.Context) (Result, error) {
	var res Result
	if err := u.deps.checkStorage(); err != nil {
		return res, err
	}
	cfg, client, err := u.deps.remoteClient(ctx)
	if err != nil {
		return res, err
	}
	limit := cfg.BatchSize()

	seen := make(map[string]struct{})
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rows, err := u.deps.Repos.Attachments(u.deps.DB).SelectPendingUpload(ctx, afterID, limit)
		if err != nil {
			return res, fmt.Errorf("select pending uploads: %w", err)
		}
		for _, a := range rows {
			afterID = a.ID
			res.Checked++
			if _, ok := seen[a.StoreFname]; ok {
				continue
			}
			seen[a.StoreFname] = struct{}{}

			if err := u.upload(ctx, client, a.StoreFname); err != nil {
				res.Failed++
				u.logger.Error(ctx, "upload failed", "key", a.StoreFname, "id", a.ID, "error", err)
				continue
			}
			res.Uploaded++
			u.logger.Debug(ctx, "uploaded", "key", a.StoreFname)
		}
		if len(rows) < limit {
			break
		}
	}

	removed, err := u.dropStaleMarkers(ctx)
	res.Removed = removed
	if err != nil {
		return res, err
	}

	u.logger.Info(ctx, "upload pass finished",
		"checked", res.Checked, "uploaded", res.Uploaded, "failed", res.Failed, "stale_markers", res.Removed)
	return res, nil
}

func (u *Uploader) upload(ctx context.Context, client objectstore.Store, key string) error {
	path, err := u.deps.Files.FullPath(key)
	if err != nil {
		return err
	}
	if !u.deps.Files.Exists(key) {
		return fmt.Errorf("local blob %s missing", key)
	}
	if err := client.Upload(ctx, key, path); err != nil {
		return err
	}

	// A record overwritten or unlinked during the PUT leaves nothing to flag.
	// The object is then queued for remote GC, which keeps it if an external
	// record still holds the key.
	err = dbx.WithTx(ctx, u.deps.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		n, err := u.residency.MarkUploaded(ctx, tx, key)
		if err != nil {
			return err
		}
		if n == 0 {
			u.logger.Warn(ctx, "uploaded key no longer pending", "key", key)
			if err := u.deps.Checklists.Enqueue(checklist.Remote, key); err != nil {
				return err
			}
		}
		return u.deps.Checklists.Enqueue(checklist.Local, key)
	})
	if err != nil {
		return err
	}

	if err := u.deps.Checklists.Remove(checklist.Entry{List: checklist.Upload, Key: key}); err != nil {
		u.logger.Warn(ctx, "failed to drop upload marker", "key", key, "error", err)
	}
	return nil
}

func (u *Uploader) dropStaleMarkers(ctx context.Context) (int, error) {
	batches, err := u.deps.Checklists.Drain(checklist.Upload, checklist.MaxBatch)
	if err != nil {
		return 0, err
	}
	var removed int
	for _, batch := range batches {
		pending, err := u.deps.Repos.Attachments(u.deps.DB).PendingUploadKeys(ctx, checklist.Keys(batch))
		if err != nil {
			return removed, fmt.Errorf("pending upload keys: %w", err)
		}
		for _, e := range batch {
			if pending.Has(e.Key) {
				continue
			}
			if err := u.deps.Checklists.Remove(e); err != nil {
				u.logger.Warn(ctx, "failed to drop upload marker", "key", e.Key, "error", err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}
