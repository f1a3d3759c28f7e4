package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tierstore/internal/checklist"
	"github.com/dmitrijs2005/tierstore/internal/dbx"
	"github.com/dmitrijs2005/tierstore/internal/filestore"
	"github.com/dmitrijs2005/tierstore/internal/logging"
	"github.com/dmitrijs2005/tierstore/internal/server/models"
	"github.com/dmitrijs2005/tierstore/internal/server/remote"
	"github.com/dmitrijs2005/tierstore/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tierstore/internal/server/settings"
)

// CreateRequest describes a new attachment.
type CreateRequest struct {
	Name     string
	ResModel string
	ResID    *int64
	ResField *string
	Data     []byte
}

// AttachmentService is the record-facing side of the storage engine: it
// writes and reads blobs and keeps residency flags and checklists in step
// with record mutations.
type AttachmentService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	residency   *ResidencyTracker
	files       *filestore.Store
	checklists  *checklist.Store
	remote      remote.Tier
	logger      logging.Logger
}

func NewAttachmentService(
	db *sql.DB,
	repomanager repomanager.RepositoryManager,
	files *filestore.Store,
	checklists *checklist.Store,
	tier remote.Tier,
	logger logging.Logger,
) *AttachmentService {
	return &AttachmentService{
		db:          db,
		repomanager: repomanager,
		residency:   NewResidencyTracker(repomanager),
		files:       files,
		checklists:  checklists,
		remote:      tier,
		logger:      logger.With("module", "attachments"),
	}
}

func (s *AttachmentService) remoteState(ctx context.Context) (settings.S3, bool, error) {
	cfg, err := s.remote.Settings(ctx)
	if err != nil {
		return settings.S3{}, false, err
	}
	return cfg, cfg.ActiveIn(s.remote.Stage()), nil
}

// Create stores the bytes and inserts the record. Records whose type is
// listed in the upload condition become external and are queued for upload
// when the remote tier is active.
func (s *AttachmentService) Create(ctx context.Context, req CreateRequest) (*models.Attachment, error) {
	cfg, active, err := s.remoteState(ctx)
	if err != nil {
		return nil, err
	}
	external := active && s.uploadsModel(ctx, cfg, req.ResModel)

	a := &models.Attachment{
		Name:     req.Name,
		ResModel: req.ResModel,
		ResID:    req.ResID,
		ResField: req.ResField,
		FileSize: int64(len(req.Data)),
	}
	if len(req.Data) > 0 {
		a.StoreFname, a.Checksum = filestore.Key(req.Data)
		a.Mimetype = filestore.DetectMimetype(req.Data)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repomanager.Attachments(tx).Create(ctx, a); err != nil {
			return err
		}
		if external {
			if err := s.residency.MarkExternal(ctx, tx, a.ID); err != nil {
				return err
			}
			a.IsExternal = true
		}
		if a.StoreFname == "" {
			return nil
		}
		// The row exists before the blob does, so a GC pass that already
		// holds the table lock cannot see the blob as unreferenced.
		if _, err := s.files.Write(req.Data); err != nil {
			return err
		}
		if external {
			return s.checklists.Enqueue(checklist.Upload, a.StoreFname)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create attachment: %w", err)
	}
	return a, nil
}

func (s *AttachmentService) uploadsModel(ctx context.Context, cfg settings.S3, resModel string) bool {
	if cfg.UploadCondition == "" {
		return false
	}
	if cfg.Uploads(resModel) {
		return true
	}
	s.logger.Debug(ctx, "record type not in upload condition", "res_model", resModel)
	return false
}

// Overwrite replaces the bytes of an existing record. The superseded key is
// queued for local deletion, and for remote deletion when it had been
// uploaded. The new key is queued for upload when the record is external.
func (s *AttachmentService) Overwrite(ctx context.Context, id int64, data []byte) (*models.Attachment, error) {
	_, active, err := s.remoteState(ctx)
	if err != nil {
		return nil, err
	}

	var newKey, checksum, mimetype string
	if len(data) > 0 {
		newKey, checksum = filestore.Key(data)
		mimetype = filestore.DetectMimetype(data)
	}

	var out *models.Attachment
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Attachments(tx)
		a, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		out = a
		oldKey := a.StoreFname
		if oldKey == newKey && oldKey != "" {
			return nil
		}

		if oldKey != "" {
			if a.IsExternal && a.IsUploaded {
				if active {
					if err := s.checklists.Enqueue(checklist.Remote, oldKey); err != nil {
						return err
					}
				}
				if err := s.residency.ClearUploaded(ctx, tx, a.ID); err != nil {
					return err
				}
				a.IsUploaded = false
			}
			if err := s.checklists.Enqueue(checklist.Local, oldKey); err != nil {
				return err
			}
		}

		a.StoreFname, a.Checksum, a.FileSize, a.Mimetype = newKey, checksum, int64(len(data)), mimetype
		if err := repo.UpdateContent(ctx, a); err != nil {
			return err
		}
		if newKey == "" {
			return nil
		}
		if _, err := s.files.Write(data); err != nil {
			return err
		}
		if a.IsExternal {
			return s.checklists.Enqueue(checklist.Upload, newKey)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("overwrite attachment %d: %w", id, err)
	}
	return out, nil
}

// Unlink deletes records. Bytes are never removed here: every distinct key
// is queued for local deletion, and keys of external records for remote
// deletion, each exactly once. It returns how many records were deleted.
func (s *AttachmentService) Unlink(ctx context.Context, ids ...int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	_, active, err := s.remoteState(ctx)
	if err != nil {
		return 0, err
	}

	var deleted int
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		rows, err := s.repomanager.Attachments(tx).Delete(ctx, ids)
		if err != nil {
			return err
		}
		deleted = len(rows)

		local := map[string]struct{}{}
		external := map[string]struct{}{}
		for _, r := range rows {
			if r.StoreFname == "" {
				continue
			}
			local[r.StoreFname] = struct{}{}
			if r.IsExternal && active {
				external[r.StoreFname] = struct{}{}
			}
		}
		for k := range local {
			if err := s.checklists.Enqueue(checklist.Local, k); err != nil {
				return err
			}
		}
		for k := range external {
			if err := s.checklists.Enqueue(checklist.Remote, k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("unlink attachments: %w", err)
	}
	return deleted, nil
}

// Read returns the bytes for key. A local blob is served without touching
// the database. Otherwise, when the remote tier is active and the first
// record holding the key is external, the blob is downloaded back into the
// filestore and any pending local-delete marker for it is dropped.
//
// A key no record references reads as empty. Missing remote configuration
// is an error, distinct from a missing object.
func (s *AttachmentService) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := s.files.Read(key)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, filestore.ErrNotFound) {
		return nil, err
	}

	cfg, active, err := s.remoteState(ctx)
	if err != nil {
		return nil, err
	}
	if !active {
		s.logger.Info(ctx, "remote storage inactive, only local files available", "key", key)
		return []byte{}, nil
	}

	rows, err := s.repomanager.Attachments(s.db).FindByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if len(rows) == 0 {
		s.logger.Info(ctx, "no record references key", "key", key)
		return []byte{}, nil
	}
	if !rows[0].IsExternal {
		s.logger.Info(ctx, "local blob missing for local record", "key", key, "id", rows[0].ID)
		return []byte{}, nil
	}

	client, err := s.remote.ClientFor(ctx, cfg)
	if err != nil {
		s.logger.Error(ctx, "cannot read external attachment", "key", key, "error", err)
		return nil, err
	}

	err = s.files.Fill(key, func(tmp string) error {
		return client.Download(ctx, key, tmp)
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	if err := s.checklists.Remove(checklist.Entry{List: checklist.Local, Key: key}); err != nil {
		s.logger.Warn(ctx, "failed to drop local-delete marker", "key", key, "error", err)
	}
	s.logger.Debug(ctx, "restored blob from remote tier", "key", key)

	return s.files.Read(key)
}

// ReadByID resolves the record and reads its bytes.
func (s *AttachmentService) ReadByID(ctx context.Context, id int64) (*models.Attachment, []byte, error) {
	a, err := s.repomanager.Attachments(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if a.StoreFname == "" {
		return a, []byte{}, nil
	}
	data, err := s.Read(ctx, a.StoreFname)
	if err != nil {
		return nil, nil, err
	}
	return a, data, nil
}
