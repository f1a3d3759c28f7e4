// Package sweep holds the periodic reconciliation jobs of the storage engine.
//
// Each job drains one checklist (or, for uploads, pages through pending
// records), compares it with the attachments table and performs the tier side
// effects. Jobs are idempotent: a pass interrupted at any point is completed by
// the next one.
package sweep

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tierstore/internal/checklist"
	"github.com/dmitrijs2005/tierstore/internal/filestore"
	"github.com/dmitrijs2005/tierstore/internal/logging"
	"github.com/dmitrijs2005/tierstore/internal/objectstore"
	"github.com/dmitrijs2005/tierstore/internal/server/remote"
	"github.com/dmitrijs2005/tierstore/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tierstore/internal/server/settings"
)

// StorageFile is the only storage mode in which the sweeps act.
const StorageFile = "file"

// DefaultLockTimeout bounds the wait for the attachments table lock.
const DefaultLockTimeout = 10 * time.Second

// ErrSkipped wraps the reason a pass did nothing.
var ErrSkipped = errors.New("sweep skipped")

// ErrStorageNotFile is the skip reason when blobs are not kept on disk.
var ErrStorageNotFile = errors.New("storage is not file")

// Result counts what a pass did. Fields a job does not use stay zero.
type Result struct {
	Checked  int
	Removed  int
	Uploaded int
	Deleted  int
	Failed   int
}

// Job is a single sweep.
type Job interface {
	Name() string
	Run(ctx context.Context) (Result, error)
}

// Deps are the collaborators shared by every job.
type Deps struct {
	DB          *sql.DB
	Repos       repomanager.RepositoryManager
	Files       *filestore.Store
	Checklists  *checklist.Store
	Remote      remote.Tier
	Storage     string
	LockTimeout time.Duration
	Logger      logging.Logger
}

func (d Deps) lockTimeout() time.Duration {
	if d.LockTimeout <= 0 {
		return DefaultLockTimeout
	}
	return d.LockTimeout
}

func (d Deps) logger() logging.Logger {
	if d.Logger == nil {
		return logging.Nop()
	}
	return d.Logger
}

func (d Deps) checkStorage() error {
	if d.Storage != StorageFile {
		return fmt.Errorf("%w: %w (%q)", ErrSkipped, ErrStorageNotFile, d.Storage)
	}
	return nil
}

// remoteClient loads the settings once for the pass and returns a client
// when the tier is active in this stage and fully configured.
func (d Deps) remoteClient(ctx context.Context) (settings.S3, objectstore.Store, error) {
	cfg, err := d.Remote.Settings(ctx)
	if err != nil {
		return settings.S3{}, nil, fmt.Errorf("load settings: %w", err)
	}
	if !cfg.ActiveIn(d.Remote.Stage()) {
		return cfg, nil, fmt.Errorf("%w: %w", ErrSkipped, remote.ErrInactive)
	}
	if err := cfg.Check(); err != nil {
		return cfg, nil, fmt.Errorf("%w: %w", ErrSkipped, err)
	}
	client, err := d.Remote.ClientFor(ctx, cfg)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, client, nil
}
