package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dmitrijs2005/tierstore/internal/checklist"
	"github.com/dmitrijs2005/tierstore/internal/filestore"
	"github.com/dmitrijs2005/tierstore/internal/logging"
	"github.com/dmitrijs2005/tierstore/internal/objectstore"
	"github.com/dmitrijs2005/tierstore/internal/server/config"
	"github.com/dmitrijs2005/tierstore/internal/server/remote"
	"github.com/dmitrijs2005/tierstore/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tierstore/internal/server/services"
	"github.com/dmitrijs2005/tierstore/internal/server/settings"
	"github.com/dmitrijs2005/tierstore/internal/server/sweep"
)

// Engine is the assembled storage engine shared by the daemon and the CLI.
type Engine struct {
	DB          *sql.DB
	Repos       repomanager.RepositoryManager
	Files       *filestore.Store
	Checklists  *checklist.Store
	Settings    *settings.Service
	Remote      *remote.Remote
	Attachments *services.AttachmentService

	Uploader        *sweep.Uploader
	LocalCollector  *sweep.LocalCollector
	RemoteCollector *sweep.RemoteCollector
}

// Seams for tests.
var (
	openDB = func(dsn string) (*sql.DB, error) {
		return sql.Open("pgx", dsn)
	}
	newRepositoryManager = repomanager.NewPostgresRepositoryManager
	openRemote           remote.Opener
)

// OpenEngine connects to the database, applies migrations and prepares the
// data directory. storeMetrics may be nil.
func OpenEngine(ctx context.Context, cfg *config.Config, logger logging.Logger, storeMetrics objectstore.MetricsRecorder) (*Engine, error) {
	db, err := openDB(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	e, err := newEngine(ctx, db, cfg, logger, storeMetrics)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func newEngine(ctx context.Context, db *sql.DB, cfg *config.Config, logger logging.Logger, storeMetrics objectstore.MetricsRecorder) (*Engine, error) {
	rm := newRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}

	files, err := filestore.New(filepath.Join(cfg.DataDir, "filestore"))
	if err != nil {
		return nil, err
	}
	lists, err := checklist.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	st := settings.NewService(db, rm)
	tier := remote.New(st, cfg.Stage, openRemote, storeMetrics)

	deps := sweep.Deps{
		DB:          db,
		Repos:       rm,
		Files:       files,
		Checklists:  lists,
		Remote:      tier,
		Storage:     cfg.Storage,
		LockTimeout: cfg.LockTimeout,
		Logger:      logger,
	}

	return &Engine{
		DB:              db,
		Repos:           rm,
		Files:           files,
		Checklists:      lists,
		Settings:        st,
		Remote:          tier,
		Attachments:     services.NewAttachmentService(db, rm, files, lists, tier, logger),
		Uploader:        sweep.NewUploader(deps),
		LocalCollector:  sweep.NewLocalCollector(deps),
		RemoteCollector: sweep.NewRemoteCollector(deps),
	}, nil
}

// Job returns the sweep with the given name, or nil.
func (e *Engine) Job(name string) sweep.Job {
	for _, j := range e.Jobs() {
		if j.Name() == name {
			return j
		}
	}
	return nil
}

func (e *Engine) Jobs() []sweep.Job {
	return []sweep.Job{e.LocalCollector, e.RemoteCollector, e.Uploader}
}

func (e *Engine) Close() error {
	return errors.Join(e.Remote.Close(), e.DB.Close())
}
