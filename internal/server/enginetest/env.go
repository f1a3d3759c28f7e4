// Package enginetest assembles an in-memory storage engine for tests: a
// throwaway SQLite handle for transactions, the memory repositories, real
// filestore and checklists under a temp dir, and a mock object store.
package enginetest

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/tierstore/internal/checklist"
	"github.com/dmitrijs2005/tierstore/internal/filestore"
	"github.com/dmitrijs2005/tierstore/internal/objectstore"
	"github.com/dmitrijs2005/tierstore/internal/server/remote"
	"github.com/dmitrijs2005/tierstore/internal/server/repositories/memory"
	"github.com/dmitrijs2005/tierstore/internal/server/settings"
)

const Stage = "production"

// Loader is a settings.S3 holder that tests can change between calls.
type Loader struct {
	mu  sync.Mutex
	s   settings.S3
	Err error
}

func (l *Loader) Load(context.Context) (settings.S3, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s, l.Err
}

func (l *Loader) Set(s settings.S3) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.s = s
}

func (l *Loader) Update(fn func(*settings.S3)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(&l.s)
}

type Env struct {
	DB         *sql.DB
	Repos      *memory.Manager
	Files      *filestore.Store
	Checklists *checklist.Store
	Store      *objectstore.MockStore
	Loader     *Loader
	Remote     *remote.Remote
	// OpenErr makes opening the remote store fail when set.
	OpenErr error
}

// Active returns fully configured settings whose stage matches Stage.
func Active(uploadCondition string) settings.S3 {
	return settings.S3{
		AccessKeyID:     "id",
		SecretAccessKey: "secret",
		Region:          "eu-west-1",
		Bucket:          "attachments",
		UploadCondition: uploadCondition,
		StageCondition:  Stage,
		MaxUpload:       settings.DefaultMaxUpload,
	}
}

// New builds an Env with the remote tier active for "mail.message".
func New(t *testing.T) *Env {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	root := t.TempDir()
	files, err := filestore.New(filepath.Join(root, "filestore"))
	if err != nil {
		t.Fatalf("filestore: %v", err)
	}
	lists, err := checklist.New(root)
	if err != nil {
		t.Fatalf("checklist: %v", err)
	}

	e := &Env{
		DB:         db,
		Repos:      memory.New(),
		Files:      files,
		Checklists: lists,
		Store:      objectstore.NewMockStore(),
		Loader:     &Loader{s: Active("mail.message")},
	}
	e.Remote = remote.New(e.Loader, Stage, func(context.Context, settings.S3) (objectstore.Store, error) {
		if e.OpenErr != nil {
			return nil, e.OpenErr
		}
		return e.Store, nil
	}, nil)
	return e
}

// Markers returns the keys currently queued in list n.
func (e *Env) Markers(t *testing.T, n checklist.Name) []string {
	t.Helper()
	batches, err := e.Checklists.Drain(n, checklist.MaxBatch)
	if err != nil {
		t.Fatalf("drain %s: %v", n, err)
	}
	var keys []string
	for _, b := range batches {
		keys = append(keys, checklist.Keys(b)...)
	}
	return keys
}
