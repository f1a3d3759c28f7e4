// Package remote decides whether the remote tier is in play for this process
// and hands out a client for it.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/tierstore/internal/objectstore"
	"github.com/dmitrijs2005/tierstore/internal/objectstore/s3"
	"github.com/dmitrijs2005/tierstore/internal/server/settings"
)

var ErrInactive = errors.New("remote storage inactive for this stage")

// SettingsLoader is satisfied by *settings.Service.
type SettingsLoader interface {
	Load(ctx context.Context) (settings.S3, error)
}

// Tier is what the engine needs from the remote tier; *Remote implements it.
type Tier interface {
	Stage() string
	Settings(ctx context.Context) (settings.S3, error)
	ClientFor(ctx context.Context, s settings.S3) (objectstore.Store, error)
}

// Opener builds a store from a settings snapshot.
type Opener func(ctx context.Context, s settings.S3) (objectstore.Store, error)

// OpenS3 is the production Opener.
func OpenS3(ctx context.Context, s settings.S3) (objectstore.Store, error) {
	return s3.New(ctx, s3.Config{
		Bucket:          s.Bucket,
		Region:          s.Region,
		Endpoint:        s.Endpoint,
		AccessKeyID:     s.AccessKeyID,
		SecretAccessKey: s.SecretAccessKey,
		UsePathStyle:    s.PathStyle,
	})
}

type Remote struct {
	loader  SettingsLoader
	stage   string
	open    Opener
	metrics objectstore.MetricsRecorder

	mu       sync.Mutex
	store    objectstore.Store
	openedAs settings.S3
	// retired stores were replaced after a settings change. A pass started
	// before the change may still hold one, so they are closed with r.
	retired []objectstore.Store
}

// New returns a Remote for the given process stage. A nil open uses OpenS3.
func New(loader SettingsLoader, stage string, open Opener, metrics objectstore.MetricsRecorder) *Remote {
	if open == nil {
		open = OpenS3
	}
	return &Remote{loader: loader, stage: stage, open: open, metrics: metrics}
}

func (r *Remote) Stage() string {
	return r.stage
}

func (r *Remote) Settings(ctx context.Context) (settings.S3, error) {
	return r.loader.Load(ctx)
}

// Active reports whether the stage condition matches this process. Settings
// that cannot be loaded count as inactive.
func (r *Remote) Active(ctx context.Context) bool {
	s, err := r.loader.Load(ctx)
	if err != nil {
		return false
	}
	return s.ActiveIn(r.stage)
}

// Client loads the settings and returns a store for them.
func (r *Remote) Client(ctx context.Context) (objectstore.Store, error) {
	s, err := r.loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	return r.ClientFor(ctx, s)
}

// ClientFor returns a store for an already loaded snapshot. The store is
// cached and rebuilt only when the parameters change.
func (r *Remote) ClientFor(ctx context.Context, s settings.S3) (objectstore.Store, error) {
	if err := s.Check(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store != nil && sameConnection(r.openedAs, s) {
		return r.store, nil
	}

	st, err := r.open(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("open remote store: %w", err)
	}
	if r.store != nil {
		r.retired = append(r.retired, r.store)
	}
	r.store = objectstore.NewInstrumentedStore(st, r.metrics)
	r.openedAs = s
	return r.store, nil
}

var _ Tier = (*Remote)(nil)

func sameConnection(a, b settings.S3) bool {
	return a.AccessKeyID == b.AccessKeyID &&
		a.SecretAccessKey == b.SecretAccessKey &&
		a.Region == b.Region &&
		a.Bucket == b.Bucket &&
		a.Endpoint == b.Endpoint &&
		a.PathStyle == b.PathStyle
}

func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, st := range r.retired {
		errs = append(errs, st.Close())
	}
	r.retired = nil
	if r.store != nil {
		errs = append(errs, r.store.Close())
		r.store = nil
	}
	return errors.Join(errs...)
}
