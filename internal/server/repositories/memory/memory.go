// Package memory is an in-memory RepositoryManager for tests. It ignores the
// DBTX it is handed, so transactions do not roll back its state.
package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/tierstore/internal/dbx"
	"github.com/dmitrijs2005/tierstore/internal/server/models"
	"github.com/dmitrijs2005/tierstore/internal/server/repositories/attachments"
	"github.com/dmitrijs2005/tierstore/internal/server/repositories/parameters"
	"github.com/dmitrijs2005/tierstore/internal/server/repositories/repomanager"
)

var _ repomanager.RepositoryManager = (*Manager)(nil)

type Manager struct {
	mu     sync.Mutex
	rows   map[int64]models.Attachment
	nextID int64
	params map[string]string

	// LockErr is returned by LockShared when set.
	LockErr   error
	LockCalls int
	// QueryErr is returned by every attachments query when set.
	QueryErr error
}

func New() *Manager {
	return &Manager{rows: map[int64]models.Attachment{}, params: map[string]string{}}
}

func (m *Manager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *Manager) Attachments(dbx.DBTX) attachments.Repository { return &attachmentRepo{m: m} }

func (m *Manager) Parameters(dbx.DBTX) parameters.Repository { return &parameterRepo{m: m} }

// Insert stores a copy of a and returns it with ID set.
func (m *Manager) Insert(a models.Attachment) models.Attachment {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	a.ID = m.nextID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	m.rows[a.ID] = a
	return a
}

// Row returns a copy of the record.
func (m *Manager) Row(id int64) (models.Attachment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	return a, ok
}

// Update overwrites a record directly.
func (m *Manager) Update(a models.Attachment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[a.ID] = a
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// SetParams replaces the stored parameters.
func (m *Manager) SetParams(p map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params = make(map[string]string, len(p))
	for k, v := range p {
		m.params[k] = v
	}
}

func (m *Manager) Param(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.params[key]
	return v, ok
}

func (m *Manager) sortedLocked() []models.Attachment {
	out := make([]models.Attachment, 0, len(m.rows))
	for _, a := range m.rows {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type attachmentRepo struct {
	m *Manager
}

func (r *attachmentRepo) Create(_ context.Context, a *models.Attachment) (*models.Attachment, error) {
	if err := r.m.QueryErr; err != nil {
		return nil, err
	}
	stored := r.m.Insert(*a)
	a.ID, a.CreatedAt = stored.ID, stored.CreatedAt
	return a, nil
}

func (r *attachmentRepo) GetByID(_ context.Context, id int64) (*models.Attachment, error) {
	if err := r.m.QueryErr; err != nil {
		return nil, err
	}
	a, ok := r.m.Row(id)
	if !ok {
		return nil, attachments.ErrNotFound
	}
	return &a, nil
}

func (r *attachmentRepo) FindByKey(ctx context.Context, key string) ([]*models.Attachment, error) {
	return r.FindByKeyAndFlags(ctx, key, nil, nil)
}

func (r *attachmentRepo) FindByKeyAndFlags(_ context.Context, key string, external, uploaded *bool) ([]*models.Attachment, error) {
	if err := r.m.QueryErr; err != nil {
		return nil, err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Attachment
	for _, a := range r.m.sortedLocked() {
		if a.StoreFname != key {
			continue
		}
		if external != nil && a.IsExternal != *external {
			continue
		}
		if uploaded != nil && a.IsUploaded != *uploaded {
			continue
		}
		out = append(out, &a)
	}
	return out, nil
}

func (r *attachmentRepo) UpdateContent(_ context.Context, a *models.Attachment) error {
	return r.update(a.ID, func(row *models.Attachment) {
		row.StoreFname, row.Checksum, row.FileSize, row.Mimetype = a.StoreFname, a.Checksum, a.FileSize, a.Mimetype
	})
}

func (r *attachmentRepo) SetExternal(_ context.Context, id int64, external bool) error {
	return r.update(id, func(row *models.Attachment) { row.IsExternal = external })
}

func (r *attachmentRepo) ClearUploaded(_ context.Context, id int64) error {
	return r.update(id, func(row *models.Attachment) { row.IsUploaded = false })
}

func (r *attachmentRepo) update(id int64, fn func(*models.Attachment)) error {
	if err := r.m.QueryErr; err != nil {
		return err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	row, ok := r.m.rows[id]
	if !ok {
		return attachments.ErrNotFound
	}
	fn(&row)
	r.m.rows[id] = row
	return nil
}

func (r *attachmentRepo) Delete(_ context.Context, ids []int64) ([]attachments.DeletedRow, error) {
	if err := r.m.QueryErr; err != nil {
		return nil, err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []attachments.DeletedRow
	for _, id := range ids {
		row, ok := r.m.rows[id]
		if !ok {
			continue
		}
		delete(r.m.rows, id)
		out = append(out, attachments.DeletedRow{ID: id, StoreFname: row.StoreFname, IsExternal: row.IsExternal})
	}
	return out, nil
}

func (r *attachmentRepo) SelectPendingUpload(_ context.Context, afterID int64, limit int) ([]*models.Attachment, error) {
	if err := r.m.QueryErr; err != nil {
		return nil, err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Attachment
	for _, a := range r.m.sortedLocked() {
		if a.ID <= afterID || !a.IsExternal || a.IsUploaded || a.StoreFname == "" {
			continue
		}
		out = append(out, &a)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *attachmentRepo) LocalWhitelist(_ context.Context, keys []string) (attachments.KeySet, error) {
	return r.keySet(keys, func(a models.Attachment) bool { return !a.IsExternal || !a.IsUploaded })
}

func (r *attachmentRepo) RemoteWhitelist(_ context.Context, keys []string) (attachments.KeySet, error) {
	return r.keySet(keys, func(a models.Attachment) bool { return a.IsExternal })
}

func (r *attachmentRepo) PendingUploadKeys(_ context.Context, keys []string) (attachments.KeySet, error) {
	return r.keySet(keys, func(a models.Attachment) bool { return a.IsExternal && !a.IsUploaded })
}

func (r *attachmentRepo) keySet(keys []string, match func(models.Attachment) bool) (attachments.KeySet, error) {
	if err := r.m.QueryErr; err != nil {
		return nil, err
	}
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	set := attachments.KeySet{}
	for _, a := range r.m.rows {
		if _, ok := want[a.StoreFname]; ok && match(a) {
			set[a.StoreFname] = struct{}{}
		}
	}
	return set, nil
}

func (r *attachmentRepo) MarkUploaded(_ context.Context, key string) (int64, error) {
	if err := r.m.QueryErr; err != nil {
		return 0, err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for id, a := range r.m.rows {
		if a.StoreFname == key && a.IsExternal {
			a.IsUploaded = true
			r.m.rows[id] = a
			n++
		}
	}
	return n, nil
}

func (r *attachmentRepo) LockShared(context.Context, time.Duration) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.LockCalls++
	return r.m.LockErr
}

type parameterRepo struct {
	m *Manager
}

func (r *parameterRepo) GetMany(_ context.Context, keys []string) (map[string]string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := map[string]string{}
	for _, k := range keys {
		if v, ok := r.m.params[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (r *parameterRepo) Set(_ context.Context, key, value string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.params[key] = value
	return nil
}

func (r *parameterRepo) Delete(_ context.Context, key string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	delete(r.m.params, key)
	return nil
}

func (r *parameterRepo) List(context.Context) ([]*models.Parameter, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	keys := make([]string, 0, len(r.m.params))
	for k := range r.m.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*models.Parameter, len(keys))
	for i, k := range keys {
		out[i] = &models.Parameter{Key: k, Value: r.m.params[k]}
	}
	return out, nil
}
