package attachments

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/tierstore/internal/server/models"
)

var ErrNotFound = errors.New("attachment not found")

// DeletedRow is what Delete reports for every removed record.
type DeletedRow struct {
	ID         int64
	StoreFname string
	IsExternal bool
}

// KeySet is the set of content keys a whitelist query returned.
type KeySet map[string]struct{}

func (s KeySet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

type Repository interface {
	Create(ctx context.Context, a *models.Attachment) (*models.Attachment, error)
	GetByID(ctx context.Context, id int64) (*models.Attachment, error)
	FindByKey(ctx context.Context, key string) ([]*models.Attachment, error)
	// FindByKeyAndFlags filters on the residency flags; a nil flag matches any value.
	FindByKeyAndFlags(ctx context.Context, key string, external, uploaded *bool) ([]*models.Attachment, error)
	UpdateContent(ctx context.Context, a *models.Attachment) error
	SetExternal(ctx context.Context, id int64, external bool) error
	Delete(ctx context.Context, ids []int64) ([]DeletedRow, error)

	SelectPendingUpload(ctx context.Context, afterID int64, limit int) ([]*models.Attachment, error)
	LocalWhitelist(ctx context.Context, keys []string) (KeySet, error)
	RemoteWhitelist(ctx context.Context, keys []string) (KeySet, error)
	PendingUploadKeys(ctx context.Context, keys []string) (KeySet, error)
	MarkUploaded(ctx context.Context, key string) (int64, error)
	ClearUploaded(ctx context.Context, id int64) error

	LockShared(ctx context.Context, timeout time.Duration) error
}
