package parameters

import (
	"context"

	"github.com/dmitrijs2005/tierstore/internal/server/models"
)

type Repository interface {
	// GetMany returns the values of the given keys that are set.
	GetMany(ctx context.Context, keys []string) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]*models.Parameter, error)
}
