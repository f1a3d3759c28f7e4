package settings

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/tierstore/internal/server/models"
	"github.com/dmitrijs2005/tierstore/internal/server/repositories/repomanager"
)

type Service struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewService(db *sql.DB, repomanager repomanager.RepositoryManager) *Service {
	return &Service{db: db, repomanager: repomanager}
}

// Load reads the current parameters. Parameters are read on every call so
// changes apply to the next job without a restart.
func (s *Service) Load(ctx context.Context) (S3, error) {
	values, err := s.repomanager.Parameters(s.db).GetMany(ctx, Keys)
	if err != nil {
		return S3{}, fmt.Errorf("load settings: %w", err)
	}
	return fromValues(values), nil
}

// Set validates and stores one parameter. An empty value unsets it.
func (s *Service) Set(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if err := Validate(key, value); err != nil {
		return err
	}
	repo := s.repomanager.Parameters(s.db)
	if value == "" {
		return repo.Delete(ctx, key)
	}
	return repo.Set(ctx, key, value)
}

func (s *Service) List(ctx context.Context) ([]*models.Parameter, error) {
	return s.repomanager.Parameters(s.db).List(ctx)
}
