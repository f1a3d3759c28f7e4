package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/tierstore/internal/dbx"
	"github.com/dmitrijs2005/tierstore/internal/server/repositories/attachments"
	"github.com/dmitrijs2005/tierstore/internal/server/repositories/parameters"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Attachments(db dbx.DBTX) attachments.Repository
	Parameters(db dbx.DBTX) parameters.Repository
}
