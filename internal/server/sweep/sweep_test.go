package sweep

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/tierstore/internal/logging"
	"github.com/dmitrijs2005/tierstore/internal/server/enginetest"
	"github.com/dmitrijs2005/tierstore/internal/server/models"
)

func newDeps(e *enginetest.Env) Deps {
	return Deps{
		DB:         e.DB,
		Repos:      e.Repos,
		Files:      e.Files,
		Checklists: e.Checklists,
		Remote:     e.Remote,
		Storage:    StorageFile,
		Logger:     logging.Nop(),
	}
}

// blob writes data to the filestore and returns its key.
func blob(t *testing.T, e *enginetest.Env, data string) string {
	t.Helper()
	key, err := e.Files.Write([]byte(data))
	require.NoError(t, err)
	return key
}

func external(key string, uploaded bool) models.Attachment {
	return models.Attachment{ResModel: "mail.message", StoreFname: key, IsExternal: true, IsUploaded: uploaded}
}
