package sweep

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/tierstore/internal/checklist"
	"github.com/dmitrijs2005/tierstore/internal/dbx"
	"github.com/dmitrijs2005/tierstore/internal/server/enginetest"
	"github.com/dmitrijs2005/tierstore/internal/server/models"
	"github.com/dmitrijs2005/tierstore/internal/server/settings"
)

func TestLocalCollector_DeletesOnlyUnneededBlobs(t *testing.T) {
	e := enginetest.New(t)
	ctx := context.Background()

	local := blob(t, e, "local record")
	pending := blob(t, e, "external, not uploaded")
	uploaded := blob(t, e, "external, uploaded")
	orphan := blob(t, e, "nobody")
	mixed := blob(t, e, "one uploaded, one local")

	e.Repos.Insert(models.Attachment{StoreFname: local})
	e.Repos.Insert(external(pending, false))
	e.Repos.Insert(external(uploaded, true))
	e.Repos.Insert(external(mixed, true))
	e.Repos.Insert(models.Attachment{StoreFname: mixed})

	for _, k := range []string{local, pending, uploaded, orphan, mixed, "ef/ef01"} {
		require.NoError(t, e.Checklists.Enqueue(checklist.Local, k))
	}

	res, err := NewLocalCollector(newDeps(e)).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Checked: 6, Removed: 2}, res)

	assert.True(t, e.Files.Exists(local))
	assert.True(t, e.Files.Exists(pending))
	assert.True(t, e.Files.Exists(mixed))
	assert.False(t, e.Files.Exists(uploaded))
	assert.False(t, e.Files.Exists(orphan))
	assert.Empty(t, e.Markers(t, checklist.Local), "every evaluated marker is removed")
	assert.Equal(t, 1, e.Repos.LockCalls)
}

func TestLocalCollector_Idempotent(t *testing.T) {
	e := enginetest.New(t)
	ctx := context.Background()

	key := blob(t, e, "gone soon")
	row := e.Repos.Insert(external(key, true))
	require.NoError(t, e.Checklists.Enqueue(checklist.Local, key))

	c := NewLocalCollector(newDeps(e))
	_, err := c.Run(ctx)
	require.NoError(t, err)

	require.NoError(t, e.Checklists.Enqueue(checklist.Local, key))
	res, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Checked: 1}, res)

	got, _ := e.Repos.Row(row.ID)
	assert.Equal(t, row, got, "flags untouched")
}

func TestLocalCollector_NotStageGated(t *testing.T) {
	e := enginetest.New(t)
	e.Loader.Update(func(s *settings.S3) { *s = settings.S3{} })

	key := blob(t, e, "orphan")
	require.NoError(t, e.Checklists.Enqueue(checklist.Local, key))

	res, err := NewLocalCollector(newDeps(e)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
}

func TestLocalCollector_LockTimeoutSkipsPass(t *testing.T) {
	e := enginetest.New(t)
	key := blob(t, e, "orphan")
	require.NoError(t, e.Checklists.Enqueue(checklist.Local, key))
	e.Repos.LockErr = fmt.Errorf("%w: attachments", dbx.ErrLockTimeout)

	_, err := NewLocalCollector(newDeps(e)).Run(context.Background())
	require.ErrorIs(t, err, ErrSkipped)
	require.ErrorIs(t, err, dbx.ErrLockTimeout)

	assert.True(t, e.Files.Exists(key))
	assert.Equal(t, []string{key}, e.Markers(t, checklist.Local))
}

func TestLocalCollector_StorageNotFile(t *testing.T) {
	e := enginetest.New(t)
	d := newDeps(e)
	d.Storage = "db"

	_, err := NewLocalCollector(d).Run(context.Background())
	require.ErrorIs(t, err, ErrStorageNotFile)
	assert.Zero(t, e.Repos.LockCalls)
}
