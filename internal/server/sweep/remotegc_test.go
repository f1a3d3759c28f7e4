package sweep

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/tierstore/internal/checklist"
	"github.com/dmitrijs2005/tierstore/internal/dbx"
	"github.com/dmitrijs2005/tierstore/internal/server/enginetest"
	"github.com/dmitrijs2005/tierstore/internal/server/models"
	"github.com/dmitrijs2005/tierstore/internal/server/remote"
	"github.com/dmitrijs2005/tierstore/internal/server/settings"
)

func seedRemote(t *testing.T, e *enginetest.Env, keys ...string) {
	t.Helper()
	for _, k := range keys {
		e.Store.Put(k, []byte(k))
		require.NoError(t, e.Checklists.Enqueue(checklist.Remote, k))
	}
}

func TestRemoteCollector_DeletesUnreferencedKeys(t *testing.T) {
	e := enginetest.New(t)

	uploaded, pending, localOnly, orphan := "aa/aa01", "bb/bb01", "cc/cc01", "dd/dd01"
	e.Repos.Insert(external(uploaded, true))
	e.Repos.Insert(external(pending, false))
	e.Repos.Insert(models.Attachment{StoreFname: localOnly})
	seedRemote(t, e, uploaded, pending, localOnly, orphan)

	res, err := NewRemoteCollector(newDeps(e)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Checked: 4, Removed: 4, Deleted: 2}, res)

	assert.Equal(t, []string{uploaded, pending}, e.Store.Keys())
	assert.Empty(t, e.Markers(t, checklist.Remote))
}

func TestRemoteCollector_SecondPassDeletesNothing(t *testing.T) {
	e := enginetest.New(t)
	ctx := context.Background()
	seedRemote(t, e, "aa/aa01")

	c := NewRemoteCollector(newDeps(e))
	_, err := c.Run(ctx)
	require.NoError(t, err)

	res, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Len(t, e.Store.DeleteCalls, 1)
}

func TestRemoteCollector_PartialFailureKeepsMarker(t *testing.T) {
	e := enginetest.New(t)
	ctx := context.Background()
	seedRemote(t, e, "aa/aa01", "bb/bb01")
	e.Store.DeleteFailures["bb/bb01"] = "AccessDenied: denied"

	c := NewRemoteCollector(newDeps(e))
	res, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Checked: 2, Removed: 1, Deleted: 1, Failed: 1}, res)
	assert.Equal(t, []string{"bb/bb01"}, e.Markers(t, checklist.Remote))

	delete(e.Store.DeleteFailures, "bb/bb01")
	res, err = c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Empty(t, e.Store.Keys())
	assert.Empty(t, e.Markers(t, checklist.Remote))
}

func TestRemoteCollector_BatchErrorFailsChunk(t *testing.T) {
	e := enginetest.New(t)
	seedRemote(t, e, "aa/aa01", "bb/bb01")
	e.Store.BatchErr = errors.New("throttled")

	res, err := NewRemoteCollector(newDeps(e)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	assert.Zero(t, res.Deleted)
	assert.Len(t, e.Markers(t, checklist.Remote), 2)
}

func TestRemoteCollector_ChunksLargeDeletes(t *testing.T) {
	e := enginetest.New(t)
	for i := range 1001 {
		require.NoError(t, e.Checklists.Enqueue(checklist.Remote, fmt.Sprintf("%02x/%064x", i%256, i)))
	}

	res, err := NewRemoteCollector(newDeps(e)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1001, res.Checked)
	assert.Equal(t, 1001, res.Deleted)
	require.Len(t, e.Store.DeleteCalls, 2)
	assert.Len(t, e.Store.DeleteCalls[0], 1000)
	assert.Len(t, e.Store.DeleteCalls[1], 1)
}

func TestRemoteCollector_Skips(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(e *enginetest.Env, d *Deps)
		wantErr error
	}{
		{"storage not file", func(_ *enginetest.Env, d *Deps) { d.Storage = "db" }, ErrStorageNotFile},
		{"stage inactive", func(e *enginetest.Env, _ *Deps) {
			e.Loader.Update(func(s *settings.S3) { s.StageCondition = "" })
		}, remote.ErrInactive},
		{"not configured", func(e *enginetest.Env, _ *Deps) {
			e.Loader.Update(func(s *settings.S3) { s.SecretAccessKey = "" })
		}, settings.ErrConfigurationMissing},
		{"lock timeout", func(e *enginetest.Env, _ *Deps) {
			e.Repos.LockErr = fmt.Errorf("%w: attachments", dbx.ErrLockTimeout)
		}, dbx.ErrLockTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := enginetest.New(t)
			seedRemote(t, e, "aa/aa01")
			d := newDeps(e)
			tt.setup(e, &d)

			_, err := NewRemoteCollector(d).Run(context.Background())
			require.ErrorIs(t, err, ErrSkipped)
			require.ErrorIs(t, err, tt.wantErr)

			assert.Empty(t, e.Store.DeleteCalls)
			assert.Equal(t, []string{"aa/aa01"}, e.Markers(t, checklist.Remote))
		})
	}
}

func TestRemoteCollector_OpenFailure(t *testing.T) {
	e := enginetest.New(t)
	e.OpenErr = errors.New("bad endpoint")
	seedRemote(t, e, "aa/aa01")

	_, err := NewRemoteCollector(newDeps(e)).Run(context.Background())
	require.ErrorContains(t, err, "bad endpoint")
	assert.Len(t, e.Markers(t, checklist.Remote), 1)
}
