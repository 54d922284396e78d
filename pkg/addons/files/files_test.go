package files_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-addons/pkg/addons"
	"github.com/tendant/simple-addons/pkg/addons/files"
	"github.com/tendant/simple-addons/pkg/addons/repo/memory"
	memorystorage "github.com/tendant/simple-addons/pkg/addons/storage/memory"
)

type fixture struct {
	repo    *memory.Repository
	blobs   *memorystorage.Backend
	storage *files.Storage
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:  memory.New(),
		blobs: memorystorage.New(),
		now:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.storage = files.New(f.repo.Files(), f.blobs,
		files.WithDeleteDelay(time.Hour),
		files.WithClock(func() time.Time { return f.now }),
	)
	return f
}

func TestStorage_SaveAndResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	addonID := "tux"

	saved, err := f.storage.Save(ctx, &addonID, addons.FileTypeImage, "images", "../tux.png", strings.NewReader("png"))
	require.NoError(t, err)
	assert.Equal(t, "images/tux.png", saved.Path)

	p, err := f.storage.PathFor(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "images/tux.png", p)

	rc, err := f.storage.Open(ctx, p)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	require.NoError(t, f.storage.Approve(ctx, saved.ID, true))
	rec, err := f.repo.Files().Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.True(t, rec.Approved)

	_, err = f.storage.PathFor(ctx, 999)
	assert.ErrorIs(t, err, addons.ErrFileNotFound)
}

func TestStorage_DeleteAndRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saved, err := f.storage.Save(ctx, nil, addons.FileTypeContent, "addons", "tux.zip", strings.NewReader("zip"))
	require.NoError(t, err)

	require.NoError(t, f.storage.Delete(ctx, saved.ID))
	exists, err := f.storage.Exists(ctx, saved.Path)
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = f.repo.Files().Get(ctx, saved.ID)
	assert.ErrorIs(t, err, addons.ErrFileNotFound)

	assert.NoError(t, f.storage.Remove(ctx, "addons/never-stored.zip"))
}

func TestStorage_ProcessDeleteQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.storage.Save(ctx, nil, addons.FileTypeContent, "addons", "one.zip", strings.NewReader("1"))
	require.NoError(t, err)
	second, err := f.storage.Save(ctx, nil, addons.FileTypeContent, "addons", "two.zip", strings.NewReader("2"))
	require.NoError(t, err)

	require.NoError(t, f.storage.QueueDelete(ctx, first.ID))
	f.now = f.now.Add(30 * time.Minute)
	require.NoError(t, f.storage.QueueDelete(ctx, second.ID))

	t.Run("NothingDueYet", func(t *testing.T) {
		removed, err := f.storage.ProcessDeleteQueue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, removed)
	})

	t.Run("FirstDue", func(t *testing.T) {
		f.now = f.now.Add(45 * time.Minute)
		removed, err := f.storage.ProcessDeleteQueue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		exists, err := f.storage.Exists(ctx, first.Path)
		require.NoError(t, err)
		assert.False(t, exists)
		exists, err = f.storage.Exists(ctx, second.Path)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("QueueMissingFile", func(t *testing.T) {
		assert.ErrorIs(t, f.storage.QueueDelete(ctx, 12345), addons.ErrFileNotFound)
	})
}
