package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-addons/pkg/addons"
	"github.com/tendant/simple-addons/pkg/addons/repo/postgres"
)

// newTestRepository connects to ADDONS_TEST_DATABASE_URL, migrates the schema
// and empties every table.
func newTestRepository(t *testing.T) *postgres.Repository {
	t.Helper()
	url := os.Getenv("ADDONS_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ADDONS_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.Migrate(ctx, pool))
	_, err = pool.Exec(ctx, "TRUNCATE cache, file_delete_queue, files, karts_revs, tracks_revs, arenas_revs, addons RESTART IDENTITY CASCADE")
	require.NoError(t, err)
	return postgres.NewWithPool(pool)
}

func TestPostgresRepository_AddonLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	addon := &addons.Addon{ID: "tux", Type: addons.TypeKart, Name: "Tux", UploaderID: 7, CreationDate: time.Now().UTC()}
	require.NoError(t, repo.Addons().Insert(ctx, addon))
	assert.ErrorIs(t, repo.Addons().Insert(ctx, addon), addons.ErrAlreadyExists)

	rev := &addons.Revision{ID: uuid.New(), AddonID: "tux", Revision: 1, FileID: 3, ImageID: 4, IconID: 4,
		Status: addons.StatusLatest, CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Revisions().Insert(ctx, addons.TypeKart, rev))

	dup := *rev
	dup.ID = uuid.New()
	assert.ErrorIs(t, repo.Revisions().Insert(ctx, addons.TypeKart, &dup), addons.ErrRevisionConflict)

	revs, err := repo.Revisions().List(ctx, addons.TypeKart, "tux")
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Equal(t, rev.ID, revs[0].ID)
	assert.Equal(t, int64(4), revs[0].IconID)
	assert.True(t, revs[0].Status.IsLatest())

	license := "GPL"
	require.NoError(t, repo.Addons().Update(ctx, "tux", addons.AddonUpdate{License: &license}))
	got, err := repo.Addons().Get(ctx, "tux")
	require.NoError(t, err)
	assert.Equal(t, "GPL", got.License)
	assert.Nil(t, got.Designer)

	ids, err := repo.Addons().ListLatest(ctx, addons.TypeKart, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"tux"}, ids)

	require.NoError(t, repo.Addons().Delete(ctx, "tux"))
	revs, err = repo.Revisions().List(ctx, addons.TypeKart, "tux")
	require.NoError(t, err)
	assert.Empty(t, revs)
}

func TestPostgresRepository_FilesAndQueue(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.Addons().Insert(ctx, &addons.Addon{ID: "ice", Type: addons.TypeTrack, Name: "Ice", CreationDate: time.Now()}))

	addonID := "ice"
	f := &addons.File{AddonID: &addonID, Path: "images/ice.png", Type: addons.FileTypeImage}
	require.NoError(t, repo.Files().Insert(ctx, f))
	assert.NotZero(t, f.ID)

	images, err := repo.Files().ListByAddon(ctx, "ice", addons.FileTypeImage, 50)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "images/ice.png", images[0].Path)

	newer := &addons.File{AddonID: &addonID, Path: "images/ice-2.png", Type: addons.FileTypeImage}
	require.NoError(t, repo.Files().Insert(ctx, newer))
	recent, err := repo.Files().ListRecentByAddon(ctx, "ice", addons.FileTypeImage, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, newer.ID, recent[0].ID)

	now := time.Now().UTC()
	require.NoError(t, repo.Files().QueueDelete(ctx, f.ID, now.Add(-time.Second)))
	assert.ErrorIs(t, repo.Files().QueueDelete(ctx, f.ID+100, now), addons.ErrFileNotFound)
	due, err := repo.Files().DueDeletions(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.ID}, due)
}

func TestPostgresRepository_InTxRollsBack(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	failure := errors.New("boom")

	err := repo.InTx(ctx, func(ctx context.Context, tx addons.Repository) error {
		require.NoError(t, tx.Addons().Insert(ctx, &addons.Addon{ID: "ghost", Type: addons.TypeArena, Name: "Ghost", CreationDate: time.Now()}))
		return failure
	})
	assert.ErrorIs(t, err, failure)

	exists, err := repo.Addons().Exists(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, exists)
}
