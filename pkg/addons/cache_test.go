package addons_test

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-addons/pkg/addons"
)

func TestCacheRegistry_CreateFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createAddon(t, addons.TypeTrack, "Ice")

	require.NoError(t, f.cache.CreateFile(ctx, "300--ice.png", "ice", "w=300"))
	require.NoError(t, f.cache.CreateFile(ctx, "global.png", "nobody", ""))

	entries, err := f.cache.FileExists(ctx, "300--ice.png")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].AddonID)
	assert.Equal(t, "ice", *entries[0].AddonID)
	assert.Equal(t, "w=300", entries[0].Props)

	entries, err = f.cache.FileExists(ctx, "global.png")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].AddonID)

	err = f.cache.CreateFile(ctx, "global.png", "", "")
	assert.ErrorIs(t, err, addons.ErrConsistency)

	entries, err = f.cache.FileExists(ctx, "missing.png")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCacheRegistry_ResolveImageURL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createAddon(t, addons.TypeTrack, "Ice")
	img := f.saveFile(t, "ice", addons.FileTypeImage, "ice.png", "pixels")
	require.NoError(t, f.files.Approve(ctx, img.ID, true))

	t.Run("missing file resolves to the placeholder", func(t *testing.T) {
		got, err := f.cache.ResolveImageURL(ctx, 999, addons.SizeOriginal)
		require.NoError(t, err)
		assert.Equal(t, &addons.ImageURL{URL: "https://addons.example.org/image/notfound.png", Approved: true, Exists: false}, got)
	})

	t.Run("original size uses the download base", func(t *testing.T) {
		got, err := f.cache.ResolveImageURL(ctx, img.ID, addons.SizeOriginal)
		require.NoError(t, err)
		assert.Equal(t, "https://dl.example.org/image/ice.png", got.URL)
		assert.True(t, got.Approved)
		assert.True(t, got.Exists)
	})

	t.Run("uncached size falls back to the file itself", func(t *testing.T) {
		for _, size := range []addons.SizeVariant{addons.SizeBig, addons.SizeMedium} {
			got, err := f.cache.ResolveImageURL(ctx, img.ID, size)
			require.NoError(t, err)
			assert.Equal(t, "https://dl.example.org/image/ice.png", got.URL, size)
			assert.True(t, got.Exists)
		}
	})

	t.Run("cached size uses the cache base", func(t *testing.T) {
		require.NoError(t, f.cache.CreateFile(ctx, "25--ice.png", "ice", ""))
		got, err := f.cache.ResolveImageURL(ctx, img.ID, addons.SizeSmall)
		require.NoError(t, err)
		assert.Equal(t, "https://dl.example.org/cache/25--ice.png", got.URL)
	})
}

func TestCacheRegistry_Clear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createAddon(t, addons.TypeTrack, "Ice")

	for _, name := range []string{"300--ice.png", "cache_graph_downloads.png", "75--tux.png"} {
		require.NoError(t, f.cacheBlobs.Upload(ctx, name, strings.NewReader(name)))
		require.NoError(t, f.cache.CreateFile(ctx, name, "ice", ""))
	}

	require.NoError(t, f.cache.Clear(ctx))

	keys, err := f.cacheBlobs.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cache_graph_downloads.png"}, keys)

	entries, err := f.repo.Cache().List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cache_graph_downloads.png", entries[0].Path)
}

func TestCacheRegistry_ProtectedPattern(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.cache.IsProtected("cache/CACHE_GRAPH_x.PNG"))
	assert.False(t, f.cache.IsProtected("cache_graph_x.jpg"))

	custom, err := addons.NewCacheRegistry(f.repo, f.cacheBlobs, addons.WithProtectedPattern(regexp.MustCompile(`^keep-`)))
	require.NoError(t, err)
	assert.True(t, custom.IsProtected("keep-me.png"))
	assert.False(t, custom.IsProtected("cache_graph_x.png"))
}

func TestCacheRegistry_ClearAddon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createAddon(t, addons.TypeTrack, "Ice")
	f.createAddon(t, addons.TypeKart, "Tux")

	require.NoError(t, f.cacheBlobs.Upload(ctx, "300--ice.png", strings.NewReader("a")))
	require.NoError(t, f.cache.CreateFile(ctx, "300--ice.png", "ice", ""))
	require.NoError(t, f.cache.CreateFile(ctx, "300--tux.png", "tux", ""))

	cleared, err := f.cache.ClearAddon(ctx, "ice")
	require.NoError(t, err)
	assert.True(t, cleared)

	entries, err := f.repo.Cache().List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "300--tux.png", entries[0].Path)
	exists, err := f.cacheBlobs.Exists(ctx, "300--ice.png")
	require.NoError(t, err)
	assert.False(t, exists)

	cleared, err = f.cache.ClearAddon(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, cleared)

	cleared, err = f.cache.ClearAddon(ctx, "")
	require.NoError(t, err)
	assert.False(t, cleared)
}

type stuckBlobs struct {
	addons.BlobStore
	stuck map[string]bool
}

func (b stuckBlobs) Delete(ctx context.Context, key string) error {
	if b.stuck[key] {
		return errors.New("permission denied")
	}
	return b.BlobStore.Delete(ctx, key)
}

func TestCacheRegistry_ClearAddon_KeepsUndeletedEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createAddon(t, addons.TypeTrack, "Ice")

	blobs := stuckBlobs{BlobStore: f.cacheBlobs, stuck: map[string]bool{"300--ice.png": true}}
	cache, err := addons.NewCacheRegistry(f.repo, blobs)
	require.NoError(t, err)

	for _, p := range []string{"300--ice.png", "150--ice.png"} {
		require.NoError(t, f.cacheBlobs.Upload(ctx, p, strings.NewReader("a")))
		require.NoError(t, cache.CreateFile(ctx, p, "ice", ""))
	}

	cleared, err := cache.ClearAddon(ctx, "ice")
	assert.True(t, cleared)
	require.Error(t, err)
	assert.True(t, addons.IsKind(err, addons.KindPartialFailure))

	entries, err := f.repo.Cache().List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "300--ice.png", entries[0].Path)
	exists, err := f.cacheBlobs.Exists(ctx, "150--ice.png")
	require.NoError(t, err)
	assert.False(t, exists)
}
