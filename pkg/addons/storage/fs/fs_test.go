package fs

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-addons/pkg/addons"
)

func TestFSBackend_BasicOps(t *testing.T) {
	tmp := t.TempDir()
	backend, err := New(Config{BaseDir: tmp})
	require.NoError(t, err)

	ctx := context.Background()
	key := "images/karts/tux.png"

	require.NoError(t, backend.Upload(ctx, key, bytes.NewReader([]byte("hello fs"))))

	exists, err := backend.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	rc, err := backend.Download(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "hello fs", string(data))

	keys, err := backend.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	require.NoError(t, backend.Delete(ctx, key))
	assert.ErrorIs(t, backend.Delete(ctx, key), addons.ErrBlobNotFound)

	// empty parent directories are removed, the base directory stays
	_, err = os.Stat(filepath.Join(tmp, "images"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(tmp)
	assert.NoError(t, err)
}

func TestFSBackend_RejectsEscapingKeys(t *testing.T) {
	backend, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	err = backend.Upload(context.Background(), "../outside.txt", bytes.NewReader(nil))
	assert.Error(t, err)
}

func TestFSBackend_EnsureRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")
	backend, err := New(Config{BaseDir: root})
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(root))
	keys, err := backend.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, backend.EnsureRoot(context.Background()))
	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
