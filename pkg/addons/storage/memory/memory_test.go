package memory_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-addons/pkg/addons"
	"github.com/tendant/simple-addons/pkg/addons/storage/memory"
)

func TestMemoryBackend(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()

	t.Run("UploadAndDownload", func(t *testing.T) {
		require.NoError(t, backend.Upload(ctx, "images/tux.png", bytes.NewReader([]byte("png"))))

		rc, err := backend.Download(ctx, "images/tux.png")
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "png", string(data))
	})

	t.Run("ExistsAndList", func(t *testing.T) {
		require.NoError(t, backend.Upload(ctx, "a.zip", bytes.NewReader(nil)))

		exists, err := backend.Exists(ctx, "a.zip")
		require.NoError(t, err)
		assert.True(t, exists)

		keys, err := backend.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.zip", "images/tux.png"}, keys)
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		require.NoError(t, backend.Delete(ctx, "a.zip"))
		assert.ErrorIs(t, backend.Delete(ctx, "a.zip"), addons.ErrBlobNotFound)

		_, err := backend.Download(ctx, "a.zip")
		assert.ErrorIs(t, err, addons.ErrBlobNotFound)
	})
}
