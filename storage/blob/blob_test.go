package blob

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core"
)

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	key := "campus/students/1/report_card/card_20250601120000_abcd1234.pdf"
	require.NoError(t, store.Put(ctx, key, strings.NewReader("%PDF-1.4"), 8, "application/pdf"))

	rc, info, err := store.Get(ctx, key)
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "%PDF-1.4", string(body))
	assert.Equal(t, int64(8), info.Size)
	assert.Equal(t, "application/pdf", info.ContentType)

	objects, err := store.List(ctx, "campus/students/", time.Time{})
	require.NoError(t, err)
	assert.Len(t, objects, 1)

	objects, err = store.List(ctx, "campus/students/", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, objects, "blob is younger than the cutoff")

	trashKey := "campus/trash/" + strings.TrimPrefix(key, "campus/")
	require.NoError(t, store.Move(ctx, key, trashKey))
	_, _, err = store.Get(ctx, key)
	assert.Equal(t, core.ErrBlobNotFound, err)
	assert.Equal(t, core.ErrBlobNotFound, store.Move(ctx, key, trashKey))

	require.NoError(t, store.Delete(ctx, trashKey, "campus/missing.pdf"))
	_, _, err = store.Get(ctx, trashKey)
	assert.Equal(t, core.ErrBlobNotFound, err)
}

func TestLocalStore_Move_touches(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)

	key := "campus/students/1/other/old_20250101000000_abcd1234.pdf"
	require.NoError(t, store.Put(ctx, key, strings.NewReader("%PDF-1.4"), 8, "application/pdf"))
	old := time.Now().Add(-60 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, filepath.FromSlash(key)), old, old))

	require.NoError(t, store.Move(ctx, key, "campus/trash/old.pdf"))
	objects, err := store.List(ctx, "campus/trash/", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, objects, "moved blobs count from the move")
}

func TestLocalStore_rejectsEmptyKey(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, store.Put(context.Background(), "/", strings.NewReader("x"), 1, "text/plain"))
}

func pngImage(t *testing.T, w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func TestImageResizer_Fit(t *testing.T) {
	ir := NewImageResizer()

	t.Run("downscales the largest side", func(t *testing.T) {
		out, size, ok, err := ir.Fit(bytes.NewReader(pngImage(t, 400, 200)), "image/png", 100)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Positive(t, size)

		img, err := png.Decode(out)
		require.NoError(t, err)
		assert.Equal(t, 100, img.Bounds().Dx())
		assert.Equal(t, 50, img.Bounds().Dy())
	})

	t.Run("keeps small images", func(t *testing.T) {
		_, _, ok, err := ir.Fit(bytes.NewReader(pngImage(t, 50, 80)), "image/png", 100)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ignores other content types", func(t *testing.T) {
		_, _, ok, err := ir.Fit(strings.NewReader("%PDF-1.4"), "application/pdf", 100)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("rejects broken images", func(t *testing.T) {
		_, _, _, err := ir.Fit(strings.NewReader("not a png"), "image/png", 100)
		assert.Error(t, err)
	})
}
