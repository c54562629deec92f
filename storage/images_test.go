package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestImagesStoreAndRemove(t *testing.T) {
	dir := t.TempDir()
	images, err := NewImages(dir, "/images/")
	require.NoError(t, err)
	ctx := context.Background()

	img, err := images.Store(ctx, "scene.png", bytes.NewReader(pngHeader))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(img.URL, "/images/"))
	assert.True(t, strings.HasSuffix(img.Locator, ".png"))

	b, err := os.ReadFile(filepath.Join(dir, img.Locator))
	require.NoError(t, err)
	assert.Equal(t, pngHeader, b)

	require.NoError(t, images.Remove(ctx, img.Locator))
	_, err = os.Stat(filepath.Join(dir, img.Locator))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, images.Remove(ctx, img.Locator), "removing twice is fine")
}

func TestImagesRejectsNonImage(t *testing.T) {
	dir := t.TempDir()
	images, err := NewImages(dir, "/images")
	require.NoError(t, err)

	_, err = images.Store(context.Background(), "notes.png", strings.NewReader("just some text"))
	assert.ErrorIs(t, err, ErrNotImage)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestImagesAcceptsSVG(t *testing.T) {
	images, err := NewImages(t.TempDir(), "/images")
	require.NoError(t, err)

	img, err := images.Store(context.Background(), "scene.svg", strings.NewReader(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(img.Locator, ".svg"))
}

func TestImagesRejectsOversized(t *testing.T) {
	dir := t.TempDir()
	images, err := NewImages(dir, "/images")
	require.NoError(t, err)

	body := append(append([]byte(nil), pngHeader...), make([]byte, MaxImageSize)...)
	_, err = images.Store(context.Background(), "big.png", bytes.NewReader(body))
	assert.ErrorIs(t, err, ErrImageTooLarge)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestImagesCancelled(t *testing.T) {
	images, err := NewImages(t.TempDir(), "/images")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	body := append(append([]byte(nil), pngHeader...), make([]byte, 4096)...)
	_, err = images.Store(ctx, "scene.png", bytes.NewReader(body))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestImagesRemoveStaysInDir(t *testing.T) {
	parent := t.TempDir()
	outside := filepath.Join(parent, "keep.png")
	require.NoError(t, os.WriteFile(outside, pngHeader, 0o644))

	images, err := NewImages(filepath.Join(parent, "images"), "/images")
	require.NoError(t, err)

	require.NoError(t, images.Remove(context.Background(), "../keep.png"))
	_, err = os.Stat(outside)
	assert.NoError(t, err)
}
