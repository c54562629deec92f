package cinesort

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memImages struct {
	mu      sync.Mutex
	stored  map[string]string
	removed []string
	fail    map[string]error
	delay   map[string]time.Duration
}

func newMemImages() *memImages {
	return &memImages{
		stored: make(map[string]string),
		fail:   make(map[string]error),
		delay:  make(map[string]time.Duration),
	}
}

func (m *memImages) Store(ctx context.Context, name string, r io.Reader) (StoredImage, error) {
	m.mu.Lock()
	err, delay := m.fail[name], m.delay[name]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return StoredImage{}, ctx.Err()
		}
	}
	if err != nil {
		return StoredImage{}, err
	}

	b, err := io.ReadAll(r)
	if err != nil {
		return StoredImage{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stored[name] = string(b)
	return StoredImage{URL: "/images/" + name, Locator: name}, nil
}

func (m *memImages) Remove(_ context.Context, locator string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.stored, locator)
	m.removed = append(m.removed, locator)
	return nil
}

func testUploads(n int) []Upload {
	files := make([]Upload, n)
	for i := range files {
		name := fmt.Sprintf("%02d.jpg", i+1)
		files[i] = Upload{
			Name: name,
			Open: func() (io.ReadCloser, error) {
				return io.NopCloser(strings.NewReader("image " + name)), nil
			},
		}
	}
	return files
}

func TestUploadScenes(t *testing.T) {
	images := newMemImages()

	scenes, err := UploadScenes(context.Background(), images, testUploads(SceneCount), time.Second)
	require.NoError(t, err)
	require.Len(t, scenes, SceneCount)

	for i, s := range scenes {
		assert.Equal(t, fmt.Sprint(i), s.ID)
		assert.Equal(t, fmt.Sprintf("Scene %d", i+1), s.Caption)
		assert.Equal(t, fmt.Sprintf("/images/%02d.jpg", i+1), s.URL)
		assert.Equal(t, fmt.Sprintf("%02d.jpg", i+1), s.StoragePath)
	}
	assert.Len(t, images.stored, SceneCount)
}

func TestUploadScenesCount(t *testing.T) {
	for _, n := range []int{0, 4, 6} {
		images := newMemImages()

		_, err := UploadScenes(context.Background(), images, testUploads(n), time.Second)
		assert.True(t, IsValidation(err), "%d files", n)
		assert.Empty(t, images.stored)
	}
}

func TestUploadScenesFailureRemovesStored(t *testing.T) {
	images := newMemImages()
	images.fail["03.jpg"] = errors.New("bucket unavailable")

	scenes, err := UploadScenes(context.Background(), images, testUploads(SceneCount), time.Second)
	assert.Nil(t, scenes)

	var ue *UploadError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 2, ue.Index)
	assert.Equal(t, "03.jpg", ue.Name)
	assert.Empty(t, images.stored, "partial uploads must be removed")
}

func TestUploadScenesTimeout(t *testing.T) {
	images := newMemImages()
	images.delay["05.jpg"] = time.Minute

	_, err := UploadScenes(context.Background(), images, testUploads(SceneCount), 20*time.Millisecond)

	var ue *UploadError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "05.jpg", ue.Name)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, images.stored)
}

func TestUploadScenesOpenFailure(t *testing.T) {
	images := newMemImages()
	files := testUploads(SceneCount)
	files[0].Open = func() (io.ReadCloser, error) { return nil, errors.New("unreadable") }

	_, err := UploadScenes(context.Background(), images, files, time.Second)

	var ue *UploadError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 0, ue.Index)
	assert.Empty(t, images.stored)
}
