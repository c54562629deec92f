package cinesort

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

// StoredImage locates an image held by an ImageStore.
type StoredImage struct {
	URL     string
	Locator string
}

// ImageStore holds scene images. Store may fail or time out; it either
// returns a usable image or an error, never both.
type ImageStore interface {
	Store(ctx context.Context, name string, r io.Reader) (StoredImage, error)
	Remove(ctx context.Context, locator string) error
}

// Upload is one image file picked by the operator.
type Upload struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// UploadScenes stores exactly SceneCount images and returns them as scenes
// in upload order, with default captions. Any failure removes the images
// already stored and returns an *UploadError; no scenes are returned.
func UploadScenes(ctx context.Context, store ImageStore, files []Upload, timeout time.Duration) ([]Scene, error) {
	if len(files) != SceneCount {
		return nil, &ValidationError{
			Field:   "images",
			Message: "exactly " + strconv.Itoa(SceneCount) + " images are required, got " + strconv.Itoa(len(files)),
		}
	}

	stored := make([]StoredImage, len(files))
	done := make([]bool, len(files))

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			img, err := uploadOne(gctx, store, f, timeout)
			if err != nil {
				return &UploadError{Index: i, Name: f.Name, Err: err}
			}
			stored[i] = img
			done[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		cleanup := context.WithoutCancel(ctx)
		var errs []error
		for i := range stored {
			if !done[i] {
				continue
			}
			if rerr := store.Remove(cleanup, stored[i].Locator); rerr != nil {
				errs = append(errs, fmt.Errorf("failed to remove %s: %w", stored[i].Locator, rerr))
			}
		}
		if len(errs) > 0 {
			return nil, errors.Join(append([]error{err}, errs...)...)
		}
		return nil, err
	}

	scenes := make([]Scene, len(stored))
	for i, img := range stored {
		scenes[i] = Scene{
			ID:          strconv.Itoa(i),
			URL:         img.URL,
			StoragePath: img.Locator,
			Caption:     "Scene " + strconv.Itoa(i+1),
		}
	}

	return scenes, nil
}

func uploadOne(ctx context.Context, store ImageStore, f Upload, timeout time.Duration) (StoredImage, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if f.Open == nil {
		return StoredImage{}, errors.New("no file content")
	}

	r, err := f.Open()
	if err != nil {
		return StoredImage{}, err
	}
	defer r.Close()

	img, err := store.Store(ctx, f.Name, r)
	if err != nil {
		return StoredImage{}, err
	}
	if err := ctx.Err(); err != nil {
		_ = store.Remove(context.WithoutCancel(ctx), img.Locator)
		return StoredImage{}, err
	}

	return img, nil
}
