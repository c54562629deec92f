package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Seednode/cinesort/games/cinesort"
)

// MaxImageSize is the largest scene image accepted, in bytes.
const MaxImageSize = 10 << 20

var (
	ErrNotImage      = errors.New("file is not an image")
	ErrImageTooLarge = fmt.Errorf("image exceeds %d bytes", MaxImageSize)
)

var imageExtensions = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
}

// Images stores scene images as files in one directory, served under a URL prefix.
type Images struct {
	dir    string
	prefix string
}

// NewImages returns an image store rooted at dir, creating it if needed.
func NewImages(dir, urlPrefix string) (*Images, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &Images{
		dir:    dir,
		prefix: strings.TrimSuffix(urlPrefix, "/"),
	}, nil
}

// Dir returns the directory images are written to.
func (i *Images) Dir() string {
	return i.dir
}

// Store writes r to a new file. name is only used for its extension when
// the content type cannot tell it.
func (i *Images) Store(ctx context.Context, name string, r io.Reader) (cinesort.StoredImage, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return cinesort.StoredImage{}, err
	}
	head = head[:n]

	ext, err := imageExtension(name, head)
	if err != nil {
		return cinesort.StoredImage{}, err
	}

	locator := cinesort.NewID() + ext
	dst := filepath.Join(i.dir, locator)

	tmp, err := os.CreateTemp(i.dir, ".upload-*")
	if err != nil {
		return cinesort.StoredImage{}, err
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	body := io.LimitReader(io.MultiReader(bytes.NewReader(head), &ctxReader{ctx: ctx, r: r}), MaxImageSize+1)
	written, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return cinesort.StoredImage{}, err
	}
	if written > MaxImageSize {
		return cinesort.StoredImage{}, ErrImageTooLarge
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return cinesort.StoredImage{}, err
	}

	return cinesort.StoredImage{
		URL:     i.prefix + "/" + locator,
		Locator: locator,
	}, nil
}

// Remove deletes a stored image. Removing a missing image is not an error.
func (i *Images) Remove(_ context.Context, locator string) error {
	locator = filepath.Base(filepath.Clean("/" + locator))
	if locator == "/" || locator == "." {
		return nil
	}

	err := os.Remove(filepath.Join(i.dir, locator))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func imageExtension(name string, head []byte) (string, error) {
	contentType := http.DetectContentType(head)
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	if ext, ok := imageExtensions[contentType]; ok {
		return ext, nil
	}

	// SVG sniffs as text.
	if strings.EqualFold(path.Ext(name), ".svg") && bytes.Contains(head, []byte("<svg")) {
		return ".svg", nil
	}

	return "", ErrNotImage
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
