package core

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
)

var ErrBlobNotFound = errors.New("blob not found")

type (
	ObjectInfo struct {
		Key          string
		Size         int64
		ContentType  string
		LastModified time.Time
	}

	// BlobStore stores files under slash separated keys.
	BlobStore interface {
		Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
		// Get returns ErrBlobNotFound when no blob has the key. The caller must close the reader.
		Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
		// Move renames src to dst, overwriting dst.
		Move(ctx context.Context, src, dst string) error
		Delete(ctx context.Context, keys ...string) error
		// List returns the blobs under prefix last modified before olderThan (all of them when zero).
		List(ctx context.Context, prefix string, olderThan time.Time) ([]ObjectInfo, error)
	}

	// ImageResizer downscales images whose largest side exceeds maxDim.
	ImageResizer interface {
		// Fit returns the resized image and its size, or ok=false when r needs no resizing.
		Fit(r io.Reader, contentType string, maxDim int) (out io.Reader, size int64, ok bool, err error)
	}
)
