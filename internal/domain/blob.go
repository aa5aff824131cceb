package domain

import (
	"context"
	"io"
)

// BlobWriter stores evidence objects in the archive bucket.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves archived evidence objects.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}
