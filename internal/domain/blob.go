package domain

import (
	"context"
	"io"
)

// BlobReader retrieves objects from object storage. An empty bucket selects
// the store's default bucket.
type BlobReader interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}
