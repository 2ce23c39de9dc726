package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
)

// Reader implements domain.BlobReader.
type Reader struct {
	client *s3.Client
	bucket string
}

// NewReader creates a Reader over c.
func NewReader(c *Client) *Reader {
	return &Reader{client: c.s3, bucket: c.bucket}
}

// Get returns the body of bucket/key. An empty bucket selects the client's
// default. Missing objects yield domain.ErrNotFound. The caller closes the
// returned reader.
func (r *Reader) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	bucket, err := r.resolveBucket(bucket)
	if err != nil {
		return nil, err
	}
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: get %s/%s: %w", bucket, key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get %s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

func (r *Reader) resolveBucket(bucket string) (string, error) {
	if bucket != "" {
		return bucket, nil
	}
	if r.bucket == "" {
		return "", fmt.Errorf("s3blob: no bucket in uri and no default bucket configured")
	}
	return r.bucket, nil
}

// isNotFound reports whether err means the object does not exist, either as
// the SDK's typed errors or a bare 404 from an S3-compatible provider.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var httpErr interface{ HTTPStatusCode() int }
	return errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == http.StatusNotFound
}

var _ domain.BlobReader = (*Reader)(nil)
