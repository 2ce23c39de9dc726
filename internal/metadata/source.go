package metadata

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
)

// load fetches the raw document bytes named by uri.
func (r *Resolver) load(ctx context.Context, uri string) ([]byte, error) {
	uri = strings.TrimSpace(uri)
	scheme, rest, ok := strings.Cut(uri, ":")
	if !ok {
		// A bare JSON document stored directly in the contract.
		if strings.HasPrefix(uri, "{") {
			return []byte(uri), nil
		}
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedURI, truncate(uri, 64))
	}

	switch strings.ToLower(scheme) {
	case "data":
		return decodeDataURI(rest)
	case "http", "https":
		return r.fetchHTTP(ctx, uri)
	case "ipfs":
		return r.fetchHTTP(ctx, r.ipfsURL(rest))
	case "s3":
		return r.fetchBlob(ctx, rest)
	default:
		return nil, fmt.Errorf("%w: scheme %q", domain.ErrUnsupportedURI, scheme)
	}
}

// decodeDataURI decodes the part of a data: URI after the scheme, e.g.
// "application/json;base64,eyJ0aXRsZSI6Li4ufQ==".
func decodeDataURI(rest string) ([]byte, error) {
	params, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("metadata: data uri has no payload separator")
	}
	if strings.HasSuffix(strings.ToLower(params), ";base64") {
		for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
			if data, err := enc.DecodeString(payload); err == nil {
				return data, nil
			}
		}
		return nil, fmt.Errorf("metadata: data uri: invalid base64 payload")
	}
	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("metadata: data uri: %w", err)
	}
	return []byte(decoded), nil
}

func (r *Resolver) ipfsURL(rest string) string {
	path := strings.TrimPrefix(rest, "//")
	path = strings.TrimPrefix(path, "ipfs/")
	return strings.TrimRight(r.cfg.IPFSGateway, "/") + "/" + path
}

func (r *Resolver) fetchHTTP(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.cfg.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// fetchBlob reads "bucket/key" from object storage.
func (r *Resolver) fetchBlob(ctx context.Context, rest string) ([]byte, error) {
	if r.blobs == nil {
		return nil, fmt.Errorf("%w: no object store configured", domain.ErrUnsupportedURI)
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(rest, "//"), "/")
	if !ok || key == "" {
		return nil, fmt.Errorf("metadata: malformed s3 uri %q", rest)
	}
	rc, err := r.blobs.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, r.cfg.MaxBytes))
}

// checkHTTPStatus maps non-2xx responses onto domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := truncate(string(body), 256)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
