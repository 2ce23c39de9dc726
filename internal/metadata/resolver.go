// Package metadata resolves human-readable market descriptions from inline or
// remote metadata documents. Resolution never fails: any problem yields a
// synthesized "Market #<id>" title.
package metadata

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
	"github.com/alanyoungcy/xomarket-expert/internal/metrics"
)

// URISource returns the metadata document URI registered for a market.
type URISource interface {
	MetadataURI(ctx context.Context, id int64) (string, error)
}

// Config bounds document resolution.
type Config struct {
	Timeout     time.Duration
	IPFSGateway string
	MaxBytes    int64
}

// Option configures optional Resolver collaborators.
type Option func(*Resolver)

// WithBlobReader enables s3:// metadata documents.
func WithBlobReader(b domain.BlobReader) Option {
	return func(r *Resolver) { r.blobs = b }
}

// WithCache stores parsed metadata so repeated scans skip the fetch.
func WithCache(c domain.MetadataCache) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithHTTPClient overrides the client used for http(s) and ipfs documents.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.httpClient = c }
}

// Resolver turns a market id into MarketMetadata.
type Resolver struct {
	source     URISource
	blobs      domain.BlobReader
	cache      domain.MetadataCache
	httpClient *http.Client
	cfg        Config
	logger     *slog.Logger
}

// NewResolver creates a Resolver reading document URIs from source.
func NewResolver(source URISource, cfg Config, logger *slog.Logger, opts ...Option) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 1 << 20
	}
	if cfg.IPFSGateway == "" {
		cfg.IPFSGateway = "https://ipfs.io/ipfs/"
	}
	r := &Resolver{
		source:     source,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "metadata")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FallbackTitle is the synthesized title used when no document resolves.
func FallbackTitle(id int64) string {
	return "Market #" + strconv.FormatInt(id, 10)
}

// Resolve returns the metadata for market id. It never fails.
func (r *Resolver) Resolve(ctx context.Context, id int64) domain.MarketMetadata {
	if r.cache != nil {
		if meta, err := r.cache.Get(ctx, id); err == nil {
			return meta
		}
	}

	meta, reason, err := r.resolve(ctx, id)
	if err != nil {
		metrics.MetadataFallbacks.WithLabelValues(reason).Inc()
		r.logger.DebugContext(ctx, "metadata degraded to fallback title",
			slog.Int64("market_id", id),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return domain.MarketMetadata{Title: FallbackTitle(id)}
	}
	if meta.Title == "" {
		meta.Title = FallbackTitle(id)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, id, meta); err != nil {
			r.logger.WarnContext(ctx, "metadata cache set failed",
				slog.Int64("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return meta
}

// resolve does the work of Resolve and reports which stage failed.
func (r *Resolver) resolve(ctx context.Context, id int64) (domain.MarketMetadata, string, error) {
	if r.source == nil {
		return domain.MarketMetadata{}, "no_source", errors.New("metadata: no uri source")
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	uri, err := r.source.MetadataURI(ctx, id)
	if err != nil {
		return domain.MarketMetadata{}, "uri", err
	}
	if uri == "" {
		return domain.MarketMetadata{}, "uri", errors.New("metadata: empty uri")
	}

	data, err := r.load(ctx, uri)
	if err != nil {
		return domain.MarketMetadata{}, "fetch", err
	}

	meta, err := Parse(data)
	if err != nil {
		return domain.MarketMetadata{}, "parse", err
	}
	return meta, "", nil
}
