package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"mediadrop/domain/storage"
)

// Thumbnail defaults
const (
	DefaultThumbnailWidth   = 1024
	DefaultThumbnailHeight  = 768
	DefaultThumbnailQuality = 80
	DefaultSignedURLTTL     = time.Hour
)

// ThumbnailCache is a cache-aside layer over an object store.
// Entries are never invalidated; a file replaced under the same name keeps
// its old thumbnail.
type ThumbnailCache struct {
	store     storage.ObjectStore
	resizer   storage.ImageResizer
	frames    storage.FrameGrabber
	maxWidth  int
	maxHeight int
	quality   int
	ttl       time.Duration
	present   *lru.Cache[string, struct{}] // keys known to be cached
	logger    *slog.Logger
}

// ThumbnailOption configures a ThumbnailCache
type ThumbnailOption func(*ThumbnailCache)

// WithFrameGrabber enables thumbnails for videos without a platform thumbnail
func WithFrameGrabber(f storage.FrameGrabber) ThumbnailOption {
	return func(c *ThumbnailCache) {
		c.frames = f
	}
}

// WithThumbnailBounds sets the bounding box and JPEG quality
func WithThumbnailBounds(width, height, quality int) ThumbnailOption {
	return func(c *ThumbnailCache) {
		if width > 0 {
			c.maxWidth = width
		}
		if height > 0 {
			c.maxHeight = height
		}
		if quality > 0 {
			c.quality = quality
		}
	}
}

// WithThumbnailTTL sets the lifetime of returned signed URLs
func WithThumbnailTTL(ttl time.Duration) ThumbnailOption {
	return func(c *ThumbnailCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithPresenceMemo remembers up to size cache keys known to exist, so
// repeated listings skip the existence probe. Zero or negative disables it.
func WithPresenceMemo(size int) ThumbnailOption {
	return func(c *ThumbnailCache) {
		if size <= 0 {
			c.present = nil
			return
		}
		// lru.New only errors on non-positive size
		c.present, _ = lru.New[string, struct{}](size)
	}
}

// WithThumbnailLogger sets the logger for hit and miss events
func WithThumbnailLogger(l *slog.Logger) ThumbnailOption {
	return func(c *ThumbnailCache) {
		c.logger = l
	}
}

// NewThumbnailCache creates a cache writing into store
func NewThumbnailCache(store storage.ObjectStore, resizer storage.ImageResizer, opts ...ThumbnailOption) *ThumbnailCache {
	c := &ThumbnailCache{
		store:     store,
		resizer:   resizer,
		maxWidth:  DefaultThumbnailWidth,
		maxHeight: DefaultThumbnailHeight,
		quality:   DefaultThumbnailQuality,
		ttl:       DefaultSignedURLTTL,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns a signed URL for the thumbnail at key, generating it from
// source on a miss. Concurrent misses for the same key both generate and
// write; the writes carry the same content.
func (c *ThumbnailCache) Resolve(ctx context.Context, key storage.ThumbnailKey, mediaType storage.MediaType, source storage.SourceFunc) (string, error) {
	return c.resolve(ctx, storage.ThumbnailRequest{Key: key, Type: mediaType, Source: source})
}

func (c *ThumbnailCache) resolve(ctx context.Context, req storage.ThumbnailRequest) (string, error) {
	cacheKey := req.Key.String()

	exists, err := c.exists(ctx, cacheKey)
	if err != nil {
		return "", fmt.Errorf("failed to check thumbnail %s: %w", cacheKey, err)
	}

	if exists {
		c.logger.Debug("thumbnail cache hit", "key", cacheKey)
	} else {
		c.logger.Info("thumbnail cache miss", "key", cacheKey)
		if err := c.generate(ctx, cacheKey, req); err != nil {
			return "", err
		}
		c.remember(cacheKey)
	}

	url, err := c.store.SignedURL(ctx, cacheKey, c.ttl)
	if err != nil {
		return "", fmt.Errorf("failed to sign thumbnail %s: %w", cacheKey, err)
	}
	return url, nil
}

func (c *ThumbnailCache) exists(ctx context.Context, cacheKey string) (bool, error) {
	if c.present != nil && c.present.Contains(cacheKey) {
		return true, nil
	}
	exists, err := c.store.Exists(ctx, cacheKey)
	if err == nil && exists {
		c.remember(cacheKey)
	}
	return exists, err
}

func (c *ThumbnailCache) remember(cacheKey string) {
	if c.present != nil {
		c.present.Add(cacheKey, struct{}{})
	}
}

func (c *ThumbnailCache) generate(ctx context.Context, cacheKey string, req storage.ThumbnailRequest) error {
	if req.Platform != nil {
		data, err := req.Platform(ctx)
		if err == nil {
			return c.save(ctx, cacheKey, data)
		}
		c.logger.Debug("no platform thumbnail", "key", cacheKey, "error", err)
	}

	if req.Source == nil {
		return fmt.Errorf("no thumbnail source for %s", cacheKey)
	}

	data, err := req.Source(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch thumbnail source for %s: %w", cacheKey, err)
	}

	if req.Type == storage.MediaVideo {
		if c.frames == nil {
			return fmt.Errorf("cannot thumbnail video %s: no frame grabber configured", cacheKey)
		}
		data, err = c.frames.PosterFrame(ctx, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to grab poster frame for %s: %w", cacheKey, err)
		}
	}

	return c.save(ctx, cacheKey, data)
}

// save resizes an image and writes it at cacheKey
func (c *ThumbnailCache) save(ctx context.Context, cacheKey string, image []byte) error {
	thumb, err := c.resizer.Resize(image, c.maxWidth, c.maxHeight, c.quality)
	if err != nil {
		return fmt.Errorf("failed to resize thumbnail %s: %w", cacheKey, err)
	}

	if _, err := c.store.Put(ctx, cacheKey, bytes.NewReader(thumb), int64(len(thumb)), "image/jpeg"); err != nil {
		return fmt.Errorf("failed to store thumbnail %s: %w", cacheKey, err)
	}
	return nil
}

// ResolveAll resolves every request concurrently. The result has one URL per
// request in request order; a failed request yields its Fallback.
func (c *ThumbnailCache) ResolveAll(ctx context.Context, reqs []storage.ThumbnailRequest) []string {
	urls := make([]string, len(reqs))

	var g errgroup.Group
	for i, req := range reqs {
		g.Go(func() error {
			url, err := c.resolve(ctx, req)
			if err != nil {
				c.logger.Warn("thumbnail unavailable, using fallback",
					"key", req.Key.String(), "error", err)
				url = req.Fallback
			}
			urls[i] = url
			return nil
		})
	}
	_ = g.Wait()

	return urls
}
