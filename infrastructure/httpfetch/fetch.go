package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"mediadrop/domain/storage"
)

// DefaultMaxBytes caps how much of a thumbnail source is read
const DefaultMaxBytes = 512 << 20

// Fetcher downloads thumbnail sources from signed or temporary URLs
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// Option configures a Fetcher
type Option func(*Fetcher)

// WithHTTPClient sets the client used for requests (for testing)
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithMaxBytes caps the payload size
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// New creates a fetcher with a one-minute timeout
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   &http.Client{Timeout: time.Minute},
		maxBytes: DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads url
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch source: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &storage.OpError{Op: "fetch", Status: resp.StatusCode, Err: storage.ErrNotFound}
	case resp.StatusCode == http.StatusTooManyRequests:
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return nil, &storage.OpError{Op: "fetch", Status: resp.StatusCode,
			Err: &storage.RateLimitError{RetryAfter: time.Duration(secs) * time.Second}}
	case resp.StatusCode >= 300:
		return nil, &storage.OpError{Op: "fetch", Status: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read source: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("source exceeds %d bytes", f.maxBytes)
	}
	return data, nil
}

// Source adapts url into a storage.SourceFunc
func (f *Fetcher) Source(url string) storage.SourceFunc {
	return func(ctx context.Context) ([]byte, error) {
		return f.Fetch(ctx, url)
	}
}
