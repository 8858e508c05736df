package storage

import (
	"context"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"mediadrop/domain/storage"
)

// RateLimitedUploader uploads a batch with a fixed concurrency window and
// retries each file independently while the backend rate limits it
type RateLimitedUploader struct {
	window  int
	backoff storage.BackoffPolicy
	logger  *slog.Logger
}

// UploaderOption configures a RateLimitedUploader
type UploaderOption func(*RateLimitedUploader)

// WithWindow sets how many files are in flight at once
func WithWindow(n int) UploaderOption {
	return func(u *RateLimitedUploader) {
		if n > 0 {
			u.window = n
		}
	}
}

// WithBackoffPolicy replaces the rate-limit retry policy
func WithBackoffPolicy(p storage.BackoffPolicy) UploaderOption {
	return func(u *RateLimitedUploader) {
		u.backoff = p
	}
}

// WithUploaderLogger sets the logger for retry and failure events
func WithUploaderLogger(l *slog.Logger) UploaderOption {
	return func(u *RateLimitedUploader) {
		u.logger = l
	}
}

// NewRateLimitedUploader creates an uploader with a window of three and the
// default backoff policy
func NewRateLimitedUploader(opts ...UploaderOption) *RateLimitedUploader {
	u := &RateLimitedUploader{
		window:  storage.DefaultUploadWindow,
		backoff: storage.DefaultBackoffPolicy(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload runs put for every file. Files are admitted to the window in input
// order; errgroup.Go blocks while the window is full. A failed file does not
// stop the others.
func (u *RateLimitedUploader) Upload(ctx context.Context, files []storage.FileUpload, put func(ctx context.Context, file storage.FileUpload) error) ([]string, error) {
	errs := make([]error, len(files))

	var g errgroup.Group
	g.SetLimit(u.window)
	for i, file := range files {
		g.Go(func() error {
			policy := u.backoff
			policy.OnRetry = func(attempt int, wait time.Duration, err error) {
				u.logger.Warn("upload rate limited",
					"file", file.Name, "attempt", attempt, "wait", wait)
				if u.backoff.OnRetry != nil {
					u.backoff.OnRetry(attempt, wait, err)
				}
			}
			errs[i] = policy.Do(ctx, func(ctx context.Context) error {
				return put(ctx, file)
			})
			return nil
		})
	}
	_ = g.Wait()

	var (
		succeeded []string
		failed    []storage.FileFailure
	)
	for i, file := range files {
		if errs[i] != nil {
			failed = append(failed, storage.FileFailure{Name: file.Name, Err: errs[i]})
			continue
		}
		succeeded = append(succeeded, file.Name)
	}

	if len(failed) > 0 {
		u.logger.Error("upload batch partially failed",
			"succeeded", len(succeeded), "failed", len(failed))
		return succeeded, &storage.BatchError{Succeeded: succeeded, Failed: failed}
	}
	return succeeded, nil
}
