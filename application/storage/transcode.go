package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"mediadrop/domain/storage"
)

// TranscodePipeline keeps MP4 renditions of uploaded video in a separate
// transcoded-media store, at the primary key with ".mp4" appended
type TranscodePipeline struct {
	store      storage.ObjectStore
	transcoder storage.Transcoder
	mover      storage.FolderMover
	ttl        time.Duration
	logger     *slog.Logger
}

// TranscodeOption configures a TranscodePipeline
type TranscodeOption func(*TranscodePipeline)

// WithPreviewTTL sets the lifetime of rendition URLs
func WithPreviewTTL(ttl time.Duration) TranscodeOption {
	return func(p *TranscodePipeline) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithTranscodeLogger sets the logger
func WithTranscodeLogger(l *slog.Logger) TranscodeOption {
	return func(p *TranscodePipeline) {
		p.logger = l
	}
}

// NewTranscodePipeline creates a pipeline writing renditions into store
func NewTranscodePipeline(store storage.ObjectStore, transcoder storage.Transcoder, mover storage.FolderMover, opts ...TranscodeOption) *TranscodePipeline {
	p := &TranscodePipeline{
		store:      store,
		transcoder: transcoder,
		mover:      mover,
		ttl:        DefaultSignedURLTTL,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MirrorKey returns the rendition key for a primary object key. The full
// source name is kept so clip.mov and clip.avi get separate renditions.
func MirrorKey(primaryKey string) string {
	return primaryKey + ".mp4"
}

// ShouldTranscode reports whether contentType is in the video set
func (p *TranscodePipeline) ShouldTranscode(contentType string) bool {
	return storage.IsVideoMIME(contentType)
}

// Publish transcodes file and stores the rendition. Any prior rendition is
// deleted before the new one is written.
func (p *TranscodePipeline) Publish(ctx context.Context, primaryKey string, file storage.FileUpload) error {
	key := MirrorKey(primaryKey)
	p.logger.Info("transcoding", "file", file.Name, "key", key)

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s for transcoding: %w", file.Name, err)
	}
	rendition, err := p.transcoder.Transcode(ctx, src)
	src.Close()
	if err != nil {
		return fmt.Errorf("failed to transcode %s: %w", file.Name, err)
	}
	defer rendition.Remove()

	if err := p.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to remove previous rendition %s: %w", key, err)
	}

	f, err := os.Open(rendition.Path)
	if err != nil {
		return fmt.Errorf("failed to open rendition: %w", err)
	}
	defer f.Close()

	if _, err := p.store.Put(ctx, key, f, rendition.Size, "video/mp4"); err != nil {
		return fmt.Errorf("failed to store rendition %s: %w", key, err)
	}

	p.logger.Info("transcode complete", "file", file.Name, "key", key, "bytes", rendition.Size)
	return nil
}

// PreviewURL returns a signed URL of the rendition for primaryKey.
// The boolean is false when no rendition exists.
func (p *TranscodePipeline) PreviewURL(ctx context.Context, primaryKey string) (string, bool, error) {
	key := MirrorKey(primaryKey)
	exists, err := p.store.Exists(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("failed to check rendition %s: %w", key, err)
	}
	if !exists {
		return "", false, nil
	}

	url, err := p.store.SignedURL(ctx, key, p.ttl)
	if err != nil {
		return "", false, fmt.Errorf("failed to sign rendition %s: %w", key, err)
	}
	return url, true, nil
}

// DeleteFile removes the rendition for primaryKey
func (p *TranscodePipeline) DeleteFile(ctx context.Context, primaryKey string) error {
	key := MirrorKey(primaryKey)
	if err := p.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete rendition %s: %w", key, err)
	}
	return nil
}

// DeleteFolder removes every rendition under prefix
func (p *TranscodePipeline) DeleteFolder(ctx context.Context, prefix string) error {
	objects, err := p.store.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("failed to list renditions under %s: %w", prefix, err)
	}
	for _, obj := range objects {
		if err := p.store.Delete(ctx, obj.Key); err != nil {
			return fmt.Errorf("failed to delete rendition %s: %w", obj.Key, err)
		}
	}
	return nil
}

// MoveFolder relocates every rendition under oldPrefix to newPrefix
func (p *TranscodePipeline) MoveFolder(ctx context.Context, oldPrefix, newPrefix string) error {
	if _, err := p.mover.Move(ctx, p.store, oldPrefix, newPrefix); err != nil {
		return fmt.Errorf("failed to move renditions: %w", err)
	}
	return nil
}
