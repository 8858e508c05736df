package storage

import (
	"context"
	"io"
	"os"
	"time"
)

// Location addresses one object in an object store
type Location struct {
	Bucket string
	Key    string
}

// ObjectInfo describes one listed object
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// PrefixStore is the subset of object operations a folder move needs
type PrefixStore interface {
	// List returns every object whose key starts with prefix.
	// A prefix that was never written lists as empty.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Copy duplicates srcKey to dstKey server-side, overwriting dstKey
	Copy(ctx context.Context, srcKey, dstKey string) error

	// Delete removes key. Silently succeeds if key does not exist.
	Delete(ctx context.Context, key string) error
}

// ObjectStore is a single bucket of an S3-style object API.
// It backs the cold-storage primary bucket, the thumbnail cache, and the
// transcoded-media root.
type ObjectStore interface {
	PrefixStore

	// Bucket returns the bucket this store is bound to
	Bucket() string

	// Exists reports whether key exists
	Exists(ctx context.Context, key string) (bool, error)

	// Put writes body to key, replacing any existing object
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (Location, error)

	// Get opens key for reading. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// SignedURL returns a time-limited GET URL for key
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// FolderMover relocates every object under one prefix to another
type FolderMover interface {
	Move(ctx context.Context, store PrefixStore, oldPrefix, newPrefix string) (*MoveResult, error)
}

// MoveResult lists the keys touched by a move
type MoveResult struct {
	Copied  []string // destination keys
	Deleted []string // source keys
}

// ThumbnailKey identifies a cached thumbnail
type ThumbnailKey struct {
	OwnerHandle string
	ProjectSlug string
	FileName    string
}

// String renders the cache key thumbnails/{owner}/{project}/{file}
func (k ThumbnailKey) String() string {
	return "thumbnails/" + k.OwnerHandle + "/" + k.ProjectSlug + "/" + k.FileName
}

// SourceFunc fetches the bytes a thumbnail is generated from
type SourceFunc func(ctx context.Context) ([]byte, error)

// ThumbnailRequest is one listing entry waiting for a thumbnail.
// Platform, when set, fetches a ready-made thumbnail image from the backend;
// Source is only read if it fails. Fallback is returned when the thumbnail
// cannot be produced.
type ThumbnailRequest struct {
	Key      ThumbnailKey
	Type     MediaType
	Platform SourceFunc
	Source   SourceFunc
	Fallback string
}

// ThumbnailResolver returns a signed thumbnail URL, generating and caching
// the thumbnail on a miss
type ThumbnailResolver interface {
	Resolve(ctx context.Context, key ThumbnailKey, mediaType MediaType, source SourceFunc) (string, error)

	// ResolveAll resolves every request concurrently and returns the URLs
	// in request order, substituting Fallback for any that failed
	ResolveAll(ctx context.Context, reqs []ThumbnailRequest) []string
}

// MediaMirror keeps derived MP4 renditions in lockstep with a primary folder.
// Keys are the primary object's key with the extension replaced by .mp4.
type MediaMirror interface {
	// ShouldTranscode reports whether an upload of contentType gets a rendition
	ShouldTranscode(contentType string) bool

	// Publish transcodes file and stores the rendition for primaryKey
	Publish(ctx context.Context, primaryKey string, file FileUpload) error

	// PreviewURL returns a signed URL of the rendition for primaryKey, if any
	PreviewURL(ctx context.Context, primaryKey string) (string, bool, error)

	// DeleteFile removes the rendition for primaryKey
	DeleteFile(ctx context.Context, primaryKey string) error

	// DeleteFolder removes every rendition under prefix
	DeleteFolder(ctx context.Context, prefix string) error

	// MoveFolder relocates every rendition under oldPrefix to newPrefix
	MoveFolder(ctx context.Context, oldPrefix, newPrefix string) error
}

// Rendition is a transcoded file on local disk
type Rendition struct {
	Path string
	Size int64
}

// Remove deletes the rendition's file
func (r *Rendition) Remove() error {
	return os.Remove(r.Path)
}

// Transcoder produces an MP4 rendition of a video payload
type Transcoder interface {
	Transcode(ctx context.Context, src io.Reader) (*Rendition, error)
}

// FrameGrabber extracts a poster frame from a video payload as JPEG
type FrameGrabber interface {
	PosterFrame(ctx context.Context, src io.Reader) ([]byte, error)
}

// ImageResizer scales an encoded image to fit maxWidth x maxHeight,
// preserving aspect ratio, and encodes it as JPEG
type ImageResizer interface {
	Resize(data []byte, maxWidth, maxHeight, quality int) ([]byte, error)
}
