package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
)

// DefaultUploadWindow is the number of files uploaded concurrently
const DefaultUploadWindow = 3

// FileUpload is one payload of an upload batch.
// Open may be called more than once (retries, transcoding) and must
// return a fresh reader each time.
type FileUpload struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// NewBytesUpload wraps an in-memory payload
func NewBytesUpload(name string, data []byte) FileUpload {
	return FileUpload{
		Name:        name,
		ContentType: ContentTypeFor(name),
		Size:        int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// NewLocalFileUpload wraps a file on disk
func NewLocalFileUpload(localPath string) (FileUpload, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return FileUpload{}, fmt.Errorf("file does not exist: %s", localPath)
	}
	if info.IsDir() {
		return FileUpload{}, fmt.Errorf("%s is a directory", localPath)
	}
	name := filepath.Base(localPath)
	return FileUpload{
		Name:        name,
		ContentType: ContentTypeFor(name),
		Size:        info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(localPath)
		},
	}, nil
}

// NewStoredUpload wraps an object already held in an object store, so a
// batch can be re-published from one backend to another
func NewStoredUpload(ctx context.Context, store ObjectStore, info ObjectInfo) FileUpload {
	name := path.Base(info.Key)
	return FileUpload{
		Name:        name,
		ContentType: ContentTypeFor(name),
		Size:        info.Size,
		Open: func() (io.ReadCloser, error) {
			return store.Get(ctx, info.Key)
		},
	}
}

// TotalSize sums the declared sizes of a batch
func TotalSize(files []FileUpload) int64 {
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return total
}

// BatchUploader executes one upload batch with bounded concurrency.
// It returns the names that succeeded, in input order, and a *BatchError
// when any file failed.
type BatchUploader interface {
	Upload(ctx context.Context, files []FileUpload, put func(ctx context.Context, file FileUpload) error) ([]string, error)
}
