package storage

import (
	"context"
	"fmt"
	"strings"
)

// ProviderKind identifies the backend a project's media lives in.
// It is the tag stored on a project record and used to select a Provider.
type ProviderKind string

const (
	// ProviderCold is the prefix-namespaced cold-storage object API
	ProviderCold ProviderKind = "cold"
	// ProviderDropbox is the path-based cloud drive with shared links
	ProviderDropbox ProviderKind = "dropbox"
	// ProviderDrive is the folder-id based cloud drive with Drive permissions
	ProviderDrive ProviderKind = "drive"
)

// ParseProviderKind converts a user-supplied name to a ProviderKind
func ParseProviderKind(s string) (ProviderKind, error) {
	switch ProviderKind(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderCold:
		return ProviderCold, nil
	case ProviderDropbox:
		return ProviderDropbox, nil
	case ProviderDrive:
		return ProviderDrive, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, s)
}

// StorageLocation pins a project folder to a backend.
// Path is backend-specific: a key prefix for cold storage, a POSIX-like
// path for Dropbox, and a folder ID for Drive.
type StorageLocation struct {
	Provider ProviderKind
	RootRef  string // bucket name or root folder ID
	Path     string
}

// UploadResult is returned once every file of a batch has been stored
type UploadResult struct {
	FolderPath string
	ShareLink  string
	Location   StorageLocation
	Uploaded   []string // file names in input order
}

// Provider is the contract every storage backend implements.
// All methods take the caller's already-resolved Session; implementations
// hold no per-credential state between calls.
type Provider interface {
	// Kind reports which backend this provider talks to
	Kind() ProviderKind

	// Upload creates a uniquely named folder derived from folderName and
	// uploads files into it
	Upload(ctx context.Context, sess Session, folderName string, files []FileUpload) (*UploadResult, error)

	// AddFiles uploads files into an existing folder
	AddFiles(ctx context.Context, sess Session, folderPath string, files []FileUpload) (*UploadResult, error)

	// ListFiles returns the classified files of a folder with preview and thumbnail URLs
	ListFiles(ctx context.Context, sess Session, folderPath string) ([]MediaFile, error)

	// DeleteFile removes one file; a missing file is not an error
	DeleteFile(ctx context.Context, sess Session, folderPath, fileName string) error

	// DeleteFolder removes a folder and everything under it; a missing folder is not an error
	DeleteFolder(ctx context.Context, sess Session, folderPath string) error

	// MoveFolder renames a folder and returns the path it is now reachable at
	MoveFolder(ctx context.Context, sess Session, oldPath, newPath string) (string, error)

	// StorageUsage reports used and allocated bytes for the session's owner
	StorageUsage(ctx context.Context, sess Session, membershipHint string) (*Usage, error)

	// RefreshToken exchanges the session's credential for a fresh access token,
	// persists it, and returns the updated session
	RefreshToken(ctx context.Context, sess Session) (Session, error)
}
