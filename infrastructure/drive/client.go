package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"mediadrop/domain/storage"
)

// FolderMimeType marks a Drive file as a folder
const FolderMimeType = "application/vnd.google-apps.folder"

// DriveService defines the interface for Google Drive API operations
// This allows mocking the Google Drive API in tests
type DriveService interface {
	ListFiles(ctx context.Context, query string, fields string, orderBy string) ([]*drive.File, error)
	GetFile(ctx context.Context, fileID string, fields string) (*drive.File, error)
	CreateFile(ctx context.Context, file *drive.File, media io.Reader) (*drive.File, error)
	UpdateFile(ctx context.Context, fileID string, file *drive.File, addParents, removeParents string) (*drive.File, error)
	DeleteFile(ctx context.Context, fileID string) error
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
	CreatePermission(ctx context.Context, fileID string, perm *drive.Permission) error
	GetAbout(ctx context.Context, fields string) (*drive.About, error)
}

// ServiceFactory opens a DriveService for one access token
type ServiceFactory func(ctx context.Context, token string) (DriveService, error)

// GoogleDriveService is the production implementation using the Google Drive API
type GoogleDriveService struct {
	service *drive.Service
}

// NewGoogleDriveService creates a Drive service that authenticates with token
func NewGoogleDriveService(ctx context.Context, token string) (DriveService, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	srv, err := drive.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("unable to create drive service: %w", err)
	}
	return &GoogleDriveService{service: srv}, nil
}

// ListFiles lists every file matching the query, following page tokens
func (s *GoogleDriveService) ListFiles(ctx context.Context, query string, fields string, orderBy string) ([]*drive.File, error) {
	var files []*drive.File
	call := s.service.Files.List().
		Q(query).
		Fields(googleapi.Field("nextPageToken, files(" + fields + ")")).
		PageSize(1000).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true)
	if orderBy != "" {
		call = call.OrderBy(orderBy)
	}

	err := call.Pages(ctx, func(r *drive.FileList) error {
		files = append(files, r.Files...)
		return nil
	})
	if err != nil {
		return nil, translate("list", query, err)
	}
	return files, nil
}

// GetFile returns one file's metadata
func (s *GoogleDriveService) GetFile(ctx context.Context, fileID string, fields string) (*drive.File, error) {
	f, err := s.service.Files.Get(fileID).
		Fields(googleapi.Field(fields)).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, translate("get", fileID, err)
	}
	return f, nil
}

// CreateFile creates a file or folder; media is nil for folders
func (s *GoogleDriveService) CreateFile(ctx context.Context, file *drive.File, media io.Reader) (*drive.File, error) {
	call := s.service.Files.Create(file).
		Fields("id, name, webViewLink").
		SupportsAllDrives(true).
		Context(ctx)
	if media != nil {
		call = call.Media(media)
	}
	f, err := call.Do()
	if err != nil {
		return nil, translate("create", file.Name, err)
	}
	return f, nil
}

// UpdateFile patches metadata and reparents in one call
func (s *GoogleDriveService) UpdateFile(ctx context.Context, fileID string, file *drive.File, addParents, removeParents string) (*drive.File, error) {
	call := s.service.Files.Update(fileID, file).
		Fields("id, name, parents").
		SupportsAllDrives(true).
		Context(ctx)
	if addParents != "" {
		call = call.AddParents(addParents)
	}
	if removeParents != "" {
		call = call.RemoveParents(removeParents)
	}
	f, err := call.Do()
	if err != nil {
		return nil, translate("update", fileID, err)
	}
	return f, nil
}

// DeleteFile permanently deletes a file or folder
func (s *GoogleDriveService) DeleteFile(ctx context.Context, fileID string) error {
	if err := s.service.Files.Delete(fileID).SupportsAllDrives(true).Context(ctx).Do(); err != nil {
		return translate("delete", fileID, err)
	}
	return nil
}

// Download opens a file's content
func (s *GoogleDriveService) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	resp, err := s.service.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, translate("download", fileID, err)
	}
	return resp.Body, nil
}

// CreatePermission grants perm on a file
func (s *GoogleDriveService) CreatePermission(ctx context.Context, fileID string, perm *drive.Permission) error {
	_, err := s.service.Permissions.Create(fileID, perm).SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return translate("share", fileID, err)
	}
	return nil
}

// GetAbout returns account information
func (s *GoogleDriveService) GetAbout(ctx context.Context, fields string) (*drive.About, error) {
	about, err := s.service.About.Get().Fields(googleapi.Field(fields)).Context(ctx).Do()
	if err != nil {
		return nil, translate("about", "", err)
	}
	return about, nil
}

// translate maps a Drive API error to the storage error taxonomy.
// A 403 only counts as rate limiting when its reason says so.
func translate(op, path string, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return &storage.OpError{Op: op, Path: path, Err: err}
	}

	opErr := &storage.OpError{Op: op, Path: path, Status: gerr.Code, Err: err}
	switch gerr.Code {
	case http.StatusNotFound:
		opErr.Err = fmt.Errorf("%w: %w", storage.ErrNotFound, err)
	case http.StatusUnauthorized:
		opErr.Err = fmt.Errorf("%w: %w", storage.ErrAuthExpired, err)
	case http.StatusTooManyRequests:
		opErr.Err = &storage.RateLimitError{RetryAfter: retryAfter(gerr.Header), Err: err}
	case http.StatusForbidden:
		for _, item := range gerr.Errors {
			if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
				opErr.Err = &storage.RateLimitError{RetryAfter: retryAfter(gerr.Header), Err: err}
				break
			}
		}
	}
	return opErr
}

func retryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
