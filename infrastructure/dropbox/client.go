package dropbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/auth"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/sharing"

	"mediadrop/domain/storage"
)

// singleUploadLimit is the largest payload the simple upload endpoint accepts
const singleUploadLimit = 150 * 1024 * 1024

// sessionChunkSize is the chunk size of upload sessions for larger payloads
const sessionChunkSize = 8 * 1024 * 1024

// maxThumbnailBytes caps a platform thumbnail download
const maxThumbnailBytes = 8 * 1024 * 1024

// Entry is one file or folder as reported by the API
type Entry struct {
	ID       string
	Name     string
	Path     string // display path
	Size     int64
	IsFolder bool
}

// DropboxService is the subset of the Dropbox API the provider uses.
// Errors are translated to the storage error taxonomy.
type DropboxService interface {
	GetMetadata(ctx context.Context, path string) (*Entry, error)
	CreateFolder(ctx context.Context, path string) (*Entry, error)
	Upload(ctx context.Context, path string, body io.Reader, size int64) (*Entry, error)
	ListFolder(ctx context.Context, path string, recursive bool) ([]Entry, error)
	Copy(ctx context.Context, from, to string) error
	Delete(ctx context.Context, path string) error
	TemporaryLink(ctx context.Context, path string) (string, error)
	SharedLink(ctx context.Context, path string) (string, error)
	Thumbnail(ctx context.Context, path string) ([]byte, error)
}

// ServiceFactory opens a DropboxService for one access token
type ServiceFactory func(token string) DropboxService

// SDKService implements DropboxService with the Dropbox SDK
type SDKService struct {
	files   files.Client
	sharing sharing.Client
}

// NewSDKService creates a service bound to token
func NewSDKService(token string) DropboxService {
	config := dropbox.Config{Token: token, LogLevel: dropbox.LogOff}
	return &SDKService{files: files.New(config), sharing: sharing.New(config)}
}

// GetMetadata returns the entry at path
func (s *SDKService) GetMetadata(ctx context.Context, path string) (*Entry, error) {
	res, err := s.files.GetMetadata(files.NewGetMetadataArg(path))
	if err != nil {
		return nil, translate("get_metadata", path, err)
	}
	entry := toEntry(res)
	return &entry, nil
}

// CreateFolder creates the folder at path without autorename
func (s *SDKService) CreateFolder(ctx context.Context, path string) (*Entry, error) {
	res, err := s.files.CreateFolderV2(files.NewCreateFolderArg(path))
	if err != nil {
		return nil, translate("create_folder", path, err)
	}
	return &Entry{ID: res.Metadata.Id, Name: res.Metadata.Name, Path: res.Metadata.PathDisplay, IsFolder: true}, nil
}

// Upload writes body to path in overwrite mode, switching to an upload
// session when the payload is over the single-request limit
func (s *SDKService) Upload(ctx context.Context, path string, body io.Reader, size int64) (*Entry, error) {
	overwrite := &files.WriteMode{Tagged: dropbox.Tagged{Tag: files.WriteModeOverwrite}}

	if size >= 0 && size <= singleUploadLimit {
		arg := files.NewUploadArg(path)
		arg.Mode = overwrite
		res, err := s.files.Upload(arg, body)
		if err != nil {
			return nil, translate("upload", path, err)
		}
		return fileEntry(res), nil
	}

	commit := files.NewCommitInfo(path)
	commit.Mode = overwrite
	res, err := s.uploadSession(ctx, body, commit)
	if err != nil {
		return nil, translate("upload_session", path, err)
	}
	return fileEntry(res), nil
}

func (s *SDKService) uploadSession(ctx context.Context, body io.Reader, commit *files.CommitInfo) (*files.FileMetadata, error) {
	chunk := make([]byte, sessionChunkSize)

	n, err := io.ReadFull(body, chunk)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	start, err := s.files.UploadSessionStart(files.NewUploadSessionStartArg(), bytes.NewReader(chunk[:n]))
	if err != nil {
		return nil, err
	}

	offset := uint64(n)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, rerr := io.ReadFull(body, chunk)
		if rerr != nil && !errors.Is(rerr, io.ErrUnexpectedEOF) && !errors.Is(rerr, io.EOF) {
			return nil, rerr
		}
		cursor := files.NewUploadSessionCursor(start.SessionId, offset)
		if rerr != nil {
			return s.files.UploadSessionFinish(files.NewUploadSessionFinishArg(cursor, commit), bytes.NewReader(chunk[:n]))
		}
		if err := s.files.UploadSessionAppendV2(files.NewUploadSessionAppendArg(cursor), bytes.NewReader(chunk[:n])); err != nil {
			return nil, err
		}
		offset += uint64(n)
	}
}

// ListFolder returns every entry under path, following cursors
func (s *SDKService) ListFolder(ctx context.Context, path string, recursive bool) ([]Entry, error) {
	arg := files.NewListFolderArg(path)
	arg.Recursive = recursive

	res, err := s.files.ListFolder(arg)
	if err != nil {
		return nil, translate("list_folder", path, err)
	}

	var entries []Entry
	for {
		for _, m := range res.Entries {
			entries = append(entries, toEntry(m))
		}
		if !res.HasMore {
			return entries, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err = s.files.ListFolderContinue(files.NewListFolderContinueArg(res.Cursor))
		if err != nil {
			return nil, translate("list_folder_continue", path, err)
		}
	}
}

// Copy duplicates from to to server-side
func (s *SDKService) Copy(ctx context.Context, from, to string) error {
	if _, err := s.files.CopyV2(files.NewRelocationArg(from, to)); err != nil {
		return translate("copy", from, err)
	}
	return nil
}

// Delete removes the file or folder at path
func (s *SDKService) Delete(ctx context.Context, path string) error {
	if _, err := s.files.DeleteV2(files.NewDeleteArg(path)); err != nil {
		return translate("delete", path, err)
	}
	return nil
}

// TemporaryLink returns a short-lived direct download link
func (s *SDKService) TemporaryLink(ctx context.Context, path string) (string, error) {
	res, err := s.files.GetTemporaryLink(files.NewGetTemporaryLinkArg(path))
	if err != nil {
		return "", translate("get_temporary_link", path, err)
	}
	return res.Link, nil
}

// SharedLink creates a public shared link for path, or returns the one that
// already exists
func (s *SDKService) SharedLink(ctx context.Context, path string) (string, error) {
	arg := sharing.NewCreateSharedLinkWithSettingsArg(path)
	arg.Settings = &sharing.SharedLinkSettings{
		RequestedVisibility: &sharing.RequestedVisibility{Tagged: dropbox.Tagged{Tag: sharing.RequestedVisibilityPublic}},
	}

	res, err := s.sharing.CreateSharedLinkWithSettings(arg)
	if err == nil {
		return linkURL(res), nil
	}
	if !strings.Contains(err.Error(), "shared_link_already_exists") {
		return "", translate("create_shared_link", path, err)
	}

	list := sharing.NewListSharedLinksArg()
	list.Path = path
	list.DirectOnly = true
	existing, err := s.sharing.ListSharedLinks(list)
	if err != nil {
		return "", translate("list_shared_links", path, err)
	}
	for _, l := range existing.Links {
		if u := linkURL(l); u != "" {
			return u, nil
		}
	}
	return "", &storage.OpError{Op: "list_shared_links", Path: path, Err: storage.ErrNotFound}
}

// Thumbnail returns Dropbox's own JPEG thumbnail of the file at path,
// sized to fit 1024x768
func (s *SDKService) Thumbnail(ctx context.Context, path string) ([]byte, error) {
	arg := files.NewThumbnailV2Arg(&files.PathOrLink{Tagged: dropbox.Tagged{Tag: files.PathOrLinkPath}, Path: path})
	arg.Format = &files.ThumbnailFormat{Tagged: dropbox.Tagged{Tag: files.ThumbnailFormatJpeg}}
	arg.Size = &files.ThumbnailSize{Tagged: dropbox.Tagged{Tag: files.ThumbnailSizeW1024h768}}

	_, content, err := s.files.GetThumbnailV2(arg)
	if err != nil {
		return nil, translate("get_thumbnail", path, err)
	}
	defer content.Close()

	data, err := io.ReadAll(io.LimitReader(content, maxThumbnailBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read thumbnail of %s: %w", path, err)
	}
	if len(data) > maxThumbnailBytes {
		return nil, fmt.Errorf("thumbnail of %s exceeds %d bytes", path, maxThumbnailBytes)
	}
	return data, nil
}

func linkURL(m sharing.IsSharedLinkMetadata) string {
	switch l := m.(type) {
	case *sharing.FileLinkMetadata:
		return l.Url
	case *sharing.FolderLinkMetadata:
		return l.Url
	}
	return ""
}

func toEntry(m files.IsMetadata) Entry {
	switch e := m.(type) {
	case *files.FileMetadata:
		return *fileEntry(e)
	case *files.FolderMetadata:
		return Entry{ID: e.Id, Name: e.Name, Path: e.PathDisplay, IsFolder: true}
	case *files.DeletedMetadata:
		return Entry{Name: e.Name, Path: e.PathDisplay}
	}
	return Entry{}
}

func fileEntry(f *files.FileMetadata) *Entry {
	return &Entry{ID: f.Id, Name: f.Name, Path: f.PathDisplay, Size: int64(f.Size)}
}

// translate maps an SDK error to the storage error taxonomy. Endpoint
// errors are told apart by their error summary, which names the failing
// field path (e.g. "path/not_found/..").
func translate(op, path string, err error) error {
	var authErr auth.AuthAPIError
	if errors.As(err, &authErr) {
		return &storage.OpError{Op: op, Path: path, Status: 401, Err: fmt.Errorf("%w: %w", storage.ErrAuthExpired, err)}
	}

	var rateErr auth.RateLimitAPIError
	if errors.As(err, &rateErr) {
		var wait time.Duration
		if rateErr.RateLimitError != nil {
			wait = time.Duration(rateErr.RateLimitError.RetryAfter) * time.Second
		}
		return &storage.OpError{Op: op, Path: path, Status: 429, Err: &storage.RateLimitError{RetryAfter: wait, Err: err}}
	}

	summary := err.Error()
	switch {
	case strings.Contains(summary, "not_found"):
		return &storage.OpError{Op: op, Path: path, Status: 409, Err: fmt.Errorf("%w: %s", storage.ErrNotFound, summary)}
	case strings.Contains(summary, "expired_access_token"), strings.Contains(summary, "invalid_access_token"):
		return &storage.OpError{Op: op, Path: path, Status: 401, Err: fmt.Errorf("%w: %s", storage.ErrAuthExpired, summary)}
	case strings.Contains(summary, "too_many_requests"), strings.Contains(summary, "too_many_write_operations"):
		return &storage.OpError{Op: op, Path: path, Status: 429, Err: &storage.RateLimitError{Err: err}}
	}
	return &storage.OpError{Op: op, Path: path, Err: err}
}
