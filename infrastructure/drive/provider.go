package drive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"google.golang.org/api/drive/v3"

	"mediadrop/domain/storage"
)

// DefaultRootFolderID is the user's My Drive
const DefaultRootFolderID = "root"

const fileFields = "id, name, mimeType, size, thumbnailLink, webContentLink, webViewLink"

// Provider implements storage.Provider on Google Drive. Folders are
// addressed by ID; the share link is the folder's web view link after
// granting anyone-with-the-link read access.
type Provider struct {
	open     ServiceFactory
	uploader storage.BatchUploader
	thumbs   storage.ThumbnailResolver
	quota    storage.QuotaResolver
	refresh  storage.RefreshFunc
	rootID   string
	logger   *slog.Logger
}

// Option is a functional option for configuring Provider
type Option func(*Provider)

// WithServiceFactory replaces the API-backed service (for testing)
func WithServiceFactory(f ServiceFactory) Option {
	return func(p *Provider) { p.open = f }
}

// WithRootFolderID sets the folder project folders are created in
func WithRootFolderID(id string) Option {
	return func(p *Provider) {
		if id != "" {
			p.rootID = id
		}
	}
}

// WithThumbnails enables cached thumbnails in listings
func WithThumbnails(t storage.ThumbnailResolver) Option {
	return func(p *Provider) { p.thumbs = t }
}

// WithQuota enables the pre-upload quota check and membership allocation
func WithQuota(q storage.QuotaResolver) Option {
	return func(p *Provider) { p.quota = q }
}

// WithRefreshFunc sets how an expired access token is refreshed and persisted
func WithRefreshFunc(f storage.RefreshFunc) Option {
	return func(p *Provider) { p.refresh = f }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// NewProvider creates a Drive provider
func NewProvider(uploader storage.BatchUploader, opts ...Option) *Provider {
	p := &Provider{
		open:     NewGoogleDriveService,
		uploader: uploader,
		rootID:   DefaultRootFolderID,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Kind implements storage.Provider
func (p *Provider) Kind() storage.ProviderKind {
	return storage.ProviderDrive
}

func (p *Provider) guard(sess storage.Session) *storage.SessionGuard {
	return storage.NewSessionGuard(sess, p.RefreshToken)
}

// do runs fn with a service bound to the guard's current token
func (p *Provider) do(ctx context.Context, guard *storage.SessionGuard, fn func(ctx context.Context, svc DriveService) error) error {
	return guard.Do(ctx, func(ctx context.Context, sess storage.Session) error {
		svc, err := p.open(ctx, sess.Credential.AccessToken)
		if err != nil {
			return err
		}
		return fn(ctx, svc)
	})
}

// quote escapes a value for a Drive query string literal
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

// findFolder looks a folder up by name under parentID
func (p *Provider) findFolder(ctx context.Context, guard *storage.SessionGuard, name, parentID string) (string, bool, error) {
	query := fmt.Sprintf("name = %s and %s in parents and mimeType = %s and trashed = false",
		quote(name), quote(parentID), quote(FolderMimeType))

	var found []*drive.File
	err := p.do(ctx, guard, func(ctx context.Context, svc DriveService) error {
		var err error
		found, err = svc.ListFiles(ctx, query, "id, name", "")
		return err
	})
	if err != nil {
		return "", false, err
	}
	if len(found) == 0 {
		return "", false, nil
	}
	return found[0].Id, true, nil
}

// Upload implements storage.Provider
func (p *Provider) Upload(ctx context.Context, sess storage.Session, folderName string, files []storage.FileUpload) (*storage.UploadResult, error) {
	guard := p.guard(sess)

	base := storage.SanitizeFolderName(folderName)
	if base == "" {
		return nil, fmt.Errorf("%w: folder name %q", storage.ErrMissingFolder, folderName)
	}

	if err := p.checkQuota(ctx, guard, files); err != nil {
		return nil, err
	}

	name, err := storage.UniqueFolderName(ctx, base, func(ctx context.Context, name string) (bool, error) {
		_, found, err := p.findFolder(ctx, guard, name, p.rootID)
		return found, err
	})
	if err != nil {
		return nil, err
	}
	if name != base {
		p.logger.Info("folder name taken, using next free name", "requested", base, "folder", name)
	}

	var folder *drive.File
	err = p.do(ctx, guard, func(ctx context.Context, svc DriveService) error {
		folder, err = svc.CreateFile(ctx, &drive.File{Name: name, MimeType: FolderMimeType, Parents: []string{p.rootID}}, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create folder %s: %w", name, err)
	}

	location := storage.StorageLocation{Provider: storage.ProviderDrive, RootRef: p.rootID, Path: folder.Id}
	uploaded, err := p.uploadInto(ctx, guard, folder.Id, files)
	if err != nil {
		return nil, storage.WithBatchLocation(err, location)
	}

	err = p.do(ctx, guard, func(ctx context.Context, svc DriveService) error {
		return svc.CreatePermission(ctx, folder.Id, &drive.Permission{Type: "anyone", Role: "reader"})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to share folder %s: %w", name, err)
	}

	return &storage.UploadResult{
		FolderPath: folder.Id,
		ShareLink:  folder.WebViewLink,
		Location:   location,
		Uploaded:   uploaded,
	}, nil
}

// AddFiles implements storage.Provider
func (p *Provider) AddFiles(ctx context.Context, sess storage.Session, folderPath string, files []storage.FileUpload) (*storage.UploadResult, error) {
	if folderPath == "" {
		return nil, fmt.Errorf("%w: empty folder ID", storage.ErrMissingFolder)
	}
	guard := p.guard(sess)

	if err := p.checkQuota(ctx, guard, files); err != nil {
		return nil, err
	}

	var folder *drive.File
	err := p.do(ctx, guard, func(ctx context.Context, svc DriveService) error {
		var err error
		folder, err = svc.GetFile(ctx, folderPath, "id, webViewLink")
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up folder %s: %w", folderPath, err)
	}

	location := storage.StorageLocation{Provider: storage.ProviderDrive, RootRef: p.rootID, Path: folderPath}
	uploaded, err := p.uploadInto(ctx, guard, folderPath, files)
	if err != nil {
		return nil, storage.WithBatchLocation(err, location)
	}
	return &storage.UploadResult{
		FolderPath: folderPath,
		ShareLink:  folder.WebViewLink,
		Location:   location,
		Uploaded:   uploaded,
	}, nil
}

func (p *Provider) uploadInto(ctx context.Context, guard *storage.SessionGuard, folderID string, files []storage.FileUpload) ([]string, error) {
	return p.uploader.Upload(ctx, files, func(ctx context.Context, f storage.FileUpload) error {
		meta := &drive.File{Name: path.Base(f.Name), MimeType: f.ContentType, Parents: []string{folderID}}
		return p.do(ctx, guard, func(ctx context.Context, svc DriveService) error {
			body, err := f.Open()
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", f.Name, err)
			}
			defer body.Close()
			_, err = svc.CreateFile(ctx, meta, body)
			return err
		})
	})
}

func (p *Provider) checkQuota(ctx context.Context, guard *storage.SessionGuard, files []storage.FileUpload) error {
	if p.quota == nil {
		return nil
	}
	usage, err := p.usage(ctx, guard, "")
	if err != nil {
		return err
	}
	return storage.CheckQuota(*usage, storage.TotalSize(files))
}

// ListFiles implements storage.Provider. Videos use Drive's own thumbnail
// when it has one; everything else goes through the thumbnail cache.
func (p *Provider) ListFiles(ctx context.Context, sess storage.Session, folderPath string) ([]storage.MediaFile, error) {
	if folderPath == "" {
		return nil, fmt.Errorf("%w: empty folder ID", storage.ErrMissingFolder)
	}
	guard := p.guard(sess)

	query := fmt.Sprintf("%s in parents and mimeType != %s and trashed = false", quote(folderPath), quote(FolderMimeType))
	var entries []*drive.File
	err := p.do(ctx, guard, func(ctx context.Context, svc DriveService) error {
		var err error
		entries, err = svc.ListFiles(ctx, query, fileFields, "name")
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list folder %s: %w", folderPath, err)
	}

	var slug string
	if p.thumbs != nil {
		err := p.do(ctx, guard, func(ctx context.Context, svc DriveService) error {
			folder, err := svc.GetFile(ctx, folderPath, "id, name")
			if err == nil {
				slug = storage.Slugify(folder.Name)
			}
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to look up folder %s: %w", folderPath, err)
		}
	}

	files := make([]storage.MediaFile, 0, len(entries))
	var (
		reqs    []storage.ThumbnailRequest
		indexes []int
	)
	for _, e := range entries {
		full := e.WebContentLink
		if full == "" {
			full = e.WebViewLink
		}
		mf := storage.MediaFile{
			ID:          e.Id,
			Name:        e.Name,
			Type:        storage.Classify(e.Name),
			Size:        e.Size,
			PreviewURL:  full,
			FullFileURL: full,
		}

		switch {
		case mf.Type == storage.MediaOther:
		case mf.Type == storage.MediaVideo && e.ThumbnailLink != "":
			mf.ThumbnailURL = e.ThumbnailLink
		case p.thumbs == nil:
			mf.ThumbnailURL = e.ThumbnailLink
			if mf.ThumbnailURL == "" {
				mf.ThumbnailURL = mf.PreviewURL
			}
		default:
			fileID := e.Id
			reqs = append(reqs, storage.ThumbnailRequest{
				Key:      storage.ThumbnailKey{OwnerHandle: sess.Owner(), ProjectSlug: slug, FileName: e.Name},
				Type:     mf.Type,
				Fallback: mf.PreviewURL,
				Source:   p.downloader(guard, fileID),
			})
			indexes = append(indexes, len(files))
		}
		files = append(files, mf)
	}

	if len(reqs) > 0 {
		for j, url := range p.thumbs.ResolveAll(ctx, reqs) {
			files[indexes[j]].ThumbnailURL = url
		}
	}
	return files, nil
}

func (p *Provider) downloader(guard *storage.SessionGuard, fileID string) storage.SourceFunc {
	return func(ctx context.Context) ([]byte, error) {
		var data []byte
		err := p.do(ctx, guard, func(ctx context.Context, svc DriveService) error {
			rc, err := svc.Download(ctx, fileID)
			if err != nil {
				return err
			}
			defer rc.Close()
			data, err = io.ReadAll(rc)
			return err
		})
		return data, err
	}
}

// DeleteFile implements storage.Provider. Every file of that name in the
// folder is removed; none is not an error.
func (p *Provider) DeleteFile(ctx context.Context, sess storage.Session, folderPath, fileName string) error {
	if folderPath == "" {
		return fmt.Errorf("%w: empty folder ID", storage.ErrMissingFolder)
	}
	guard := p.guard(sess)

	query := fmt.Sprintf("name = %s and %s in parents and trashed = false", quote(path.Base(fileName)), quote(folderPath))
	var matches []*drive.File
	err := p.do(ctx, guard, func(ctx context.Context, svc DriveService) error {
		var err error
		matches, err = svc.ListFiles(ctx, query, "id", "")
		return err
	})
	if storage.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find %s: %w", fileName, err)
	}

	for _, f := range matches {
		if err := p.remove(ctx, guard, f.Id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteFolder implements storage.Provider. A missing folder is not an error.
func (p *Provider) DeleteFolder(ctx context.Context, sess storage.Session, folderPath string) error {
	if folderPath == "" || folderPath == p.rootID {
		return fmt.Errorf("%w: refusing to delete %q", storage.ErrMissingFolder, folderPath)
	}
	return p.remove(ctx, p.guard(sess), folderPath)
}

func (p *Provider) remove(ctx context.Context, guard *storage.SessionGuard, fileID string) error {
	err := p.do(ctx, guard, func(ctx context.Context, svc DriveService) error {
		return svc.DeleteFile(ctx, fileID)
	})
	if err != nil && !storage.IsNotFound(err) {
		return fmt.Errorf("failed to delete %s: %w", fileID, err)
	}
	return nil
}

// MoveFolder implements storage.Provider by renaming and reparenting in
// place. newPath is "name" to rename where the folder is, or
// "parentID/name" to also move it. The folder ID does not change.
func (p *Provider) MoveFolder(ctx context.Context, sess storage.Session, oldPath, newPath string) (string, error) {
	if oldPath == "" {
		return "", fmt.Errorf("%w: empty folder ID", storage.ErrMissingFolder)
	}
	guard := p.guard(sess)

	parentID, name := "", newPath
	if i := strings.LastIndex(newPath, "/"); i >= 0 {
		parentID, name = newPath[:i], newPath[i+1:]
	}
	name = storage.SanitizeFolderName(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty folder name in %q", storage.ErrMissingFolder, newPath)
	}

	err := p.do(ctx, guard, func(ctx context.Context, svc DriveService) error {
		current, err := svc.GetFile(ctx, oldPath, "id, parents")
		if err != nil {
			return err
		}

		var add, remove string
		if parentID != "" && !contains(current.Parents, parentID) {
			add = parentID
			remove = strings.Join(current.Parents, ",")
		}
		_, err = svc.UpdateFile(ctx, oldPath, &drive.File{Name: name}, add, remove)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to move folder %s: %w", oldPath, err)
	}

	p.logger.Info("moved folder", "id", oldPath, "name", name, "parent", parentID)
	return oldPath, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// StorageUsage implements storage.Provider. Used bytes come from the
// account's storage quota. Without a membership table the account's own
// limit is the allocation.
func (p *Provider) StorageUsage(ctx context.Context, sess storage.Session, membershipHint string) (*storage.Usage, error) {
	return p.usage(ctx, p.guard(sess), membershipHint)
}

func (p *Provider) usage(ctx context.Context, guard *storage.SessionGuard, membershipHint string) (*storage.Usage, error) {
	var about *drive.About
	err := p.do(ctx, guard, func(ctx context.Context, svc DriveService) error {
		var err error
		about, err = svc.GetAbout(ctx, "storageQuota")
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get storage quota: %w", err)
	}

	var used, limit int64
	if about.StorageQuota != nil {
		used, limit = about.StorageQuota.Usage, about.StorageQuota.Limit
	}

	if p.quota != nil {
		return p.quota.Resolve(ctx, guard.Session(), membershipHint, used)
	}
	if limit == 0 {
		limit = storage.Unlimited
	}
	u := storage.NewUsage(used, limit)
	return &u, nil
}

// RefreshToken implements storage.Provider
func (p *Provider) RefreshToken(ctx context.Context, sess storage.Session) (storage.Session, error) {
	if p.refresh == nil {
		return storage.Session{}, fmt.Errorf("no token refresh configured for drive")
	}
	return p.refresh(ctx, sess)
}

// Ensure Provider implements storage.Provider
var _ storage.Provider = (*Provider)(nil)
