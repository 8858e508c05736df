package dropbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"mediadrop/domain/storage"
	"mediadrop/infrastructure/httpfetch"
)

// DefaultRootFolder is where project folders are created
const DefaultRootFolder = "/mediadrop"

// Provider implements storage.Provider on Dropbox. Folders are addressed by
// path; the share link is a public shared link on the folder.
type Provider struct {
	open     ServiceFactory
	uploader storage.BatchUploader
	mover    storage.FolderMover
	thumbs   storage.ThumbnailResolver
	quota    storage.QuotaResolver
	fetcher  *httpfetch.Fetcher
	refresh  storage.RefreshFunc
	root     string
	logger   *slog.Logger
}

// Option is a functional option for configuring Provider
type Option func(*Provider)

// WithServiceFactory replaces the SDK-backed service, mainly for tests
func WithServiceFactory(f ServiceFactory) Option {
	return func(p *Provider) { p.open = f }
}

// WithRootFolder sets the folder project folders are created under
func WithRootFolder(root string) Option {
	return func(p *Provider) {
		if root = strings.TrimSuffix(root, "/"); root != "" {
			p.root = root
		}
	}
}

// WithThumbnails enables cached thumbnails in listings
func WithThumbnails(t storage.ThumbnailResolver) Option {
	return func(p *Provider) { p.thumbs = t }
}

// WithQuota enables the pre-upload quota check and usage allocation
func WithQuota(q storage.QuotaResolver) Option {
	return func(p *Provider) { p.quota = q }
}

// WithFetcher sets the fetcher thumbnail sources are downloaded with
func WithFetcher(f *httpfetch.Fetcher) Option {
	return func(p *Provider) { p.fetcher = f }
}

// WithRefreshFunc sets how an expired access token is refreshed and persisted
func WithRefreshFunc(f storage.RefreshFunc) Option {
	return func(p *Provider) { p.refresh = f }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// NewProvider creates a Dropbox provider
func NewProvider(uploader storage.BatchUploader, mover storage.FolderMover, opts ...Option) *Provider {
	p := &Provider{
		open:     NewSDKService,
		uploader: uploader,
		mover:    mover,
		fetcher:  httpfetch.New(),
		root:     DefaultRootFolder,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Kind implements storage.Provider
func (p *Provider) Kind() storage.ProviderKind {
	return storage.ProviderDropbox
}

// do runs fn with a service bound to the guard's current token
func (p *Provider) do(ctx context.Context, guard *storage.SessionGuard, fn func(ctx context.Context, svc DropboxService) error) error {
	return guard.Do(ctx, func(ctx context.Context, sess storage.Session) error {
		return fn(ctx, p.open(sess.Credential.AccessToken))
	})
}

func (p *Provider) guard(sess storage.Session) *storage.SessionGuard {
	return storage.NewSessionGuard(sess, p.RefreshToken)
}

// resolve turns a folder path into an absolute Dropbox path. Relative paths
// are taken to be under the root folder.
func (p *Provider) resolve(folderPath string) (string, error) {
	if strings.TrimSpace(folderPath) == "" {
		return "", fmt.Errorf("%w: empty folder path", storage.ErrMissingFolder)
	}
	if !strings.HasPrefix(folderPath, "/") {
		folderPath = p.root + "/" + folderPath
	}
	return path.Clean(folderPath), nil
}

// exists reports whether path exists. Only a not_found summary counts as
// absent; any other failure is returned.
func (p *Provider) exists(ctx context.Context, guard *storage.SessionGuard, target string) (bool, error) {
	err := p.do(ctx, guard, func(ctx context.Context, svc DropboxService) error {
		_, err := svc.GetMetadata(ctx, target)
		return err
	})
	if storage.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
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
		return p.exists(ctx, guard, p.root+"/"+name)
	})
	if err != nil {
		return nil, err
	}
	if name != base {
		p.logger.Info("folder name taken, using next free name", "requested", base, "folder", name)
	}

	folder := p.root + "/" + name
	var created *Entry
	err = p.do(ctx, guard, func(ctx context.Context, svc DropboxService) error {
		created, err = svc.CreateFolder(ctx, folder)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create folder %s: %w", folder, err)
	}
	if created.Path != "" {
		folder = created.Path
	}

	return p.finish(ctx, guard, folder, files)
}

// AddFiles implements storage.Provider
func (p *Provider) AddFiles(ctx context.Context, sess storage.Session, folderPath string, files []storage.FileUpload) (*storage.UploadResult, error) {
	guard := p.guard(sess)
	folder, err := p.resolve(folderPath)
	if err != nil {
		return nil, err
	}
	if err := p.checkQuota(ctx, guard, files); err != nil {
		return nil, err
	}
	return p.finish(ctx, guard, folder, files)
}

// finish uploads files into folder and shares it
func (p *Provider) finish(ctx context.Context, guard *storage.SessionGuard, folder string, files []storage.FileUpload) (*storage.UploadResult, error) {
	uploaded, err := p.uploader.Upload(ctx, files, func(ctx context.Context, f storage.FileUpload) error {
		target := folder + "/" + path.Base(f.Name)
		return p.do(ctx, guard, func(ctx context.Context, svc DropboxService) error {
			body, err := f.Open()
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", f.Name, err)
			}
			defer body.Close()
			_, err = svc.Upload(ctx, target, body, f.Size)
			return err
		})
	})
	location := storage.StorageLocation{Provider: storage.ProviderDropbox, RootRef: p.root, Path: folder}
	if err != nil {
		return nil, storage.WithBatchLocation(err, location)
	}

	var link string
	err = p.do(ctx, guard, func(ctx context.Context, svc DropboxService) error {
		link, err = svc.SharedLink(ctx, folder)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to share %s: %w", folder, err)
	}

	return &storage.UploadResult{
		FolderPath: folder,
		ShareLink:  link,
		Location:   location,
		Uploaded:   uploaded,
	}, nil
}

func (p *Provider) checkQuota(ctx context.Context, guard *storage.SessionGuard, files []storage.FileUpload) error {
	if p.quota == nil {
		return nil
	}
	used, err := p.used(ctx, guard)
	if err != nil {
		return err
	}
	usage, err := p.quota.Resolve(ctx, guard.Session(), "", used)
	if err != nil {
		return err
	}
	return storage.CheckQuota(*usage, storage.TotalSize(files))
}

// used sums the size of every file under the root folder
func (p *Provider) used(ctx context.Context, guard *storage.SessionGuard) (int64, error) {
	var entries []Entry
	err := p.do(ctx, guard, func(ctx context.Context, svc DropboxService) error {
		var err error
		entries, err = svc.ListFolder(ctx, p.root, true)
		return err
	})
	if storage.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", p.root, err)
	}

	var total int64
	for _, e := range entries {
		if !e.IsFolder {
			total += e.Size
		}
	}
	return total, nil
}

// ListFiles implements storage.Provider. Temporary links serve as both the
// full file URL and the preview; originals are never transcoded here.
func (p *Provider) ListFiles(ctx context.Context, sess storage.Session, folderPath string) ([]storage.MediaFile, error) {
	guard := p.guard(sess)
	folder, err := p.resolve(folderPath)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	err = p.do(ctx, guard, func(ctx context.Context, svc DropboxService) error {
		entries, err = svc.ListFolder(ctx, folder, false)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", folder, err)
	}

	var files []storage.MediaFile
	for _, e := range entries {
		if e.IsFolder {
			continue
		}
		mf := storage.MediaFile{ID: e.ID, Name: e.Name, Type: storage.Classify(e.Name), Size: e.Size}

		var link string
		err := p.do(ctx, guard, func(ctx context.Context, svc DropboxService) error {
			link, err = svc.TemporaryLink(ctx, e.Path)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to link %s: %w", e.Path, err)
		}
		mf.FullFileURL = link
		mf.PreviewURL = link
		files = append(files, mf)
	}

	p.fillThumbnails(ctx, guard, folder, files)
	return files, nil
}

func (p *Provider) fillThumbnails(ctx context.Context, guard *storage.SessionGuard, folder string, files []storage.MediaFile) {
	sess := guard.Session()
	slug := storage.Slugify(path.Base(folder))

	var (
		reqs    []storage.ThumbnailRequest
		indexes []int
	)
	for i, f := range files {
		if f.Type == storage.MediaOther {
			continue
		}
		if p.thumbs == nil {
			files[i].ThumbnailURL = f.PreviewURL
			continue
		}
		reqs = append(reqs, storage.ThumbnailRequest{
			Key:      storage.ThumbnailKey{OwnerHandle: sess.Owner(), ProjectSlug: slug, FileName: f.Name},
			Type:     f.Type,
			Platform: p.platformThumbnail(guard, folder+"/"+f.Name),
			Source:   p.fetcher.Source(f.FullFileURL),
			Fallback: f.PreviewURL,
		})
		indexes = append(indexes, i)
	}

	if len(reqs) == 0 {
		return
	}
	for j, url := range p.thumbs.ResolveAll(ctx, reqs) {
		files[indexes[j]].ThumbnailURL = url
	}
}

// platformThumbnail fetches Dropbox's ready-made thumbnail of target
func (p *Provider) platformThumbnail(guard *storage.SessionGuard, target string) storage.SourceFunc {
	return func(ctx context.Context) ([]byte, error) {
		var data []byte
		err := p.do(ctx, guard, func(ctx context.Context, svc DropboxService) error {
			var err error
			data, err = svc.Thumbnail(ctx, target)
			return err
		})
		return data, err
	}
}

// DeleteFile implements storage.Provider. A missing file is not an error.
func (p *Provider) DeleteFile(ctx context.Context, sess storage.Session, folderPath, fileName string) error {
	folder, err := p.resolve(folderPath)
	if err != nil {
		return err
	}
	target := path.Join(folder, path.Base(fileName))
	return p.remove(ctx, p.guard(sess), target)
}

// DeleteFolder implements storage.Provider. A missing folder is not an error.
func (p *Provider) DeleteFolder(ctx context.Context, sess storage.Session, folderPath string) error {
	folder, err := p.resolve(folderPath)
	if err != nil {
		return err
	}
	if folder == p.root || folder == "/" {
		return fmt.Errorf("%w: refusing to delete %s", storage.ErrMissingFolder, folder)
	}
	return p.remove(ctx, p.guard(sess), folder)
}

func (p *Provider) remove(ctx context.Context, guard *storage.SessionGuard, target string) error {
	err := p.do(ctx, guard, func(ctx context.Context, svc DropboxService) error {
		return svc.Delete(ctx, target)
	})
	if err != nil && !storage.IsNotFound(err) {
		return fmt.Errorf("failed to delete %s: %w", target, err)
	}
	return nil
}

// MoveFolder implements storage.Provider with the copy-then-delete mover.
// The emptied source folder is removed once every file has moved.
func (p *Provider) MoveFolder(ctx context.Context, sess storage.Session, oldPath, newPath string) (string, error) {
	guard := p.guard(sess)
	oldFolder, err := p.resolve(oldPath)
	if err != nil {
		return "", err
	}
	newFolder, err := p.resolve(newPath)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(oldFolder, newFolder) {
		return newFolder, nil
	}

	err = p.do(ctx, guard, func(ctx context.Context, svc DropboxService) error {
		_, err := svc.CreateFolder(ctx, newFolder)
		if err != nil && strings.Contains(err.Error(), "conflict") {
			return nil
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to create folder %s: %w", newFolder, err)
	}

	result, err := p.mover.Move(ctx, &pathStore{provider: p, guard: guard}, oldFolder, newFolder)
	if err != nil {
		return "", fmt.Errorf("failed to move %s: %w", oldFolder, err)
	}

	if err := p.remove(ctx, guard, oldFolder); err != nil {
		return "", err
	}
	p.logger.Info("moved folder", "from", oldFolder, "to", newFolder, "files", len(result.Copied))
	return newFolder, nil
}

// StorageUsage implements storage.Provider
func (p *Provider) StorageUsage(ctx context.Context, sess storage.Session, membershipHint string) (*storage.Usage, error) {
	guard := p.guard(sess)
	used, err := p.used(ctx, guard)
	if err != nil {
		return nil, err
	}
	if p.quota == nil {
		u := storage.NewUsage(used, storage.Unlimited)
		return &u, nil
	}
	return p.quota.Resolve(ctx, guard.Session(), membershipHint, used)
}

// RefreshToken implements storage.Provider
func (p *Provider) RefreshToken(ctx context.Context, sess storage.Session) (storage.Session, error) {
	if p.refresh == nil {
		return storage.Session{}, fmt.Errorf("no token refresh configured for dropbox")
	}
	return p.refresh(ctx, sess)
}

// Ensure Provider implements storage.Provider
var _ storage.Provider = (*Provider)(nil)
