package coldstorage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"mediadrop/domain/storage"
	"mediadrop/infrastructure/httpfetch"
)

// folderMarkerType is the content type of the zero-byte object that marks
// an empty folder
const folderMarkerType = "application/x-directory"

// StoreFactory binds the primary bucket to the credential carried by a session
type StoreFactory func(ctx context.Context, sess storage.Session) (storage.ObjectStore, error)

// Provider implements storage.Provider on an S3-compatible cold-storage
// bucket. Every key is built inside the caller's namespace, so a session can
// only reach its own objects.
type Provider struct {
	stores   StoreFactory
	uploader storage.BatchUploader
	mover    storage.FolderMover
	mirror   storage.MediaMirror
	thumbs   storage.ThumbnailResolver
	fetcher  *httpfetch.Fetcher
	maxRead  int64
	quota    storage.QuotaResolver
	creds    storage.CredentialStore
	refresh  storage.RefreshFunc
	shareURL string
	urlTTL   time.Duration
	logger   *slog.Logger
}

// Option is a functional option for configuring Provider
type Option func(*Provider)

// WithMirror enables the transcoded-media side-channel
func WithMirror(m storage.MediaMirror) Option {
	return func(p *Provider) { p.mirror = m }
}

// WithThumbnails enables thumbnail resolution in listings
func WithThumbnails(t storage.ThumbnailResolver) Option {
	return func(p *Provider) { p.thumbs = t }
}

// WithFetcher sets the fetcher rendition thumbnail sources are downloaded with
func WithFetcher(f *httpfetch.Fetcher) Option {
	return func(p *Provider) { p.fetcher = f }
}

// WithMaxSourceBytes caps how much of an original is read to make a thumbnail
func WithMaxSourceBytes(n int64) Option {
	return func(p *Provider) {
		if n > 0 {
			p.maxRead = n
		}
	}
}

// WithQuota enables the pre-upload quota check and usage allocation
func WithQuota(q storage.QuotaResolver) Option {
	return func(p *Provider) { p.quota = q }
}

// WithCredentialStore sets where refreshed keys are read from and persisted to
func WithCredentialStore(c storage.CredentialStore) Option {
	return func(p *Provider) { p.creds = c }
}

// WithRefreshFunc sets a caller-supplied key rotation. Without it a refresh
// reloads the key from the credential store.
func WithRefreshFunc(f storage.RefreshFunc) Option {
	return func(p *Provider) { p.refresh = f }
}

// WithShareBaseURL sets the public project URL root; links are {base}/{handle}/{slug}
func WithShareBaseURL(u string) Option {
	return func(p *Provider) { p.shareURL = strings.TrimSuffix(u, "/") }
}

// WithURLTTL sets the lifetime of signed file URLs
func WithURLTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.urlTTL = ttl
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// NewProvider creates a cold-storage provider
func NewProvider(stores StoreFactory, uploader storage.BatchUploader, mover storage.FolderMover, opts ...Option) *Provider {
	p := &Provider{
		stores:   stores,
		uploader: uploader,
		mover:    mover,
		fetcher:  httpfetch.New(),
		maxRead:  httpfetch.DefaultMaxBytes,
		urlTTL:   time.Hour,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Kind implements storage.Provider
func (p *Provider) Kind() storage.ProviderKind {
	return storage.ProviderCold
}

// call is one operation's view of the bucket: a namespace plus a session
// guard that refreshes the key at most once
type call struct {
	p     *Provider
	ns    storage.Namespace
	sess  storage.Session
	guard *storage.SessionGuard
}

func (p *Provider) begin(sess storage.Session) (*call, error) {
	ns, err := storage.NamespaceFor(sess)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrAuthentication, err)
	}
	return &call{p: p, ns: ns, sess: sess, guard: storage.NewSessionGuard(sess, p.RefreshToken)}, nil
}

// do runs fn against a store bound to the current session credential
func (c *call) do(ctx context.Context, fn func(ctx context.Context, st storage.ObjectStore) error) error {
	return c.guard.Do(ctx, func(ctx context.Context, sess storage.Session) error {
		st, err := c.p.stores(ctx, sess)
		if err != nil {
			return err
		}
		return fn(ctx, st)
	})
}

func (c *call) list(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var objects []storage.ObjectInfo
	err := c.do(ctx, func(ctx context.Context, st storage.ObjectStore) error {
		var err error
		objects, err = st.List(ctx, prefix)
		return err
	})
	if storage.IsNotFound(err) {
		return nil, nil
	}
	return objects, err
}

// used sums the size of every object in the caller's namespace
func (c *call) used(ctx context.Context) (int64, error) {
	objects, err := c.list(ctx, c.ns.Prefix())
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", c.ns.Prefix(), err)
	}
	var total int64
	for _, o := range objects {
		total += o.Size
	}
	return total, nil
}

func (c *call) folderExists(ctx context.Context, name string) (bool, error) {
	objects, err := c.list(ctx, c.ns.FolderPrefix(name))
	if err != nil {
		return false, err
	}
	return len(objects) > 0, nil
}

// Upload implements storage.Provider
func (p *Provider) Upload(ctx context.Context, sess storage.Session, folderName string, files []storage.FileUpload) (*storage.UploadResult, error) {
	c, err := p.begin(sess)
	if err != nil {
		return nil, err
	}

	base := storage.SanitizeFolderName(folderName)
	if base == "" {
		return nil, fmt.Errorf("%w: folder name %q", storage.ErrMissingFolder, folderName)
	}

	if err := p.checkQuota(ctx, c, files); err != nil {
		return nil, err
	}

	name, err := storage.UniqueFolderName(ctx, base, c.folderExists)
	if err != nil {
		return nil, err
	}
	if name != base {
		p.logger.Info("folder name taken, using next free name", "requested", base, "folder", name)
	}

	prefix := c.ns.FolderPrefix(name)
	var bucket string
	err = c.do(ctx, func(ctx context.Context, st storage.ObjectStore) error {
		bucket = st.Bucket()
		_, err := st.Put(ctx, prefix, bytes.NewReader(nil), 0, folderMarkerType)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create folder %s: %w", prefix, err)
	}

	folderPath := strings.TrimSuffix(prefix, "/")
	location := storage.StorageLocation{Provider: storage.ProviderCold, RootRef: bucket, Path: folderPath}

	uploaded, err := p.uploadInto(ctx, c, prefix, files)
	if err != nil {
		return nil, storage.WithBatchLocation(err, location)
	}

	return &storage.UploadResult{
		FolderPath: folderPath,
		ShareLink:  p.shareLink(sess, name),
		Location:   location,
		Uploaded:   uploaded,
	}, nil
}

// AddFiles implements storage.Provider
func (p *Provider) AddFiles(ctx context.Context, sess storage.Session, folderPath string, files []storage.FileUpload) (*storage.UploadResult, error) {
	c, err := p.begin(sess)
	if err != nil {
		return nil, err
	}
	prefix, err := c.folder(folderPath)
	if err != nil {
		return nil, err
	}

	if err := p.checkQuota(ctx, c, files); err != nil {
		return nil, err
	}

	folderPath = strings.TrimSuffix(prefix, "/")
	location := storage.StorageLocation{Provider: storage.ProviderCold, Path: folderPath}

	uploaded, err := p.uploadInto(ctx, c, prefix, files)
	if err != nil {
		return nil, storage.WithBatchLocation(err, location)
	}

	return &storage.UploadResult{
		FolderPath: folderPath,
		ShareLink:  p.shareLink(sess, path.Base(folderPath)),
		Location:   location,
		Uploaded:   uploaded,
	}, nil
}

func (c *call) folder(folderPath string) (string, error) {
	prefix := c.ns.FolderPrefix(folderPath)
	if prefix == c.ns.Prefix() {
		return "", fmt.Errorf("%w: empty folder path", storage.ErrMissingFolder)
	}
	return prefix, nil
}

func (p *Provider) checkQuota(ctx context.Context, c *call, files []storage.FileUpload) error {
	if p.quota == nil {
		return nil
	}
	used, err := c.used(ctx)
	if err != nil {
		return err
	}
	usage, err := p.quota.Resolve(ctx, c.sess, "", used)
	if err != nil {
		return err
	}
	return storage.CheckQuota(*usage, storage.TotalSize(files))
}

// uploadInto sends files into prefix. A video's rendition is queued once
// its primary object is stored; renditions are produced one at a time
// alongside the batch. A failed rendition is logged and the listing falls
// back to the original.
func (p *Provider) uploadInto(ctx context.Context, c *call, prefix string, files []storage.FileUpload) ([]string, error) {
	var (
		renditions errgroup.Group
		stored     chan storage.FileUpload
	)
	if p.mirror != nil {
		stored = make(chan storage.FileUpload, len(files))
		renditions.Go(func() error {
			for f := range stored {
				if err := p.mirror.Publish(ctx, prefix+path.Base(f.Name), f); err != nil {
					p.logger.Error("rendition failed", "file", f.Name, "error", err)
				}
			}
			return nil
		})
	}

	uploaded, err := p.uploader.Upload(ctx, files, func(ctx context.Context, f storage.FileUpload) error {
		key := prefix + path.Base(f.Name)
		err := c.do(ctx, func(ctx context.Context, st storage.ObjectStore) error {
			body, err := f.Open()
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", f.Name, err)
			}
			defer body.Close()
			_, err = st.Put(ctx, key, body, f.Size, f.ContentType)
			return err
		})
		if err == nil && stored != nil && p.mirror.ShouldTranscode(f.ContentType) {
			stored <- f
		}
		return err
	})
	if stored != nil {
		close(stored)
		_ = renditions.Wait()
	}

	return uploaded, err
}

// ListFiles implements storage.Provider
func (p *Provider) ListFiles(ctx context.Context, sess storage.Session, folderPath string) ([]storage.MediaFile, error) {
	c, err := p.begin(sess)
	if err != nil {
		return nil, err
	}
	prefix, err := c.folder(folderPath)
	if err != nil {
		return nil, err
	}

	objects, err := c.list(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	var files []storage.MediaFile
	err = c.do(ctx, func(ctx context.Context, st storage.ObjectStore) error {
		files = files[:0]
		for _, obj := range objects {
			if strings.HasSuffix(obj.Key, "/") {
				continue
			}
			url, err := st.SignedURL(ctx, obj.Key, p.urlTTL)
			if err != nil {
				return err
			}
			name := strings.TrimPrefix(obj.Key, prefix)
			files = append(files, storage.MediaFile{
				ID:          obj.Key,
				Name:        name,
				Type:        storage.Classify(name),
				Size:        obj.Size,
				PreviewURL:  url,
				FullFileURL: url,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign files in %s: %w", prefix, err)
	}

	if p.mirror != nil {
		for i := range files {
			if files[i].Type != storage.MediaVideo {
				continue
			}
			url, ok, err := p.mirror.PreviewURL(ctx, files[i].ID)
			if err != nil {
				p.logger.Warn("rendition lookup failed", "key", files[i].ID, "error", err)
				continue
			}
			if ok {
				files[i].PreviewURL = url
			}
		}
	}

	p.fillThumbnails(ctx, c, prefix, files)
	return files, nil
}

func (p *Provider) fillThumbnails(ctx context.Context, c *call, prefix string, files []storage.MediaFile) {
	slug := storage.Slugify(path.Base(strings.TrimSuffix(prefix, "/")))

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
		source := c.source(f.ID, p.maxRead)
		if f.Type == storage.MediaVideo && f.PreviewURL != f.FullFileURL {
			// the preview is a rendition
			source = p.fetcher.Source(f.PreviewURL)
		}
		reqs = append(reqs, storage.ThumbnailRequest{
			Key:      storage.ThumbnailKey{OwnerHandle: c.sess.Owner(), ProjectSlug: slug, FileName: f.Name},
			Type:     f.Type,
			Fallback: f.PreviewURL,
			Source:   source,
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

// source reads at most maxBytes of key
func (c *call) source(key string, maxBytes int64) storage.SourceFunc {
	return func(ctx context.Context) ([]byte, error) {
		var data []byte
		err := c.do(ctx, func(ctx context.Context, st storage.ObjectStore) error {
			rc, err := st.Get(ctx, key)
			if err != nil {
				return err
			}
			defer rc.Close()
			data, err = io.ReadAll(io.LimitReader(rc, maxBytes+1))
			return err
		})
		if err != nil {
			return nil, err
		}
		if int64(len(data)) > maxBytes {
			return nil, fmt.Errorf("%s exceeds %d bytes", key, maxBytes)
		}
		return data, nil
	}
}

// DeleteFile implements storage.Provider. A missing file is not an error.
func (p *Provider) DeleteFile(ctx context.Context, sess storage.Session, folderPath, fileName string) error {
	c, err := p.begin(sess)
	if err != nil {
		return err
	}
	prefix, err := c.folder(folderPath)
	if err != nil {
		return err
	}
	key := c.ns.Resolve(prefix + fileName)

	err = c.do(ctx, func(ctx context.Context, st storage.ObjectStore) error {
		return st.Delete(ctx, key)
	})
	if err != nil && !storage.IsNotFound(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}

	if p.mirror != nil && storage.Classify(fileName) == storage.MediaVideo {
		if err := p.mirror.DeleteFile(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// DeleteFolder implements storage.Provider. A missing folder is not an error.
func (p *Provider) DeleteFolder(ctx context.Context, sess storage.Session, folderPath string) error {
	c, err := p.begin(sess)
	if err != nil {
		return err
	}
	prefix, err := c.folder(folderPath)
	if err != nil {
		return err
	}

	objects, err := c.list(ctx, prefix)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	err = c.do(ctx, func(ctx context.Context, st storage.ObjectStore) error {
		for _, obj := range objects {
			if err := st.Delete(ctx, obj.Key); err != nil && !storage.IsNotFound(err) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete folder %s: %w", prefix, err)
	}

	if p.mirror != nil {
		if err := p.mirror.DeleteFolder(ctx, prefix); err != nil {
			return err
		}
	}
	p.logger.Info("deleted folder", "prefix", prefix, "objects", len(objects))
	return nil
}

// MoveFolder implements storage.Provider by copy-then-delete in the primary
// bucket, then the same move in the transcoded-media store
func (p *Provider) MoveFolder(ctx context.Context, sess storage.Session, oldPath, newPath string) (string, error) {
	c, err := p.begin(sess)
	if err != nil {
		return "", err
	}
	oldPrefix, err := c.folder(oldPath)
	if err != nil {
		return "", err
	}
	newPrefix, err := c.folder(newPath)
	if err != nil {
		return "", err
	}

	err = c.do(ctx, func(ctx context.Context, st storage.ObjectStore) error {
		_, err := p.mover.Move(ctx, st, oldPrefix, newPrefix)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to move %s: %w", oldPrefix, err)
	}

	if p.mirror != nil {
		if err := p.mirror.MoveFolder(ctx, oldPrefix, newPrefix); err != nil {
			return "", err
		}
	}
	return strings.TrimSuffix(newPrefix, "/"), nil
}

// StorageUsage implements storage.Provider. An unused namespace reports zero.
func (p *Provider) StorageUsage(ctx context.Context, sess storage.Session, membershipHint string) (*storage.Usage, error) {
	c, err := p.begin(sess)
	if err != nil {
		return nil, err
	}
	used, err := c.used(ctx)
	if err != nil {
		return nil, err
	}

	if p.quota == nil {
		u := storage.NewUsage(used, storage.Unlimited)
		return &u, nil
	}
	return p.quota.Resolve(ctx, sess, membershipHint, used)
}

// RefreshToken implements storage.Provider. A caller-supplied refresh
// function rotates the key and the result is persisted; otherwise the key is
// reloaded from the credential store, where another process may have rotated it.
func (p *Provider) RefreshToken(ctx context.Context, sess storage.Session) (storage.Session, error) {
	if p.refresh != nil {
		next, err := p.refresh(ctx, sess)
		if err != nil {
			return storage.Session{}, err
		}
		if p.creds != nil {
			if err := p.creds.PersistRefreshedToken(ctx, sess.UserID, storage.ProviderCold, next.Credential.AccessToken); err != nil {
				return storage.Session{}, fmt.Errorf("failed to persist refreshed key: %w", err)
			}
		}
		p.logger.Info("rotated cold storage key", "user", sess.UserID)
		return next, nil
	}

	if p.creds == nil {
		return storage.Session{}, fmt.Errorf("no key rotation configured")
	}
	record, err := p.creds.Get(ctx, sess.UserID, storage.ProviderCold)
	if err != nil {
		return storage.Session{}, fmt.Errorf("failed to reload key: %w", err)
	}
	if record.Credential.AccessToken == sess.Credential.AccessToken && record.Credential.AccountID == sess.Credential.AccountID {
		return storage.Session{}, fmt.Errorf("stored key is the one that was rejected")
	}
	next := sess
	next.Credential = record.Credential
	p.logger.Info("reloaded cold storage key", "user", sess.UserID)
	return next, nil
}

func (p *Provider) shareLink(sess storage.Session, folderName string) string {
	if p.shareURL == "" {
		return ""
	}
	return p.shareURL + "/" + sess.Owner() + "/" + storage.Slugify(folderName)
}

// Ensure Provider implements storage.Provider
var _ storage.Provider = (*Provider)(nil)
