package drive

import (
	"context"
	"errors"
	"strings"
	"testing"

	"google.golang.org/api/drive/v3"

	app "mediadrop/application/storage"
	"mediadrop/domain/storage"
)

func newTestProvider(svc *mockDriveService, opts ...Option) *Provider {
	factory := func(ctx context.Context, token string) (DriveService, error) {
		if token == "expired" {
			return nil, &storage.OpError{Op: "auth", Status: 401, Err: storage.ErrAuthExpired}
		}
		return svc, nil
	}
	opts = append([]Option{WithServiceFactory(factory)}, opts...)
	return NewProvider(app.NewRateLimitedUploader(), opts...)
}

func session(token string) storage.Session {
	return storage.Session{
		Provider:    storage.ProviderDrive,
		UserID:      "u1",
		OwnerHandle: "ana",
		Credential:  storage.ProviderCredential{AccessToken: token},
	}
}

func TestProvider_UploadCreatesUniqueSharedFolder(t *testing.T) {
	svc := newMockDriveService()
	svc.add(&drive.File{Id: "existing", Name: "Beach", MimeType: FolderMimeType, Parents: []string{"root"}})
	svc.add(&drive.File{Id: "elsewhere", Name: "Beach-1", MimeType: FolderMimeType, Parents: []string{"other"}})
	p := newTestProvider(svc)

	result, err := p.Upload(context.Background(), session("ok"), "Beach", []storage.FileUpload{
		storage.NewBytesUpload("a.jpg", []byte("aaa")),
		storage.NewBytesUpload("b.mp4", []byte("bbbb")),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	folder := svc.files[result.FolderPath]
	if folder == nil || folder.Name != "Beach-1" {
		t.Fatalf("expected new folder Beach-1 under root, got %+v", folder)
	}
	if result.ShareLink != folder.WebViewLink {
		t.Errorf("expected web view link as share link, got %q", result.ShareLink)
	}
	perms := svc.permissions[result.FolderPath]
	if len(perms) != 1 || perms[0].Type != "anyone" || perms[0].Role != "reader" {
		t.Errorf("expected anyone/reader permission, got %+v", perms)
	}
	if len(result.Uploaded) != 2 {
		t.Errorf("expected 2 uploads, got %v", result.Uploaded)
	}
	if !strings.Contains(svc.queries[0], `name = 'Beach'`) || !strings.Contains(svc.queries[0], `'root' in parents`) {
		t.Errorf("expected lookup by name and parent, got %q", svc.queries[0])
	}
}

func TestProvider_ListFiles(t *testing.T) {
	svc := newMockDriveService()
	svc.add(&drive.File{Id: "f", Name: "Trip", MimeType: FolderMimeType, Parents: []string{"root"}})
	svc.add(&drive.File{Id: "1", Name: "a.jpg", Parents: []string{"f"}, WebContentLink: "https://dl/1"})
	svc.add(&drive.File{Id: "2", Name: "b.mp4", Parents: []string{"f"}, WebContentLink: "https://dl/2", ThumbnailLink: "https://thumb/2"})
	svc.add(&drive.File{Id: "3", Name: "c.mov", Parents: []string{"f"}, WebViewLink: "https://view/3"})
	svc.add(&drive.File{Id: "sub", Name: "nested", MimeType: FolderMimeType, Parents: []string{"f"}})
	p := newTestProvider(svc)

	files, err := p.ListFiles(context.Background(), session("ok"), "f")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 files without subfolders, got %d", len(files))
	}

	byID := map[string]storage.MediaFile{}
	for _, f := range files {
		byID[f.ID] = f
	}
	if byID["1"].ThumbnailURL != "https://dl/1" {
		t.Errorf("expected image thumbnail to fall back to the file, got %q", byID["1"].ThumbnailURL)
	}
	if byID["2"].ThumbnailURL != "https://thumb/2" {
		t.Errorf("expected Drive thumbnail for video, got %q", byID["2"].ThumbnailURL)
	}
	if byID["3"].FullFileURL != "https://view/3" || byID["3"].PreviewURL != "https://view/3" {
		t.Errorf("expected web view link when no content link, got %+v", byID["3"])
	}
}

func TestProvider_MoveFolderKeepsID(t *testing.T) {
	tests := []struct {
		name        string
		newPath     string
		wantName    string
		wantParents []string
	}{
		{name: "rename in place", newPath: "Lake", wantName: "Lake", wantParents: []string{"root"}},
		{name: "rename and reparent", newPath: "archive/Lake", wantName: "Lake", wantParents: []string{"archive"}},
		{name: "same parent", newPath: "root/Lake", wantName: "Lake", wantParents: []string{"root"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMockDriveService()
			svc.add(&drive.File{Id: "f", Name: "Beach", MimeType: FolderMimeType, Parents: []string{"root"}})
			p := newTestProvider(svc)

			id, err := p.MoveFolder(context.Background(), session("ok"), "f", tt.newPath)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id != "f" {
				t.Errorf("expected folder ID to be kept, got %q", id)
			}
			f := svc.files["f"]
			if f.Name != tt.wantName || strings.Join(f.Parents, ",") != strings.Join(tt.wantParents, ",") {
				t.Errorf("unexpected folder %+v", f)
			}
		})
	}
}

func TestProvider_DeleteIsIdempotent(t *testing.T) {
	svc := newMockDriveService()
	svc.add(&drive.File{Id: "f", Name: "Trip", MimeType: FolderMimeType, Parents: []string{"root"}})
	svc.add(&drive.File{Id: "1", Name: "a.jpg", Parents: []string{"f"}})
	p := newTestProvider(svc)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := p.DeleteFile(ctx, session("ok"), "f", "a.jpg"); err != nil {
			t.Fatalf("delete %d: unexpected error: %v", i+1, err)
		}
		if err := p.DeleteFolder(ctx, session("ok"), "f"); err != nil {
			t.Fatalf("folder delete %d: unexpected error: %v", i+1, err)
		}
	}
	if len(svc.files) != 0 {
		t.Errorf("expected everything deleted, got %v", svc.files)
	}
	if err := p.DeleteFolder(ctx, session("ok"), "root"); !errors.Is(err, storage.ErrMissingFolder) {
		t.Errorf("expected refusal to delete root, got %v", err)
	}
}

func TestProvider_StorageUsage(t *testing.T) {
	svc := newMockDriveService()
	svc.storage = &drive.AboutStorageQuota{Usage: 25, Limit: 100}

	usage, err := newTestProvider(svc).StorageUsage(context.Background(), session("ok"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage.Used != 25 || usage.Allocated != 100 || usage.UsedPercent != 25 {
		t.Errorf("unexpected usage %+v", usage)
	}

	svc.storage = &drive.AboutStorageQuota{Usage: 25}
	usage, _ = newTestProvider(svc).StorageUsage(context.Background(), session("ok"), "")
	if !usage.IsUnlimited() {
		t.Errorf("expected account without a limit to be unlimited, got %+v", usage)
	}

	table := storage.DefaultQuotaTable()
	usage, _ = newTestProvider(svc, WithQuota(app.NewQuotaCalculator(table, nil, nil))).
		StorageUsage(context.Background(), session("ok"), "pro")
	if usage.Allocated != 500*storage.GiB {
		t.Errorf("expected membership allocation, got %d", usage.Allocated)
	}
}

func TestProvider_RefreshOnce(t *testing.T) {
	svc := newMockDriveService()
	var refreshes int
	p := newTestProvider(svc, WithRefreshFunc(func(ctx context.Context, sess storage.Session) (storage.Session, error) {
		refreshes++
		return sess.WithAccessToken("fresh"), nil
	}))

	if _, err := p.StorageUsage(context.Background(), session("expired"), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refreshes != 1 {
		t.Errorf("expected one refresh, got %d", refreshes)
	}

	p = newTestProvider(svc)
	if _, err := p.StorageUsage(context.Background(), session("expired"), ""); !errors.Is(err, storage.ErrAuthentication) {
		t.Errorf("expected ErrAuthentication without a refresh, got %v", err)
	}
}

// keyThumbs resolves every request to a URL derived from its cache key
type keyThumbs struct{}

func (keyThumbs) Resolve(ctx context.Context, key storage.ThumbnailKey, mediaType storage.MediaType, source storage.SourceFunc) (string, error) {
	return "thumb:" + key.String(), nil
}

func (k keyThumbs) ResolveAll(ctx context.Context, reqs []storage.ThumbnailRequest) []string {
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i], _ = k.Resolve(ctx, r.Key, r.Type, r.Source)
	}
	return out
}

func TestProvider_PartialBatchReportsFolder(t *testing.T) {
	svc := newMockDriveService()
	svc.failUploads = map[string]error{"b.jpg": errors.New("storageQuotaExceeded")}
	p := newTestProvider(svc)

	result, err := p.Upload(context.Background(), session("ok"), "Beach", []storage.FileUpload{
		storage.NewBytesUpload("a.jpg", []byte("a")),
		storage.NewBytesUpload("b.jpg", []byte("b")),
	})
	if result != nil {
		t.Errorf("expected no result for a partial batch, got %+v", result)
	}
	var batchErr *storage.BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected BatchError, got %v", err)
	}
	folder := svc.files[batchErr.Location.Path]
	if folder == nil || folder.Name != "Beach" || folder.MimeType != FolderMimeType {
		t.Fatalf("expected location to name the created folder, got %+v", batchErr.Location)
	}
	if batchErr.Location.Provider != storage.ProviderDrive || batchErr.Location.RootRef != "root" {
		t.Errorf("unexpected location %+v", batchErr.Location)
	}
	if len(batchErr.Succeeded) != 1 || batchErr.Succeeded[0] != "a.jpg" {
		t.Errorf("unexpected successes %v", batchErr.Succeeded)
	}
}

func TestProvider_ThumbnailKeyWithoutHandle(t *testing.T) {
	svc := newMockDriveService()
	svc.add(&drive.File{Id: "f", Name: "Trip", MimeType: FolderMimeType, Parents: []string{"root"}})
	svc.add(&drive.File{Id: "1", Name: "a.jpg", Parents: []string{"f"}, WebContentLink: "https://dl/1"})
	p := newTestProvider(svc, WithThumbnails(keyThumbs{}))

	sess := session("ok")
	sess.OwnerHandle = ""
	files, err := p.ListFiles(context.Background(), sess, "f")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 1 || files[0].ThumbnailURL != "thumb:thumbnails/u1/trip/a.jpg" {
		t.Errorf("expected user ID in the cache key, got %+v", files)
	}
}
