package metrics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mediadrop/domain/storage"
)

// stubProvider returns err from every call
type stubProvider struct {
	err error
}

func (s *stubProvider) Kind() storage.ProviderKind { return storage.ProviderDropbox }

func (s *stubProvider) Upload(ctx context.Context, sess storage.Session, folderName string, files []storage.FileUpload) (*storage.UploadResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &storage.UploadResult{FolderPath: "/mediadrop/" + folderName}, nil
}

func (s *stubProvider) AddFiles(ctx context.Context, sess storage.Session, folderPath string, files []storage.FileUpload) (*storage.UploadResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &storage.UploadResult{FolderPath: folderPath}, nil
}

func (s *stubProvider) ListFiles(ctx context.Context, sess storage.Session, folderPath string) ([]storage.MediaFile, error) {
	return nil, s.err
}

func (s *stubProvider) DeleteFile(ctx context.Context, sess storage.Session, folderPath, fileName string) error {
	return s.err
}

func (s *stubProvider) DeleteFolder(ctx context.Context, sess storage.Session, folderPath string) error {
	return s.err
}

func (s *stubProvider) MoveFolder(ctx context.Context, sess storage.Session, oldPath, newPath string) (string, error) {
	return newPath, s.err
}

func (s *stubProvider) StorageUsage(ctx context.Context, sess storage.Session, membershipHint string) (*storage.Usage, error) {
	u := storage.NewUsage(0, storage.Unlimited)
	return &u, s.err
}

func (s *stubProvider) RefreshToken(ctx context.Context, sess storage.Session) (storage.Session, error) {
	return sess, s.err
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, OutcomeOK},
		{"canceled", fmt.Errorf("upload: %w", context.Canceled), OutcomeCanceled},
		{"quota", &storage.QuotaExceededError{Needed: 10, Remaining: 1}, OutcomeQuota},
		{"rate limit", &storage.RateLimitError{RetryAfter: time.Second}, OutcomeRateLimited},
		{"auth", fmt.Errorf("refresh: %w", storage.ErrAuthentication), OutcomeAuth},
		{"expired", &storage.OpError{Op: "list", Err: storage.ErrAuthExpired}, OutcomeAuth},
		{"not found", &storage.OpError{Op: "get", Err: storage.ErrNotFound}, OutcomeNotFound},
		{"other", errors.New("boom"), OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Outcome(tt.err); got != tt.want {
				t.Errorf("Outcome(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestInstrumentedProvider_CountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewRecorder("test", reg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok := Instrument(&stubProvider{}, rec)
	limited := Instrument(&stubProvider{err: &storage.RateLimitError{RetryAfter: time.Second}}, rec)
	ctx := context.Background()
	files := []storage.FileUpload{storage.NewBytesUpload("a.jpg", []byte("12345"))}

	if _, err := ok.Upload(ctx, storage.Session{}, "Trip", files); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := limited.Upload(ctx, storage.Session{}, "Trip", files); err == nil {
		t.Fatal("expected error to pass through")
	}
	_ = ok.DeleteFile(ctx, storage.Session{}, "/mediadrop/Trip", "a.jpg")

	if ok.Kind() != storage.ProviderDropbox {
		t.Errorf("expected kind passthrough, got %s", ok.Kind())
	}
	if got := testutil.ToFloat64(rec.operations.WithLabelValues("dropbox", "upload", OutcomeOK)); got != 1 {
		t.Errorf("expected 1 ok upload, got %v", got)
	}
	if got := testutil.ToFloat64(rec.operations.WithLabelValues("dropbox", "upload", OutcomeRateLimited)); got != 1 {
		t.Errorf("expected 1 rate limited upload, got %v", got)
	}
	if got := testutil.ToFloat64(rec.operations.WithLabelValues("dropbox", "delete_file", OutcomeOK)); got != 1 {
		t.Errorf("expected 1 delete, got %v", got)
	}
	if got := testutil.ToFloat64(rec.bytes.WithLabelValues("dropbox")); got != 5 {
		t.Errorf("expected only successful bytes counted, got %v", got)
	}
}

func TestNewRecorder_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewRecorder("test", reg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := NewRecorder("test", reg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	Instrument(&stubProvider{}, first).DeleteFolder(context.Background(), storage.Session{}, "/x")
	Instrument(&stubProvider{}, second).DeleteFolder(context.Background(), storage.Session{}, "/x")

	if got := testutil.ToFloat64(first.operations.WithLabelValues("dropbox", "delete_folder", OutcomeOK)); got != 2 {
		t.Errorf("expected shared counter, got %v", got)
	}
}

func TestInstrument_NilRecorder(t *testing.T) {
	p := &stubProvider{}
	if Instrument(p, nil) != storage.Provider(p) {
		t.Error("expected provider to be returned unchanged")
	}
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewRecorder("test", reg)
	if err != nil {
		t.Fatal(err)
	}
	Instrument(&stubProvider{err: storage.ErrNotFound}, rec).ListFiles(context.Background(), storage.Session{}, "/x")

	path := filepath.Join(t.TempDir(), "mediadrop.prom")
	if err := WriteTextfile(path, reg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := `test_storage_operations_total{operation="list_files",outcome="not_found",provider="dropbox"} 1`
	if !strings.Contains(string(data), want) {
		t.Errorf("expected %q in\n%s", want, data)
	}
}
