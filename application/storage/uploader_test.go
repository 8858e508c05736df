package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mediadrop/domain/storage"
)

func batch(names ...string) []storage.FileUpload {
	files := make([]storage.FileUpload, 0, len(names))
	for _, n := range names {
		files = append(files, storage.NewBytesUpload(n, []byte(n)))
	}
	return files
}

func TestRateLimitedUploader_WindowBound(t *testing.T) {
	u := NewRateLimitedUploader()

	var inFlight, peak int32
	put := func(ctx context.Context, f storage.FileUpload) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	}

	names := []string{"1.jpg", "2.jpg", "3.jpg", "4.jpg", "5.jpg", "6.jpg", "7.jpg"}
	done, err := u.Upload(context.Background(), batch(names...), put)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if peak > 3 {
		t.Errorf("expected at most 3 uploads in flight, saw %d", peak)
	}
	if len(done) != len(names) {
		t.Fatalf("expected %d uploaded, got %d", len(names), len(done))
	}
	for i := range names {
		if done[i] != names[i] {
			t.Errorf("expected results in input order, got %v", done)
			break
		}
	}
}

func TestRateLimitedUploader_AdmitsInInputOrder(t *testing.T) {
	u := NewRateLimitedUploader(WithWindow(1))

	var (
		mu    sync.Mutex
		order []string
	)
	put := func(ctx context.Context, f storage.FileUpload) error {
		mu.Lock()
		order = append(order, f.Name)
		mu.Unlock()
		return nil
	}

	names := []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg"}
	if _, err := u.Upload(context.Background(), batch(names...), put); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range names {
		if order[i] != names[i] {
			t.Fatalf("expected admission order %v, got %v", names, order)
		}
	}
}

func TestRateLimitedUploader_PartialFailure(t *testing.T) {
	u := NewRateLimitedUploader()
	boom := errors.New("connection reset")

	put := func(ctx context.Context, f storage.FileUpload) error {
		if f.Name == "b.jpg" {
			return boom
		}
		return nil
	}

	done, err := u.Upload(context.Background(), batch("a.jpg", "b.jpg", "c.jpg"), put)

	var batchErr *storage.BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected BatchError, got %v", err)
	}
	if len(batchErr.Succeeded) != 2 || batchErr.Succeeded[0] != "a.jpg" || batchErr.Succeeded[1] != "c.jpg" {
		t.Errorf("expected succeeded [a.jpg c.jpg], got %v", batchErr.Succeeded)
	}
	if len(batchErr.Failed) != 1 || batchErr.Failed[0].Name != "b.jpg" {
		t.Errorf("expected b.jpg to fail, got %+v", batchErr.Failed)
	}
	if !errors.Is(err, boom) {
		t.Error("expected per-file error to be reachable")
	}
	if len(done) != 2 {
		t.Errorf("expected succeeded names to be returned too, got %v", done)
	}
}

func TestRateLimitedUploader_RetriesRateLimitedFile(t *testing.T) {
	var waits []time.Duration
	var mu sync.Mutex
	policy := storage.DefaultBackoffPolicy()
	policy.Sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		waits = append(waits, d)
		mu.Unlock()
		return nil
	}
	u := NewRateLimitedUploader(WithBackoffPolicy(policy))

	var attempts int32
	put := func(ctx context.Context, f storage.FileUpload) error {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return &storage.RateLimitError{RetryAfter: 2 * time.Second}
		}
		return nil
	}

	done, err := u.Upload(context.Background(), batch("only.mov"), put)
	if err != nil {
		t.Fatalf("rate limit must be absorbed, got %v", err)
	}
	if len(done) != 1 {
		t.Errorf("expected file uploaded, got %v", done)
	}
	if attempts != 2 {
		t.Errorf("expected exactly one retry, got %d attempts", attempts)
	}
	if len(waits) != 1 || waits[0] < 2*time.Second {
		t.Errorf("expected a single wait of at least 2s, got %v", waits)
	}
}
