package storage

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestOpError(t *testing.T) {
	err := fmt.Errorf("failed to list: %w", &OpError{Op: "list", Path: "user/u1/Beach", Status: 404, Err: ErrNotFound})

	if !IsNotFound(err) {
		t.Error("expected wrapped OpError to match ErrNotFound")
	}

	var op *OpError
	if !errors.As(err, &op) {
		t.Fatal("expected errors.As to find OpError")
	}
	if op.Status != 404 {
		t.Errorf("expected status 404, got %d", op.Status)
	}
	if !strings.Contains(err.Error(), "user/u1/Beach") {
		t.Errorf("expected path in message, got %q", err.Error())
	}
}

func TestRateLimitError(t *testing.T) {
	err := fmt.Errorf("upload a.jpg: %w", &RateLimitError{RetryAfter: 2 * time.Second})

	if !errors.Is(err, ErrRateLimited) {
		t.Error("expected RateLimitError to match ErrRateLimited")
	}
	wait, ok := RetryAfter(err)
	if !ok || wait != 2*time.Second {
		t.Errorf("expected 2s hint, got %v (ok=%v)", wait, ok)
	}
	if _, ok := RetryAfter(errors.New("other")); ok {
		t.Error("expected no hint for unrelated error")
	}
}

func TestBatchError(t *testing.T) {
	err := &BatchError{
		Succeeded: []string{"a.jpg", "b.jpg"},
		Failed: []FileFailure{
			{Name: "c.mov", Err: &OpError{Op: "upload", Err: ErrAuthentication}},
		},
	}

	if !errors.Is(err, ErrAuthentication) {
		t.Error("expected BatchError to expose per-file errors")
	}
	if !strings.Contains(err.Error(), "1 of 3 files failed") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestWithBatchLocation(t *testing.T) {
	loc := StorageLocation{Provider: ProviderCold, RootRef: "media", Path: "user/u1/Beach-2"}

	batchErr := &BatchError{Succeeded: []string{"a.jpg"}}
	wrapped := fmt.Errorf("upload: %w", batchErr)
	if got := WithBatchLocation(wrapped, loc); got != wrapped {
		t.Errorf("expected the same error back, got %v", got)
	}
	if batchErr.Location != loc {
		t.Errorf("expected location %+v, got %+v", loc, batchErr.Location)
	}

	plain := errors.New("boom")
	if got := WithBatchLocation(plain, loc); got != plain {
		t.Errorf("expected plain error untouched, got %v", got)
	}
	if WithBatchLocation(nil, loc) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestQuotaExceededError(t *testing.T) {
	err := CheckQuota(NewUsage(9, 10), 5)

	var qe *QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QuotaExceededError, got %v", err)
	}
	if qe.Needed != 5 || qe.Remaining != 1 {
		t.Errorf("expected needed=5 remaining=1, got %+v", qe)
	}
}
