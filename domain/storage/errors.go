package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Errors for storage operations
var (
	ErrNotFound            = errors.New("not found")
	ErrAuthExpired         = errors.New("authorization expired")
	ErrAuthentication      = errors.New("authentication failed")
	ErrRateLimited         = errors.New("rate limited")
	ErrQuotaExceeded       = errors.New("storage quota exceeded")
	ErrUnsupportedProvider = errors.New("unsupported storage provider")
	ErrMissingFolder       = errors.New("missing folder reference")
)

// OpError records the backend operation, path, and status behind a failure
type OpError struct {
	Op     string
	Path   string
	Status int // backend status code, 0 when unknown
	Err    error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	return b.String()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// RateLimitError is returned when a backend asks the caller to slow down.
// RetryAfter is the backend-supplied wait hint, zero when none was given.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// Is matches ErrRateLimited
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// QuotaExceededError rejects an upload batch before any file is sent
type QuotaExceededError struct {
	Needed    int64
	Remaining int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("storage quota exceeded: need %d bytes but only %d remaining", e.Needed, e.Remaining)
}

// Is matches ErrQuotaExceeded
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// FileFailure pairs a file name with the error that stopped its upload
type FileFailure struct {
	Name string
	Err  error
}

// BatchError reports a partially uploaded batch.
// Succeeded lists the files that were stored and Location the folder they
// were stored in, so the caller can clean them up.
type BatchError struct {
	Location  StorageLocation
	Succeeded []string
	Failed    []FileFailure
}

// WithBatchLocation sets loc on the *BatchError in err, if there is one,
// and returns err
func WithBatchLocation(err error, loc StorageLocation) error {
	var batchErr *BatchError
	if errors.As(err, &batchErr) {
		batchErr.Location = loc
	}
	return err
}

func (e *BatchError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		names = append(names, f.Name)
	}
	msg := fmt.Sprintf("%d of %d files failed to upload: %s",
		len(e.Failed), len(e.Failed)+len(e.Succeeded), strings.Join(names, ", "))
	if len(e.Failed) > 0 {
		msg += ": " + e.Failed[0].Err.Error()
	}
	return msg
}

// Unwrap exposes every per-file error to errors.Is and errors.As
func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}

// IsNotFound reports whether err means the object or folder does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAuthExpired reports whether err means the access token was rejected
func IsAuthExpired(err error) bool {
	return errors.Is(err, ErrAuthExpired)
}

// RetryAfter extracts the wait hint from a rate-limit error
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
