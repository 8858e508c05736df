package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mediadrop/domain/storage"
)

// Outcome labels
const (
	OutcomeOK          = "ok"
	OutcomeNotFound    = "not_found"
	OutcomeAuth        = "auth"
	OutcomeRateLimited = "rate_limited"
	OutcomeQuota       = "quota"
	OutcomeCanceled    = "canceled"
	OutcomeError       = "error"
)

// Recorder holds the provider metrics of one process
type Recorder struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	bytes      *prometheus.CounterVec
}

// NewRecorder registers provider metrics on reg, reusing collectors that are
// already registered
func NewRecorder(namespace string, reg prometheus.Registerer) (*Recorder, error) {
	if namespace == "" {
		namespace = "mediadrop"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &Recorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Storage provider operations by backend, operation and outcome.",
		}, []string{"provider", "operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operation_duration_seconds",
			Help:      "Latency of storage provider operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "uploaded_bytes_total",
			Help:      "Declared payload size of successfully uploaded batches.",
		}, []string{"provider"}),
	}

	var err error
	if r.operations, err = register(reg, r.operations); err != nil {
		return nil, err
	}
	if r.duration, err = register(reg, r.duration); err != nil {
		return nil, err
	}
	if r.bytes, err = register(reg, r.bytes); err != nil {
		return nil, err
	}
	return r, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register storage metric: %w", err)
	}
	return c, nil
}

// Outcome classifies an operation error for the outcome label
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	case errors.Is(err, storage.ErrQuotaExceeded):
		return OutcomeQuota
	case errors.Is(err, storage.ErrRateLimited):
		return OutcomeRateLimited
	case errors.Is(err, storage.ErrAuthentication), errors.Is(err, storage.ErrAuthExpired):
		return OutcomeAuth
	case errors.Is(err, storage.ErrNotFound):
		return OutcomeNotFound
	default:
		return OutcomeError
	}
}

func (r *Recorder) observe(kind storage.ProviderKind, op string, start time.Time, err error) {
	r.duration.WithLabelValues(string(kind), op).Observe(time.Since(start).Seconds())
	r.operations.WithLabelValues(string(kind), op, Outcome(err)).Inc()
}

// InstrumentedProvider records every call of the wrapped provider
type InstrumentedProvider struct {
	next     storage.Provider
	recorder *Recorder
}

// Instrument wraps p; a nil recorder returns p unchanged
func Instrument(p storage.Provider, r *Recorder) storage.Provider {
	if r == nil {
		return p
	}
	return &InstrumentedProvider{next: p, recorder: r}
}

func (p *InstrumentedProvider) Kind() storage.ProviderKind {
	return p.next.Kind()
}

func (p *InstrumentedProvider) Upload(ctx context.Context, sess storage.Session, folderName string, files []storage.FileUpload) (res *storage.UploadResult, err error) {
	defer p.upload("upload", time.Now(), files, &err)
	return p.next.Upload(ctx, sess, folderName, files)
}

func (p *InstrumentedProvider) AddFiles(ctx context.Context, sess storage.Session, folderPath string, files []storage.FileUpload) (res *storage.UploadResult, err error) {
	defer p.upload("add_files", time.Now(), files, &err)
	return p.next.AddFiles(ctx, sess, folderPath, files)
}

func (p *InstrumentedProvider) upload(op string, start time.Time, files []storage.FileUpload, err *error) {
	p.recorder.observe(p.Kind(), op, start, *err)
	if *err == nil {
		p.recorder.bytes.WithLabelValues(string(p.Kind())).Add(float64(storage.TotalSize(files)))
	}
}

func (p *InstrumentedProvider) ListFiles(ctx context.Context, sess storage.Session, folderPath string) (files []storage.MediaFile, err error) {
	defer func(start time.Time) { p.recorder.observe(p.Kind(), "list_files", start, err) }(time.Now())
	return p.next.ListFiles(ctx, sess, folderPath)
}

func (p *InstrumentedProvider) DeleteFile(ctx context.Context, sess storage.Session, folderPath, fileName string) (err error) {
	defer func(start time.Time) { p.recorder.observe(p.Kind(), "delete_file", start, err) }(time.Now())
	return p.next.DeleteFile(ctx, sess, folderPath, fileName)
}

func (p *InstrumentedProvider) DeleteFolder(ctx context.Context, sess storage.Session, folderPath string) (err error) {
	defer func(start time.Time) { p.recorder.observe(p.Kind(), "delete_folder", start, err) }(time.Now())
	return p.next.DeleteFolder(ctx, sess, folderPath)
}

func (p *InstrumentedProvider) MoveFolder(ctx context.Context, sess storage.Session, oldPath, newPath string) (moved string, err error) {
	defer func(start time.Time) { p.recorder.observe(p.Kind(), "move_folder", start, err) }(time.Now())
	return p.next.MoveFolder(ctx, sess, oldPath, newPath)
}

func (p *InstrumentedProvider) StorageUsage(ctx context.Context, sess storage.Session, membershipHint string) (usage *storage.Usage, err error) {
	defer func(start time.Time) { p.recorder.observe(p.Kind(), "storage_usage", start, err) }(time.Now())
	return p.next.StorageUsage(ctx, sess, membershipHint)
}

func (p *InstrumentedProvider) RefreshToken(ctx context.Context, sess storage.Session) (refreshed storage.Session, err error) {
	defer func(start time.Time) { p.recorder.observe(p.Kind(), "refresh_token", start, err) }(time.Now())
	return p.next.RefreshToken(ctx, sess)
}

var _ storage.Provider = (*InstrumentedProvider)(nil)
