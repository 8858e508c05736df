package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"mediadrop/domain/storage"
)

// memStore is an in-memory ObjectStore that records every operation
type memStore struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
	ops     []string
	puts    map[string]int
	probes  int

	copyErr   error
	existsErr error
}

func newMemStore(bucket string) *memStore {
	return &memStore{bucket: bucket, objects: map[string][]byte{}, puts: map[string]int{}}
}

func (m *memStore) Bucket() string { return m.bucket }

func (m *memStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes++
	if m.existsErr != nil {
		return false, m.existsErr
	}
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (storage.Location, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.Location{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.puts[key]++
	m.ops = append(m.ops, "put "+key)
	return storage.Location{Bucket: m.bucket, Key: key}, nil
}

func (m *memStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://%s.example.com/%s?ttl=%d", m.bucket, key, int(ttl.Seconds())), nil
}

func (m *memStore) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ObjectInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, storage.ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.copyErr != nil {
		return m.copyErr
	}
	data, ok := m.objects[srcKey]
	if !ok {
		return storage.ErrNotFound
	}
	m.objects[dstKey] = data
	m.ops = append(m.ops, "copy "+srcKey)
	return nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.ops = append(m.ops, "delete "+key)
	return nil
}

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func (m *memStore) putCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts[key]
}

// mockResizer returns a fixed payload tagged with its input size
type mockResizer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *mockResizer) Resize(data []byte, maxWidth, maxHeight, quality int) ([]byte, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return []byte(fmt.Sprintf("jpeg:%dx%d:q%d", maxWidth, maxHeight, quality)), nil
}

type mockFrameGrabber struct {
	calls int
}

func (f *mockFrameGrabber) PosterFrame(ctx context.Context, src io.Reader) ([]byte, error) {
	f.calls++
	return []byte("frame"), nil
}

// mockTranscoder writes the source bytes with a marker to a temp file
type mockTranscoder struct {
	dir   string
	calls int
	err   error
}

func (t *mockTranscoder) Transcode(ctx context.Context, src io.Reader) (*storage.Rendition, error) {
	t.calls++
	if t.err != nil {
		return nil, t.err
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(t.dir, "rendition-*.mp4")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	out := append([]byte("mp4:"), data...)
	if _, err := f.Write(out); err != nil {
		return nil, err
	}
	return &storage.Rendition{Path: f.Name(), Size: int64(len(out))}, nil
}

// mockCredentialStore holds records keyed by user
type mockCredentialStore struct {
	records   map[string]*storage.CredentialRecord
	persisted map[string]string
	getCalls  int
}

func (m *mockCredentialStore) Get(ctx context.Context, userID string, kind storage.ProviderKind) (*storage.CredentialRecord, error) {
	m.getCalls++
	r, ok := m.records[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r, nil
}

func (m *mockCredentialStore) PersistRefreshedToken(ctx context.Context, userID string, kind storage.ProviderKind, accessToken string) error {
	if m.persisted == nil {
		m.persisted = map[string]string{}
	}
	m.persisted[userID] = accessToken
	return nil
}
