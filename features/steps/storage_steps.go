//go:build integration

package steps

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	appstorage "mediadrop/application/storage"
	"mediadrop/cmd"
	"mediadrop/domain/storage"
	"mediadrop/infrastructure/coldstorage"
	"mediadrop/infrastructure/credentials"
	"mediadrop/infrastructure/metrics"

	"github.com/cucumber/godog"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	staleKey   = "stale-key"
	freshKey   = "fresh-key"
	revokedKey = "revoked-key"
)

// memBucket is an in-memory storage.ObjectStore
type memBucket struct {
	mu       sync.Mutex
	objects  map[string][]byte
	throttle int
	retry    time.Duration
	rejects  map[string]bool
}

func newMemBucket() *memBucket {
	return &memBucket{objects: map[string][]byte{}}
}

func (b *memBucket) Bucket() string { return "media" }

func (b *memBucket) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}

func (b *memBucket) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (storage.Location, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.Location{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rejects[key] {
		return storage.Location{}, fmt.Errorf("put %s: access denied", key)
	}
	// folder markers are never throttled
	if b.throttle > 0 && !strings.HasSuffix(key, "/") {
		b.throttle--
		return storage.Location{}, &storage.RateLimitError{RetryAfter: b.retry}
	}
	b.objects[key] = data
	return storage.Location{Bucket: b.Bucket(), Key: key}, nil
}

func (b *memBucket) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, storage.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBucket) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://mem.example/media/" + key + "?ttl=" + ttl.String(), nil
}

func (b *memBucket) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []storage.ObjectInfo
	for key, data := range b.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (b *memBucket) Copy(ctx context.Context, srcKey, dstKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[srcKey]
	if !ok {
		return fmt.Errorf("copy %s: %w", srcKey, storage.ErrNotFound)
	}
	b.objects[dstKey] = append([]byte(nil), data...)
	return nil
}

func (b *memBucket) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

type storageContext struct {
	tempDir    string
	bucket     *memBucket
	creds      *credentials.FileStore
	credsPath  string
	registry   *prometheus.Registry
	handle     string
	tenantID   string
	membership string
	userID     string

	rejectRefreshed bool
	refreshes       int

	waitsMu sync.Mutex
	waits   []time.Duration

	files  []string
	output *bytes.Buffer
	err    error
}

func InitializeStorageScenario(ctx *godog.ScenarioContext) {
	s := &storageContext{}

	ctx.Before(func(goCtx context.Context, sc *godog.Scenario) (context.Context, error) {
		tempDir, err := os.MkdirTemp("", "storage-test-*")
		if err != nil {
			return goCtx, err
		}
		s.tempDir = tempDir
		s.credsPath = filepath.Join(tempDir, "credentials.yaml")
		s.registry = prometheus.NewRegistry()
		s.output = &bytes.Buffer{}
		s.bucket, s.creds = nil, nil
		s.userID, s.handle, s.tenantID, s.membership = "", "", "", ""
		s.rejectRefreshed, s.refreshes = false, 0
		s.waits, s.files = nil, nil
		s.err = nil
		return goCtx, nil
	})

	ctx.After(func(goCtx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if s.tempDir != "" {
			os.RemoveAll(s.tempDir)
		}
		return goCtx, nil
	})

	ctx.Step(`^a cold storage bucket$`, s.aColdStorageBucket)
	ctx.Step(`^a user "([^"]*)" with handle "([^"]*)" and membership "([^"]*)"$`, s.aUserWithHandleAndMembership)
	ctx.Step(`^the user "([^"]*)" has membership "([^"]*)"$`, s.theUserHasMembership)
	ctx.Step(`^the user "([^"]*)" acts for tenant "([^"]*)"$`, s.theUserActsForTenant)
	ctx.Step(`^the user "([^"]*)" has an expired cold storage key$`, s.theUserHasAnExpiredColdStorageKey)
	ctx.Step(`^refreshed keys are also rejected$`, s.refreshedKeysAreAlsoRejected)
	ctx.Step(`^local files:$`, s.localFiles)
	ctx.Step(`^the bucket already has "([^"]*)"$`, s.theBucketAlreadyHas)
	ctx.Step(`^the bucket rejects writes to "([^"]*)"$`, s.theBucketRejectsWritesTo)
	ctx.Step(`^the bucket rate limits the next (\d+) file writes for (\d+) seconds$`, s.theBucketRateLimits)

	ctx.Step(`^I upload the files to project "([^"]*)"$`, s.iUploadTheFilesToProject)
	ctx.Step(`^I list project "([^"]*)"$`, s.iListProject)
	ctx.Step(`^I rename project "([^"]*)" to "([^"]*)"$`, s.iRenameProject)
	ctx.Step(`^I delete project "([^"]*)"$`, s.iDeleteProject)
	ctx.Step(`^I delete file "([^"]*)" from project "([^"]*)"$`, s.iDeleteFileFromProject)
	ctx.Step(`^I check storage usage$`, s.iCheckStorageUsage)
	ctx.Step(`^I copy project "([^"]*)" to "([^"]*)" as "([^"]*)"$`, s.iCopyProjectTo)

	ctx.Step(`^the storage command should succeed$`, s.theStorageCommandShouldSucceed)
	ctx.Step(`^the storage command should fail with "([^"]*)"$`, s.theStorageCommandShouldFailWith)
	ctx.Step(`^the storage output should contain "([^"]*)"$`, s.theStorageOutputShouldContain)
	ctx.Step(`^the bucket should contain "([^"]*)"$`, s.theBucketShouldContain)
	ctx.Step(`^the bucket should not contain "([^"]*)"$`, s.theBucketShouldNotContain)
	ctx.Step(`^the bucket should be empty$`, s.theBucketShouldBeEmpty)
	ctx.Step(`^the uploader should have waited (\d+) times for "([^"]*)"$`, s.theUploaderShouldHaveWaited)
	ctx.Step(`^the key should have been refreshed (\d+) times?$`, s.theKeyShouldHaveBeenRefreshed)
	ctx.Step(`^the stored cold storage key for "([^"]*)" should be "([^"]*)"$`, s.theStoredColdStorageKeyShouldBe)
	ctx.Step(`^the metrics should show (\d+) "([^"]*)" operations? with outcome "([^"]*)"$`, s.theMetricsShouldShow)
}

func (s *storageContext) aColdStorageBucket() error {
	s.bucket = newMemBucket()
	creds, err := credentials.Open(s.credsPath)
	if err != nil {
		return err
	}
	s.creds = creds
	return nil
}

func (s *storageContext) aUserWithHandleAndMembership(userID, handle, membership string) error {
	s.userID, s.handle, s.membership = userID, handle, membership
	if err := s.creds.PutUser(userID, handle, "", membership); err != nil {
		return err
	}
	return s.creds.PutCredential(userID, storage.ProviderCold, storage.ProviderCredential{
		AccessToken: "valid-key",
		AccountID:   "0042",
	})
}

func (s *storageContext) theUserHasMembership(userID, membership string) error {
	s.membership = membership
	return s.creds.PutUser(userID, s.handle, s.tenantID, membership)
}

func (s *storageContext) theUserActsForTenant(userID, tenantID string) error {
	s.tenantID = tenantID
	return s.creds.PutUser(userID, s.handle, tenantID, s.membership)
}

func (s *storageContext) theUserHasAnExpiredColdStorageKey(userID string) error {
	return s.creds.PutCredential(userID, storage.ProviderCold, storage.ProviderCredential{
		AccessToken: staleKey,
		AccountID:   "0042",
	})
}

func (s *storageContext) refreshedKeysAreAlsoRejected() error {
	s.rejectRefreshed = true
	return nil
}

func (s *storageContext) localFiles(table *godog.Table) error {
	for i, row := range table.Rows {
		if i == 0 {
			continue // Skip header row
		}
		name := row.Cells[0].Value
		size, err := strconv.Atoi(row.Cells[1].Value)
		if err != nil {
			return fmt.Errorf("invalid size for %s: %w", name, err)
		}
		p := filepath.Join(s.tempDir, name)
		if err := os.WriteFile(p, bytes.Repeat([]byte("x"), size), 0644); err != nil {
			return err
		}
		s.files = append(s.files, p)
	}
	return nil
}

func (s *storageContext) theBucketAlreadyHas(key string) error {
	_, err := s.bucket.Put(context.Background(), key, strings.NewReader("seed"), 4, storage.ContentTypeFor(key))
	return err
}

func (s *storageContext) theBucketRejectsWritesTo(key string) error {
	s.bucket.mu.Lock()
	defer s.bucket.mu.Unlock()
	if s.bucket.rejects == nil {
		s.bucket.rejects = map[string]bool{}
	}
	s.bucket.rejects[key] = true
	return nil
}

func (s *storageContext) theBucketRateLimits(count, seconds int) error {
	s.bucket.throttle = count
	s.bucket.retry = time.Duration(seconds) * time.Second
	return nil
}

// service wires a cold storage provider the way the CLI does, with the
// backend replaced by the in-memory bucket
func (s *storageContext) service() (*appstorage.Service, error) {
	stores := func(ctx context.Context, sess storage.Session) (storage.ObjectStore, error) {
		switch sess.Credential.AccessToken {
		case staleKey, revokedKey:
			return nil, fmt.Errorf("open bucket: %w", storage.ErrAuthExpired)
		}
		return s.bucket, nil
	}
	refresh := func(ctx context.Context, sess storage.Session) (storage.Session, error) {
		s.refreshes++
		if s.rejectRefreshed {
			return sess.WithAccessToken(revokedKey), nil
		}
		return sess.WithAccessToken(freshKey), nil
	}

	policy := storage.DefaultBackoffPolicy()
	policy.Sleep = func(ctx context.Context, d time.Duration) error {
		s.waitsMu.Lock()
		defer s.waitsMu.Unlock()
		s.waits = append(s.waits, d)
		return nil
	}

	table := storage.DefaultQuotaTable()
	table.Tiers = append([]storage.QuotaTier{{Match: "tiny", Bytes: 100}}, table.Tiers...)

	provider := coldstorage.NewProvider(stores,
		appstorage.NewRateLimitedUploader(appstorage.WithBackoffPolicy(policy)),
		appstorage.NewPrefixMover(nil),
		coldstorage.WithQuota(appstorage.NewQuotaCalculator(table, s.creds, nil)),
		coldstorage.WithCredentialStore(s.creds),
		coldstorage.WithRefreshFunc(refresh),
		coldstorage.WithShareBaseURL("https://share.example.com/"),
	)

	recorder, err := metrics.NewRecorder("mediadrop", s.registry)
	if err != nil {
		return nil, err
	}
	return appstorage.NewService([]storage.Provider{metrics.Instrument(provider, recorder)}, s.output, nil), nil
}

func (s *storageContext) request(folder, name string) cmd.ProjectRequest {
	return cmd.ProjectRequest{UserID: s.userID, Provider: "cold", Folder: folder, Name: name}
}

func (s *storageContext) run(fn func(ctx context.Context, svc *appstorage.Service) error) error {
	svc, err := s.service()
	if err != nil {
		return err
	}
	s.err = fn(context.Background(), svc)
	return nil
}

func (s *storageContext) iUploadTheFilesToProject(name string) error {
	return s.run(func(ctx context.Context, svc *appstorage.Service) error {
		return cmd.RunUploadWithDependencies(ctx, svc, s.creds, s.request("", name), s.files, s.output)
	})
}

func (s *storageContext) iListProject(folder string) error {
	return s.run(func(ctx context.Context, svc *appstorage.Service) error {
		return cmd.RunListWithDependencies(ctx, svc, s.creds, s.request(folder, ""), s.output)
	})
}

func (s *storageContext) iRenameProject(folder, newName string) error {
	return s.run(func(ctx context.Context, svc *appstorage.Service) error {
		return cmd.RunRenameWithDependencies(ctx, svc, s.creds, s.request(folder, newName), s.output)
	})
}

func (s *storageContext) iDeleteProject(folder string) error {
	return s.run(func(ctx context.Context, svc *appstorage.Service) error {
		return cmd.RunDeleteWithDependencies(ctx, svc, s.creds, s.request(folder, ""), "", s.output)
	})
}

func (s *storageContext) iDeleteFileFromProject(fileName, folder string) error {
	return s.run(func(ctx context.Context, svc *appstorage.Service) error {
		return cmd.RunDeleteWithDependencies(ctx, svc, s.creds, s.request(folder, ""), fileName, s.output)
	})
}

func (s *storageContext) iCheckStorageUsage() error {
	return s.run(func(ctx context.Context, svc *appstorage.Service) error {
		return cmd.RunUsageWithDependencies(ctx, svc, s.creds, s.request("", ""), "", s.output)
	})
}

func (s *storageContext) iCopyProjectTo(folder, target, name string) error {
	open := func(ctx context.Context, sess storage.Session) (storage.ObjectStore, error) {
		return s.bucket, nil
	}
	return s.run(func(ctx context.Context, svc *appstorage.Service) error {
		return cmd.RunCopyWithDependencies(ctx, svc, s.creds, open, s.request(folder, name), target, s.output)
	})
}

func (s *storageContext) theStorageCommandShouldSucceed() error {
	if s.err != nil {
		return fmt.Errorf("expected success, got: %w", s.err)
	}
	return nil
}

func (s *storageContext) theStorageCommandShouldFailWith(expected string) error {
	if s.err == nil {
		return fmt.Errorf("expected error containing %q, got success", expected)
	}
	if !strings.Contains(s.err.Error(), expected) {
		return fmt.Errorf("expected error containing %q, got %q", expected, s.err.Error())
	}
	return nil
}

func (s *storageContext) theStorageOutputShouldContain(expected string) error {
	if !strings.Contains(s.output.String(), expected) {
		return fmt.Errorf("expected output to contain %q, got:\n%s", expected, s.output.String())
	}
	return nil
}

func (s *storageContext) theBucketShouldContain(key string) error {
	ok, _ := s.bucket.Exists(context.Background(), key)
	if !ok {
		return fmt.Errorf("expected bucket to contain %q, have %v", key, s.keys())
	}
	return nil
}

func (s *storageContext) theBucketShouldNotContain(key string) error {
	ok, _ := s.bucket.Exists(context.Background(), key)
	if ok {
		return fmt.Errorf("expected bucket not to contain %q", key)
	}
	return nil
}

func (s *storageContext) theBucketShouldBeEmpty() error {
	if keys := s.keys(); len(keys) > 0 {
		return fmt.Errorf("expected an empty bucket, have %v", keys)
	}
	return nil
}

func (s *storageContext) keys() []string {
	objects, _ := s.bucket.List(context.Background(), "")
	keys := make([]string, 0, len(objects))
	for _, o := range objects {
		keys = append(keys, o.Key)
	}
	return keys
}

func (s *storageContext) theUploaderShouldHaveWaited(count int, wait string) error {
	expected, err := time.ParseDuration(wait)
	if err != nil {
		return err
	}
	s.waitsMu.Lock()
	defer s.waitsMu.Unlock()
	if len(s.waits) != count {
		return fmt.Errorf("expected %d waits, got %v", count, s.waits)
	}
	for _, w := range s.waits {
		if w != expected {
			return fmt.Errorf("expected every wait to be %s, got %v", expected, s.waits)
		}
	}
	return nil
}

func (s *storageContext) theKeyShouldHaveBeenRefreshed(count int) error {
	if s.refreshes != count {
		return fmt.Errorf("expected %d refreshes, got %d", count, s.refreshes)
	}
	return nil
}

func (s *storageContext) theStoredColdStorageKeyShouldBe(userID, expected string) error {
	// reopen so the assertion sees what reached disk
	reopened, err := credentials.Open(s.credsPath)
	if err != nil {
		return err
	}
	record, err := reopened.Get(context.Background(), userID, storage.ProviderCold)
	if err != nil {
		return err
	}
	if record.Credential.AccessToken != expected {
		return fmt.Errorf("expected stored key %q, got %q", expected, record.Credential.AccessToken)
	}
	if record.Credential.AccountID != "0042" {
		return fmt.Errorf("expected account ID to be kept, got %q", record.Credential.AccountID)
	}
	return nil
}

func (s *storageContext) theMetricsShouldShow(count int, operation, outcome string) error {
	path := filepath.Join(s.tempDir, "metrics.prom")
	if err := metrics.WriteTextfile(path, s.registry); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	line := fmt.Sprintf(`mediadrop_storage_operations_total{operation=%q,outcome=%q,provider="cold"} %d`, operation, outcome, count)
	if !strings.Contains(string(data), line) {
		return fmt.Errorf("expected metrics to contain %s, got:\n%s", line, data)
	}
	return nil
}
