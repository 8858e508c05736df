package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"mediadrop/domain/storage"
)

// mockS3 is an in-memory S3API
type mockS3 struct {
	objects  map[string][]byte
	pageSize int
	err      error

	lastPut  *s3.PutObjectInput
	lastCopy *s3.CopyObjectInput
	deleted  []string
}

func newMockS3() *mockS3 {
	return &mockS3{objects: map[string][]byte{}, pageSize: 1000}
}

func (m *mockS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	if _, ok := m.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *mockS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	data, _ := io.ReadAll(in.Body)
	m.objects[aws.ToString(in.Key)] = data
	m.lastPut = in
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	m.lastCopy = in
	return &s3.CopyObjectOutput{}, nil
}

func (m *mockS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	key := aws.ToString(in.Key)
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if m.err != nil {
		return nil, m.err
	}
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.ContinuationToken) {
			keys = append(keys, k)
		}
	}
	sortStrings(keys)

	out := &s3.ListObjectsV2Output{}
	for i, k := range keys {
		if i == m.pageSize {
			out.IsTruncated = aws.Bool(true)
			out.NextContinuationToken = aws.String(keys[i-1])
			break
		}
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(m.objects[k])))})
	}
	return out, nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

type mockPresigner struct{}

func (mockPresigner) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	opts := s3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &v4.PresignedHTTPRequest{
		URL: "https://" + aws.ToString(in.Bucket) + ".s3.test/" + aws.ToString(in.Key) + "?X-Amz-Expires=" + opts.Expires.String(),
	}, nil
}

func TestS3Store_PutGetExists(t *testing.T) {
	ctx := context.Background()
	api := newMockS3()
	store := NewS3StoreWithAPI(api, mockPresigner{}, "media")

	exists, err := store.Exists(ctx, "user/u1/a.jpg")
	if err != nil || exists {
		t.Fatalf("expected missing object, exists=%v err=%v", exists, err)
	}

	loc, err := store.Put(ctx, "user/u1/a.jpg", strings.NewReader("jpeg"), 4, "image/jpeg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.Bucket != "media" || loc.Key != "user/u1/a.jpg" {
		t.Errorf("unexpected location %+v", loc)
	}
	if aws.ToString(api.lastPut.ContentType) != "image/jpeg" || aws.ToInt64(api.lastPut.ContentLength) != 4 {
		t.Errorf("expected content type and length to be set")
	}

	exists, _ = store.Exists(ctx, "user/u1/a.jpg")
	if !exists {
		t.Error("expected object to exist after put")
	}

	rc, err := store.Get(ctx, "user/u1/a.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := io.ReadAll(rc)
	if string(data) != "jpeg" {
		t.Errorf("expected jpeg, got %q", data)
	}

	if _, err := store.Get(ctx, "missing"); !storage.IsNotFound(err) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestS3Store_ListPaginates(t *testing.T) {
	api := newMockS3()
	api.pageSize = 2
	for _, k := range []string{"p/a", "p/b", "p/c", "p/d", "p/e", "q/a"} {
		api.objects[k] = []byte("xx")
	}
	store := NewS3StoreWithAPI(api, mockPresigner{}, "media")

	objects, err := store.List(context.Background(), "p/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(objects) != 5 {
		t.Fatalf("expected 5 objects across pages, got %d", len(objects))
	}
	if objects[0].Size != 2 {
		t.Errorf("expected size 2, got %d", objects[0].Size)
	}

	empty, err := store.List(context.Background(), "never-used/")
	if err != nil || len(empty) != 0 {
		t.Errorf("expected empty listing for unused prefix, got %v (err %v)", empty, err)
	}
}

func TestS3Store_CopyEscapesSource(t *testing.T) {
	api := newMockS3()
	store := NewS3StoreWithAPI(api, mockPresigner{}, "media")

	if err := store.Copy(context.Background(), "user/u1/My Trip/a b.jpg", "user/u1/Lake/a b.jpg"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := aws.ToString(api.lastCopy.CopySource); got != "media/user/u1/My%20Trip/a%20b.jpg" {
		t.Errorf("unexpected copy source %q", got)
	}
}

func TestS3Store_SignedURL(t *testing.T) {
	store := NewS3StoreWithAPI(newMockS3(), mockPresigner{}, "thumbs")

	url, err := store.SignedURL(context.Background(), "thumbnails/ana/p/a.jpg", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(url, "thumbs.s3.test/thumbnails/ana/p/a.jpg") || !strings.Contains(url, "1h0m0s") {
		t.Errorf("unexpected signed url %q", url)
	}
}

func responseError(status int, header http.Header, code string) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status, Header: header}},
			Err:      &smithy.GenericAPIError{Code: code, Message: code},
		},
	}
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		check     func(error) bool
		wantRetry time.Duration
	}{
		{
			name:  "expired token",
			err:   responseError(400, http.Header{}, "ExpiredToken"),
			check: storage.IsAuthExpired,
		},
		{
			name:  "invalid key id",
			err:   &smithy.GenericAPIError{Code: "InvalidAccessKeyId"},
			check: storage.IsAuthExpired,
		},
		{
			name:      "slow down with hint",
			err:       responseError(503, http.Header{"Retry-After": []string{"2"}}, "SlowDown"),
			check:     func(err error) bool { return errors.Is(err, storage.ErrRateLimited) },
			wantRetry: 2 * time.Second,
		},
		{
			name:  "plain 429",
			err:   responseError(429, http.Header{}, "Whatever"),
			check: func(err error) bool { return errors.Is(err, storage.ErrRateLimited) },
		},
		{
			name:  "no such key",
			err:   &types.NoSuchKey{},
			check: storage.IsNotFound,
		},
		{
			name:  "bare 404",
			err:   responseError(404, http.Header{}, "Unknown"),
			check: storage.IsNotFound,
		},
		{
			name: "access denied passes through",
			err:  responseError(403, http.Header{}, "AccessDenied"),
			check: func(err error) bool {
				var op *storage.OpError
				return errors.As(err, &op) && op.Status == 403 && !storage.IsAuthExpired(err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translate("put", "k", tt.err)
			if !tt.check(got) {
				t.Errorf("unexpected translation: %v", got)
			}
			if tt.wantRetry > 0 {
				if wait, _ := storage.RetryAfter(got); wait != tt.wantRetry {
					t.Errorf("expected retry after %v, got %v", tt.wantRetry, wait)
				}
			}
		})
	}
}

func TestS3Store_DeleteIsIdempotent(t *testing.T) {
	api := newMockS3()
	store := NewS3StoreWithAPI(api, mockPresigner{}, "media")

	if err := store.Delete(context.Background(), "never/existed"); err != nil {
		t.Errorf("expected delete of missing key to succeed, got %v", err)
	}

	api.err = &types.NoSuchKey{}
	if err := store.Delete(context.Background(), "never/existed"); err != nil {
		t.Errorf("expected NoSuchKey on delete to be absorbed, got %v", err)
	}
}
