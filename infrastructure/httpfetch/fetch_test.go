package httpfetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mediadrop/domain/storage"
)

func TestFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte("image bytes"))
		case "/slow":
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
		case "/big":
			w.Write(make([]byte, 64))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := New(WithHTTPClient(srv.Client()), WithMaxBytes(32))

	data, err := f.Source(srv.URL + "/ok")(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "image bytes" {
		t.Errorf("unexpected body %q", data)
	}

	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	if !storage.IsNotFound(err) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	_, err = f.Fetch(context.Background(), srv.URL+"/slow")
	if !errors.Is(err, storage.ErrRateLimited) {
		t.Errorf("expected rate limit, got %v", err)
	}
	if wait, _ := storage.RetryAfter(err); wait != 3*time.Second {
		t.Errorf("expected 3s hint, got %v", wait)
	}

	if _, err := f.Fetch(context.Background(), srv.URL+"/big"); err == nil {
		t.Error("expected size limit error")
	}
}
