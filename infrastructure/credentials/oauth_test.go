package credentials

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"golang.org/x/oauth2"

	"mediadrop/domain/storage"
)

func TestOAuthRefresher_RefreshPersists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("bad form: %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "rt-1" {
			t.Errorf("unexpected token request %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-2","token_type":"bearer","expires_in":3600}`)
	}))
	defer server.Close()

	store, err := Open(filepath.Join(t.TempDir(), "credentials.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.PutCredential("u1", storage.ProviderDropbox, storage.ProviderCredential{AccessToken: "at-1", RefreshToken: "rt-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := &oauth2.Config{ClientID: "app", ClientSecret: "secret", Endpoint: oauth2.Endpoint{TokenURL: server.URL}}
	refresher := NewOAuthRefresher(cfg, store, nil)

	sess := storage.Session{
		Provider:   storage.ProviderDropbox,
		UserID:     "u1",
		Credential: storage.ProviderCredential{AccessToken: "at-1", RefreshToken: "rt-1"},
	}
	next, err := refresher.Refresh(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Credential.AccessToken != "at-2" || next.Credential.RefreshToken != "rt-1" {
		t.Errorf("unexpected credential %+v", next.Credential)
	}
	if sess.Credential.AccessToken != "at-1" {
		t.Error("input session must not be mutated")
	}

	record, err := store.Get(context.Background(), "u1", storage.ProviderDropbox)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Credential.AccessToken != "at-2" {
		t.Errorf("expected persisted token at-2, got %q", record.Credential.AccessToken)
	}
}

func TestOAuthRefresher_NoRefreshToken(t *testing.T) {
	refresher := NewOAuthRefresher(&oauth2.Config{}, nil, nil)

	if _, err := refresher.Refresh(context.Background(), storage.Session{UserID: "u1"}); err == nil {
		t.Error("expected error without a refresh token")
	}
}
