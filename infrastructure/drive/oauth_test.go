package drive

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func newTokenServer(t *testing.T, wantCode string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse token request: %v", err)
		}
		if got := r.PostForm.Get("code"); got != wantCode {
			http.Error(w, "bad code", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600}`)
	}))
}

// callbackOpener plays the browser: it follows the consent URL straight to
// the redirect with the given query overrides
func callbackOpener(t *testing.T, params map[string]string) func(string) error {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		redirect, err := url.Parse(q.Get("redirect_uri"))
		if err != nil {
			return err
		}
		cb := url.Values{"state": {q.Get("state")}}
		for k, v := range params {
			cb.Set(k, v)
		}
		redirect.RawQuery = cb.Encode()

		resp, err := http.Get(redirect.String())
		if err != nil {
			t.Errorf("callback request failed: %v", err)
			return err
		}
		resp.Body.Close()
		return nil
	}
}

func testOAuthConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{AuthURL: "https://accounts.example/auth", TokenURL: tokenURL},
	}
}

func TestConsentFlow_ExchangesCode(t *testing.T) {
	tokens := newTokenServer(t, "abc")
	defer tokens.Close()

	config := testOAuthConfig(tokens.URL)
	flow := &ConsentFlow{Addr: "127.0.0.1:0", Open: callbackOpener(t, map[string]string{"code": "abc"})}

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := flow.Run(ctx, config, &out)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if token.AccessToken != "at-1" || token.RefreshToken != "rt-1" {
		t.Errorf("unexpected token: %+v", token)
	}
	if config.RedirectURL != "" {
		t.Errorf("config was modified: RedirectURL = %q", config.RedirectURL)
	}
	if !strings.Contains(out.String(), "Authentication successful!") {
		t.Errorf("expected success message, got %q", out.String())
	}
}

func TestConsentFlow_RejectsBadCallbacks(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]string
		wantErr string
	}{
		{name: "forged state", params: map[string]string{"state": "forged", "code": "abc"}, wantErr: "state does not match"},
		{name: "denied", params: map[string]string{"error": "access_denied"}, wantErr: "access_denied"},
		{name: "no code", params: map[string]string{}, wantErr: "no code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := newTokenServer(t, "abc")
			defer tokens.Close()

			flow := &ConsentFlow{Addr: "127.0.0.1:0", Open: callbackOpener(t, tt.params)}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_, err := flow.Run(ctx, testOAuthConfig(tokens.URL), &bytes.Buffer{})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConsentFlow_Canceled(t *testing.T) {
	flow := &ConsentFlow{Addr: "127.0.0.1:0"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := flow.Run(ctx, testOAuthConfig("http://127.0.0.1:1/token"), &bytes.Buffer{})
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
