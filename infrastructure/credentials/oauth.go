package credentials

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/oauth2"

	"mediadrop/domain/storage"
)

// OAuthRefresher exchanges a session's refresh token for a new access token
// and persists it back to the credential store
type OAuthRefresher struct {
	config *oauth2.Config
	store  storage.CredentialStore
	logger *slog.Logger
}

// NewOAuthRefresher creates a refresher for one OAuth client. store may be
// nil when the new token does not need to outlive the process.
func NewOAuthRefresher(config *oauth2.Config, store storage.CredentialStore, logger *slog.Logger) *OAuthRefresher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &OAuthRefresher{config: config, store: store, logger: logger}
}

// Refresh implements storage.RefreshFunc
func (r *OAuthRefresher) Refresh(ctx context.Context, sess storage.Session) (storage.Session, error) {
	if sess.Credential.RefreshToken == "" {
		return storage.Session{}, fmt.Errorf("no refresh token for %s on %s", sess.UserID, sess.Provider)
	}

	// An empty access token forces the token source to hit the token endpoint
	src := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: sess.Credential.RefreshToken})
	token, err := src.Token()
	if err != nil {
		return storage.Session{}, fmt.Errorf("failed to refresh token: %w", err)
	}

	next := sess.WithAccessToken(token.AccessToken)
	next.Credential.ExpiresAt = token.Expiry
	if token.RefreshToken != "" {
		next.Credential.RefreshToken = token.RefreshToken
	}

	if r.store != nil {
		if err := r.store.PersistRefreshedToken(ctx, sess.UserID, sess.Provider, token.AccessToken); err != nil {
			return storage.Session{}, fmt.Errorf("failed to persist refreshed token: %w", err)
		}
	}
	r.logger.Info("refreshed access token", "user", sess.UserID, "provider", sess.Provider, "expires", token.Expiry)
	return next, nil
}
