package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ProviderCredential is the token material a backend call is made with.
// It is owned by the CredentialStore; the storage core only borrows it.
type ProviderCredential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	AccountID    string // application key ID for cold storage
}

// CredentialRecord is what the CredentialStore holds for one user and backend
type CredentialRecord struct {
	Credential   ProviderCredential
	MembershipID string
}

// CredentialStore is the external collaborator that owns credentials
// and membership tiers
type CredentialStore interface {
	// Get returns the credential and membership for a user on a backend
	Get(ctx context.Context, userID string, kind ProviderKind) (*CredentialRecord, error)

	// PersistRefreshedToken stores a new access token after a refresh
	PersistRefreshedToken(ctx context.Context, userID string, kind ProviderKind, accessToken string) error
}

// Session binds one caller identity to one credential.
// It is a value: a refresh produces a new Session instead of mutating this one.
type Session struct {
	Provider    ProviderKind
	UserID      string
	TenantID    string // empty for personal context
	OwnerHandle string // public username used in share links and cache keys
	Membership  string
	Credential  ProviderCredential
}

// IsTenant reports whether the session acts on behalf of a tenant
func (s Session) IsTenant() bool {
	return s.TenantID != ""
}

// Owner returns the public handle, falling back to the user ID
func (s Session) Owner() string {
	if s.OwnerHandle != "" {
		return s.OwnerHandle
	}
	return s.UserID
}

// WithAccessToken returns a copy of the session carrying a new access token
func (s Session) WithAccessToken(token string) Session {
	s.Credential.AccessToken = token
	return s
}

// RefreshFunc exchanges a session for one with a fresh access token
type RefreshFunc func(ctx context.Context, sess Session) (Session, error)

// SessionGuard runs backend calls for one operation and recovers from an
// expired token by refreshing at most once. Concurrent calls that fail with
// the same stale token share the single refresh.
type SessionGuard struct {
	mu        sync.Mutex
	current   Session
	refresh   RefreshFunc
	refreshed bool
}

// NewSessionGuard creates a guard for one operation
func NewSessionGuard(sess Session, refresh RefreshFunc) *SessionGuard {
	return &SessionGuard{current: sess, refresh: refresh}
}

// Session returns the session calls are currently made with
func (g *SessionGuard) Session() Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Do runs call, refreshing the session and re-issuing the call exactly once
// if it fails with ErrAuthExpired. A second authorization failure is terminal.
func (g *SessionGuard) Do(ctx context.Context, call func(ctx context.Context, sess Session) error) error {
	sess := g.Session()
	err := call(ctx, sess)
	if !IsAuthExpired(err) {
		return err
	}

	next, rerr := g.renew(ctx, sess)
	if rerr != nil {
		return rerr
	}

	err = call(ctx, next)
	if IsAuthExpired(err) {
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	return err
}

// renew refreshes the session unless another call already did so
func (g *SessionGuard) renew(ctx context.Context, stale Session) (Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.current.Credential.AccessToken != stale.Credential.AccessToken {
		return g.current, nil
	}
	if g.refreshed {
		return Session{}, fmt.Errorf("%w: refreshed token was rejected", ErrAuthentication)
	}
	if g.refresh == nil {
		return Session{}, fmt.Errorf("%w: no refresh available", ErrAuthentication)
	}

	g.refreshed = true
	next, err := g.refresh(ctx, stale)
	if err != nil {
		return Session{}, fmt.Errorf("%w: token refresh failed: %w", ErrAuthentication, err)
	}
	g.current = next
	return next, nil
}

// Guarded is Do for calls that produce a value
func Guarded[T any](ctx context.Context, g *SessionGuard, call func(ctx context.Context, sess Session) (T, error)) (T, error) {
	var result T
	err := g.Do(ctx, func(ctx context.Context, sess Session) error {
		v, err := call(ctx, sess)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
