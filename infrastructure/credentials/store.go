package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"mediadrop/domain/storage"
)

// ErrUserNotFound is returned when a user has no entry in the file
var ErrUserNotFound = errors.New("user not found")

// File is the on-disk layout of the credential store
type File struct {
	Users map[string]*User `yaml:"users"`
}

// User holds one user's identity and per-backend tokens
type User struct {
	Handle     string                 `yaml:"handle"`
	TenantID   string                 `yaml:"tenant_id,omitempty"`
	Membership string                 `yaml:"membership,omitempty"`
	Providers  map[string]*Credential `yaml:"providers"`
}

// Credential is the YAML form of storage.ProviderCredential
type Credential struct {
	AccessToken  string    `yaml:"access_token"`
	RefreshToken string    `yaml:"refresh_token,omitempty"`
	ExpiresAt    time.Time `yaml:"expires_at,omitempty"`
	AccountID    string    `yaml:"account_id,omitempty"`
}

// FileStore implements storage.CredentialStore on a YAML file.
// Every write is persisted immediately.
type FileStore struct {
	mu   sync.Mutex
	path string
	data File
}

// Open loads the store at path; a missing file yields an empty store
func Open(path string) (*FileStore, error) {
	s := &FileStore{path: path, data: File{Users: map[string]*User{}}}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if s.data.Users == nil {
		s.data.Users = map[string]*User{}
	}
	return s, nil
}

// Get implements storage.CredentialStore
func (s *FileStore) Get(ctx context.Context, userID string, kind storage.ProviderKind) (*storage.CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.data.Users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %q", storage.ErrNotFound, ErrUserNotFound, userID)
	}
	record := &storage.CredentialRecord{MembershipID: u.Membership}
	if c, ok := u.Providers[string(kind)]; ok {
		record.Credential = storage.ProviderCredential{
			AccessToken:  c.AccessToken,
			RefreshToken: c.RefreshToken,
			ExpiresAt:    c.ExpiresAt,
			AccountID:    c.AccountID,
		}
	}
	return record, nil
}

// PersistRefreshedToken implements storage.CredentialStore. Only the access
// token field changes.
func (s *FileStore) PersistRefreshedToken(ctx context.Context, userID string, kind storage.ProviderKind, accessToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.data.Users[userID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUserNotFound, userID)
	}
	c, ok := u.Providers[string(kind)]
	if !ok {
		return fmt.Errorf("user %q has no %s credential", userID, kind)
	}
	c.AccessToken = accessToken
	return s.save()
}

// PutCredential stores a full credential for a user, creating the user if needed
func (s *FileStore) PutCredential(userID string, kind storage.ProviderKind, cred storage.ProviderCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(userID)
	u.Providers[string(kind)] = &Credential{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresAt:    cred.ExpiresAt,
		AccountID:    cred.AccountID,
	}
	return s.save()
}

// PutUser sets a user's identity fields, keeping any stored credentials
func (s *FileStore) PutUser(userID, handle, tenantID, membership string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(userID)
	u.Handle = handle
	u.TenantID = tenantID
	u.Membership = membership
	return s.save()
}

// RemoveUser deletes a user and all their credentials
func (s *FileStore) RemoveUser(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Users[userID]; !ok {
		return fmt.Errorf("%w: %q", ErrUserNotFound, userID)
	}
	delete(s.data.Users, userID)
	return s.save()
}

// Session resolves a user into a storage.Session for one backend
func (s *FileStore) Session(ctx context.Context, userID string, kind storage.ProviderKind) (storage.Session, error) {
	record, err := s.Get(ctx, userID, kind)
	if err != nil {
		return storage.Session{}, err
	}

	s.mu.Lock()
	u := s.data.Users[userID]
	s.mu.Unlock()

	handle := u.Handle
	if handle == "" {
		handle = userID
	}
	return storage.Session{
		Provider:    kind,
		UserID:      userID,
		TenantID:    u.TenantID,
		OwnerHandle: handle,
		Membership:  record.MembershipID,
		Credential:  record.Credential,
	}, nil
}

func (s *FileStore) user(userID string) *User {
	u, ok := s.data.Users[userID]
	if !ok {
		u = &User{}
		s.data.Users[userID] = u
	}
	if u.Providers == nil {
		u.Providers = map[string]*Credential{}
	}
	return u
}

// save writes the file atomically with owner-only permissions
func (s *FileStore) save() error {
	raw, err := yaml.Marshal(&s.data)
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create credentials directory: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}

// Ensure FileStore implements storage.CredentialStore
var _ storage.CredentialStore = (*FileStore)(nil)
