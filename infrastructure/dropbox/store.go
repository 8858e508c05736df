package dropbox

import (
	"context"
	"strings"

	"mediadrop/domain/storage"
)

// pathStore presents a Dropbox account as a PrefixStore so folder moves run
// through the shared copy-then-delete mover. Keys are display paths.
type pathStore struct {
	provider *Provider
	guard    *storage.SessionGuard
}

// List returns every file under prefix. A missing folder lists as empty.
func (s *pathStore) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var entries []Entry
	err := s.provider.do(ctx, s.guard, func(ctx context.Context, svc DropboxService) error {
		var err error
		entries, err = svc.ListFolder(ctx, strings.TrimSuffix(prefix, "/"), true)
		return err
	})
	if storage.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var objects []storage.ObjectInfo
	for _, e := range entries {
		if e.IsFolder || e.Path == "" {
			continue
		}
		key := e.Path
		// Dropbox matches paths case-insensitively; keep the caller's prefix
		// spelling so the mover can rebase the key
		if len(key) >= len(prefix) && strings.EqualFold(key[:len(prefix)], prefix) {
			key = prefix + key[len(prefix):]
		}
		objects = append(objects, storage.ObjectInfo{Key: key, Size: e.Size})
	}
	return objects, nil
}

// Copy duplicates src to dst. A file already at dst, left by an earlier
// interrupted move, is replaced.
func (s *pathStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	return s.provider.do(ctx, s.guard, func(ctx context.Context, svc DropboxService) error {
		err := svc.Copy(ctx, srcKey, dstKey)
		if err == nil || !strings.Contains(err.Error(), "to/conflict") {
			return err
		}
		if err := svc.Delete(ctx, dstKey); err != nil && !storage.IsNotFound(err) {
			return err
		}
		return svc.Copy(ctx, srcKey, dstKey)
	})
}

// Delete removes key; a missing file is not an error
func (s *pathStore) Delete(ctx context.Context, key string) error {
	err := s.provider.do(ctx, s.guard, func(ctx context.Context, svc DropboxService) error {
		return svc.Delete(ctx, key)
	})
	if storage.IsNotFound(err) {
		return nil
	}
	return err
}
