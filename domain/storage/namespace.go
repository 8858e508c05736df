package storage

import (
	"fmt"
	"path"
	"strings"
)

// Namespace scopes cold-storage keys to one caller.
// Every key is built as tenant/{tenantID}/user/{userID}/{relative} or
// user/{userID}/{relative}, so a caller can never address another
// caller's objects regardless of the relative path they pass.
type Namespace struct {
	TenantID string
	UserID   string
}

// NamespaceFor returns the namespace of a session
func NamespaceFor(sess Session) (Namespace, error) {
	if sess.UserID == "" {
		return Namespace{}, fmt.Errorf("session has no user ID")
	}
	return Namespace{TenantID: sess.TenantID, UserID: sess.UserID}, nil
}

// Prefix is the key prefix of the namespace, with a trailing slash
func (n Namespace) Prefix() string {
	if n.TenantID != "" {
		return "tenant/" + n.TenantID + "/user/" + n.UserID + "/"
	}
	return "user/" + n.UserID + "/"
}

// Resolve turns a caller-supplied folder or file path into a key inside the
// namespace. A path that already carries this namespace's prefix is accepted
// as-is; anything else is treated as relative. Dot segments are collapsed
// before joining so ".." cannot climb out of the prefix.
func (n Namespace) Resolve(p string) string {
	prefix := n.Prefix()
	rel := strings.TrimPrefix(p, prefix)
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	if rel == "" {
		return prefix
	}
	return prefix + rel
}

// FolderPrefix resolves a folder path and guarantees a trailing slash
func (n Namespace) FolderPrefix(folder string) string {
	key := n.Resolve(folder)
	if !strings.HasSuffix(key, "/") {
		key += "/"
	}
	return key
}

// Relative strips the namespace prefix from a key
func (n Namespace) Relative(key string) string {
	return strings.TrimPrefix(key, n.Prefix())
}
