package storage

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// maxFolderProbes bounds the collision search; reaching it means the
// exists check is broken rather than that the namespace is full
const maxFolderProbes = 10000

var unsafeFolderChars = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]+`)

// SanitizeFolderName strips characters no backend accepts in a folder name
func SanitizeFolderName(name string) string {
	name = unsafeFolderChars.ReplaceAllString(name, "-")
	name = strings.Trim(strings.TrimSpace(name), ".")
	return strings.TrimSpace(name)
}

// Slugify lowercases a project name and joins its words with dashes
func Slugify(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

// UniqueFolderName returns base if it is free, otherwise the first free
// name of base-1, base-2, ... The probe is sequential and must finish
// before any upload into the folder starts.
func UniqueFolderName(ctx context.Context, base string, exists func(ctx context.Context, name string) (bool, error)) (string, error) {
	if base == "" {
		return "", fmt.Errorf("%w: empty folder name", ErrMissingFolder)
	}

	candidate := base
	for i := 1; i <= maxFolderProbes; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check folder %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return "", fmt.Errorf("no free folder name for %q after %d attempts", base, maxFolderProbes)
}

// SiblingPath returns the path of a folder named name next to folderPath
func SiblingPath(folderPath, name string) string {
	dir := path.Dir(strings.TrimSuffix(folderPath, "/"))
	if dir == "." {
		return name
	}
	return path.Join(dir, name)
}
