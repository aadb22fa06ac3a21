package extract

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ossyrian/wadextract/internal/wad"
)

// destPath converts a normalized archive key into a path relative to the
// destination root. An empty key is the root itself. Keys that would
// escape the root fail with wad.ErrUnsafePath.
func destPath(key string) (string, error) {
	if key == "" {
		return "", nil
	}
	if strings.ContainsRune(key, 0) || hasDrivePrefix(key) {
		return "", fmt.Errorf("%w: %q", wad.ErrUnsafePath, key)
	}

	parts := strings.Split(wad.NormalizePath(key), "/")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("%w: %q", wad.ErrUnsafePath, key)
		default:
			clean = append(clean, part)
		}
	}

	return filepath.Join(clean...), nil
}

// hasDrivePrefix reports whether p starts like C: or C:/.
func hasDrivePrefix(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
