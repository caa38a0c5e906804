package merge

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/741g/vperfetto/internal/domain"
)

// ValidateTraceFile checks that name is a non-empty regular file.
func ValidateTraceFile(name string) error {
	if name == "" {
		return fmt.Errorf("invalid filename (is empty string): %w", domain.ErrBadRequest)
	}
	abs, _ := filepath.Abs(name)
	info, err := os.Stat(name)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s (%s) does not exist: %w", name, abs, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s (%s) is not a regular file: %w", name, abs, domain.ErrBadRequest)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s (%s) is empty: %w", name, abs, domain.ErrBadRequest)
	}
	return nil
}

// ResolvePath joins p onto root and rejects results outside root. An empty
// root leaves p unchanged.
func ResolvePath(root, p string) (string, error) {
	if root == "" || p == "" {
		return p, nil
	}
	var full string
	if filepath.IsAbs(p) {
		full = filepath.Clean(p)
	} else {
		full = filepath.Join(root, p)
	}
	rel, err := filepath.Rel(filepath.Clean(root), full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes trace dir: %w", p, domain.ErrBadRequest)
	}
	return full, nil
}
