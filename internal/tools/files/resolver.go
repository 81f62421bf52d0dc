package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolver resolves and validates project-relative paths.
type Resolver struct {
	Root string
}

// RootAbs returns the absolute project root.
func (r Resolver) RootAbs() (string, error) {
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}
	return rootAbs, nil
}

// Resolve returns an absolute, cleaned path within the project root.
// An empty path resolves to the root itself.
func (r Resolver) Resolve(path string) (string, error) {
	rootAbs, err := r.RootAbs()
	if err != nil {
		return "", err
	}
	clean := strings.TrimSpace(path)
	if clean == "" || clean == "." {
		return rootAbs, nil
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	rel, err := filepath.Rel(rootAbs, target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes project root: %s", path)
	}
	return target, nil
}

// Rel renders an absolute path relative to the root with forward slashes.
func (r Resolver) Rel(abs string) string {
	rootAbs, err := r.RootAbs()
	if err != nil {
		return abs
	}
	rel, err := filepath.Rel(rootAbs, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}
