package coretools

import (
	"fmt"
	"path/filepath"
	"strings"
)

// resolveInWorkspace resolves a tool-supplied path against the
// workspace root and rejects anything outside it. Containment is
// decided on path segments via filepath.Rel, never on string prefixes,
// so "/home/userX" can never pass as inside "/home/user".
func resolveInWorkspace(root, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace root: %w", err)
	}

	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(rootAbs, target)
	}
	target = filepath.Clean(target)

	rel, err := filepath.Rel(rootAbs, target)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}

	return target, nil
}
