// Package workspace owns the per-deployment working directories and tarballs
// under a common root.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ErrOutsideRoot is returned for paths that do not live under the workspace root.
var ErrOutsideRoot = errors.New("workspace: path outside root")

// Manager creates and removes deployment working directories.
type Manager struct {
	root string
}

// New ensures the workspace root exists and is accessible.
func New(root string) (*Manager, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute workspace root.
func (m *Manager) Root() string {
	return m.root
}

// NewDir creates a fresh directory named after repo and branch plus a random
// suffix, so concurrent deployments of the same source never share a path.
func (m *Manager) NewDir(repo, branch string) (string, error) {
	name := fmt.Sprintf("%s_%s_%s", sanitize(repo), sanitize(branch), uuid.NewString())
	dir := filepath.Join(m.root, name)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// Remove deletes a directory or file under the root. Missing paths are not an error.
func (m *Manager) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := m.within(path); err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func (m *Manager) within(path string) error {
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || rel == "" || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return nil
}

func sanitize(value string) string {
	value = strings.Trim(unsafeName.ReplaceAllString(strings.TrimSpace(value), "_"), "_.")
	if value == "" {
		return "default"
	}
	return value
}
