package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultPathManager implements path management functionality
type DefaultPathManager struct {
	root string
}

// NewDefaultPathManager creates a path manager rooted at root, or "results".
func NewDefaultPathManager(root string) *DefaultPathManager {
	if strings.TrimSpace(root) == "" {
		root = "results"
	}
	return &DefaultPathManager{root: root}
}

// GetDefaultOutputDir returns {root}/{LABEL}_{interval}.
func (p *DefaultPathManager) GetDefaultOutputDir(label, interval string) string {
	l := strings.ToUpper(strings.TrimSpace(label))
	i := strings.ToLower(strings.TrimSpace(interval))
	if l == "" {
		l = "UNKNOWN"
	}
	if i == "" {
		i = "unknown"
	}
	l = strings.NewReplacer("/", "_", " ", "_", ",", "_").Replace(l)
	return filepath.Join(p.root, fmt.Sprintf("%s_%s", l, i))
}

// EnsureDirectoryExists creates the parent directory of path.
func (p *DefaultPathManager) EnsureDirectoryExists(path string) error {
	return ensureDir(path)
}

func ensureDir(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
