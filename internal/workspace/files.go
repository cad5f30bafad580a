package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/patchlane/patchlane/internal/types"
)

// excludedDirs are never traversed: VCS metadata, dependency caches,
// and build output.
var excludedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"out":          true,
	"target":       true,
	"coverage":     true,
	".next":        true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
}

// ListFiles recursively enumerates regular files under the repository
// subpath as slash-separated relative paths.
func (m *manager) ListFiles(ws *Workspace) ([]string, error) {
	var files []string
	err := filepath.WalkDir(ws.RepoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if excludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(ws.RepoPath, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace files: %w", err)
	}
	return files, nil
}

// ReadFile reads one repository-relative file. Callers treat individual
// read failures as skippable, not pipeline-fatal.
func (m *manager) ReadFile(ws *Workspace, relPath string) (string, error) {
	abs, err := m.resolve(ws, relPath)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", types.ErrRetrieval, relPath, err)
	}
	return string(data), nil
}

// WriteFile writes one repository-relative file, creating intermediate
// directories as needed and overwriting existing content.
func (m *manager) WriteFile(ws *Workspace, relPath string, content string) error {
	abs, err := m.resolve(ws, relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("%w: create directories for %s: %v", types.ErrResource, relPath, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return fmt.Errorf("%w: write %s: %v", types.ErrResource, relPath, err)
	}
	return nil
}

// resolve maps a repository-relative path to an absolute path, refusing
// anything that would escape the repository root.
func (m *manager) resolve(ws *Workspace, relPath string) (string, error) {
	if err := types.ValidateRelPath(relPath); err != nil {
		return "", err
	}
	return filepath.Join(ws.RepoPath, filepath.FromSlash(relPath)), nil
}

// truncateOutput bounds captured command output.
func truncateOutput(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "\n... (truncated)"
}
