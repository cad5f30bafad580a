// Package workspace manages ephemeral, isolated per-issue working
// directories: a shallow clone of the target repository plus file
// primitives scoped to it. Workspaces never outlive the fixing phase
// that created them.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/patchlane/patchlane/internal/types"
)

// Workspace is one isolated filesystem root holding a repository clone.
type Workspace struct {
	ID       string
	Root     string
	RepoPath string
	Created  time.Time

	mu   sync.Mutex
	logs []string
}

// Log appends a diagnostic line local to this workspace. The
// orchestrator merges these into the issue's log.
func (w *Workspace) Log(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.logs = append(w.logs, fmt.Sprintf(format, args...))
}

// Logs returns a copy of the workspace's diagnostic log.
func (w *Workspace) Logs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.logs...)
}

// Manager handles creation, use, and guaranteed cleanup of workspaces.
type Manager interface {
	// Create allocates a fresh, uniquely named workspace root. A prior
	// directory is never reused.
	Create(ctx context.Context) (*Workspace, error)

	// Clone performs a shallow, single-branch checkout of repoURL into
	// the workspace's repository subpath.
	Clone(ctx context.Context, ws *Workspace, repoURL string) error

	// InstallDependencies detects a recognizable manifest and runs one
	// matching install command. No manifest is a no-op; a failing
	// install is logged and does not abort the pipeline.
	InstallDependencies(ctx context.Context, ws *Workspace) error

	// ListFiles enumerates regular files under the repository subpath,
	// excluding VCS metadata, dependency caches, and build output.
	// Order is traversal order; deterministic only per host and tree.
	ListFiles(ws *Workspace) ([]string, error)

	// ReadFile reads one repository-relative file.
	ReadFile(ws *Workspace, relPath string) (string, error)

	// WriteFile writes one repository-relative file, creating
	// intermediate directories and overwriting existing content.
	WriteFile(ws *Workspace, relPath string, content string) error

	// Validate runs a discoverable test or build command if any, and
	// reports its outcome. Advisory: a failing result never fails the
	// pipeline, and an undiscoverable command reports trivial success.
	Validate(ctx context.Context, ws *Workspace) ValidationResult

	// Destroy recursively removes the workspace root. Idempotent and
	// never returns an error: a failed cleanup is logged and ignored so
	// resource leakage cannot mask the pipeline's actual outcome.
	Destroy(ws *Workspace)

	// Active returns the number of workspaces not yet destroyed.
	Active() int
}

// ValidationResult reports the advisory validation outcome.
type ValidationResult struct {
	Ran     bool   // false when no command was discoverable
	Success bool
	Command string
	Output  string // captured combined output, truncated
}

// Config holds configuration for the workspace manager.
type Config struct {
	// Root is the directory under which workspace roots are created.
	Root string

	// CloneTimeout bounds the repository clone.
	CloneTimeout time.Duration

	// InstallTimeout bounds the dependency install command.
	InstallTimeout time.Duration

	// ValidateTimeout bounds the advisory validation command.
	ValidateTimeout time.Duration

	Logger zerolog.Logger
}

// manager is the concrete implementation of Manager.
type manager struct {
	cfg    Config
	mu     sync.Mutex
	active map[string]*Workspace
	log    zerolog.Logger
}

// NewManager creates a workspace manager rooted at cfg.Root.
func NewManager(cfg Config) (Manager, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("Root cannot be empty")
	}
	if cfg.CloneTimeout == 0 {
		cfg.CloneTimeout = 2 * time.Minute
	}
	if cfg.InstallTimeout == 0 {
		cfg.InstallTimeout = 5 * time.Minute
	}
	if cfg.ValidateTimeout == 0 {
		cfg.ValidateTimeout = 5 * time.Minute
	}
	if err := os.MkdirAll(cfg.Root, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create workspace root: %v", types.ErrResource, err)
	}

	return &manager{
		cfg:    cfg,
		active: make(map[string]*Workspace),
		log:    cfg.Logger,
	}, nil
}

func (m *manager) Create(ctx context.Context) (*Workspace, error) {
	// uuid plus a nanosecond token: unique even when two workspaces for
	// retried issues land in the same instant.
	id := fmt.Sprintf("ws-%s-%d", uuid.New().String()[:8], time.Now().UnixNano())
	root := filepath.Join(m.cfg.Root, id)

	if err := os.Mkdir(root, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to allocate workspace directory: %v", types.ErrResource, err)
	}

	ws := &Workspace{
		ID:       id,
		Root:     root,
		RepoPath: filepath.Join(root, "repo"),
		Created:  time.Now(),
	}
	ws.Log("workspace %s created at %s", id, root)

	m.mu.Lock()
	m.active[id] = ws
	m.mu.Unlock()

	return ws, nil
}

func (m *manager) Destroy(ws *Workspace) {
	if ws == nil {
		return
	}
	if err := os.RemoveAll(ws.Root); err != nil {
		m.log.Warn().Str("workspace", ws.ID).Err(err).
			Msg("workspace cleanup failed, continuing")
	}

	m.mu.Lock()
	delete(m.active, ws.ID)
	m.mu.Unlock()
}

func (m *manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
