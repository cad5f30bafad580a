package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/patchlane/patchlane/internal/types"
)

// Clone performs a shallow, single-branch clone of repoURL into the
// workspace's repository subpath. Not retried: an unreachable, private,
// or missing remote is a retrieval failure the orchestrator escalates.
func (m *manager) Clone(ctx context.Context, ws *Workspace, repoURL string) error {
	cloneCtx, cancel := context.WithTimeout(ctx, m.cfg.CloneTimeout)
	defer cancel()

	cmd := exec.CommandContext(cloneCtx, "git", "clone",
		"--depth", "1", "--single-branch", repoURL, ws.RepoPath)
	// Never block on a credential prompt for a private remote.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	output, err := cmd.CombinedOutput()
	if err != nil {
		ws.Log("clone of %s failed: %v", repoURL, err)
		return fmt.Errorf("%w: git clone failed: %v (output: %s)",
			types.ErrRetrieval, err, strings.TrimSpace(string(output)))
	}

	ws.Log("cloned %s (shallow, single branch)", repoURL)
	return nil
}

// runCommand executes an external command inside dir with a bounded
// timeout, returning its combined output and whether it succeeded.
func runCommand(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, name, args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if cmdCtx.Err() == context.DeadlineExceeded {
		return string(output), fmt.Errorf("%s timed out after %v", name, timeout)
	}
	return string(output), err
}
