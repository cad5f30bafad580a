// Package hosting is the change-request collaborator boundary: it
// turns a synthesized fix into a branch, a commit, and a reviewable
// pull request on the hosting provider, via the git and gh binaries.
package hosting

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/patchlane/patchlane/internal/types"
)

// CmdRunner provides command execution. Interface for testing.
type CmdRunner interface {
	// Run executes name with args inside dir (empty dir = inherited cwd)
	// and returns trimmed combined output.
	Run(ctx context.Context, dir string, name string, args ...string) (string, error)
}

// ExecRunner runs commands via exec.CommandContext.
type ExecRunner struct{}

func (r *ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		return trimmed, fmt.Errorf("%s %s: %s: %w", name, strings.Join(args, " "), trimmed, err)
	}
	return trimmed, nil
}

// ChangeRequest describes one proposed change: the target repository,
// the branch to create, the ordered file writes, and the PR metadata.
type ChangeRequest struct {
	RepoURL    string
	BaseBranch string
	BranchName string
	Files      []types.FileChange
	Commit     string
	Title      string
	Body       string
	AutoMerge  bool
}

// Config holds hosting client configuration.
type Config struct {
	// CommandTimeout bounds each git/gh invocation.
	CommandTimeout time.Duration
	Logger         zerolog.Logger
}

// Client opens change requests against the hosting provider.
type Client struct {
	cmd     CmdRunner
	timeout time.Duration
	log     zerolog.Logger
}

// NewClient creates a hosting client. A nil runner uses ExecRunner.
func NewClient(cfg Config, runner CmdRunner) *Client {
	if runner == nil {
		runner = &ExecRunner{}
	}
	timeout := cfg.CommandTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{cmd: runner, timeout: timeout, log: cfg.Logger}
}

var prNumberRegex = regexp.MustCompile(`/pull/(\d+)`)

// Create opens a change request for req. Any failure is wrapped in
// ErrDelivery: at this point a valid fix exists but cannot be
// delivered, which the orchestrator treats as the one hard failure.
func (c *Client) Create(ctx context.Context, req ChangeRequest) (*types.PullRequest, error) {
	if len(req.Files) == 0 {
		return nil, fmt.Errorf("%w: change request contains no files", types.ErrDelivery)
	}

	checkout, err := os.MkdirTemp("", "patchlane-pr-*")
	if err != nil {
		return nil, fmt.Errorf("%w: allocate checkout: %v", types.ErrDelivery, err)
	}
	defer func() {
		if err := os.RemoveAll(checkout); err != nil {
			c.log.Warn().Err(err).Msg("checkout cleanup failed, continuing")
		}
	}()

	repoDir := filepath.Join(checkout, "repo")
	steps := [][]string{
		{"git", "clone", "--depth", "1", "--single-branch", "--branch", req.BaseBranch, req.RepoURL, repoDir},
		{"git", "-C", repoDir, "checkout", "-b", req.BranchName},
	}
	for _, step := range steps {
		if err := c.run(ctx, "", step[0], step[1:]...); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrDelivery, err)
		}
	}

	for _, fc := range req.Files {
		if err := types.ValidateRelPath(fc.Path); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrDelivery, err)
		}
		abs := filepath.Join(repoDir, filepath.FromSlash(fc.Path))
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return nil, fmt.Errorf("%w: create directories for %s: %v", types.ErrDelivery, fc.Path, err)
		}
		if err := os.WriteFile(abs, []byte(fc.Content), 0644); err != nil {
			return nil, fmt.Errorf("%w: write %s: %v", types.ErrDelivery, fc.Path, err)
		}
	}

	commitSteps := [][]string{
		{"git", "-C", repoDir, "add", "-A"},
		{"git", "-C", repoDir, "commit", "-m", req.Commit},
		{"git", "-C", repoDir, "push", "origin", req.BranchName},
	}
	for _, step := range commitSteps {
		if err := c.run(ctx, "", step[0], step[1:]...); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrDelivery, err)
		}
	}

	url, err := c.runOut(ctx, repoDir, "gh", "pr", "create",
		"--title", req.Title, "--body", req.Body,
		"--head", req.BranchName, "--base", req.BaseBranch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDelivery, err)
	}

	pr := &types.PullRequest{
		BranchName: req.BranchName,
		URL:        url,
		Number:     parsePRNumber(url),
	}

	if req.AutoMerge {
		// Merge failure is not delivery failure: the change request
		// exists and is reviewable.
		if err := c.run(ctx, repoDir, "gh", "pr", "merge", req.BranchName, "--squash", "--auto"); err != nil {
			c.log.Warn().Err(err).Str("branch", req.BranchName).
				Msg("auto-merge request failed, leaving PR open")
		} else {
			pr.Merged = true
		}
	}

	c.log.Info().Str("url", pr.URL).Bool("merged", pr.Merged).Msg("change request opened")
	return pr, nil
}

func (c *Client) run(ctx context.Context, dir string, name string, args ...string) error {
	_, err := c.runOut(ctx, dir, name, args...)
	return err
}

func (c *Client) runOut(ctx context.Context, dir string, name string, args ...string) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.cmd.Run(cmdCtx, dir, name, args...)
}

// parsePRNumber extracts the PR number from its URL, 0 if absent.
func parsePRNumber(url string) int {
	match := prNumberRegex.FindStringSubmatch(url)
	if match == nil {
		return 0
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}
	return n
}

// BranchName derives a change-request branch name from an issue id.
// A nanosecond token keeps retried issues from colliding.
func BranchName(issueID string) string {
	return fmt.Sprintf("patchlane/%s-%d", issueID, time.Now().UnixNano())
}
