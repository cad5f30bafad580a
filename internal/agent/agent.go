// Package agent drives the bounded fix-synthesis protocol against one
// workspace: pick candidate files, request rewrites, persist them.
// The agent never raises past its own boundary; every failure is
// converted into a failed Result and the orchestrator decides what it
// means for the issue.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/patchlane/patchlane/internal/ai"
	"github.com/patchlane/patchlane/internal/types"
	"github.com/patchlane/patchlane/internal/workspace"
)

// maxExcerptLen caps the per-file preview in the rendered patch summary.
const maxExcerptLen = 400

// sourceExtensions is the deterministic ranking fallback: when the
// collaborator's path selection cannot be parsed, the first files
// matching these extensions are used instead.
var sourceExtensions = []string{
	".ts", ".tsx", ".js", ".jsx", ".go", ".py", ".rb", ".java", ".rs", ".c", ".cc", ".cpp",
}

// Generator is the remote fix-generation collaborator contract.
type Generator interface {
	// RankFiles selects at most ai.MaxCandidateFiles paths related to the
	// report. Returns ErrParse when the response was unusable.
	RankFiles(ctx context.Context, issueText string, paths []string) ([]string, error)

	// SynthesizeFix rewrites the given files to fix the report.
	SynthesizeFix(ctx context.Context, issueText string, files []ai.FileContent) (*types.FixResult, error)
}

// Result is the agent's output contract.
type Result struct {
	Success       bool
	ChangedFiles  []string
	CommitMessage string
	Summary       string
	Logs          []string
	Error         string
}

// Agent executes the three-call fix-synthesis protocol.
type Agent struct {
	manager workspace.Manager
	gen     Generator
	log     zerolog.Logger
}

// New creates a fix synthesis agent.
func New(manager workspace.Manager, gen Generator, logger zerolog.Logger) *Agent {
	return &Agent{manager: manager, gen: gen, log: logger}
}

// Run executes the protocol against ws. It always returns a Result:
// any failure, including a panic in a collaborator call, is captured
// with the step log accumulated so far.
func (a *Agent) Run(ctx context.Context, issue *types.Issue, ws *workspace.Workspace) (result *Result) {
	var logs []string
	step := func(format string, args ...any) {
		line := fmt.Sprintf(format, args...)
		logs = append(logs, line)
		a.log.Debug().Str("issue", issue.ID).Msg(line)
	}

	defer func() {
		if r := recover(); r != nil {
			result = &Result{
				Success: false,
				Logs:    logs,
				Error:   fmt.Sprintf("agent panicked: %v", r),
			}
		}
	}()

	fail := func(err error) *Result {
		step("agent failed: %v", err)
		return &Result{Success: false, Logs: logs, Error: err.Error()}
	}

	issueText := issue.ReportText()

	// Step 1: enumerate and rank candidate files.
	paths, err := a.manager.ListFiles(ws)
	if err != nil {
		return fail(fmt.Errorf("list files: %w", err))
	}
	step("repository contains %d files", len(paths))
	if len(paths) == 0 {
		return fail(fmt.Errorf("%w: repository contains no files", types.ErrRetrieval))
	}

	candidates, err := a.gen.RankFiles(ctx, issueText, paths)
	switch {
	case err == nil:
		step("collaborator selected %d candidate files: %s", len(candidates), strings.Join(candidates, ", "))
	case errors.Is(err, types.ErrParse):
		candidates = fallbackCandidates(paths)
		step("file ranking unparseable, falling back to %d source files: %s",
			len(candidates), strings.Join(candidates, ", "))
		if len(candidates) == 0 {
			return fail(fmt.Errorf("%w: no source files for ranking fallback", types.ErrRetrieval))
		}
	default:
		return fail(fmt.Errorf("rank files: %w", err))
	}

	// Step 2: read candidates; individual read failures are skippable,
	// zero readable files is not.
	var contents []ai.FileContent
	for _, path := range candidates {
		content, err := a.manager.ReadFile(ws, path)
		if err != nil {
			step("skipping unreadable file %s: %v", path, err)
			continue
		}
		contents = append(contents, ai.FileContent{Path: path, Content: content})
	}
	if len(contents) == 0 {
		return fail(fmt.Errorf("%w: none of the candidate files were readable", types.ErrRetrieval))
	}
	step("read %d of %d candidate files", len(contents), len(candidates))

	// Step 3: request the rewrite.
	fix, err := a.gen.SynthesizeFix(ctx, issueText, contents)
	if err != nil {
		return fail(fmt.Errorf("synthesize fix: %w", err))
	}
	step("collaborator returned %d file rewrites", len(fix.Files))

	// Step 4: persist every rewrite into the workspace.
	var changed []string
	for _, fc := range fix.Files {
		if err := a.manager.WriteFile(ws, fc.Path, fc.Content); err != nil {
			return fail(fmt.Errorf("write %s: %w", fc.Path, err))
		}
		changed = append(changed, fc.Path)
		step("wrote %s (%d bytes)", fc.Path, len(fc.Content))
	}

	return &Result{
		Success:       true,
		ChangedFiles:  changed,
		CommitMessage: fix.CommitMessage,
		Summary:       renderSummary(fix),
		Logs:          logs,
	}
}

// fallbackCandidates returns the first files matching common source
// extensions, in listing order, capped at the candidate limit.
func fallbackCandidates(paths []string) []string {
	var candidates []string
	for _, path := range paths {
		for _, ext := range sourceExtensions {
			if strings.HasSuffix(path, ext) {
				candidates = append(candidates, path)
				break
			}
		}
		if len(candidates) == ai.MaxCandidateFiles {
			break
		}
	}
	return candidates
}

// renderSummary renders the collaborator's summary plus a bounded
// per-file excerpt of each rewrite.
func renderSummary(fix *types.FixResult) string {
	var b strings.Builder
	b.WriteString(fix.Summary)
	for _, fc := range fix.Files {
		excerpt := fc.Content
		if len(excerpt) > maxExcerptLen {
			excerpt = excerpt[:maxExcerptLen] + "\n... (truncated)"
		}
		fmt.Fprintf(&b, "\n\n--- %s ---\n%s", fc.Path, excerpt)
	}
	return b.String()
}
