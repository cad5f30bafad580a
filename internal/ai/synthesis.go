package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/patchlane/patchlane/internal/types"
)

// MaxCandidateFiles bounds how many files the ranking call may select.
const MaxCandidateFiles = 5

// maxRankedPaths caps how many repository paths are shown to the
// ranking call, keeping the prompt bounded on large repositories.
const maxRankedPaths = 500

const rankPromptTemplate = `You are locating the files most likely responsible for a bug.

Bug report:
%s

Repository files:
%s

Respond with ONLY a JSON array of at most %d relative paths from the
list above, most relevant first. Example: ["src/auth.ts", "src/session.ts"]`

const synthesizePromptTemplate = `You are fixing a bug. Rewrite only the files that need to change.

Bug report:
%s

Current file contents:
%s

Respond with ONLY a JSON object:
{
  "commit_message": "<short imperative summary>",
  "summary": "<human-readable description of the change>",
  "files": [{"path": "<relative path>", "content": "<full new file content>"}]
}
Each "content" must be the COMPLETE new file, not a diff.`

// FileContent pairs a repository-relative path with its current content.
type FileContent struct {
	Path    string
	Content string
}

// RankFiles asks the collaborator which files are most likely related
// to the report. The response is capped at MaxCandidateFiles paths and
// filtered to paths actually present in the input list. Transport
// failures are returned as errors; an unparseable response returns
// ErrParse so the caller can apply its deterministic fallback.
func (c *Client) RankFiles(ctx context.Context, issueText string, paths []string) ([]string, error) {
	shown := paths
	if len(shown) > maxRankedPaths {
		shown = shown[:maxRankedPaths]
	}

	prompt := fmt.Sprintf(rankPromptTemplate, issueText, strings.Join(shown, "\n"), MaxCandidateFiles)
	raw, err := c.complete(ctx, "rank-files", ModelHaiku, prompt, 1024)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrTransport, err)
	}

	parsed := Parse[[]string](raw, "rank-files")
	if !parsed.Success {
		return nil, fmt.Errorf("%w: %s", types.ErrParse, parsed.Error)
	}

	known := make(map[string]bool, len(paths))
	for _, p := range paths {
		known[p] = true
	}

	var candidates []string
	for _, p := range parsed.Data {
		p = strings.TrimSpace(p)
		if !known[p] {
			continue
		}
		candidates = append(candidates, p)
		if len(candidates) == MaxCandidateFiles {
			break
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: ranking returned no usable paths", types.ErrParse)
	}
	return candidates, nil
}

// SynthesizeFix asks the collaborator to rewrite the given files to fix
// the reported bug. The structured payload is recovered even when the
// model wraps it in prose; if recovery is impossible an ErrParse is
// returned.
func (c *Client) SynthesizeFix(ctx context.Context, issueText string, files []FileContent) (*types.FixResult, error) {
	var contents strings.Builder
	for _, f := range files {
		fmt.Fprintf(&contents, "=== %s ===\n%s\n\n", f.Path, f.Content)
	}

	prompt := fmt.Sprintf(synthesizePromptTemplate, issueText, contents.String())
	raw, err := c.complete(ctx, "synthesize-fix", ModelSonnet, prompt, 32000)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrTransport, err)
	}

	parsed := Parse[types.FixResult](raw, "synthesize-fix")
	if !parsed.Success {
		return nil, fmt.Errorf("%w: %s", types.ErrParse, parsed.Error)
	}

	fix := parsed.Data
	if err := fix.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrParse, err)
	}
	return &fix, nil
}
