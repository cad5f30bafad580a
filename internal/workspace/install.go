package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// installRule maps a manifest artifact to its install command.
type installRule struct {
	manifest string
	command  []string
}

// installRules are checked in priority order: the JS/TS lockfile family
// first, then Python manifests. Exactly one matching command runs.
var installRules = []installRule{
	{"pnpm-lock.yaml", []string{"pnpm", "install", "--frozen-lockfile"}},
	{"yarn.lock", []string{"yarn", "install", "--frozen-lockfile"}},
	{"package-lock.json", []string{"npm", "ci"}},
	{"package.json", []string{"npm", "install"}},
	{"requirements.txt", []string{"pip", "install", "-r", "requirements.txt"}},
	{"pyproject.toml", []string{"pip", "install", "-e", "."}},
}

// InstallDependencies inspects the cloned tree for a recognizable
// manifest and runs the matching install command. A tree with no
// manifest is a no-op. A failing install is logged as a warning only:
// partial dependencies must not block an otherwise viable fix attempt.
func (m *manager) InstallDependencies(ctx context.Context, ws *Workspace) error {
	for _, rule := range installRules {
		if _, err := os.Stat(filepath.Join(ws.RepoPath, rule.manifest)); err != nil {
			continue
		}

		ws.Log("detected %s, running %s", rule.manifest, strings.Join(rule.command, " "))
		output, err := runCommand(ctx, ws.RepoPath, m.cfg.InstallTimeout, rule.command[0], rule.command[1:]...)
		if err != nil {
			ws.Log("dependency install failed (continuing): %v", err)
			m.log.Warn().Str("workspace", ws.ID).Err(err).
				Str("output", truncateOutput(output, 2000)).
				Msg("dependency install failed, continuing without it")
			return nil
		}

		ws.Log("dependency install completed")
		return nil
	}

	ws.Log("no recognizable dependency manifest, skipping install")
	return nil
}
