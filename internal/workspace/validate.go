package workspace

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// maxValidationOutput bounds the captured validation output.
const maxValidationOutput = 10 * 1024

// Validate discovers a test or build command for the cloned tree and
// runs it with a bounded timeout. Validation is advisory in this
// design: a failing command is reported, never fatal, and a tree with
// no discoverable command reports trivial success.
func (m *manager) Validate(ctx context.Context, ws *Workspace) ValidationResult {
	command := discoverValidationCommand(ws.RepoPath)
	if command == nil {
		ws.Log("no test or build command discoverable, skipping validation")
		return ValidationResult{Ran: false, Success: true}
	}

	ws.Log("running validation: %s", strings.Join(command, " "))
	output, err := runCommand(ctx, ws.RepoPath, m.cfg.ValidateTimeout, command[0], command[1:]...)
	result := ValidationResult{
		Ran:     true,
		Success: err == nil,
		Command: strings.Join(command, " "),
		Output:  truncateOutput(output, maxValidationOutput),
	}
	if err != nil {
		ws.Log("validation failed (advisory): %v", err)
	} else {
		ws.Log("validation passed")
	}
	return result
}

// discoverValidationCommand picks one command for the tree, or nil.
func discoverValidationCommand(repoPath string) []string {
	if hasNpmTestScript(filepath.Join(repoPath, "package.json")) {
		return []string{"npm", "test", "--silent"}
	}
	if _, err := os.Stat(filepath.Join(repoPath, "go.mod")); err == nil {
		return []string{"go", "test", "./..."}
	}
	for _, marker := range []string{"pytest.ini", "setup.py", "pyproject.toml"} {
		if _, err := os.Stat(filepath.Join(repoPath, marker)); err == nil {
			return []string{"python", "-m", "pytest", "-x", "-q"}
		}
	}
	return nil
}

// hasNpmTestScript reports whether package.json declares a real test
// script (npm's scaffold placeholder exits non-zero by design).
func hasNpmTestScript(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return false
	}
	script, ok := pkg.Scripts["test"]
	return ok && !strings.Contains(script, "no test specified")
}
