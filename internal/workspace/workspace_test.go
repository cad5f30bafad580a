package workspace

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/patchlane/patchlane/internal/types"
)

// setupTestRepo creates a local git repository with a couple of files.
func setupTestRepo(t *testing.T) string {
	t.Helper()

	repoPath := filepath.Join(t.TempDir(), "origin")
	if err := os.MkdirAll(filepath.Join(repoPath, "src"), 0755); err != nil {
		t.Fatalf("Failed to create repo dirs: %v", err)
	}

	files := map[string]string{
		"README.md":    "# test repo\n",
		"src/app.ts":   "export const app = () => {};\n",
		"src/utils.ts": "export const add = (a: number, b: number) => a + b;\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(repoPath, name), []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}

	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test"},
		{"add", "."},
		{"commit", "-m", "initial"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = repoPath
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v (%s)", args, err, out)
		}
	}
	return repoPath
}

func setupManager(t *testing.T) Manager {
	t.Helper()
	m, err := NewManager(Config{
		Root:            filepath.Join(t.TempDir(), "workspaces"),
		CloneTimeout:    time.Minute,
		InstallTimeout:  time.Minute,
		ValidateTimeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	return m
}

func TestNewManagerRequiresRoot(t *testing.T) {
	if _, err := NewManager(Config{}); err == nil {
		t.Error("NewManager() should fail with empty root")
	}
}

func TestCreateAllocatesUniqueRoots(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	first, err := m.Create(ctx)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	second, err := m.Create(ctx)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if first.Root == second.Root {
		t.Error("two workspaces share a root directory")
	}
	for _, ws := range []*Workspace{first, second} {
		if info, err := os.Stat(ws.Root); err != nil || !info.IsDir() {
			t.Errorf("workspace root %s missing: %v", ws.Root, err)
		}
	}
	if m.Active() != 2 {
		t.Errorf("Active() = %d, want 2", m.Active())
	}
}

func TestCloneAndListFiles(t *testing.T) {
	repo := setupTestRepo(t)
	m := setupManager(t)
	ctx := context.Background()

	ws, err := m.Create(ctx)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	defer m.Destroy(ws)

	if err := m.Clone(ctx, ws, repo); err != nil {
		t.Fatalf("Clone() error: %v", err)
	}

	files, err := m.ListFiles(ws)
	if err != nil {
		t.Fatalf("ListFiles() error: %v", err)
	}

	want := map[string]bool{"README.md": true, "src/app.ts": true, "src/utils.ts": true}
	if len(files) != len(want) {
		t.Errorf("ListFiles() = %v, want %d entries", files, len(want))
	}
	for _, f := range files {
		if !want[f] {
			t.Errorf("unexpected file %q (is .git excluded?)", f)
		}
	}
}

func TestCloneMissingRemoteIsRetrievalError(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	ws, err := m.Create(ctx)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	defer m.Destroy(ws)

	err = m.Clone(ctx, ws, filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Fatal("Clone() of a missing repository should fail")
	}
	if !errors.Is(err, types.ErrRetrieval) {
		t.Errorf("Clone() error = %v, want ErrRetrieval", err)
	}
}

func TestListFilesExcludesCaches(t *testing.T) {
	repo := setupTestRepo(t)
	m := setupManager(t)
	ctx := context.Background()

	ws, _ := m.Create(ctx)
	defer m.Destroy(ws)
	if err := m.Clone(ctx, ws, repo); err != nil {
		t.Fatalf("Clone() error: %v", err)
	}

	for _, dir := range []string{"node_modules/pkg", "dist", "__pycache__"} {
		full := filepath.Join(ws.RepoPath, dir)
		if err := os.MkdirAll(full, 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(full, "junk.js"), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := m.ListFiles(ws)
	if err != nil {
		t.Fatalf("ListFiles() error: %v", err)
	}
	for _, f := range files {
		if strings.Contains(f, "node_modules") || strings.Contains(f, "dist") || strings.Contains(f, "__pycache__") {
			t.Errorf("excluded directory leaked into listing: %s", f)
		}
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	repo := setupTestRepo(t)
	m := setupManager(t)
	ctx := context.Background()

	ws, _ := m.Create(ctx)
	defer m.Destroy(ws)
	if err := m.Clone(ctx, ws, repo); err != nil {
		t.Fatalf("Clone() error: %v", err)
	}

	content, err := m.ReadFile(ws, "src/app.ts")
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if !strings.Contains(content, "export const app") {
		t.Errorf("ReadFile() content = %q", content)
	}

	if err := m.WriteFile(ws, "src/nested/new.ts", "export {};\n"); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	got, err := m.ReadFile(ws, "src/nested/new.ts")
	if err != nil {
		t.Fatalf("ReadFile() after write error: %v", err)
	}
	if got != "export {};\n" {
		t.Errorf("round trip = %q", got)
	}

	// Overwrite.
	if err := m.WriteFile(ws, "src/app.ts", "// replaced\n"); err != nil {
		t.Fatalf("WriteFile() overwrite error: %v", err)
	}
	got, _ = m.ReadFile(ws, "src/app.ts")
	if got != "// replaced\n" {
		t.Errorf("overwrite = %q", got)
	}
}

func TestReadMissingFile(t *testing.T) {
	repo := setupTestRepo(t)
	m := setupManager(t)
	ctx := context.Background()

	ws, _ := m.Create(ctx)
	defer m.Destroy(ws)
	if err := m.Clone(ctx, ws, repo); err != nil {
		t.Fatalf("Clone() error: %v", err)
	}

	if _, err := m.ReadFile(ws, "no/such/file.ts"); err == nil {
		t.Error("ReadFile() of a missing file should fail")
	}
}

func TestPathTraversalRejected(t *testing.T) {
	m := setupManager(t)
	ws, _ := m.Create(context.Background())
	defer m.Destroy(ws)

	for _, path := range []string{"../outside.txt", "/etc/passwd", "a/../../b"} {
		if err := m.WriteFile(ws, path, "x"); err == nil {
			t.Errorf("WriteFile(%q) should be rejected", path)
		}
		if _, err := m.ReadFile(ws, path); err == nil {
			t.Errorf("ReadFile(%q) should be rejected", path)
		}
	}
}

func TestInstallDependenciesNoManifestIsNoop(t *testing.T) {
	repo := setupTestRepo(t)
	m := setupManager(t)
	ctx := context.Background()

	ws, _ := m.Create(ctx)
	defer m.Destroy(ws)
	if err := m.Clone(ctx, ws, repo); err != nil {
		t.Fatalf("Clone() error: %v", err)
	}

	if err := m.InstallDependencies(ctx, ws); err != nil {
		t.Errorf("InstallDependencies() with no manifest should be a no-op, got %v", err)
	}

	logs := strings.Join(ws.Logs(), "\n")
	if !strings.Contains(logs, "no recognizable dependency manifest") {
		t.Errorf("missing no-op log line, logs: %s", logs)
	}
}

func TestInstallDependenciesFailureIsNonFatal(t *testing.T) {
	repo := setupTestRepo(t)
	m := setupManager(t)
	ctx := context.Background()

	ws, _ := m.Create(ctx)
	defer m.Destroy(ws)
	if err := m.Clone(ctx, ws, repo); err != nil {
		t.Fatalf("Clone() error: %v", err)
	}

	// A requirements file including a missing file makes pip exit
	// non-zero immediately; an absent pip binary fails the same way.
	manifest := filepath.Join(ws.RepoPath, "requirements.txt")
	if err := os.WriteFile(manifest, []byte("-r does-not-exist.txt\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	if err := m.InstallDependencies(ctx, ws); err != nil {
		t.Errorf("InstallDependencies() with failing install should not error, got %v", err)
	}

	logs := strings.Join(ws.Logs(), "\n")
	if !strings.Contains(logs, "detected requirements.txt") {
		t.Errorf("missing manifest detection log line, logs: %s", logs)
	}
	if !strings.Contains(logs, "dependency install failed (continuing)") {
		t.Errorf("missing non-fatal failure log line, logs: %s", logs)
	}
}

func TestValidateTrivialSuccessWithoutCommand(t *testing.T) {
	repo := setupTestRepo(t)
	m := setupManager(t)
	ctx := context.Background()

	ws, _ := m.Create(ctx)
	defer m.Destroy(ws)
	if err := m.Clone(ctx, ws, repo); err != nil {
		t.Fatalf("Clone() error: %v", err)
	}

	result := m.Validate(ctx, ws)
	if result.Ran {
		t.Error("Validate() should not run anything for a bare tree")
	}
	if !result.Success {
		t.Error("Validate() without a command must report trivial success")
	}
}

func TestDiscoverValidationCommand(t *testing.T) {
	dir := t.TempDir()

	if cmd := discoverValidationCommand(dir); cmd != nil {
		t.Errorf("bare tree: command = %v, want nil", cmd)
	}

	// Placeholder test script is not a real command.
	pkg := `{"scripts": {"test": "echo \"Error: no test specified\" && exit 1"}}`
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(pkg), 0644); err != nil {
		t.Fatal(err)
	}
	if cmd := discoverValidationCommand(dir); cmd != nil {
		t.Errorf("placeholder script: command = %v, want nil", cmd)
	}

	pkg = `{"scripts": {"test": "vitest run"}}`
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(pkg), 0644); err != nil {
		t.Fatal(err)
	}
	cmd := discoverValidationCommand(dir)
	if len(cmd) == 0 || cmd[0] != "npm" {
		t.Errorf("npm tree: command = %v, want npm test", cmd)
	}
}

func TestDestroyIsIdempotentAndComplete(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	ws, err := m.Create(ctx)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := m.WriteFile(ws, "some/file.txt", "data"); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	m.Destroy(ws)
	if _, err := os.Stat(ws.Root); !os.IsNotExist(err) {
		t.Errorf("workspace root still present after Destroy: %v", err)
	}
	if m.Active() != 0 {
		t.Errorf("Active() = %d after Destroy, want 0", m.Active())
	}

	// Second destroy must be a safe no-op.
	m.Destroy(ws)
	m.Destroy(nil)
}

func TestWorkspaceLogIsOrdered(t *testing.T) {
	ws := &Workspace{ID: "ws-test"}
	ws.Log("first %d", 1)
	ws.Log("second")

	logs := ws.Logs()
	if len(logs) != 2 || logs[0] != "first 1" || logs[1] != "second" {
		t.Errorf("Logs() = %v", logs)
	}

	// Mutating the returned slice must not touch workspace state.
	logs[0] = "tampered"
	if ws.Logs()[0] != "first 1" {
		t.Error("Logs() must return a copy")
	}
}
