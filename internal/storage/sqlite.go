package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/patchlane/patchlane/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS issues (
	id             TEXT PRIMARY KEY,
	title          TEXT NOT NULL,
	description    TEXT NOT NULL,
	repro_steps    TEXT NOT NULL DEFAULT '',
	severity       TEXT NOT NULL,
	repo_url       TEXT NOT NULL,
	status         TEXT NOT NULL,
	ai_decision    TEXT NOT NULL DEFAULT '',
	ai_reason      TEXT NOT NULL DEFAULT '',
	logs           TEXT NOT NULL DEFAULT '[]',
	workspace_id   TEXT NOT NULL DEFAULT '',
	branch_name    TEXT NOT NULL DEFAULT '',
	pr_url         TEXT NOT NULL DEFAULT '',
	pr_merged      INTEGER NOT NULL DEFAULT 0,
	commit_message TEXT NOT NULL DEFAULT '',
	change_summary TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_issues_status ON issues(status);
CREATE INDEX IF NOT EXISTS idx_issues_created_at ON issues(created_at);
`

// SQLiteStore implements Store on a local sqlite database, so issues
// remain inspectable after the process exits. In-flight pipeline
// progress is not resumed across restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// Transactions must take the write lock at BEGIN: a deferred
	// transaction that upgrades to a write after reading fails straight
	// away with SQLITE_BUSY when another writer got there first, and
	// busy_timeout cannot retry that upgrade.
	db, err := sql.Open("sqlite3", "file:"+path+"?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateIssue(ctx context.Context, issue *types.Issue) error {
	if err := issue.Validate(); err != nil {
		return fmt.Errorf("invalid issue: %w", err)
	}

	logsJSON, err := marshalLogs(issue.Logs)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO issues (
			id, title, description, repro_steps, severity, repo_url,
			status, ai_decision, ai_reason, logs, workspace_id,
			branch_name, pr_url, pr_merged, commit_message, change_summary,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.ID, issue.Title, issue.Description, issue.ReproSteps,
		string(issue.Severity), issue.RepoURL, string(issue.Status),
		string(issue.AIDecision), issue.AIReason, logsJSON, issue.WorkspaceID,
		issue.BranchName, issue.PRURL, boolToInt(issue.PRMerged),
		issue.CommitMessage, issue.ChangeSummary,
		issue.CreatedAt, issue.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create issue %s: %w", issue.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetIssue(ctx context.Context, id string) (*types.Issue, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" FROM issues WHERE id = ?", id)
	issue, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issue %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue %s: %w", id, err)
	}
	return issue, nil
}

func (s *SQLiteStore) ListIssues(ctx context.Context) ([]*types.Issue, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+" FROM issues ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*types.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate issues: %w", err)
	}
	return issues, nil
}

func (s *SQLiteStore) UpdateIssue(ctx context.Context, id string, mutate func(*types.Issue) error) (*types.Issue, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, selectColumns+" FROM issues WHERE id = ?", id)
	current, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issue %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read issue %s: %w", id, err)
	}

	updated := *current
	updated.Logs = append([]string(nil), current.Logs...)
	if err := mutate(&updated); err != nil {
		return nil, err
	}
	if err := checkTransition(current.Status, updated.Status); err != nil {
		return nil, err
	}
	updated.UpdatedAt = time.Now()

	logsJSON, err := marshalLogs(updated.Logs)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE issues SET
			status = ?, ai_decision = ?, ai_reason = ?, logs = ?,
			workspace_id = ?, branch_name = ?, pr_url = ?, pr_merged = ?,
			commit_message = ?, change_summary = ?, updated_at = ?
		WHERE id = ?`,
		string(updated.Status), string(updated.AIDecision), updated.AIReason,
		logsJSON, updated.WorkspaceID, updated.BranchName, updated.PRURL,
		boolToInt(updated.PRMerged), updated.CommitMessage,
		updated.ChangeSummary, updated.UpdatedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update issue %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update for %s: %w", id, err)
	}
	return &updated, nil
}

func (s *SQLiteStore) AppendLog(ctx context.Context, id string, lines ...string) error {
	_, err := s.UpdateIssue(ctx, id, func(issue *types.Issue) error {
		issue.Logs = append(issue.Logs, lines...)
		return nil
	})
	return err
}

func (s *SQLiteStore) Statistics(ctx context.Context) (*types.Statistics, error) {
	issues, err := s.ListIssues(ctx)
	if err != nil {
		return nil, err
	}
	return statistics(issues), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectColumns = `SELECT id, title, description, repro_steps, severity, repo_url,
	status, ai_decision, ai_reason, logs, workspace_id, branch_name,
	pr_url, pr_merged, commit_message, change_summary, created_at, updated_at`

// scanner abstracts *sql.Row and *sql.Rows for scanIssue.
type scanner interface {
	Scan(dest ...any) error
}

func scanIssue(row scanner) (*types.Issue, error) {
	var issue types.Issue
	var severity, status, decision, logsJSON string
	var merged int

	err := row.Scan(
		&issue.ID, &issue.Title, &issue.Description, &issue.ReproSteps,
		&severity, &issue.RepoURL, &status, &decision, &issue.AIReason,
		&logsJSON, &issue.WorkspaceID, &issue.BranchName, &issue.PRURL,
		&merged, &issue.CommitMessage, &issue.ChangeSummary,
		&issue.CreatedAt, &issue.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	issue.Severity = types.Severity(severity)
	issue.Status = types.Status(status)
	issue.AIDecision = types.AIDecision(decision)
	issue.PRMerged = merged != 0
	if err := json.Unmarshal([]byte(logsJSON), &issue.Logs); err != nil {
		return nil, fmt.Errorf("failed to decode logs for %s: %w", issue.ID, err)
	}
	return &issue, nil
}

func marshalLogs(logs []string) (string, error) {
	if logs == nil {
		logs = []string{}
	}
	data, err := json.Marshal(logs)
	if err != nil {
		return "", fmt.Errorf("failed to encode logs: %w", err)
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
