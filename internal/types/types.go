// Package types defines the core data model shared across the pipeline.
package types

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Issue represents one submitted bug report and its pipeline record.
type Issue struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ReproSteps  string   `json:"repro_steps,omitempty"`
	Severity    Severity `json:"severity"`
	RepoURL     string   `json:"repo_url"`

	Status      Status     `json:"status"`
	AIDecision  AIDecision `json:"ai_decision,omitempty"`
	AIReason    string     `json:"ai_reason,omitempty"`
	Logs        []string   `json:"logs"`
	WorkspaceID string     `json:"workspace_id,omitempty"`

	BranchName    string `json:"branch_name,omitempty"`
	PRURL         string `json:"pr_url,omitempty"`
	PRMerged      bool   `json:"pr_merged"`
	CommitMessage string `json:"commit_message,omitempty"`
	ChangeSummary string `json:"change_summary,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the issue's descriptive fields are usable.
func (i *Issue) Validate() error {
	if strings.TrimSpace(i.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if len(i.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(i.Title))
	}
	if strings.TrimSpace(i.Description) == "" {
		return fmt.Errorf("description is required")
	}
	if !i.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", i.Severity)
	}
	if strings.TrimSpace(i.RepoURL) == "" {
		return fmt.Errorf("repo_url is required")
	}
	if !i.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", i.Status)
	}
	return nil
}

// ReportText returns the deterministic concatenation of the issue's
// descriptive fields used as input to classification and fix synthesis.
func (i *Issue) ReportText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", i.Title)
	fmt.Fprintf(&b, "Severity: %s\n", i.Severity)
	fmt.Fprintf(&b, "Description:\n%s\n", i.Description)
	if i.ReproSteps != "" {
		fmt.Fprintf(&b, "Steps to reproduce:\n%s\n", i.ReproSteps)
	}
	return b.String()
}

// Status represents the pipeline phase of an issue.
type Status string

const (
	StatusReceived    Status = "received"
	StatusClassifying Status = "classifying"
	StatusSandboxing  Status = "sandboxing"
	StatusFixing      Status = "fixing"
	StatusPROpened    Status = "pr_opened"
	StatusMerged      Status = "merged"
	StatusNotified    Status = "notified"
	StatusFailed      Status = "failed"
)

// IsValid checks if the status value is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusReceived, StatusClassifying, StatusSandboxing, StatusFixing,
		StatusPROpened, StatusMerged, StatusNotified, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusMerged, StatusNotified, StatusFailed:
		return true
	}
	return false
}

// transitions is the forward transition graph. `notified` is reachable
// from classifying onward (escalation); `failed` from any non-terminal
// phase (unrecoverable error, including panic recovery).
var transitions = map[Status][]Status{
	StatusReceived:    {StatusClassifying, StatusFailed},
	StatusClassifying: {StatusSandboxing, StatusNotified, StatusFailed},
	StatusSandboxing:  {StatusFixing, StatusNotified, StatusFailed},
	StatusFixing:      {StatusPROpened, StatusNotified, StatusFailed},
	StatusPROpened:    {StatusMerged, StatusNotified, StatusFailed},
}

// CanTransition reports whether the status graph permits from → to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AIDecision is the classification gate's verdict for an issue.
type AIDecision string

const (
	DecisionAutomated AIDecision = "AUTOMATED"
	DecisionManual    AIDecision = "MANUAL"
	DecisionUnset     AIDecision = ""
)

// IsValid checks if the decision value is valid.
func (d AIDecision) IsValid() bool {
	switch d {
	case DecisionAutomated, DecisionManual, DecisionUnset:
		return true
	}
	return false
}

// Severity categorizes the reported impact of a bug.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// IsValid checks if the severity value is valid.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// FileChange is one full-content rewrite of a repository file.
type FileChange struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FixResult is the fix synthesis output contract: a short imperative
// commit message, a human-readable summary, and an ordered set of
// full-content file rewrites relative to the repository root.
type FixResult struct {
	CommitMessage string       `json:"commit_message"`
	Summary       string       `json:"summary"`
	Files         []FileChange `json:"files"`
}

// Validate rejects empty results and paths that escape the repository
// root. Paths must be relative and must not traverse upward.
func (f *FixResult) Validate() error {
	if strings.TrimSpace(f.CommitMessage) == "" {
		return fmt.Errorf("commit message is required")
	}
	if len(f.Files) == 0 {
		return fmt.Errorf("fix contains no file changes")
	}
	for _, fc := range f.Files {
		if err := ValidateRelPath(fc.Path); err != nil {
			return err
		}
	}
	return nil
}

// ValidateRelPath rejects absolute paths and paths that escape their
// root via traversal.
func ValidateRelPath(path string) error {
	if path == "" {
		return fmt.Errorf("empty file path")
	}
	if filepath.IsAbs(path) {
		return fmt.Errorf("absolute file path not allowed: %s", path)
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("file path escapes repository root: %s", path)
	}
	return nil
}

// PullRequest is the change-request collaborator's response: where the
// proposed change landed and whether it was auto-merged.
type PullRequest struct {
	BranchName string `json:"branch_name"`
	URL        string `json:"url"`
	Number     int    `json:"number"`
	Merged     bool   `json:"merged"`
}

// Statistics summarizes all issues currently in the store.
type Statistics struct {
	Total     int            `json:"total"`
	ByStatus  map[Status]int `json:"by_status"`
	Automated int            `json:"automated"`
	Manual    int            `json:"manual"`
	Merged    int            `json:"merged"`
}
