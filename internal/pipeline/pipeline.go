// Package pipeline is the issue orchestrator: it advances each issue
// through classification, sandboxing, fix synthesis, and delivery,
// committing every state transition to the shared issue store and
// guaranteeing a terminal, inspectable outcome for every entered phase.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/patchlane/patchlane/internal/agent"
	"github.com/patchlane/patchlane/internal/ai"
	"github.com/patchlane/patchlane/internal/hosting"
	"github.com/patchlane/patchlane/internal/notify"
	"github.com/patchlane/patchlane/internal/storage"
	"github.com/patchlane/patchlane/internal/types"
	"github.com/patchlane/patchlane/internal/workspace"
)

// Classifier is the classification-gate contract. One call is
// authoritative per issue and never raises: failures surface as a
// MANUAL verdict.
type Classifier interface {
	Classify(ctx context.Context, issueText string) ai.Classification
}

// FixAgent runs the fix-synthesis protocol against one workspace.
type FixAgent interface {
	Run(ctx context.Context, issue *types.Issue, ws *workspace.Workspace) *agent.Result
}

// ChangeRequester opens a change request for a synthesized fix.
type ChangeRequester interface {
	Create(ctx context.Context, req hosting.ChangeRequest) (*types.PullRequest, error)
}

// Config holds orchestrator configuration.
type Config struct {
	BaseBranch string
	AutoMerge  bool
	Logger     zerolog.Logger
}

// Orchestrator owns each issue's pipeline from intake to terminal state.
type Orchestrator struct {
	store      storage.Store
	classifier Classifier
	workspaces workspace.Manager
	agent      FixAgent
	hosting    ChangeRequester
	notifier   notify.Notifier
	cfg        Config
	log        zerolog.Logger
}

// New creates an orchestrator.
func New(
	store storage.Store,
	classifier Classifier,
	workspaces workspace.Manager,
	fixAgent FixAgent,
	requester ChangeRequester,
	notifier notify.Notifier,
	cfg Config,
) *Orchestrator {
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	return &Orchestrator{
		store:      store,
		classifier: classifier,
		workspaces: workspaces,
		agent:      fixAgent,
		hosting:    requester,
		notifier:   notifier,
		cfg:        cfg,
		log:        cfg.Logger,
	}
}

// NewIssueParams are the validated intake fields for one bug report.
type NewIssueParams struct {
	Title       string
	Description string
	ReproSteps  string
	Severity    types.Severity
	RepoURL     string
}

// Submit records a new issue and launches its pipeline as a detached
// task. It returns as soon as the issue is persisted; the caller and
// the pipeline share only the issue id.
func (o *Orchestrator) Submit(ctx context.Context, params NewIssueParams) (*types.Issue, error) {
	now := time.Now()
	issue := &types.Issue{
		ID:          "pl-" + uuid.New().String()[:8],
		Title:       params.Title,
		Description: params.Description,
		ReproSteps:  params.ReproSteps,
		Severity:    params.Severity,
		RepoURL:     params.RepoURL,
		Status:      types.StatusReceived,
		Logs:        []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.store.CreateIssue(ctx, issue); err != nil {
		return nil, err
	}

	go o.Execute(context.Background(), issue.ID)

	return issue, nil
}

// Execute runs the full pipeline for one issue. Exactly one Execute
// owns an issue at a time; all mutations of the issue record happen
// here. A crash inside the pipeline still leaves the issue in a
// terminal failed state rather than silently stuck mid-phase.
func (o *Orchestrator) Execute(ctx context.Context, issueID string) {
	var ws *workspace.Workspace
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Str("issue", issueID).Any("panic", r).Msg("pipeline panicked")
			o.workspaces.Destroy(ws)
			o.appendLog(ctx, issueID, fmt.Sprintf("pipeline panicked: %v", r))
			o.setStatus(ctx, issueID, types.StatusFailed)
		}
	}()

	issue, err := o.store.GetIssue(ctx, issueID)
	if err != nil {
		o.log.Error().Str("issue", issueID).Err(err).Msg("issue vanished before pipeline start")
		return
	}

	// received → classifying
	o.setStatus(ctx, issueID, types.StatusClassifying)
	classification := o.classifier.Classify(ctx, issue.ReportText())

	issue, err = o.store.UpdateIssue(ctx, issueID, func(i *types.Issue) error {
		i.AIDecision = classification.Decision
		i.AIReason = classification.Reason
		i.Logs = append(i.Logs, fmt.Sprintf("classified %s (confidence %d): %s",
			classification.Decision, classification.Confidence, classification.Reason))
		return nil
	})
	if err != nil {
		o.log.Error().Str("issue", issueID).Err(err).Msg("failed to record classification")
		o.setStatus(ctx, issueID, types.StatusFailed)
		return
	}

	if classification.Decision != types.DecisionAutomated {
		o.escalate(ctx, issue, classification.Reason)
		return
	}

	// classifying → sandboxing
	o.setStatus(ctx, issueID, types.StatusSandboxing)

	ws, err = o.workspaces.Create(ctx)
	if err != nil {
		o.appendLog(ctx, issueID, fmt.Sprintf("workspace creation failed: %v", err))
		o.escalate(ctx, issue, fmt.Sprintf("workspace creation failed: %v", err))
		return
	}
	o.record(ctx, issueID, func(i *types.Issue) { i.WorkspaceID = ws.ID })

	if err := o.workspaces.Clone(ctx, ws, issue.RepoURL); err != nil {
		// A clone failure does not imply the bug is unfixable, only that
		// this attempt could not proceed. Escalate instead of failing.
		o.mergeWorkspaceLogs(ctx, issueID, ws)
		o.workspaces.Destroy(ws)
		o.escalate(ctx, issue, fmt.Sprintf("repository retrieval failed: %v", err))
		return
	}

	// Install failures are deliberately non-fatal.
	_ = o.workspaces.InstallDependencies(ctx, ws)

	// sandboxing → fixing
	o.setStatus(ctx, issueID, types.StatusFixing)
	result := o.agent.Run(ctx, issue, ws)

	o.appendLog(ctx, issueID, result.Logs...)

	// Gather everything still needed from the workspace before the
	// unconditional teardown: the current content of changed files and
	// the advisory validation verdict.
	var files []types.FileChange
	if result.Success && len(result.ChangedFiles) > 0 {
		validation := o.workspaces.Validate(ctx, ws)
		if validation.Ran {
			o.appendLog(ctx, issueID, fmt.Sprintf("validation (%s) success=%v", validation.Command, validation.Success))
		}
		for _, path := range result.ChangedFiles {
			content, err := o.workspaces.ReadFile(ws, path)
			if err != nil {
				o.appendLog(ctx, issueID, fmt.Sprintf("read-back of %s failed: %v", path, err))
				continue
			}
			files = append(files, types.FileChange{Path: path, Content: content})
		}
	}
	o.mergeWorkspaceLogs(ctx, issueID, ws)

	// The workspace never survives the fixing phase, regardless of
	// outcome, and is gone before any terminal transition is committed.
	o.workspaces.Destroy(ws)

	if !result.Success || len(files) == 0 {
		reason := result.Error
		if reason == "" {
			if len(result.ChangedFiles) > 0 {
				reason = fmt.Sprintf("none of the %d changed files could be read back from the workspace", len(result.ChangedFiles))
			} else {
				reason = "fix synthesis produced no changed files"
			}
		}
		o.escalate(ctx, issue, reason)
		return
	}

	pr, err := o.hosting.Create(ctx, hosting.ChangeRequest{
		RepoURL:    issue.RepoURL,
		BaseBranch: o.cfg.BaseBranch,
		BranchName: hosting.BranchName(issue.ID),
		Files:      files,
		Commit:     result.CommitMessage,
		Title:      result.CommitMessage,
		Body:       fmt.Sprintf("Automated fix for %s: %s\n\n%s", issue.ID, issue.Title, result.Summary),
		AutoMerge:  o.cfg.AutoMerge,
	})
	if err != nil {
		// The one hard-failure path: a valid fix exists but cannot be
		// delivered, so no further automatic action is meaningful.
		o.appendLog(ctx, issueID, fmt.Sprintf("change request creation failed: %v", err))
		o.setStatus(ctx, issueID, types.StatusFailed)
		return
	}

	// fixing → pr_opened
	o.record(ctx, issueID, func(i *types.Issue) {
		i.Status = types.StatusPROpened
		i.BranchName = pr.BranchName
		i.PRURL = pr.URL
		i.CommitMessage = result.CommitMessage
		i.ChangeSummary = result.Summary
		i.Logs = append(i.Logs, fmt.Sprintf("change request opened: %s", pr.URL))
	})

	if pr.Merged {
		o.record(ctx, issueID, func(i *types.Issue) {
			i.Status = types.StatusMerged
			i.PRMerged = true
			i.Logs = append(i.Logs, "change request merged")
		})
	}

	// Best-effort completion notification; failure is logged only.
	if final, err := o.store.GetIssue(ctx, issueID); err == nil {
		subject, body := notify.RenderSuccess(final)
		if err := o.notifier.Send(ctx, subject, body); err != nil {
			o.log.Warn().Str("issue", issueID).Err(err).Msg("completion notification failed")
			o.appendLog(ctx, issueID, fmt.Sprintf("completion notification failed: %v", err))
		}
	}
}

// escalate routes an issue to human review. Notification-send failure
// does not prevent the issue from reaching notified.
func (o *Orchestrator) escalate(ctx context.Context, issue *types.Issue, reason string) {
	o.appendLog(ctx, issue.ID, fmt.Sprintf("escalated to manual review: %s", reason))

	subject, body := notify.RenderEscalation(issue, reason)
	if err := o.notifier.Send(ctx, subject, body); err != nil {
		o.log.Warn().Str("issue", issue.ID).Err(err).Msg("escalation notification failed")
		o.appendLog(ctx, issue.ID, fmt.Sprintf("escalation notification failed: %v", err))
	}

	o.setStatus(ctx, issue.ID, types.StatusNotified)
}

func (o *Orchestrator) setStatus(ctx context.Context, issueID string, status types.Status) {
	if _, err := o.store.UpdateIssue(ctx, issueID, func(i *types.Issue) error {
		i.Status = status
		return nil
	}); err != nil {
		o.log.Error().Str("issue", issueID).Str("status", string(status)).Err(err).
			Msg("failed to commit status transition")
	}
}

func (o *Orchestrator) record(ctx context.Context, issueID string, mutate func(*types.Issue)) {
	if _, err := o.store.UpdateIssue(ctx, issueID, func(i *types.Issue) error {
		mutate(i)
		return nil
	}); err != nil {
		o.log.Error().Str("issue", issueID).Err(err).Msg("failed to record issue update")
	}
}

func (o *Orchestrator) appendLog(ctx context.Context, issueID string, lines ...string) {
	if len(lines) == 0 {
		return
	}
	if err := o.store.AppendLog(ctx, issueID, lines...); err != nil {
		o.log.Error().Str("issue", issueID).Err(err).
			Str("lines", strings.Join(lines, " | ")).
			Msg("failed to append issue log")
	}
}

func (o *Orchestrator) mergeWorkspaceLogs(ctx context.Context, issueID string, ws *workspace.Workspace) {
	o.appendLog(ctx, issueID, ws.Logs()...)
}
