// Package notify is the notification collaborator boundary: rendered
// messages to a fixed recipient, fire-and-forget. Send failures are
// logged by callers and never propagated into pipeline state.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/patchlane/patchlane/internal/types"
)

// Notifier sends a rendered message to the fixed escalation recipient.
type Notifier interface {
	Send(ctx context.Context, subject, body string) error
}

// LogNotifier writes notifications to the service log. Default for
// deployments without an SMTP relay.
type LogNotifier struct {
	Recipient string
	Logger    zerolog.Logger
}

func (n *LogNotifier) Send(ctx context.Context, subject, body string) error {
	n.Logger.Info().
		Str("recipient", n.Recipient).
		Str("subject", subject).
		Str("body", body).
		Msg("notification")
	return nil
}

// SMTPNotifier sends mail through a plain SMTP relay.
type SMTPNotifier struct {
	Addr      string // host:port
	From      string
	Recipient string
}

func (n *SMTPNotifier) Send(ctx context.Context, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		n.From, n.Recipient, subject, body)
	if err := smtp.SendMail(n.Addr, nil, n.From, []string{n.Recipient}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// RenderEscalation renders the manual-review message for an issue.
func RenderEscalation(issue *types.Issue, reason string) (subject, body string) {
	subject = fmt.Sprintf("[patchlane] manual review needed: %s (%s)", issue.Title, issue.ID)

	var b strings.Builder
	fmt.Fprintf(&b, "Issue %s was escalated to human review.\n\n", issue.ID)
	fmt.Fprintf(&b, "Severity: %s\nRepository: %s\n\n", issue.Severity, issue.RepoURL)
	fmt.Fprintf(&b, "Reason: %s\n\n", reason)
	fmt.Fprintf(&b, "Description:\n%s\n", issue.Description)
	return subject, b.String()
}

// RenderSuccess renders the best-effort completion summary.
func RenderSuccess(issue *types.Issue) (subject, body string) {
	subject = fmt.Sprintf("[patchlane] automated fix for %s: %s", issue.ID, issue.Title)

	var b strings.Builder
	fmt.Fprintf(&b, "An automated fix for issue %s was delivered.\n\n", issue.ID)
	fmt.Fprintf(&b, "Change request: %s\nBranch: %s\nMerged: %v\n\n",
		issue.PRURL, issue.BranchName, issue.PRMerged)
	if issue.ChangeSummary != "" {
		fmt.Fprintf(&b, "Summary:\n%s\n", issue.ChangeSummary)
	}
	return subject, b.String()
}
