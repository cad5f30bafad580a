package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/patchlane/patchlane/internal/types"
)

func escalatedIssue() *types.Issue {
	return &types.Issue{
		ID:          "pl-9",
		Title:       "Checkout total rounds wrong",
		Description: "Totals drift by a cent on multi-item carts",
		Severity:    types.SeverityHigh,
		RepoURL:     "https://github.com/example/shop.git",
		Status:      types.StatusNotified,
	}
}

func TestRenderEscalation(t *testing.T) {
	subject, body := RenderEscalation(escalatedIssue(), "classification unavailable: timeout")

	if !strings.Contains(subject, "pl-9") || !strings.Contains(subject, "manual review") {
		t.Errorf("subject = %q", subject)
	}
	for _, want := range []string{"pl-9", "high", "classification unavailable: timeout", "Totals drift"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestRenderSuccess(t *testing.T) {
	issue := escalatedIssue()
	issue.Status = types.StatusMerged
	issue.PRURL = "https://github.com/example/shop/pull/5"
	issue.BranchName = "patchlane/pl-9-1"
	issue.PRMerged = true
	issue.ChangeSummary = "Rounds at the cart level"

	subject, body := RenderSuccess(issue)
	if !strings.Contains(subject, "automated fix") {
		t.Errorf("subject = %q", subject)
	}
	for _, want := range []string{issue.PRURL, issue.BranchName, "Rounds at the cart level"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestLogNotifierNeverFails(t *testing.T) {
	n := &LogNotifier{Recipient: "oncall@example.com", Logger: zerolog.Nop()}
	if err := n.Send(context.Background(), "subject", "body"); err != nil {
		t.Errorf("Send() error: %v", err)
	}
}
