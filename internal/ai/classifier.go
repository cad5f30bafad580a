package ai

import (
	"context"
	"fmt"

	"github.com/patchlane/patchlane/internal/types"
)

// Classification is the gate's verdict for one issue.
type Classification struct {
	Decision   types.AIDecision `json:"decision"`
	Reason     string           `json:"reason"`
	Confidence int              `json:"confidence"`
}

const classifyPromptTemplate = `You are the triage gate of an automated bug-fixing service.
Decide whether the following bug report is safe to fix WITHOUT a human:
mechanical, well-scoped bugs (typos, off-by-one errors, missing null
checks, broken imports, simple logic errors) are AUTOMATED; anything
involving product decisions, security, data migrations, unclear
reproduction, or large refactors is MANUAL.

Bug report:
%s

Respond with ONLY a JSON object:
{"decision": "AUTOMATED" | "MANUAL", "reason": "<one sentence>", "confidence": <0-100>}`

// Classify labels a bug report AUTOMATED or MANUAL. It never returns
// an error: any transport or parse failure yields a MANUAL verdict
// with confidence 0, so failures always fall toward human review.
// One call is authoritative per issue; there is no retry above the
// transport layer.
func (c *Client) Classify(ctx context.Context, issueText string) Classification {
	prompt := fmt.Sprintf(classifyPromptTemplate, issueText)

	raw, err := c.complete(ctx, "classify", ModelHaiku, prompt, 1024)
	if err != nil {
		c.log.Warn().Err(err).Msg("classification call failed, defaulting to MANUAL")
		return manualFallback(fmt.Sprintf("classification unavailable: %v", err))
	}

	parsed := Parse[Classification](raw, "classify")
	if !parsed.Success {
		c.log.Warn().Str("error", parsed.Error).
			Str("response", truncate(raw, 200)).
			Msg("classification response unparseable, defaulting to MANUAL")
		return manualFallback(fmt.Sprintf("classification response unparseable: %s", parsed.Error))
	}

	result := parsed.Data
	if result.Decision != types.DecisionAutomated && result.Decision != types.DecisionManual {
		return manualFallback(fmt.Sprintf("classification returned unknown decision %q", result.Decision))
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 100 {
		result.Confidence = 100
	}
	return result
}

func manualFallback(reason string) Classification {
	return Classification{
		Decision:   types.DecisionManual,
		Reason:     reason,
		Confidence: 0,
	}
}
