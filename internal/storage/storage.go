// Package storage provides the shared issue record store. It is the
// only resource shared across concurrent pipelines: each issue is
// created, read, and updated independently by id, with no cross-issue
// transactions.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/patchlane/patchlane/internal/types"
)

// ErrNotFound is returned when no issue exists for the given id.
var ErrNotFound = errors.New("issue not found")

// Store defines the interface for issue record backends.
type Store interface {
	// CreateIssue persists a new issue. The id must be unique.
	CreateIssue(ctx context.Context, issue *types.Issue) error

	// GetIssue retrieves an issue by id. Returns ErrNotFound if absent.
	GetIssue(ctx context.Context, id string) (*types.Issue, error)

	// ListIssues retrieves all issues ordered by creation time descending.
	ListIssues(ctx context.Context) ([]*types.Issue, error)

	// UpdateIssue applies mutate to the issue under exclusive access and
	// persists the result. A status change that violates the transition
	// graph is rejected and nothing is written. UpdatedAt is bumped on
	// every successful mutation.
	UpdateIssue(ctx context.Context, id string, mutate func(*types.Issue) error) (*types.Issue, error)

	// AppendLog appends diagnostic lines to the issue's log. The log is
	// append-only; lines are never reordered or truncated mid-pipeline.
	AppendLog(ctx context.Context, id string, lines ...string) error

	// Statistics summarizes all issues in the store.
	Statistics(ctx context.Context) (*types.Statistics, error)

	// Close releases backend resources.
	Close() error
}

// checkTransition rejects status moves the graph does not permit.
func checkTransition(from, to types.Status) error {
	if from == to {
		return nil
	}
	if !types.CanTransition(from, to) {
		return fmt.Errorf("illegal status transition %s → %s", from, to)
	}
	return nil
}

// statistics computes summary counts over a snapshot of issues.
func statistics(issues []*types.Issue) *types.Statistics {
	stats := &types.Statistics{
		ByStatus: make(map[types.Status]int),
	}
	for _, issue := range issues {
		stats.Total++
		stats.ByStatus[issue.Status]++
		switch issue.AIDecision {
		case types.DecisionAutomated:
			stats.Automated++
		case types.DecisionManual:
			stats.Manual++
		}
		if issue.Status == types.StatusMerged {
			stats.Merged++
		}
	}
	return stats
}
