package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/patchlane/patchlane/internal/types"
)

// MemoryStore is a process-lifetime in-memory Store. It backs tests
// and deployments that do not need issues to survive a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	issues map[string]*types.Issue
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{issues: make(map[string]*types.Issue)}
}

func (m *MemoryStore) CreateIssue(ctx context.Context, issue *types.Issue) error {
	if err := issue.Validate(); err != nil {
		return fmt.Errorf("invalid issue: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.issues[issue.ID]; exists {
		return fmt.Errorf("issue %s already exists", issue.ID)
	}
	m.issues[issue.ID] = copyIssue(issue)
	return nil
}

func (m *MemoryStore) GetIssue(ctx context.Context, id string) (*types.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	issue, exists := m.issues[id]
	if !exists {
		return nil, fmt.Errorf("issue %s: %w", id, ErrNotFound)
	}
	return copyIssue(issue), nil
}

func (m *MemoryStore) ListIssues(ctx context.Context) ([]*types.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	issues := make([]*types.Issue, 0, len(m.issues))
	for _, issue := range m.issues {
		issues = append(issues, copyIssue(issue))
	}
	sort.Slice(issues, func(i, j int) bool {
		return issues[i].CreatedAt.After(issues[j].CreatedAt)
	})
	return issues, nil
}

func (m *MemoryStore) UpdateIssue(ctx context.Context, id string, mutate func(*types.Issue) error) (*types.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.issues[id]
	if !exists {
		return nil, fmt.Errorf("issue %s: %w", id, ErrNotFound)
	}

	updated := copyIssue(current)
	if err := mutate(updated); err != nil {
		return nil, err
	}
	if err := checkTransition(current.Status, updated.Status); err != nil {
		return nil, err
	}
	updated.UpdatedAt = time.Now()

	m.issues[id] = updated
	return copyIssue(updated), nil
}

func (m *MemoryStore) AppendLog(ctx context.Context, id string, lines ...string) error {
	_, err := m.UpdateIssue(ctx, id, func(issue *types.Issue) error {
		issue.Logs = append(issue.Logs, lines...)
		return nil
	})
	return err
}

func (m *MemoryStore) Statistics(ctx context.Context) (*types.Statistics, error) {
	issues, err := m.ListIssues(ctx)
	if err != nil {
		return nil, err
	}
	return statistics(issues), nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// copyIssue deep-copies an issue so callers can never mutate stored
// state without going through UpdateIssue.
func copyIssue(issue *types.Issue) *types.Issue {
	dup := *issue
	dup.Logs = append([]string(nil), issue.Logs...)
	return &dup
}
