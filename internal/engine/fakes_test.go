package engine

import (
	"context"
	"sync"
	"time"

	"github.com/WuChenDi/bitk/internal/apperr"
	"github.com/WuChenDi/bitk/internal/client"
	"github.com/WuChenDi/bitk/internal/domain"
)

// fakeIssueRepo is an in-memory domain.IssueRepository, grounded on the
// same hand-written-fake approach used for the HTTP/SSE boundary's tests:
// mockery codegen isn't available here, so a small in-memory store stands
// in for the sqlite-backed repository.
type fakeIssueRepo struct {
	mu     sync.Mutex
	issues map[string]*domain.Issue
}

func newFakeIssueRepo() *fakeIssueRepo {
	return &fakeIssueRepo{issues: make(map[string]*domain.Issue)}
}

func (r *fakeIssueRepo) put(issue *domain.Issue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issues[issue.ID()] = issue
}

func (r *fakeIssueRepo) Save(ctx context.Context, issue *domain.Issue) error {
	r.put(issue)
	return nil
}

func (r *fakeIssueRepo) FindByID(ctx context.Context, id string) (*domain.Issue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	issue, ok := r.issues[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "issue not found")
	}
	return issue, nil
}

func (r *fakeIssueRepo) ListByProject(ctx context.Context, projectID string, includeDeleted bool) ([]*domain.Issue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Issue
	for _, issue := range r.issues {
		if issue.ProjectID() != projectID {
			continue
		}
		if issue.IsDeleted() && !includeDeleted {
			continue
		}
		out = append(out, issue)
	}
	return out, nil
}

func (r *fakeIssueRepo) SoftDelete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if issue, ok := r.issues[id]; ok {
		issue.SoftDelete()
	}
	return nil
}

func (r *fakeIssueRepo) NextIssueNumber(ctx context.Context, projectID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := 0
	for _, issue := range r.issues {
		if issue.ProjectID() == projectID && issue.IssueNumber() > max {
			max = issue.IssueNumber()
		}
	}
	return max + 1, nil
}

func (r *fakeIssueRepo) NextSortOrder(ctx context.Context, projectID string, status domain.IssueStatus) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := 0
	for _, issue := range r.issues {
		if issue.ProjectID() == projectID && issue.Status() == status && issue.SortOrder() > max {
			max = issue.SortOrder()
		}
	}
	return max + 1, nil
}

func (r *fakeIssueRepo) ProjectIDFor(ctx context.Context, issueID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	issue, ok := r.issues[issueID]
	if !ok {
		return "", apperr.New(apperr.KindNotFound, "issue not found")
	}
	return issue.ProjectID(), nil
}

// fakeLogRepo is an in-memory domain.LogRepository.
type fakeLogRepo struct {
	mu      sync.Mutex
	entries map[string][]*domain.LogEntry
}

func newFakeLogRepo() *fakeLogRepo {
	return &fakeLogRepo{entries: make(map[string][]*domain.LogEntry)}
}

func (r *fakeLogRepo) Append(ctx context.Context, entry *domain.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.IssueID()] = append(r.entries[entry.IssueID()], entry)
	return nil
}

func (r *fakeLogRepo) MarkDispatched(ctx context.Context, entryID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rows := range r.entries {
		for _, e := range rows {
			if e.ID() == entryID {
				e.MarkDispatched()
			}
		}
	}
	return nil
}

func (r *fakeLogRepo) PendingFor(ctx context.Context, issueID string) ([]*domain.LogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.LogEntry
	for _, e := range r.entries[issueID] {
		if e.IsPendingMessage() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeLogRepo) Page(ctx context.Context, issueID string, devMode bool, q domain.LogCursor) (domain.LogPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.LogPage{Entries: append([]*domain.LogEntry{}, r.entries[issueID]...)}, nil
}

func newTestIssue(id, projectID string, status domain.IssueStatus, sessionStatus domain.SessionStatus) *domain.Issue {
	now := time.Now()
	return domain.ReconstituteIssue(
		id, projectID, status, 1, "test issue", domain.PriorityMedium, 1, "", false,
		string(client.EngineEcho), sessionStatus, "do the thing", "", "", "",
		now, now, false,
	)
}
