package domain

import "context"

// LogCursor carries the paginated-read parameters for getLogs (§4.4).
// Exactly one of Cursor/Before may be set; neither set means "most recent
// page, reverse-fetched".
type LogCursor struct {
	Cursor string // fetch strictly after this id (forward)
	Before string // fetch strictly before this id (backward)
	Limit  int
}

// LogPage is the result of a paginated log read.
type LogPage struct {
	Entries    []*LogEntry
	NextCursor string
	HasMore    bool
}

// IssueRepository persists Issue aggregates.
type IssueRepository interface {
	Save(ctx context.Context, issue *Issue) error
	FindByID(ctx context.Context, id string) (*Issue, error)
	ListByProject(ctx context.Context, projectID string, includeDeleted bool) ([]*Issue, error)
	SoftDelete(ctx context.Context, id string) error

	// NextIssueNumber returns max(all issue numbers for project, including
	// soft-deleted) + 1, guaranteeing numbers are never reused.
	NextIssueNumber(ctx context.Context, projectID string) (int, error)

	// NextSortOrder returns max(sort order within status column, excluding
	// soft-deleted) + 1.
	NextSortOrder(ctx context.Context, projectID string, status IssueStatus) (int, error)

	// ProjectIDFor resolves an issue id to its project id, used by the
	// event bus's TTL cache on a miss.
	ProjectIDFor(ctx context.Context, issueID string) (string, error)
}

// LogRepository persists LogEntry rows and enforces the monotonic
// (turnIndex, entryIndex) ordering via a single read-max-index + insert
// transaction.
type LogRepository interface {
	// Append inserts entry, assigning EntryIndex as
	// max(existing entryIndex for issueID) + 1 inside one transaction so the
	// ordering invariant holds even under concurrent writers.
	Append(ctx context.Context, entry *LogEntry) error

	// MarkDispatched flips an entry's visible flag to false. Must be
	// idempotent and must never be able to move visible from false back to
	// true.
	MarkDispatched(ctx context.Context, entryID string) error

	// PendingFor returns all visible=1, metadata.pending=true entries for
	// an issue, oldest first.
	PendingFor(ctx context.Context, issueID string) ([]*LogEntry, error)

	// Page implements the getLogs pagination contract described in §4.4.
	Page(ctx context.Context, issueID string, devMode bool, q LogCursor) (LogPage, error)
}

// ProjectRepository is the minimal surface the engine needs from the
// projects table: alias resolution for the SSE boundary's
// `/events?projectId=<id-or-alias>` contract, plus the id listing the
// reconciliation loop needs to sweep every project on each tick.
type ProjectRepository interface {
	ResolveIDOrAlias(ctx context.Context, idOrAlias string) (string, error)

	// ListIDs returns every non-deleted project id, used by
	// engine.StartReconcileLoop's listProjectIDs callback.
	ListIDs(ctx context.Context) ([]string, error)
}

// SettingsRepository persists the app_settings key/value table.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}
