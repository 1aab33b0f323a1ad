// Package eventbus is the Event Bus (C5): an in-process publisher with
// named channels (log, state, settled, issue-updated, changes-summary) and
// a project-scoped subscriber that filters events by resolving each
// issue's project id through a TTL cache, falling through to a one-shot DB
// lookup on a miss. Built on the same generic pubsub.Broker the teacher
// uses for its process events, one broker instance per named channel so
// each kind's payload stays concretely typed instead of a tagged union.
package eventbus

import (
	"github.com/WuChenDi/bitk/internal/domain"
)

// LogEvent carries one newly persisted/normalized log entry.
type LogEvent struct {
	IssueID     string
	ExecutionID string
	Entry       *domain.LogEntry
}

// StateEvent carries a managed-process lifecycle transition.
type StateEvent struct {
	IssueID     string
	ExecutionID string
	State       string
}

// SettledEvent carries the final outcome of a settled turn (§4.4 step 6).
type SettledEvent struct {
	IssueID     string
	ExecutionID string
	FinalStatus string
}

// IssueUpdatedEvent carries a generic issue mutation (status change, title,
// soft-delete) for clients keeping a live issue list in sync.
type IssueUpdatedEvent struct {
	IssueID   string
	ProjectID string
	Deleted   bool
}

// ChangesSummaryEvent carries a git-diff summary produced by the external
// change-summarizer collaborator.
type ChangesSummaryEvent struct {
	IssueID string
	Summary string
}
