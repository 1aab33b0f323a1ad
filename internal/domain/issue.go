// Package domain provides the pure domain layer for the issue execution
// engine, with no infrastructure dependencies.
//
// This package follows Domain-Driven Design principles: it contains only
// plain Go with standard-library imports, defines the Issue and
// IssueLogEntry entities with encapsulated state, and leaves persistence
// to the repository interfaces. The domain layer has no knowledge of
// SQLite, HTTP, or the process-supervision machinery built on top of it.
package domain

import (
	"fmt"
	"time"
)

// IssueStatus is the fixed four-value kanban column an issue lives in.
type IssueStatus string

const (
	StatusTodo    IssueStatus = "todo"
	StatusWorking IssueStatus = "working"
	StatusReview  IssueStatus = "review"
	StatusDone    IssueStatus = "done"
)

// IsValid reports whether s is one of the four recognized statuses.
func (s IssueStatus) IsValid() bool {
	switch s {
	case StatusTodo, StatusWorking, StatusReview, StatusDone:
		return true
	default:
		return false
	}
}

// SessionStatus tracks the lifecycle of the AI conversation attached to an
// issue, independent of the issue's kanban status.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Priority is a free-form priority label; "medium" is the column default.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Issue is the aggregate root for a unit of trackable work. All fields are
// unexported; use the constructor and accessor/mutator methods.
type Issue struct {
	id                 string
	projectID          string
	status             IssueStatus
	issueNumber        int
	title              string
	priority           Priority
	sortOrder          int
	parentIssueID      string
	useWorktree        bool
	engineType         string
	sessionStatus      SessionStatus
	prompt             string
	externalSessionID  string
	model              string
	baseCommitHash     string
	createdAt          time.Time
	updatedAt          time.Time
	isDeleted          bool
}

// NewIssueParams carries the fields required to create a new Issue.
type NewIssueParams struct {
	ID            string
	ProjectID     string
	IssueNumber   int
	Title         string
	Priority      Priority
	SortOrder     int
	ParentIssueID string
	UseWorktree   bool
}

// NewIssue constructs an Issue in status=todo. parentIssueID may be empty.
// It returns an error only when ID or ProjectID is empty; it does not check
// whether parentIssueID itself identifies a sub-issue, since the domain
// layer cannot look up the parent.
func NewIssue(p NewIssueParams) (*Issue, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("issue id is required")
	}
	if p.ProjectID == "" {
		return nil, fmt.Errorf("project id is required")
	}
	priority := p.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	now := time.Now()
	return &Issue{
		id:            p.ID,
		projectID:     p.ProjectID,
		status:        StatusTodo,
		issueNumber:   p.IssueNumber,
		title:         p.Title,
		priority:      priority,
		sortOrder:     p.SortOrder,
		parentIssueID: p.ParentIssueID,
		useWorktree:   p.UseWorktree,
		createdAt:     now,
		updatedAt:     now,
	}, nil
}

// ReconstituteIssue rebuilds an Issue from persisted fields, bypassing
// constructor validation. Used exclusively by the storage layer when
// hydrating rows read back from the database.
func ReconstituteIssue(
	id, projectID string,
	status IssueStatus,
	issueNumber int,
	title string,
	priority Priority,
	sortOrder int,
	parentIssueID string,
	useWorktree bool,
	engineType string,
	sessionStatus SessionStatus,
	prompt, externalSessionID, model, baseCommitHash string,
	createdAt, updatedAt time.Time,
	isDeleted bool,
) *Issue {
	return &Issue{
		id:                id,
		projectID:         projectID,
		status:            status,
		issueNumber:       issueNumber,
		title:             title,
		priority:          priority,
		sortOrder:         sortOrder,
		parentIssueID:     parentIssueID,
		useWorktree:       useWorktree,
		engineType:        engineType,
		sessionStatus:     sessionStatus,
		prompt:            prompt,
		externalSessionID: externalSessionID,
		model:             model,
		baseCommitHash:    baseCommitHash,
		createdAt:         createdAt,
		updatedAt:         updatedAt,
		isDeleted:         isDeleted,
	}
}

// --- accessors ---

func (i *Issue) ID() string                      { return i.id }
func (i *Issue) ProjectID() string                { return i.projectID }
func (i *Issue) Status() IssueStatus              { return i.status }
func (i *Issue) IssueNumber() int                 { return i.issueNumber }
func (i *Issue) Title() string                    { return i.title }
func (i *Issue) Priority() Priority                { return i.priority }
func (i *Issue) SortOrder() int                   { return i.sortOrder }
func (i *Issue) ParentIssueID() string            { return i.parentIssueID }
func (i *Issue) HasParent() bool                  { return i.parentIssueID != "" }
func (i *Issue) UseWorktree() bool                { return i.useWorktree }
func (i *Issue) EngineType() string               { return i.engineType }
func (i *Issue) SessionStatus() SessionStatus     { return i.sessionStatus }
func (i *Issue) Prompt() string                   { return i.prompt }
func (i *Issue) ExternalSessionID() string        { return i.externalSessionID }
func (i *Issue) Model() string                    { return i.model }
func (i *Issue) BaseCommitHash() string           { return i.baseCommitHash }
func (i *Issue) CreatedAt() time.Time             { return i.createdAt }
func (i *Issue) UpdatedAt() time.Time             { return i.updatedAt }
func (i *Issue) IsDeleted() bool                  { return i.isDeleted }

// --- mutators: each bumps updatedAt ---

// SetStatus directly sets the kanban status. Callers are responsible for
// enforcing the "review auto-promotes to working" and similar policy
// decisions; the domain layer only guards the fixed-four invariant.
func (i *Issue) SetStatus(s IssueStatus) error {
	if !s.IsValid() {
		return fmt.Errorf("invalid issue status %q", s)
	}
	i.status = s
	i.updatedAt = time.Now()
	return nil
}

func (i *Issue) SetTitle(title string) {
	i.title = title
	i.updatedAt = time.Now()
}

func (i *Issue) SetSortOrder(order int) {
	i.sortOrder = order
	i.updatedAt = time.Now()
}

func (i *Issue) SetEngineType(engineType string) {
	i.engineType = engineType
	i.updatedAt = time.Now()
}

func (i *Issue) SetSessionStatus(s SessionStatus) {
	i.sessionStatus = s
	i.updatedAt = time.Now()
}

func (i *Issue) SetPrompt(prompt string) {
	i.prompt = prompt
	i.updatedAt = time.Now()
}

func (i *Issue) SetExternalSessionID(id string) {
	i.externalSessionID = id
	i.updatedAt = time.Now()
}

// ClearExternalSessionID resets session continuity, used by the session-error
// recovery path when an adapter reports a lost conversation.
func (i *Issue) ClearExternalSessionID() {
	i.externalSessionID = ""
	i.updatedAt = time.Now()
}

func (i *Issue) SetModel(model string) {
	i.model = model
	i.updatedAt = time.Now()
}

func (i *Issue) SetBaseCommitHash(hash string) {
	i.baseCommitHash = hash
	i.updatedAt = time.Now()
}

func (i *Issue) SoftDelete() {
	i.isDeleted = true
	i.updatedAt = time.Now()
}

// SetParentIssueID sets the parent link. The domain layer enforces only
// that an issue cannot parent itself; max-nesting-depth-1 must be checked
// by the repository (it requires looking up the candidate parent's own
// parent, which this aggregate cannot see).
func (i *Issue) SetParentIssueID(parentID string) error {
	if parentID == i.id {
		return fmt.Errorf("issue cannot be its own parent")
	}
	i.parentIssueID = parentID
	i.updatedAt = time.Now()
	return nil
}
