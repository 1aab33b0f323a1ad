package sqlite

import (
	"encoding/json"
	"time"

	"github.com/WuChenDi/bitk/internal/domain"
)

// issueModel is the database row shape for the issues table. Fields map
// directly to SQL columns with Unix timestamps for time values, the same
// convention the teacher's own row models used.
type issueModel struct {
	ID                string
	ProjectID         string
	StatusID          string
	IssueNumber       int
	Title             string
	Priority          string
	SortOrder         int
	ParentIssueID     *string
	UseWorktree       bool
	EngineType        *string
	SessionStatus     *string
	Prompt            *string
	ExternalSessionID *string
	Model             *string
	BaseCommitHash    *string
	CreatedAt         int64
	UpdatedAt         int64
	IsDeleted         bool
}

func toIssueModel(i *domain.Issue) *issueModel {
	m := &issueModel{
		ID:          i.ID(),
		ProjectID:   i.ProjectID(),
		StatusID:    string(i.Status()),
		IssueNumber: i.IssueNumber(),
		Title:       i.Title(),
		Priority:    string(i.Priority()),
		SortOrder:   i.SortOrder(),
		UseWorktree: i.UseWorktree(),
		CreatedAt:   i.CreatedAt().Unix(),
		UpdatedAt:   i.UpdatedAt().Unix(),
		IsDeleted:   i.IsDeleted(),
	}
	if i.ParentIssueID() != "" {
		v := i.ParentIssueID()
		m.ParentIssueID = &v
	}
	if i.EngineType() != "" {
		v := i.EngineType()
		m.EngineType = &v
	}
	if i.SessionStatus() != "" {
		v := string(i.SessionStatus())
		m.SessionStatus = &v
	}
	if i.Prompt() != "" {
		v := i.Prompt()
		m.Prompt = &v
	}
	if i.ExternalSessionID() != "" {
		v := i.ExternalSessionID()
		m.ExternalSessionID = &v
	}
	if i.Model() != "" {
		v := i.Model()
		m.Model = &v
	}
	if i.BaseCommitHash() != "" {
		v := i.BaseCommitHash()
		m.BaseCommitHash = &v
	}
	return m
}

func (m *issueModel) toDomain() *domain.Issue {
	var parentIssueID, engineType, prompt, externalSessionID, model, baseCommitHash string
	var sessionStatus domain.SessionStatus
	if m.ParentIssueID != nil {
		parentIssueID = *m.ParentIssueID
	}
	if m.EngineType != nil {
		engineType = *m.EngineType
	}
	if m.SessionStatus != nil {
		sessionStatus = domain.SessionStatus(*m.SessionStatus)
	}
	if m.Prompt != nil {
		prompt = *m.Prompt
	}
	if m.ExternalSessionID != nil {
		externalSessionID = *m.ExternalSessionID
	}
	if m.Model != nil {
		model = *m.Model
	}
	if m.BaseCommitHash != nil {
		baseCommitHash = *m.BaseCommitHash
	}
	return domain.ReconstituteIssue(
		m.ID, m.ProjectID,
		domain.IssueStatus(m.StatusID),
		m.IssueNumber, m.Title,
		domain.Priority(m.Priority),
		m.SortOrder, parentIssueID, m.UseWorktree,
		engineType, sessionStatus,
		prompt, externalSessionID, model, baseCommitHash,
		time.Unix(m.CreatedAt, 0), time.Unix(m.UpdatedAt, 0),
		m.IsDeleted,
	)
}

// logEntryModel is the database row shape for the issue_logs table.
type logEntryModel struct {
	ID               string
	IssueID          string
	TurnIndex        int
	EntryIndex       int
	EntryType        string
	Content          string
	Metadata         *string // JSON encoded
	ToolAction       *string // JSON encoded
	ReplyToMessageID *string
	Timestamp        *int64
	Visible          bool
	CreatedAt        int64
}

func toLogEntryModel(e *domain.LogEntry) (*logEntryModel, error) {
	m := &logEntryModel{
		ID:         e.ID(),
		IssueID:    e.IssueID(),
		TurnIndex:  e.TurnIndex(),
		EntryIndex: e.EntryIndex(),
		EntryType:  string(e.EntryType()),
		Content:    e.Content(),
		Visible:    e.Visible(),
		CreatedAt:  e.CreatedAt().Unix(),
	}
	if e.ReplyToMessageID() != "" {
		v := e.ReplyToMessageID()
		m.ReplyToMessageID = &v
	}
	if !e.Timestamp().IsZero() {
		ts := e.Timestamp().Unix()
		m.Timestamp = &ts
	}
	if md := e.Metadata(); len(md) > 0 {
		b, err := json.Marshal(md)
		if err != nil {
			return nil, err
		}
		v := string(b)
		m.Metadata = &v
	}
	if ta := e.ToolAction(); ta != nil {
		b, err := json.Marshal(ta)
		if err != nil {
			return nil, err
		}
		v := string(b)
		m.ToolAction = &v
	}
	return m, nil
}

func (m *logEntryModel) toDomain() (*domain.LogEntry, error) {
	var metadata domain.Metadata
	if m.Metadata != nil {
		if err := json.Unmarshal([]byte(*m.Metadata), &metadata); err != nil {
			return nil, err
		}
	}
	var toolAction *domain.ToolAction
	if m.ToolAction != nil {
		toolAction = &domain.ToolAction{}
		if err := json.Unmarshal([]byte(*m.ToolAction), toolAction); err != nil {
			return nil, err
		}
	}
	var replyToMessageID string
	if m.ReplyToMessageID != nil {
		replyToMessageID = *m.ReplyToMessageID
	}
	timestamp := time.Unix(m.CreatedAt, 0)
	if m.Timestamp != nil {
		timestamp = time.Unix(*m.Timestamp, 0)
	}
	return domain.ReconstituteLogEntry(
		m.ID, m.IssueID,
		m.TurnIndex, m.EntryIndex,
		domain.EntryType(m.EntryType),
		m.Content,
		metadata,
		toolAction,
		replyToMessageID,
		timestamp,
		m.Visible,
		time.Unix(m.CreatedAt, 0),
	), nil
}

// projectModel is the database row shape for the projects table.
type projectModel struct {
	ID            string
	Name          string
	Alias         string
	Description   *string
	Directory     *string
	RepositoryURL *string
	CreatedAt     int64
	UpdatedAt     int64
	IsDeleted     bool
}
