package domain

import (
	"encoding/json"
	"time"
)

// EntryType is the wire-level classification of a log entry's content.
type EntryType string

const (
	EntryUserMessage      EntryType = "user-message"
	EntryAssistantMessage EntryType = "assistant-message"
	EntryToolUse          EntryType = "tool-use"
	EntrySystemMessage    EntryType = "system-message"
	EntryErrorMessage     EntryType = "error-message"
	EntryThinking         EntryType = "thinking"
	EntryLoading          EntryType = "loading"
	EntryTokenUsage       EntryType = "token-usage"
)

// ToolActionKind classifies the tool-specific action attached to a log entry.
type ToolActionKind string

const (
	ToolActionFileRead    ToolActionKind = "file-read"
	ToolActionFileEdit    ToolActionKind = "file-edit"
	ToolActionCommandRun  ToolActionKind = "command-run"
	ToolActionSearch      ToolActionKind = "search"
	ToolActionWebFetch    ToolActionKind = "web-fetch"
	ToolActionTool        ToolActionKind = "tool"
	ToolActionOther       ToolActionKind = "other"
)

// ToolAction is the tagged shape carried by tool-use log entries.
type ToolAction struct {
	Kind        ToolActionKind `json:"kind"`
	Path        string         `json:"path,omitempty"`
	Command     string         `json:"command,omitempty"`
	Query       string         `json:"query,omitempty"`
	URL         string         `json:"url,omitempty"`
	ToolName    string         `json:"toolName,omitempty"`
	Description string         `json:"description,omitempty"`
}

// Metadata is the opaque JSON-serializable key/value bag attached to a
// log entry. In-memory code reaches for the typed accessors below instead
// of indexing the map directly wherever the spec names a contract field.
type Metadata map[string]any

// TurnCompleted reports metadata.turnCompleted, the first of the three
// turn-completion signals recognized by the settlement logic.
func (m Metadata) TurnCompleted() bool {
	v, _ := m["turnCompleted"].(bool)
	return v
}

// ResultSubtype reports metadata.resultSubtype, present on terminal result
// events from most JSON-stream adapters.
func (m Metadata) ResultSubtype() (string, bool) {
	v, ok := m["resultSubtype"].(string)
	return v, ok
}

// Duration reports metadata.duration, present on some system-message
// completion signals.
func (m Metadata) Duration() (float64, bool) {
	v, ok := m["duration"].(float64)
	return v, ok
}

// Pending reports metadata.pending, set on a user-message queued while the
// engine was busy.
func (m Metadata) Pending() bool {
	v, _ := m["pending"].(bool)
	return v
}

// IsSystemType reports metadata.type == "system", the meta-turn tag applied
// to every entry emitted during a system-initiated turn such as auto-title.
func (m Metadata) IsSystemType() bool {
	v, _ := m["type"].(string)
	return v == "system"
}

// LogEntry is a single persisted line of an issue's conversation log.
// (turnIndex, entryIndex) forms the total order described by the spec;
// id is a separately allocated, monotonically orderable identifier used
// as the opaque pagination cursor.
type LogEntry struct {
	id                string
	issueID           string
	turnIndex         int
	entryIndex        int
	entryType         EntryType
	content           string
	metadata          Metadata
	toolAction        *ToolAction
	replyToMessageID  string
	timestamp         time.Time
	visible           bool
	createdAt         time.Time
}

// NewLogEntryParams carries the fields required to create a new LogEntry.
type NewLogEntryParams struct {
	ID               string
	IssueID          string
	TurnIndex        int
	EntryIndex       int
	EntryType        EntryType
	Content          string
	Metadata         Metadata
	ToolAction       *ToolAction
	ReplyToMessageID string
	Visible          bool
}

// NewLogEntry constructs a LogEntry stamped with the current time.
func NewLogEntry(p NewLogEntryParams) *LogEntry {
	now := time.Now()
	return &LogEntry{
		id:               p.ID,
		issueID:          p.IssueID,
		turnIndex:        p.TurnIndex,
		entryIndex:       p.EntryIndex,
		entryType:        p.EntryType,
		content:          p.Content,
		metadata:         p.Metadata,
		toolAction:       p.ToolAction,
		replyToMessageID: p.ReplyToMessageID,
		timestamp:        now,
		visible:          p.Visible,
		createdAt:        now,
	}
}

// ReconstituteLogEntry rebuilds a LogEntry from persisted fields.
func ReconstituteLogEntry(
	id, issueID string,
	turnIndex, entryIndex int,
	entryType EntryType,
	content string,
	metadata Metadata,
	toolAction *ToolAction,
	replyToMessageID string,
	timestamp time.Time,
	visible bool,
	createdAt time.Time,
) *LogEntry {
	return &LogEntry{
		id:               id,
		issueID:          issueID,
		turnIndex:        turnIndex,
		entryIndex:       entryIndex,
		entryType:        entryType,
		content:          content,
		metadata:         metadata,
		toolAction:       toolAction,
		replyToMessageID: replyToMessageID,
		timestamp:        timestamp,
		visible:          visible,
		createdAt:        createdAt,
	}
}

func (e *LogEntry) ID() string                  { return e.id }
func (e *LogEntry) IssueID() string              { return e.issueID }
func (e *LogEntry) TurnIndex() int               { return e.turnIndex }
func (e *LogEntry) EntryIndex() int              { return e.entryIndex }
func (e *LogEntry) EntryType() EntryType         { return e.entryType }
func (e *LogEntry) Content() string              { return e.content }
func (e *LogEntry) Metadata() Metadata           { return e.metadata }
func (e *LogEntry) ToolAction() *ToolAction      { return e.toolAction }
func (e *LogEntry) ReplyToMessageID() string     { return e.replyToMessageID }
func (e *LogEntry) Timestamp() time.Time         { return e.timestamp }
func (e *LogEntry) Visible() bool                { return e.visible }
func (e *LogEntry) CreatedAt() time.Time         { return e.createdAt }

// MarkDispatched flips visible from true to false. Callers must only call
// this once per entry; it is a programming error to call it on an entry
// already invisible, since the spec requires the visible=1 -> visible=0
// transition to be monotonic and never revert.
func (e *LogEntry) MarkDispatched() {
	e.visible = false
}

// IsPendingMessage reports whether this entry is a queued-while-busy user
// message: entryType=user-message, visible=true, metadata.pending=true.
func (e *LogEntry) IsPendingMessage() bool {
	if e.entryType != EntryUserMessage || !e.visible {
		return false
	}
	return e.metadata.Pending()
}

// MetadataJSON serializes Metadata for the persistence boundary, returning
// nil (not "null") when metadata is empty, matching the wire shape's
// `metadata?` optionality.
func (e *LogEntry) MetadataJSON() ([]byte, error) {
	if len(e.metadata) == 0 {
		return nil, nil
	}
	return json.Marshal(e.metadata)
}

// ToolActionJSON serializes ToolAction for the persistence boundary.
func (e *LogEntry) ToolActionJSON() ([]byte, error) {
	if e.toolAction == nil {
		return nil, nil
	}
	return json.Marshal(e.toolAction)
}
