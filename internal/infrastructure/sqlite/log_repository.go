package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/WuChenDi/bitk/internal/domain"
)

const logEntryColumns = `id, issue_id, turn_index, entry_index, entry_type, content,
	metadata, tool_action, reply_to_message_id, timestamp, visible, created_at`

// logRepository implements domain.LogRepository using SQLite. Append
// bundles the read-max-entry-index-then-insert sequence in one transaction
// so the (turnIndex, entryIndex) ordering invariant holds under concurrent
// writers for the same issue.
type logRepository struct {
	db *sql.DB
}

func newLogRepository(db *sql.DB) *logRepository {
	return &logRepository{db: db}
}

var _ domain.LogRepository = (*logRepository)(nil)

func scanLogEntry(scanner interface{ Scan(...any) error }) (*logEntryModel, error) {
	var m logEntryModel
	err := scanner.Scan(
		&m.ID, &m.IssueID, &m.TurnIndex, &m.EntryIndex, &m.EntryType, &m.Content,
		&m.Metadata, &m.ToolAction, &m.ReplyToMessageID, &m.Timestamp, &m.Visible, &m.CreatedAt,
	)
	return &m, err
}

func (r *logRepository) Append(ctx context.Context, entry *domain.LogEntry) error {
	m, err := toLogEntryModel(entry)
	if err != nil {
		return fmt.Errorf("encoding log entry: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning append transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var maxIndex sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(entry_index) FROM issue_logs WHERE issue_id = ?`, m.IssueID).Scan(&maxIndex); err != nil {
		return fmt.Errorf("reading max entry index: %w", err)
	}
	m.EntryIndex = int(maxIndex.Int64) + 1

	_, err = tx.ExecContext(ctx,
		`INSERT INTO issue_logs (
			id, issue_id, turn_index, entry_index, entry_type, content,
			metadata, tool_action, reply_to_message_id, timestamp, visible, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.IssueID, m.TurnIndex, m.EntryIndex, m.EntryType, m.Content,
		m.Metadata, m.ToolAction, m.ReplyToMessageID, m.Timestamp, m.Visible, m.CreatedAt, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting log entry: %w", err)
	}
	return tx.Commit()
}

// MarkDispatched flips visible to false. Idempotent: a second call against
// an already-invisible row affects zero rows, which is not an error.
func (r *logRepository) MarkDispatched(ctx context.Context, entryID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE issue_logs SET visible = 0 WHERE id = ? AND visible = 1`, entryID)
	if err != nil {
		return fmt.Errorf("marking log entry dispatched: %w", err)
	}
	return nil
}

// PendingFor returns every visible=1, metadata.pending=true entry for an
// issue, oldest first. metadata is stored as opaque JSON text, so the
// pending marker is matched with a LIKE probe rather than a JSON query
// operator -- SQLite's json1 extension isn't assumed to be compiled in.
func (r *logRepository) PendingFor(ctx context.Context, issueID string) ([]*domain.LogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+logEntryColumns+` FROM issue_logs
		 WHERE issue_id = ? AND visible = 1 AND metadata LIKE '%"pending":true%'
		 ORDER BY turn_index, entry_index`,
		issueID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying pending log entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*domain.LogEntry
	for rows.Next() {
		m, err := scanLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning pending log entry: %w", err)
		}
		entry, err := m.toDomain()
		if err != nil {
			return nil, fmt.Errorf("decoding pending log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Page implements the getLogs pagination contract (§4.4): no cursor
// returns the newest limit entries in ascending order with nextCursor set
// to the oldest id in the page (reverse fetch); cursor returns entries
// strictly after it (forward); before returns entries strictly before it.
// devMode filtering happens client-side of the SQL query by overfetching
// by 2x and trimming, since system-only (metadata.type=system) rows are
// filtered out for non-devMode callers after the fact.
func (r *logRepository) Page(ctx context.Context, issueID string, devMode bool, q domain.LogCursor) (domain.LogPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	fetchLimit := limit
	if !devMode {
		fetchLimit = limit * 2
	}

	var rows *sql.Rows
	var err error
	var reverseFetch bool

	switch {
	case q.Cursor != "":
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+logEntryColumns+` FROM issue_logs
			 WHERE issue_id = ? AND id > ? ORDER BY turn_index, entry_index LIMIT ?`,
			issueID, q.Cursor, fetchLimit+1,
		)
	case q.Before != "":
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+logEntryColumns+` FROM issue_logs
			 WHERE issue_id = ? AND id < ? ORDER BY turn_index DESC, entry_index DESC LIMIT ?`,
			issueID, q.Before, fetchLimit+1,
		)
		reverseFetch = true
	default:
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+logEntryColumns+` FROM issue_logs
			 WHERE issue_id = ? ORDER BY turn_index DESC, entry_index DESC LIMIT ?`,
			issueID, fetchLimit+1,
		)
		reverseFetch = true
	}
	if err != nil {
		return domain.LogPage{}, fmt.Errorf("querying log page: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*domain.LogEntry
	for rows.Next() {
		m, err := scanLogEntry(rows)
		if err != nil {
			return domain.LogPage{}, fmt.Errorf("scanning log page row: %w", err)
		}
		if !devMode && m.Metadata != nil && isSystemMetadata(*m.Metadata) {
			continue
		}
		entry, err := m.toDomain()
		if err != nil {
			return domain.LogPage{}, fmt.Errorf("decoding log page row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return domain.LogPage{}, err
	}

	hasMore := len(entries) > limit
	if hasMore {
		entries = entries[:limit]
	}
	if reverseFetch {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}

	page := domain.LogPage{Entries: entries, HasMore: hasMore}
	if len(entries) > 0 {
		if reverseFetch {
			page.NextCursor = entries[0].ID()
		} else {
			page.NextCursor = entries[len(entries)-1].ID()
		}
	}
	return page, nil
}

func isSystemMetadata(raw string) bool {
	return len(raw) > 0 && (contains(raw, `"type":"system"`) || contains(raw, `"type": "system"`))
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
