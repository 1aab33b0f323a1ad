package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/WuChenDi/bitk/internal/domain"
)

func newTestLogEntry(id, issueID string, turnIndex int, entryType domain.EntryType, content string, metadata domain.Metadata) *domain.LogEntry {
	return domain.NewLogEntry(domain.NewLogEntryParams{
		ID:        id,
		IssueID:   issueID,
		TurnIndex: turnIndex,
		EntryType: entryType,
		Content:   content,
		Metadata:  metadata,
		Visible:   true,
	})
}

func seedIssueForLogs(t *testing.T, db *DB, projectID, issueID string) {
	t.Helper()
	insertTestProject(t, db, projectID)
	repo := db.IssueRepository()
	require.NoError(t, repo.Save(context.Background(), newTestIssue(issueID, projectID)))
}

func TestLogRepository_Append_AssignsMonotonicEntryIndex(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedIssueForLogs(t, db, "proj-1", "issue-1")

	repo := db.LogRepository()
	require.NoError(t, repo.Append(ctx, newTestLogEntry("log-01", "issue-1", 1, domain.EntryUserMessage, "hi", nil)))
	require.NoError(t, repo.Append(ctx, newTestLogEntry("log-02", "issue-1", 1, domain.EntryAssistantMessage, "hello", nil)))

	page, err := repo.Page(ctx, "issue-1", true, domain.LogCursor{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	require.Equal(t, 1, page.Entries[0].EntryIndex())
	require.Equal(t, 2, page.Entries[1].EntryIndex())
}

func TestLogRepository_MarkDispatched_IsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedIssueForLogs(t, db, "proj-1", "issue-1")

	repo := db.LogRepository()
	require.NoError(t, repo.Append(ctx, newTestLogEntry("log-01", "issue-1", 1, domain.EntryUserMessage, "hi", domain.Metadata{"pending": true})))

	require.NoError(t, repo.MarkDispatched(ctx, "log-01"))
	require.NoError(t, repo.MarkDispatched(ctx, "log-01"), "a second call against an already-invisible row must not error")

	pending, err := repo.PendingFor(ctx, "issue-1")
	require.NoError(t, err)
	require.Empty(t, pending, "a dispatched entry is no longer visible, so it can't be pending")
}

func TestLogRepository_PendingFor_OnlyVisiblePendingEntries(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedIssueForLogs(t, db, "proj-1", "issue-1")

	repo := db.LogRepository()
	require.NoError(t, repo.Append(ctx, newTestLogEntry("log-01", "issue-1", 1, domain.EntryUserMessage, "queued", domain.Metadata{"pending": true})))
	require.NoError(t, repo.Append(ctx, newTestLogEntry("log-02", "issue-1", 1, domain.EntryAssistantMessage, "reply", nil)))

	pending, err := repo.PendingFor(ctx, "issue-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "log-01", pending[0].ID())
}

func TestLogRepository_Page_DefaultIsNewestFirstReversedToAscending(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedIssueForLogs(t, db, "proj-1", "issue-1")

	repo := db.LogRepository()
	for i, id := range []string{"log-01", "log-02", "log-03"} {
		require.NoError(t, repo.Append(ctx, newTestLogEntry(id, "issue-1", i+1, domain.EntryAssistantMessage, id, nil)))
	}

	page, err := repo.Page(ctx, "issue-1", true, domain.LogCursor{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	// newest-first fetch of the last 2, reversed back to ascending order.
	require.Equal(t, "log-02", page.Entries[0].ID())
	require.Equal(t, "log-03", page.Entries[1].ID())
	require.True(t, page.HasMore)
	require.Equal(t, "log-02", page.NextCursor)
}

func TestLogRepository_Page_CursorFetchesStrictlyAfter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedIssueForLogs(t, db, "proj-1", "issue-1")

	repo := db.LogRepository()
	for i, id := range []string{"log-01", "log-02", "log-03"} {
		require.NoError(t, repo.Append(ctx, newTestLogEntry(id, "issue-1", i+1, domain.EntryAssistantMessage, id, nil)))
	}

	page, err := repo.Page(ctx, "issue-1", true, domain.LogCursor{Cursor: "log-01", Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	require.Equal(t, "log-02", page.Entries[0].ID())
	require.Equal(t, "log-03", page.Entries[1].ID())
	require.False(t, page.HasMore)
}

func TestLogRepository_Page_BeforeFetchesStrictlyBefore(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedIssueForLogs(t, db, "proj-1", "issue-1")

	repo := db.LogRepository()
	for i, id := range []string{"log-01", "log-02", "log-03"} {
		require.NoError(t, repo.Append(ctx, newTestLogEntry(id, "issue-1", i+1, domain.EntryAssistantMessage, id, nil)))
	}

	page, err := repo.Page(ctx, "issue-1", true, domain.LogCursor{Before: "log-03", Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	require.Equal(t, "log-01", page.Entries[0].ID())
	require.Equal(t, "log-02", page.Entries[1].ID())
}

func TestLogRepository_Page_NonDevModeFiltersSystemEntries(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedIssueForLogs(t, db, "proj-1", "issue-1")

	repo := db.LogRepository()
	require.NoError(t, repo.Append(ctx, newTestLogEntry("log-01", "issue-1", 1, domain.EntrySystemMessage, "auto-title", domain.Metadata{"type": "system"})))
	require.NoError(t, repo.Append(ctx, newTestLogEntry("log-02", "issue-1", 2, domain.EntryAssistantMessage, "visible reply", nil)))

	page, err := repo.Page(ctx, "issue-1", false, domain.LogCursor{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	require.Equal(t, "log-02", page.Entries[0].ID())

	devPage, err := repo.Page(ctx, "issue-1", true, domain.LogCursor{Limit: 10})
	require.NoError(t, err)
	require.Len(t, devPage.Entries, 2, "devMode must see system entries too")
}
