package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WuChenDi/bitk/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := NewDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func insertTestProject(t *testing.T, db *DB, id string) {
	t.Helper()
	_, err := db.conn.Exec(
		`INSERT INTO projects (id, name, alias, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, id, id, time.Now().Unix(), time.Now().Unix(),
	)
	require.NoError(t, err)
}

func newTestIssue(id, projectID string) *domain.Issue {
	issue, err := domain.NewIssue(domain.NewIssueParams{
		ID:          id,
		ProjectID:   projectID,
		IssueNumber: 1,
		Title:       "a title",
	})
	if err != nil {
		panic(err)
	}
	return issue
}

func TestIssueRepository_SaveAndFindByID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	insertTestProject(t, db, "proj-1")

	repo := db.IssueRepository()
	issue := newTestIssue("issue-1", "proj-1")
	require.NoError(t, repo.Save(ctx, issue))

	found, err := repo.FindByID(ctx, "issue-1")
	require.NoError(t, err)
	require.Equal(t, "issue-1", found.ID())
	require.Equal(t, "proj-1", found.ProjectID())
	require.Equal(t, domain.StatusTodo, found.Status())
}

func TestIssueRepository_SaveUpdatesExisting(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	insertTestProject(t, db, "proj-1")

	repo := db.IssueRepository()
	issue := newTestIssue("issue-1", "proj-1")
	require.NoError(t, repo.Save(ctx, issue))

	require.NoError(t, issue.SetStatus(domain.StatusWorking))
	issue.SetTitle("a new title")
	require.NoError(t, repo.Save(ctx, issue))

	found, err := repo.FindByID(ctx, "issue-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusWorking, found.Status())
	require.Equal(t, "a new title", found.Title())
}

func TestIssueRepository_FindByID_NotFound(t *testing.T) {
	db := newTestDB(t)
	repo := db.IssueRepository()

	_, err := repo.FindByID(context.Background(), "missing")
	require.Error(t, err)
}

func TestIssueRepository_ListByProject_ExcludesDeletedByDefault(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	insertTestProject(t, db, "proj-1")

	repo := db.IssueRepository()
	a := newTestIssue("issue-a", "proj-1")
	b := newTestIssue("issue-b", "proj-1")
	require.NoError(t, repo.Save(ctx, a))
	require.NoError(t, repo.Save(ctx, b))
	require.NoError(t, repo.SoftDelete(ctx, "issue-b"))

	visible, err := repo.ListByProject(ctx, "proj-1", false)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	require.Equal(t, "issue-a", visible[0].ID())

	all, err := repo.ListByProject(ctx, "proj-1", true)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestIssueRepository_SoftDelete_NotFound(t *testing.T) {
	db := newTestDB(t)
	repo := db.IssueRepository()

	err := repo.SoftDelete(context.Background(), "missing")
	require.Error(t, err)
}

func TestIssueRepository_NextIssueNumber_NeverReusesAfterSoftDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	insertTestProject(t, db, "proj-1")

	repo := db.IssueRepository()
	n, err := repo.NextIssueNumber(ctx, "proj-1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	issue := newTestIssue("issue-1", "proj-1")
	require.NoError(t, repo.Save(ctx, issue))
	require.NoError(t, repo.SoftDelete(ctx, "issue-1"))

	n, err = repo.NextIssueNumber(ctx, "proj-1")
	require.NoError(t, err)
	require.Equal(t, 2, n, "a soft-deleted issue's number must not be reused")
}

func TestIssueRepository_NextSortOrder_ScopedToStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	insertTestProject(t, db, "proj-1")

	repo := db.IssueRepository()
	issue := newTestIssue("issue-1", "proj-1")
	issue.SetSortOrder(5)
	require.NoError(t, repo.Save(ctx, issue))

	next, err := repo.NextSortOrder(ctx, "proj-1", domain.StatusTodo)
	require.NoError(t, err)
	require.Equal(t, 6, next)

	next, err = repo.NextSortOrder(ctx, "proj-1", domain.StatusWorking)
	require.NoError(t, err)
	require.Equal(t, 1, next, "sort order is scoped per status column")
}

func TestIssueRepository_ProjectIDFor(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	insertTestProject(t, db, "proj-1")

	repo := db.IssueRepository()
	issue := newTestIssue("issue-1", "proj-1")
	require.NoError(t, repo.Save(ctx, issue))

	projectID, err := repo.ProjectIDFor(ctx, "issue-1")
	require.NoError(t, err)
	require.Equal(t, "proj-1", projectID)

	_, err = repo.ProjectIDFor(ctx, "missing")
	require.Error(t, err)
}
