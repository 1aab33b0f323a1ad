package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/WuChenDi/bitk/internal/apperr"
	"github.com/WuChenDi/bitk/internal/domain"
)

// issueColumns mirrors the teacher's sessionColumns constant: one shared
// column list reused by every SELECT against this table.
const issueColumns = `id, project_id, status_id, issue_number, title, priority, sort_order,
	parent_issue_id, use_worktree, engine_type, session_status, prompt,
	external_session_id, model, base_commit_hash, created_at, updated_at, is_deleted`

// issueRepository implements domain.IssueRepository using SQLite.
type issueRepository struct {
	db *sql.DB
}

func newIssueRepository(db *sql.DB) *issueRepository {
	return &issueRepository{db: db}
}

var _ domain.IssueRepository = (*issueRepository)(nil)

func scanIssue(scanner interface{ Scan(...any) error }) (*issueModel, error) {
	var m issueModel
	err := scanner.Scan(
		&m.ID, &m.ProjectID, &m.StatusID, &m.IssueNumber, &m.Title, &m.Priority, &m.SortOrder,
		&m.ParentIssueID, &m.UseWorktree, &m.EngineType, &m.SessionStatus, &m.Prompt,
		&m.ExternalSessionID, &m.Model, &m.BaseCommitHash, &m.CreatedAt, &m.UpdatedAt, &m.IsDeleted,
	)
	return &m, err
}

// Save inserts a new issue row, or updates the existing one by id.
func (r *issueRepository) Save(ctx context.Context, issue *domain.Issue) error {
	m := toIssueModel(issue)

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM issues WHERE id = ?)`, m.ID).Scan(&exists); err != nil {
		return fmt.Errorf("checking issue existence: %w", err)
	}

	if !exists {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO issues (
				id, project_id, status_id, issue_number, title, priority, sort_order,
				parent_issue_id, use_worktree, engine_type, session_status, prompt,
				external_session_id, model, base_commit_hash, created_at, updated_at, is_deleted
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.ProjectID, m.StatusID, m.IssueNumber, m.Title, m.Priority, m.SortOrder,
			m.ParentIssueID, m.UseWorktree, m.EngineType, m.SessionStatus, m.Prompt,
			m.ExternalSessionID, m.Model, m.BaseCommitHash, m.CreatedAt, m.UpdatedAt, m.IsDeleted,
		)
		if err != nil {
			return fmt.Errorf("inserting issue: %w", err)
		}
		return nil
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE issues SET
			status_id = ?, title = ?, priority = ?, sort_order = ?, parent_issue_id = ?,
			use_worktree = ?, engine_type = ?, session_status = ?, prompt = ?,
			external_session_id = ?, model = ?, base_commit_hash = ?, updated_at = ?, is_deleted = ?
		WHERE id = ?`,
		m.StatusID, m.Title, m.Priority, m.SortOrder, m.ParentIssueID,
		m.UseWorktree, m.EngineType, m.SessionStatus, m.Prompt,
		m.ExternalSessionID, m.Model, m.BaseCommitHash, m.UpdatedAt, m.IsDeleted,
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("updating issue: %w", err)
	}
	return nil
}

func (r *issueRepository) FindByID(ctx context.Context, id string) (*domain.Issue, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = ?`, id)
	m, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "issue not found")
	}
	if err != nil {
		return nil, fmt.Errorf("finding issue by id: %w", err)
	}
	return m.toDomain(), nil
}

func (r *issueRepository) ListByProject(ctx context.Context, projectID string, includeDeleted bool) ([]*domain.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues WHERE project_id = ?`
	if !includeDeleted {
		query += ` AND is_deleted = 0`
	}
	query += ` ORDER BY status_id, sort_order`

	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing issues by project: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*domain.Issue
	for rows.Next() {
		m, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning issue row: %w", err)
		}
		issues = append(issues, m.toDomain())
	}
	return issues, rows.Err()
}

func (r *issueRepository) SoftDelete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE issues SET is_deleted = 1 WHERE id = ? AND is_deleted = 0`, id)
	if err != nil {
		return fmt.Errorf("soft-deleting issue: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking soft-delete rows affected: %w", err)
	}
	if rows == 0 {
		return apperr.New(apperr.KindNotFound, "issue not found")
	}
	return nil
}

// NextIssueNumber returns max(issue_number), including soft-deleted rows,
// plus 1 -- numbers are never reused even after a soft delete.
func (r *issueRepository) NextIssueNumber(ctx context.Context, projectID string) (int, error) {
	var max sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT MAX(issue_number) FROM issues WHERE project_id = ?`, projectID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("computing next issue number: %w", err)
	}
	return int(max.Int64) + 1, nil
}

// NextSortOrder returns max(sort_order) within a status column, excluding
// soft-deleted rows, plus 1.
func (r *issueRepository) NextSortOrder(ctx context.Context, projectID string, status domain.IssueStatus) (int, error) {
	var max sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(sort_order) FROM issues WHERE project_id = ? AND status_id = ? AND is_deleted = 0`,
		projectID, string(status),
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("computing next sort order: %w", err)
	}
	return int(max.Int64) + 1, nil
}

func (r *issueRepository) ProjectIDFor(ctx context.Context, issueID string) (string, error) {
	var projectID string
	err := r.db.QueryRowContext(ctx, `SELECT project_id FROM issues WHERE id = ?`, issueID).Scan(&projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.New(apperr.KindNotFound, "issue not found")
	}
	if err != nil {
		return "", fmt.Errorf("resolving project id for issue: %w", err)
	}
	return projectID, nil
}
