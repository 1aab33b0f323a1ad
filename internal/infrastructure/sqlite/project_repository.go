package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/WuChenDi/bitk/internal/apperr"
	"github.com/WuChenDi/bitk/internal/domain"
)

// projectRepository implements domain.ProjectRepository using SQLite.
type projectRepository struct {
	db *sql.DB
}

func newProjectRepository(db *sql.DB) *projectRepository {
	return &projectRepository{db: db}
}

var _ domain.ProjectRepository = (*projectRepository)(nil)

// ResolveIDOrAlias accepts either a project id or its unique alias and
// returns the canonical id. An id match is tried first since ids and
// aliases share no format guarantee against collision.
func (r *projectRepository) ResolveIDOrAlias(ctx context.Context, idOrAlias string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM projects WHERE id = ? AND is_deleted = 0`, idOrAlias).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("resolving project id: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `SELECT id FROM projects WHERE alias = ? AND is_deleted = 0`, idOrAlias).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.New(apperr.KindNotFound, "project not found")
	}
	if err != nil {
		return "", fmt.Errorf("resolving project alias: %w", err)
	}
	return id, nil
}

// ListIDs returns every non-deleted project id, oldest first.
func (r *projectRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM projects WHERE is_deleted = 0 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing project ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning project id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
