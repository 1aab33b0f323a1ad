package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/WuChenDi/bitk/internal/domain"
)

// settingsRepository implements domain.SettingsRepository using SQLite's
// app_settings key/value table.
type settingsRepository struct {
	db *sql.DB
}

func newSettingsRepository(db *sql.DB) *settingsRepository {
	return &settingsRepository{db: db}
}

var _ domain.SettingsRepository = (*settingsRepository)(nil)

func (r *settingsRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM app_settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading setting %q: %w", key, err)
	}
	return value, true, nil
}

// Set upserts key/value, grounded on the same existence-check-then-write
// shape used by issueRepository.Save.
func (r *settingsRepository) Set(ctx context.Context, key, value string) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM app_settings WHERE key = ?)`, key).Scan(&exists); err != nil {
		return fmt.Errorf("checking setting existence: %w", err)
	}

	if !exists {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO app_settings (key, value, created_at, updated_at) VALUES (?, ?, strftime('%s','now'), strftime('%s','now'))`,
			key, value,
		)
		if err != nil {
			return fmt.Errorf("inserting setting %q: %w", key, err)
		}
		return nil
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE app_settings SET value = ?, updated_at = strftime('%s','now') WHERE key = ?`,
		value, key,
	)
	if err != nil {
		return fmt.Errorf("updating setting %q: %w", key, err)
	}
	return nil
}
