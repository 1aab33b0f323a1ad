package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSettingsRepository_Get_Missing(t *testing.T) {
	db := newTestDB(t)
	repo := db.SettingsRepository()

	value, ok, err := repo.Get(context.Background(), "missing-key")
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, value)
}

func TestSettingsRepository_SetThenGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := db.SettingsRepository()

	require.NoError(t, repo.Set(ctx, "theme", "dark"))

	value, ok, err := repo.Get(ctx, "theme")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "dark", value)
}

func TestSettingsRepository_SetUpdatesExisting(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := db.SettingsRepository()

	require.NoError(t, repo.Set(ctx, "theme", "dark"))
	require.NoError(t, repo.Set(ctx, "theme", "light"))

	value, ok, err := repo.Get(ctx, "theme")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "light", value)

	var count int
	require.NoError(t, db.conn.QueryRow(`SELECT COUNT(*) FROM app_settings WHERE key = ?`, "theme").Scan(&count))
	require.Equal(t, 1, count, "Set must upsert, never insert a duplicate row")
}
