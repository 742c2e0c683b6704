package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpsertAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	syncedAt := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

	err := store.Upsert(ctx, Issue{
		Key:      "PROJ-1",
		Project:  "PROJ",
		Data:     map[string]any{"fields": map[string]any{"summary": "first"}},
		SyncedAt: syncedAt,
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, "PROJ-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "PROJ-1", got.Key)
	assert.Equal(t, "PROJ", got.Project)
	assert.Equal(t, "first", got.Data["fields"].(map[string]any)["summary"])
	assert.True(t, got.SyncedAt.Equal(syncedAt))
	assert.Nil(t, got.DeletedFromJiraAt)
}

func TestGetUnknownKeyReturnsNil(t *testing.T) {
	store := openTestStore(t)

	got, err := store.Get(context.Background(), "PROJ-404")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertReplacesDataWholesale(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, Issue{
		Key:      "PROJ-1",
		Project:  "PROJ",
		Data:     map[string]any{"status": "open", "assignee": "alice"},
		SyncedAt: time.Now(),
	}))
	require.NoError(t, store.Upsert(ctx, Issue{
		Key:      "PROJ-1",
		Project:  "PROJ",
		Data:     map[string]any{"status": "closed"},
		SyncedAt: time.Now(),
	}))

	got, err := store.Get(ctx, "PROJ-1")
	require.NoError(t, err)
	assert.Equal(t, "closed", got.Data["status"])
	assert.NotContains(t, got.Data, "assignee", "stale fields do not survive a replace")
}

func TestUpsertDerivesProjectFromKey(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, Issue{
		Key:      "OPS-7",
		Data:     map[string]any{},
		SyncedAt: time.Now(),
	}))

	keys, err := store.KeysInProject(ctx, "OPS")
	require.NoError(t, err)
	assert.Equal(t, []string{"OPS-7"}, keys)
}

func TestUpsertPreservesDeletionMarker(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	deletedAt := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Upsert(ctx, Issue{
		Key:      "PROJ-1",
		Project:  "PROJ",
		Data:     map[string]any{"v": float64(1)},
		SyncedAt: time.Now(),
	}))
	require.NoError(t, store.MarkDeleted(ctx, []string{"PROJ-1"}, deletedAt))

	// A later upsert refreshes the data but keeps the marker.
	require.NoError(t, store.Upsert(ctx, Issue{
		Key:      "PROJ-1",
		Project:  "PROJ",
		Data:     map[string]any{"v": float64(2)},
		SyncedAt: time.Now(),
	}))

	got, err := store.Get(ctx, "PROJ-1")
	require.NoError(t, err)
	assert.Equal(t, float64(2), got.Data["v"])
	require.NotNil(t, got.DeletedFromJiraAt)
	assert.True(t, got.DeletedFromJiraAt.Equal(deletedAt))
}

func TestExists(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "PROJ-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Upsert(ctx, Issue{Key: "PROJ-1", Project: "PROJ", Data: map[string]any{}, SyncedAt: time.Now()}))

	ok, err = store.Exists(ctx, "PROJ-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKeysInProjectFiltersAndIncludesTombstoned(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"PROJ-1", "PROJ-2", "OTHER-1"} {
		require.NoError(t, store.Upsert(ctx, Issue{Key: key, Data: map[string]any{}, SyncedAt: time.Now()}))
	}
	require.NoError(t, store.MarkDeleted(ctx, []string{"PROJ-2"}, time.Now()))

	keys, err := store.KeysInProject(ctx, "PROJ")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"PROJ-1", "PROJ-2"}, keys)
}

func TestMarkDeletedIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	first := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	later := first.Add(time.Hour)

	require.NoError(t, store.Upsert(ctx, Issue{Key: "PROJ-1", Project: "PROJ", Data: map[string]any{}, SyncedAt: time.Now()}))
	require.NoError(t, store.MarkDeleted(ctx, []string{"PROJ-1"}, first))
	require.NoError(t, store.MarkDeleted(ctx, []string{"PROJ-1"}, later))

	got, err := store.Get(ctx, "PROJ-1")
	require.NoError(t, err)
	require.NotNil(t, got.DeletedFromJiraAt)
	assert.True(t, got.DeletedFromJiraAt.Equal(first), "original deletion timestamp kept")
}

func TestMarkDeletedEmptyIsNoop(t *testing.T) {
	store := openTestStore(t)
	assert.NoError(t, store.MarkDeleted(context.Background(), nil, time.Now()))
}

func TestSyncTimeCheckpoint(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	cp, err := store.LatestSyncTime(ctx, "PROJ")
	require.NoError(t, err)
	assert.Nil(t, cp, "no checkpoint before the first full sync")

	first := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetSyncTime(ctx, "PROJ", first))

	cp, err = store.LatestSyncTime(ctx, "PROJ")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.Equal(first))

	second := first.Add(15 * time.Minute)
	require.NoError(t, store.SetSyncTime(ctx, "PROJ", second))

	cp, err = store.LatestSyncTime(ctx, "PROJ")
	require.NoError(t, err)
	assert.True(t, cp.Equal(second), "checkpoint advances on later runs")

	// Checkpoints are per project.
	cp, err = store.LatestSyncTime(ctx, "OTHER")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestProjectOf(t *testing.T) {
	assert.Equal(t, "PROJ", ProjectOf("PROJ-123"))
	assert.Equal(t, "A", ProjectOf("A-1"))
	assert.Equal(t, "NOKEY", ProjectOf("NOKEY"))
}
