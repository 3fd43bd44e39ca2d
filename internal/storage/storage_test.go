package storage

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&PlaybackEvent{}))
	return &DB{DB: db}
}

func TestEventRepository_RecordStampsIDAndTimestamp(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	ev := &PlaybackEvent{SessionID: "s1", Kind: EventVariantSwitch, Detail: "720p -> 1080p"}
	require.NoError(t, repo.Record(ctx, ev))

	assert.False(t, ev.ID.IsZero())
	assert.False(t, ev.OccurredAt.IsZero())
}

func TestEventRepository_RecentOrdersNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	first := &PlaybackEvent{SessionID: "s1", Kind: EventSeek, Detail: "seek to 10"}
	require.NoError(t, repo.Record(ctx, first))
	second := &PlaybackEvent{SessionID: "s1", Kind: EventSeek, Detail: "seek to 20"}
	second.OccurredAt = first.OccurredAt.Add(1)
	require.NoError(t, repo.Record(ctx, second))

	events, err := repo.Recent(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "seek to 20", events[0].Detail)
}

func TestEventRepository_RecentScopesBySession(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Record(ctx, &PlaybackEvent{SessionID: "s1", Kind: EventFatalError}))
	require.NoError(t, repo.Record(ctx, &PlaybackEvent{SessionID: "s2", Kind: EventFatalError}))

	events, err := repo.Recent(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestEventRepository_CountByKind(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Record(ctx, &PlaybackEvent{SessionID: "s1", Kind: EventRebufferStart}))
	require.NoError(t, repo.Record(ctx, &PlaybackEvent{SessionID: "s1", Kind: EventRebufferStart}))
	require.NoError(t, repo.Record(ctx, &PlaybackEvent{SessionID: "s1", Kind: EventRebufferEnd}))

	count, err := repo.CountByKind(ctx, "s1", EventRebufferStart)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}
