// Package storage persists a lightweight playback-diagnostics log (variant
// switches, rebuffer spans, errors, seeks) to sqlite via gorm, so a session
// can be replayed/inspected after the fact without needing to capture logs.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// Config configures the diagnostics database connection.
type Config struct {
	DSN      string
	LogLevel string // silent, error, warn, info
}

// DB wraps a gorm connection scoped to the playback-diagnostics schema.
type DB struct {
	*gorm.DB
}

// Open connects to sqlite (via the pure-Go glebarez driver, avoiding a
// cgo dependency) and runs the schema migration.
func Open(cfg Config, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}

	dsn := cfg.DSN
	if dsn == "" {
		dsn = "hlsplay.db"
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 newGormLogger(cfg.LogLevel, log),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening diagnostics database: %w", err)
	}

	if err := db.AutoMigrate(&PlaybackEvent{}); err != nil {
		return nil, fmt.Errorf("migrating diagnostics schema: %w", err)
	}

	return &DB{DB: db}, nil
}

// EventRepository records and queries playback diagnostics events.
type EventRepository struct {
	db *gorm.DB
}

// NewEventRepository builds a repository over an already-open DB.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db.DB}
}

// Record persists one diagnostics event, stamping ID/OccurredAt if unset.
func (r *EventRepository) Record(ctx context.Context, ev *PlaybackEvent) error {
	if ev.ID.IsZero() {
		ev.ID = NewULID()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(ev).Error
}

// Recent returns the most recent events for a session, newest first.
func (r *EventRepository) Recent(ctx context.Context, sessionID string, limit int) ([]PlaybackEvent, error) {
	var events []PlaybackEvent
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// CountByKind tallies events of a kind for a session, for status summaries.
func (r *EventRepository) CountByKind(ctx context.Context, sessionID string, kind PlaybackEventKind) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&PlaybackEvent{}).
		Where("session_id = ? AND kind = ?", sessionID, kind).
		Count(&count).Error
	return count, err
}
