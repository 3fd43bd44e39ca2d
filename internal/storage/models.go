package storage

import (
	"crypto/rand"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// ULID is a wrapper around ulid.ULID so it satisfies database/sql.Scanner
// and driver.Valuer as a gorm primary key, matching the id style used
// throughout this tree for anything ordered by creation time.
type ULID ulid.ULID

// NewULID generates a fresh, chronologically sortable id.
func NewULID() ULID {
	return ULID(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader))
}

func (u ULID) String() string { return ulid.ULID(u).String() }

// IsZero reports whether u is the unset zero value.
func (u ULID) IsZero() bool { return ulid.ULID(u).Compare(ulid.ULID{}) == 0 }

func (u ULID) Value() (driver.Value, error) {
	if ulid.ULID(u).Compare(ulid.ULID{}) == 0 {
		return nil, nil
	}
	return ulid.ULID(u).String(), nil
}

func (u *ULID) Scan(value any) error {
	if value == nil {
		*u = ULID{}
		return nil
	}
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("storage: cannot scan %T into ULID", value)
	}
	parsed, err := ulid.Parse(s)
	if err != nil {
		return fmt.Errorf("storage: invalid ULID %q: %w", s, err)
	}
	*u = ULID(parsed)
	return nil
}

// PlaybackEventKind categorizes a diagnostics entry.
type PlaybackEventKind string

const (
	EventVariantSwitch   PlaybackEventKind = "variant_switch"
	EventRebufferStart   PlaybackEventKind = "rebuffer_start"
	EventRebufferEnd     PlaybackEventKind = "rebuffer_end"
	EventFatalError      PlaybackEventKind = "fatal_error"
	EventNonFatalError   PlaybackEventKind = "non_fatal_error"
	EventSeek            PlaybackEventKind = "seek"
	EventLiveDiscontSkip PlaybackEventKind = "live_discontinuity_skip"
)

// PlaybackEvent is one row of the playback-diagnostics log: a timestamped
// record of anything worth replaying after the fact (variant switches,
// rebuffers, errors, seeks) for a single playback session.
type PlaybackEvent struct {
	ID         ULID `gorm:"primaryKey;type:string"`
	SessionID  string
	Kind       PlaybackEventKind `gorm:"index"`
	OccurredAt time.Time         `gorm:"index"`
	Detail     string            // free-form human-readable detail, e.g. "720p -> 1080p" or an error message.
	Position   float64           // playback position in seconds, when meaningful.
}

// TableName pins the table name so it doesn't drift with gorm's pluralization rules.
func (PlaybackEvent) TableName() string { return "playback_events" }
