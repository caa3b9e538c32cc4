package attendance

import (
	"context"
	"time"
)

// DateLayout is the canonical day key used across records and queries.
const DateLayout = "2006-01-02"

// Slot attendance statuses.
const (
	StatusPresent = "Present"
	StatusLate    = "Late"
	StatusAbsent  = "Absent"
)

// Record is one persisted presence interval for an identity on a date.
// At most one record per (identity, date) may have a nil ExitTime.
type Record struct {
	ID              string
	IdentityID      string
	Name            string
	ExternalKey     string
	EntryTime       time.Time
	ExitTime        *time.Time
	DurationMinutes *float64
	CameraID        string
	Date            string
	IsLate          bool
	ClassStart      *time.Time
	CreatedAt       time.Time
}

// Slot is a named schedule entry attendance is measured against.
// StartTime/EndTime are wall-clock strings ("15:04" or "15:04:05").
// An empty DayOfWeek means the slot applies every day.
type Slot struct {
	ID        string
	Name      string
	StartTime string
	EndTime   string
	DayOfWeek string
}

// SlotRecord is the per-slot attendance outcome for an identity on a date.
// At most one row per (identity, slot, date).
type SlotRecord struct {
	ID             string
	IdentityID     string
	Name           string
	ExternalKey    string
	SlotID         string
	SlotName       string
	Date           string
	Status         string
	EntryTime      *time.Time
	ExitTime       *time.Time
	OverlapMinutes float64
}

// ClassSettings is the global lateness configuration. StartTime is a
// wall-clock string; a snapshot is embedded into each Record at entry so
// later changes do not rewrite historical lateness.
type ClassSettings struct {
	StartTime            string
	LateThresholdMinutes int
}

// Store is the durable CRUD contract the tracking engine drives.
// Implementations must be safe for concurrent use.
type Store interface {
	// FindOpenAttendance returns the open record for (identity, date),
	// or nil when none exists.
	FindOpenAttendance(ctx context.Context, identityID, date string) (*Record, error)
	// ListOpenAttendance returns all open records for a date.
	ListOpenAttendance(ctx context.Context, date string) ([]Record, error)
	// InsertAttendance persists a new record and returns its id.
	InsertAttendance(ctx context.Context, rec Record) (string, error)
	// CloseAttendance sets exit time and duration on an open record.
	CloseAttendance(ctx context.Context, id string, exitTime time.Time, durationMinutes float64) error

	// FindSlotAttendance returns the row for (identity, slot, date), or nil.
	FindSlotAttendance(ctx context.Context, identityID, slotID, date string) (*SlotRecord, error)
	// UpsertSlotAttendance inserts or replaces the row for (identity, slot, date).
	UpsertSlotAttendance(ctx context.Context, rec SlotRecord) error

	// SlotsForDate returns the slots applicable to a date.
	SlotsForDate(ctx context.Context, date string) ([]Slot, error)
	// Settings returns the current class settings.
	Settings(ctx context.Context) (ClassSettings, error)
}
