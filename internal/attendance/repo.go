package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the tables used by the engine if they do not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS attendance_records (
			id UUID PRIMARY KEY,
			identity_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			external_key TEXT NOT NULL DEFAULT '',
			entry_time TIMESTAMPTZ NOT NULL,
			exit_time TIMESTAMPTZ,
			duration_minutes DOUBLE PRECISION,
			camera_id TEXT NOT NULL DEFAULT '',
			date TEXT NOT NULL,
			is_late BOOLEAN NOT NULL DEFAULT FALSE,
			class_start TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS attendance_open_per_day
			ON attendance_records (identity_id, date) WHERE exit_time IS NULL`,
		`CREATE TABLE IF NOT EXISTS slot_attendance (
			id UUID PRIMARY KEY,
			identity_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			external_key TEXT NOT NULL DEFAULT '',
			slot_id TEXT NOT NULL,
			slot_name TEXT NOT NULL DEFAULT '',
			date TEXT NOT NULL,
			status TEXT NOT NULL,
			entry_time TIMESTAMPTZ,
			exit_time TIMESTAMPTZ,
			overlap_minutes DOUBLE PRECISION NOT NULL DEFAULT 0,
			UNIQUE (identity_id, slot_id, date)
		)`,
		`CREATE TABLE IF NOT EXISTS class_slots (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			day_of_week TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS class_settings (
			id INT PRIMARY KEY DEFAULT 1,
			class_start_time TEXT NOT NULL DEFAULT '09:00:00',
			late_threshold_minutes INT NOT NULL DEFAULT 10
		)`,
		`INSERT INTO class_settings (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// FindOpenAttendance returns the open record for an identity on a date.
func (r *Repository) FindOpenAttendance(ctx context.Context, identityID, date string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, identity_id, name, external_key, entry_time, exit_time, duration_minutes,
		       camera_id, date, is_late, class_start, created_at
		FROM attendance_records
		WHERE identity_id = $1 AND date = $2 AND exit_time IS NULL
		ORDER BY entry_time DESC
		LIMIT 1
	`, identityID, date)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// ListOpenAttendance returns all open records for a date.
func (r *Repository) ListOpenAttendance(ctx context.Context, date string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, identity_id, name, external_key, entry_time, exit_time, duration_minutes,
		       camera_id, date, is_late, class_start, created_at
		FROM attendance_records
		WHERE date = $1 AND exit_time IS NULL
		ORDER BY entry_time
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *rec)
	}
	return res, rows.Err()
}

// InsertAttendance writes a new record.
func (r *Repository) InsertAttendance(ctx context.Context, rec Record) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records
			(id, identity_id, name, external_key, entry_time, camera_id, date, is_late, class_start)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, rec.ID, rec.IdentityID, rec.Name, rec.ExternalKey, rec.EntryTime, rec.CameraID,
		rec.Date, rec.IsLate, rec.ClassStart)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// CloseAttendance sets exit time and duration on an open record.
func (r *Repository) CloseAttendance(ctx context.Context, id string, exitTime time.Time, durationMinutes float64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET exit_time = $2, duration_minutes = $3
		WHERE id = $1 AND exit_time IS NULL
	`, id, exitTime, durationMinutes)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.New("attendance record not open")
	}
	return nil
}

// FindSlotAttendance returns the row for (identity, slot, date).
func (r *Repository) FindSlotAttendance(ctx context.Context, identityID, slotID, date string) (*SlotRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, identity_id, name, external_key, slot_id, slot_name, date, status,
		       entry_time, exit_time, overlap_minutes
		FROM slot_attendance
		WHERE identity_id = $1 AND slot_id = $2 AND date = $3
	`, identityID, slotID, date)
	var rec SlotRecord
	if err := row.Scan(&rec.ID, &rec.IdentityID, &rec.Name, &rec.ExternalKey, &rec.SlotID,
		&rec.SlotName, &rec.Date, &rec.Status, &rec.EntryTime, &rec.ExitTime, &rec.OverlapMinutes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// UpsertSlotAttendance inserts or replaces the row for (identity, slot, date).
func (r *Repository) UpsertSlotAttendance(ctx context.Context, rec SlotRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO slot_attendance
			(id, identity_id, name, external_key, slot_id, slot_name, date, status,
			 entry_time, exit_time, overlap_minutes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (identity_id, slot_id, date) DO UPDATE SET
			status = EXCLUDED.status,
			entry_time = EXCLUDED.entry_time,
			exit_time = EXCLUDED.exit_time,
			overlap_minutes = EXCLUDED.overlap_minutes
	`, rec.ID, rec.IdentityID, rec.Name, rec.ExternalKey, rec.SlotID, rec.SlotName,
		rec.Date, rec.Status, rec.EntryTime, rec.ExitTime, rec.OverlapMinutes)
	return err
}

// SlotsForDate returns slots matching the date's weekday plus day-agnostic slots.
func (r *Repository) SlotsForDate(ctx context.Context, date string) ([]Slot, error) {
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return nil, err
	}
	weekday := day.Weekday().String()
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, start_time, end_time, COALESCE(day_of_week, '')
		FROM class_slots
		WHERE day_of_week IS NULL OR day_of_week = '' OR day_of_week = $1
		ORDER BY start_time
	`, weekday)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var slots []Slot
	for rows.Next() {
		var s Slot
		if err := rows.Scan(&s.ID, &s.Name, &s.StartTime, &s.EndTime, &s.DayOfWeek); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// Settings returns the class settings row, or defaults when missing.
func (r *Repository) Settings(ctx context.Context) (ClassSettings, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT class_start_time, late_threshold_minutes FROM class_settings LIMIT 1
	`)
	var s ClassSettings
	if err := row.Scan(&s.StartTime, &s.LateThresholdMinutes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ClassSettings{StartTime: "09:00:00", LateThresholdMinutes: 10}, nil
		}
		return ClassSettings{}, err
	}
	return s, nil
}

// Stats summarizes stored records for the status endpoint.
type Stats struct {
	TotalRecords  int
	Recent24h     int
	OpenIntervals int
	SlotRecords   int
}

// Counts returns record totals for observability.
func (r *Repository) Counts(ctx context.Context, now time.Time) (Stats, error) {
	var st Stats
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE entry_time >= $1),
		       COUNT(*) FILTER (WHERE exit_time IS NULL)
		FROM attendance_records
	`, now.Add(-24*time.Hour))
	if err := row.Scan(&st.TotalRecords, &st.Recent24h, &st.OpenIntervals); err != nil {
		return Stats{}, err
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM slot_attendance`).Scan(&st.SlotRecords); err != nil {
		return Stats{}, err
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	if err := row.Scan(&rec.ID, &rec.IdentityID, &rec.Name, &rec.ExternalKey, &rec.EntryTime,
		&rec.ExitTime, &rec.DurationMinutes, &rec.CameraID, &rec.Date, &rec.IsLate,
		&rec.ClassStart, &rec.CreatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
