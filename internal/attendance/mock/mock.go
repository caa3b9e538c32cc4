// Package mock provides an in-memory attendance.Store for testing.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"classtrack/internal/attendance"
)

// Store is a mock implementation of attendance.Store backed by maps.
type Store struct {
	mu      sync.Mutex
	records map[string]*attendance.Record     // keyed by record id
	slots   map[string]attendance.SlotRecord  // keyed by identity|slot|date
	daySlot []attendance.Slot
	setting attendance.ClassSettings
	nextID  int

	// Error injection
	FindOpenError   error
	ListOpenError   error
	InsertError     error
	CloseError      error
	FindSlotError   error
	UpsertSlotError error
	SlotsError      error
	SettingsError   error
}

// NewStore creates a mock store with default class settings.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*attendance.Record),
		slots:   make(map[string]attendance.SlotRecord),
		setting: attendance.ClassSettings{StartTime: "09:00:00", LateThresholdMinutes: 10},
	}
}

// SetSlots configures the slots returned for every date.
func (m *Store) SetSlots(slots ...attendance.Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.daySlot = slots
}

// SetSettings configures the class settings.
func (m *Store) SetSettings(s attendance.ClassSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setting = s
}

// Records returns a snapshot of all attendance records.
func (m *Store) Records() []attendance.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]attendance.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, *rec)
	}
	return out
}

// SlotRecords returns a snapshot of all slot attendance rows.
func (m *Store) SlotRecords() []attendance.SlotRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]attendance.SlotRecord, 0, len(m.slots))
	for _, rec := range m.slots {
		out = append(out, rec)
	}
	return out
}

func (m *Store) FindOpenAttendance(ctx context.Context, identityID, date string) (*attendance.Record, error) {
	if m.FindOpenError != nil {
		return nil, m.FindOpenError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.IdentityID == identityID && rec.Date == date && rec.ExitTime == nil {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Store) ListOpenAttendance(ctx context.Context, date string) ([]attendance.Record, error) {
	if m.ListOpenError != nil {
		return nil, m.ListOpenError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []attendance.Record
	for _, rec := range m.records {
		if rec.Date == date && rec.ExitTime == nil {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *Store) InsertAttendance(ctx context.Context, rec attendance.Record) (string, error) {
	if m.InsertError != nil {
		return "", m.InsertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		m.nextID++
		rec.ID = fmt.Sprintf("rec-%d", m.nextID)
	}
	rec.CreatedAt = time.Now()
	m.records[rec.ID] = &rec
	return rec.ID, nil
}

func (m *Store) CloseAttendance(ctx context.Context, id string, exitTime time.Time, durationMinutes float64) error {
	if m.CloseError != nil {
		return m.CloseError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.ExitTime != nil {
		return errNotOpen
	}
	t := exitTime
	d := durationMinutes
	rec.ExitTime = &t
	rec.DurationMinutes = &d
	return nil
}

func (m *Store) FindSlotAttendance(ctx context.Context, identityID, slotID, date string) (*attendance.SlotRecord, error) {
	if m.FindSlotError != nil {
		return nil, m.FindSlotError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.slots[identityID+"|"+slotID+"|"+date]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (m *Store) UpsertSlotAttendance(ctx context.Context, rec attendance.SlotRecord) error {
	if m.UpsertSlotError != nil {
		return m.UpsertSlotError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[rec.IdentityID+"|"+rec.SlotID+"|"+rec.Date] = rec
	return nil
}

func (m *Store) SlotsForDate(ctx context.Context, date string) ([]attendance.Slot, error) {
	if m.SlotsError != nil {
		return nil, m.SlotsError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]attendance.Slot(nil), m.daySlot...), nil
}

func (m *Store) Settings(ctx context.Context) (attendance.ClassSettings, error) {
	if m.SettingsError != nil {
		return attendance.ClassSettings{}, m.SettingsError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setting, nil
}

var errNotOpen = errors.New("attendance record not open")

var _ attendance.Store = (*Store)(nil)
