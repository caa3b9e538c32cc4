// Package schedule reconciles presence intervals against the configured
// daily slot schedule.
package schedule

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"classtrack/internal/attendance"
	"classtrack/internal/metrics"
)

// Subject identifies whose interval is being reconciled.
type Subject struct {
	IdentityID  string
	Name        string
	ExternalKey string
}

// Reconciler turns a session interval into per-slot attendance rows.
// It is stateless with respect to schedule data: slots are re-queried on
// every call so schedule edits apply immediately.
type Reconciler struct {
	store attendance.Store
	now   func() time.Time

	mu     sync.Mutex
	warned map[string]bool
}

// NewReconciler creates a reconciler over the given store.
func NewReconciler(store attendance.Store) *Reconciler {
	return &Reconciler{
		store:  store,
		now:    time.Now,
		warned: make(map[string]bool),
	}
}

// Reconcile evaluates every slot for the date against [entry, exit]. A nil
// exit means the session is still open and accrues overlap up to now.
// Storage errors affect only the slot being written; remaining slots are
// still evaluated.
func (r *Reconciler) Reconcile(ctx context.Context, sub Subject, entry time.Time, exit *time.Time, date string) {
	slots, err := r.store.SlotsForDate(ctx, date)
	if err != nil {
		// Missing or invalid schedule data means zero slots for the date.
		r.warnOnce(date, err)
		return
	}

	now := r.now()
	end := now
	if exit != nil {
		end = *exit
	}

	for _, slot := range slots {
		slotStart, slotEnd, err := slotBounds(slot, date)
		if err != nil {
			log.Printf("schedule: slot %s (%s) has invalid bounds: %v", slot.ID, slot.Name, err)
			continue
		}

		overlapStart := maxTime(entry, slotStart)
		overlapEnd := minTime(end, slotEnd)
		overlap := 0.0
		if overlapEnd.After(overlapStart) {
			overlap = overlapEnd.Sub(overlapStart).Minutes()
		}

		// An open session counts against a slot that is underway right now
		// even before a full minute has accrued, so live views show the
		// identity as present from the first detection.
		underway := exit == nil && entry.Before(slotEnd) && !now.Before(slotStart) && now.Before(slotEnd)

		switch {
		case overlap >= 1 || underway:
			r.writePresence(ctx, sub, slot, entry, slotStart, overlapStart, overlapEnd, overlap, date)
		default:
			r.writeAbsenceOrRevise(ctx, sub, slot, now, slotEnd, overlapStart, overlapEnd, overlap, date)
		}
	}
}

// writePresence upserts a Present/Late row. An existing Absent row is never
// overwritten.
func (r *Reconciler) writePresence(ctx context.Context, sub Subject, slot attendance.Slot, entry, slotStart, overlapStart, overlapEnd time.Time, overlap float64, date string) {
	existing, err := r.store.FindSlotAttendance(ctx, sub.IdentityID, slot.ID, date)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("find_slot_attendance").Inc()
		log.Printf("schedule: lookup slot attendance failed for %s/%s: %v", sub.IdentityID, slot.ID, err)
		return
	}
	if existing != nil && existing.Status == attendance.StatusAbsent {
		return
	}

	status := attendance.StatusPresent
	if entry.After(slotStart) {
		status = attendance.StatusLate
	}

	rec := attendance.SlotRecord{
		IdentityID:     sub.IdentityID,
		Name:           sub.Name,
		ExternalKey:    sub.ExternalKey,
		SlotID:         slot.ID,
		SlotName:       slot.Name,
		Date:           date,
		Status:         status,
		OverlapMinutes: round2(overlap),
	}
	if existing != nil {
		rec.ID = existing.ID
	}
	start, end := overlapStart, overlapEnd
	if end.Before(start) {
		// Slot underway but no measurable overlap yet; pin the interval to
		// the clipped start.
		end = start
	}
	rec.EntryTime = &start
	rec.ExitTime = &end

	if err := r.store.UpsertSlotAttendance(ctx, rec); err != nil {
		metrics.StorageErrors.WithLabelValues("upsert_slot_attendance").Inc()
		log.Printf("schedule: upsert slot attendance failed for %s/%s: %v", sub.IdentityID, slot.ID, err)
		return
	}
	metrics.SlotUpserts.WithLabelValues(status).Inc()
}

// writeAbsenceOrRevise handles the no-qualifying-overlap case: revise the
// stored overlap on an existing Present/Late row, or insert Absent once the
// slot has ended and no row exists.
func (r *Reconciler) writeAbsenceOrRevise(ctx context.Context, sub Subject, slot attendance.Slot, now, slotEnd, overlapStart, overlapEnd time.Time, overlap float64, date string) {
	existing, err := r.store.FindSlotAttendance(ctx, sub.IdentityID, slot.ID, date)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("find_slot_attendance").Inc()
		log.Printf("schedule: lookup slot attendance failed for %s/%s: %v", sub.IdentityID, slot.ID, err)
		return
	}

	if existing != nil {
		if existing.Status == attendance.StatusAbsent {
			return
		}
		// A sub-minute interval never demotes an earlier Present/Late
		// classification; only the measured overlap is refreshed.
		rec := *existing
		rec.OverlapMinutes = round2(overlap)
		if overlapEnd.After(overlapStart) {
			start, end := overlapStart, overlapEnd
			rec.EntryTime = &start
			rec.ExitTime = &end
		}
		if err := r.store.UpsertSlotAttendance(ctx, rec); err != nil {
			metrics.StorageErrors.WithLabelValues("upsert_slot_attendance").Inc()
			log.Printf("schedule: revise slot attendance failed for %s/%s: %v", sub.IdentityID, slot.ID, err)
		}
		return
	}

	if !now.After(slotEnd) {
		// Slot still running or upcoming; absence cannot be decided yet.
		return
	}
	rec := attendance.SlotRecord{
		IdentityID:  sub.IdentityID,
		Name:        sub.Name,
		ExternalKey: sub.ExternalKey,
		SlotID:      slot.ID,
		SlotName:    slot.Name,
		Date:        date,
		Status:      attendance.StatusAbsent,
	}
	if err := r.store.UpsertSlotAttendance(ctx, rec); err != nil {
		metrics.StorageErrors.WithLabelValues("upsert_slot_attendance").Inc()
		log.Printf("schedule: insert absent failed for %s/%s: %v", sub.IdentityID, slot.ID, err)
		return
	}
	metrics.SlotUpserts.WithLabelValues(attendance.StatusAbsent).Inc()
}

func (r *Reconciler) warnOnce(date string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.warned[date] {
		return
	}
	r.warned[date] = true
	log.Printf("schedule: no usable slot schedule for %s, treating as zero slots: %v", date, err)
}

// IsLate reports whether entry is late given the class settings, along with
// the class start instant the decision was made against. Arriving exactly at
// class start plus the threshold is on time; only strictly later is late.
// Unparsable settings never mark anyone late.
func IsLate(settings attendance.ClassSettings, entry time.Time) (bool, *time.Time) {
	if settings.StartTime == "" {
		return false, nil
	}
	classStart, err := CombineDate(entry, settings.StartTime)
	if err != nil {
		log.Printf("schedule: invalid class start time %q: %v", settings.StartTime, err)
		return false, nil
	}
	limit := classStart.Add(time.Duration(settings.LateThresholdMinutes) * time.Minute)
	return entry.After(limit), &classStart
}

// CombineDate applies a wall-clock string ("15:04" or "15:04:05") to the
// date of ref, in ref's location.
func CombineDate(ref time.Time, clock string) (time.Time, error) {
	parts := strings.Split(clock, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return time.Time{}, fmt.Errorf("invalid clock %q", clock)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid clock %q: %w", clock, err)
		}
		nums[i] = n
	}
	if nums[0] < 0 || nums[0] > 23 || nums[1] < 0 || nums[1] > 59 || nums[2] < 0 || nums[2] > 59 {
		return time.Time{}, fmt.Errorf("clock %q out of range", clock)
	}
	return time.Date(ref.Year(), ref.Month(), ref.Day(), nums[0], nums[1], nums[2], 0, ref.Location()), nil
}

func slotBounds(slot attendance.Slot, date string) (time.Time, time.Time, error) {
	day, err := time.ParseInLocation(attendance.DateLayout, date, time.Local)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start, err := CombineDate(day, slot.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := CombineDate(day, slot.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
