// Package tracker owns the in-memory active-session state and applies
// detections and inactivity timeouts to it.
package tracker

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"classtrack/internal/alerts"
	"classtrack/internal/attendance"
	"classtrack/internal/metrics"
	"classtrack/internal/schedule"
)

// Detection is one recognized identity sighting reported by a camera worker.
type Detection struct {
	IdentityID  string
	Name        string
	ExternalKey string
	CameraID    string
	At          time.Time
}

// SessionInfo is a read-only snapshot of one active session.
type SessionInfo struct {
	IdentityID  string    `json:"identity_id"`
	Name        string    `json:"name"`
	ExternalKey string    `json:"external_key"`
	CameraID    string    `json:"camera_id"`
	EntryTime   time.Time `json:"entry_time"`
	LastSeen    time.Time `json:"last_seen"`
}

type session struct {
	recordID    string
	name        string
	externalKey string
	cameraID    string
	entryTime   time.Time
	lastSeen    time.Time
}

// Tracker applies detections and timeouts to the active-session map and
// drives the store, the slot reconciler and the alert buffer. One exclusive
// lock covers the map and the paired persisted read-modify-write; call
// frequency is bounded by camera frame rate, so contention stays cheap.
type Tracker struct {
	store  attendance.Store
	recon  *schedule.Reconciler
	alerts *alerts.Buffer
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates a tracker. The reconciler and alert buffer may not be nil.
func New(store attendance.Store, recon *schedule.Reconciler, buf *alerts.Buffer) *Tracker {
	return &Tracker{
		store:    store,
		recon:    recon,
		alerts:   buf,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Resume reloads today's open attendance records into the session map. It
// runs once at startup, before camera workers start, so sessions left open
// by a previous process are watchdogged instead of lingering until the
// identity happens to be detected again.
func (t *Tracker) Resume(ctx context.Context) error {
	now := t.now()
	date := now.Format(attendance.DateLayout)
	open, err := t.store.ListOpenAttendance(ctx, date)
	if err != nil {
		return fmt.Errorf("list open attendance: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range open {
		if _, ok := t.sessions[rec.IdentityID]; ok {
			continue
		}
		t.sessions[rec.IdentityID] = &session{
			recordID:    rec.ID,
			name:        rec.Name,
			externalKey: rec.ExternalKey,
			cameraID:    rec.CameraID,
			entryTime:   rec.EntryTime,
			// Last seen is unknown across a restart; start the inactivity
			// clock now so the watchdog closes the session if nobody shows.
			lastSeen: now,
		}
		metrics.SessionsOpened.Inc()
	}
	metrics.ActiveSessions.Set(float64(len(t.sessions)))
	if len(open) > 0 {
		log.Printf("tracker: resumed %d open session(s) for %s", len(open), date)
	}
	return nil
}

// OnDetection applies a single recognized sighting. Storage errors abort
// only this event's downstream effects; they are never returned to the
// camera loop and no retry is attempted here.
func (t *Tracker) OnDetection(ctx context.Context, det Detection) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sessions[det.IdentityID]; ok {
		s.lastSeen = det.At
		s.cameraID = det.CameraID
		return
	}

	date := det.At.Format(attendance.DateLayout)
	open, err := t.store.FindOpenAttendance(ctx, det.IdentityID, date)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("find_open_attendance").Inc()
		log.Printf("tracker: open record lookup failed for %s: %v", det.IdentityID, err)
		return
	}

	if open != nil {
		t.resumeLocked(ctx, det, open, date)
		return
	}
	t.openLocked(ctx, det, date)
}

// resumeLocked rebuilds a session from a persisted open record, keeping its
// original entry time.
func (t *Tracker) resumeLocked(ctx context.Context, det Detection, open *attendance.Record, date string) {
	name := det.Name
	if name == "" {
		name = open.Name
	}
	t.sessions[det.IdentityID] = &session{
		recordID:    open.ID,
		name:        name,
		externalKey: det.ExternalKey,
		cameraID:    det.CameraID,
		entryTime:   open.EntryTime,
		lastSeen:    det.At,
	}
	metrics.SessionsOpened.Inc()
	metrics.ActiveSessions.Set(float64(len(t.sessions)))

	sub := schedule.Subject{IdentityID: det.IdentityID, Name: name, ExternalKey: det.ExternalKey}
	t.recon.Reconcile(ctx, sub, open.EntryTime, nil, date)
	t.emitEntryAlert(det, open.EntryTime, open.IsLate)
	log.Printf("tracker: resumed session for %s (%s), entry %s", name, det.IdentityID,
		open.EntryTime.Format("15:04:05"))
}

// openLocked records a brand new entry. The record is persisted first; a
// failed persist must not leave a ghost session behind.
func (t *Tracker) openLocked(ctx context.Context, det Detection, date string) {
	settings, err := t.store.Settings(ctx)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("settings").Inc()
		log.Printf("tracker: class settings lookup failed for %s: %v", det.IdentityID, err)
		return
	}
	isLate, classStart := schedule.IsLate(settings, det.At)

	rec := attendance.Record{
		IdentityID:  det.IdentityID,
		Name:        det.Name,
		ExternalKey: det.ExternalKey,
		EntryTime:   det.At,
		CameraID:    det.CameraID,
		Date:        date,
		IsLate:      isLate,
		ClassStart:  classStart,
	}
	id, err := t.store.InsertAttendance(ctx, rec)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("insert_attendance").Inc()
		log.Printf("tracker: attendance insert failed for %s: %v", det.IdentityID, err)
		return
	}

	t.sessions[det.IdentityID] = &session{
		recordID:    id,
		name:        det.Name,
		externalKey: det.ExternalKey,
		cameraID:    det.CameraID,
		entryTime:   det.At,
		lastSeen:    det.At,
	}
	metrics.SessionsOpened.Inc()
	metrics.ActiveSessions.Set(float64(len(t.sessions)))

	sub := schedule.Subject{IdentityID: det.IdentityID, Name: det.Name, ExternalKey: det.ExternalKey}
	t.recon.Reconcile(ctx, sub, det.At, nil, date)
	t.emitEntryAlert(det, det.At, isLate)
	log.Printf("tracker: entry recorded for %s (%s) at %s%s", det.Name, det.IdentityID,
		det.At.Format("15:04:05"), lateTag(isLate))
}

// OnExitTimeout closes the active session for an identity whose detections
// have stopped. The in-memory session is removed even when the persisted
// close fails; the failure is logged and recovery is left to a future
// detection.
func (t *Tracker) OnExitTimeout(ctx context.Context, identityID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked(ctx, identityID)
}

// CloseExpired closes every session whose last sighting is older than
// threshold. The whole sweep runs under the session lock so a detection
// cannot race a timeout decision mid-scan. Returns the number of sessions
// closed.
func (t *Tracker) CloseExpired(ctx context.Context, threshold time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var expired []string
	for id, s := range t.sessions {
		if now.Sub(s.lastSeen) > threshold {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		t.closeLocked(ctx, id)
	}
	return len(expired)
}

func (t *Tracker) closeLocked(ctx context.Context, identityID string) {
	s, ok := t.sessions[identityID]
	if !ok {
		return
	}
	// The session slot is freed regardless of how persistence goes below.
	defer func() {
		delete(t.sessions, identityID)
		metrics.SessionsClosed.WithLabelValues("timeout").Inc()
		metrics.ActiveSessions.Set(float64(len(t.sessions)))
	}()

	exitTime := s.lastSeen
	duration := round2(exitTime.Sub(s.entryTime).Minutes())
	date := t.now().Format(attendance.DateLayout)

	open, err := t.store.FindOpenAttendance(ctx, identityID, date)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("find_open_attendance").Inc()
		log.Printf("tracker: open record lookup failed closing %s: %v", identityID, err)
		return
	}
	if open == nil || !open.EntryTime.Equal(s.entryTime) {
		log.Printf("tracker: no open record matching entry %s for %s, dropping session",
			s.entryTime.Format("15:04:05"), identityID)
		return
	}

	if err := t.store.CloseAttendance(ctx, open.ID, exitTime, duration); err != nil {
		metrics.StorageErrors.WithLabelValues("close_attendance").Inc()
		log.Printf("tracker: close failed for %s: %v", identityID, err)
		return
	}

	sub := schedule.Subject{IdentityID: identityID, Name: s.name, ExternalKey: s.externalKey}
	t.recon.Reconcile(ctx, sub, s.entryTime, &exitTime, date)
	t.pushAlert(alerts.Alert{
		Kind: alerts.KindExit,
		Message: fmt.Sprintf("🚪 %s (%s) exited at %s (Duration: %.1f min)",
			s.name, s.externalKey, exitTime.Format("15:04:05"), duration),
		Name:        s.name,
		ExternalKey: s.externalKey,
		At:          exitTime,
	})
	log.Printf("tracker: exit recorded for %s (%s), duration %.2f min", s.name, identityID, duration)
}

// Active returns a snapshot of the current sessions.
func (t *Tracker) Active() []SessionInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SessionInfo, 0, len(t.sessions))
	for id, s := range t.sessions {
		out = append(out, SessionInfo{
			IdentityID:  id,
			Name:        s.name,
			ExternalKey: s.externalKey,
			CameraID:    s.cameraID,
			EntryTime:   s.entryTime,
			LastSeen:    s.lastSeen,
		})
	}
	return out
}

func (t *Tracker) emitEntryAlert(det Detection, entry time.Time, isLate bool) {
	if isLate {
		t.pushAlert(alerts.Alert{
			Kind: alerts.KindLate,
			Message: fmt.Sprintf("⚠️ %s (%s) entered LATE at %s",
				det.Name, det.ExternalKey, entry.Format("15:04:05")),
			Name:        det.Name,
			ExternalKey: det.ExternalKey,
			At:          entry,
		})
		return
	}
	t.pushAlert(alerts.Alert{
		Kind: alerts.KindEntry,
		Message: fmt.Sprintf("✅ %s (%s) entered at %s",
			det.Name, det.ExternalKey, entry.Format("15:04:05")),
		Name:        det.Name,
		ExternalKey: det.ExternalKey,
		At:          entry,
	})
}

func (t *Tracker) pushAlert(a alerts.Alert) {
	if t.alerts == nil {
		return
	}
	t.alerts.Push(a)
	metrics.Alerts.WithLabelValues(string(a.Kind)).Inc()
}

func lateTag(isLate bool) string {
	if isLate {
		return " [LATE]"
	}
	return ""
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
