package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classtrack/internal/attendance"
	"classtrack/internal/attendance/mock"
)

const testDate = "2026-03-02"

func at(t *testing.T, clock string) time.Time {
	t.Helper()
	day, err := time.ParseInLocation(attendance.DateLayout, testDate, time.Local)
	require.NoError(t, err)
	ts, err := CombineDate(day, clock)
	require.NoError(t, err)
	return ts
}

func newTestReconciler(store attendance.Store, now time.Time) *Reconciler {
	r := NewReconciler(store)
	r.now = func() time.Time { return now }
	return r
}

func TestReconcileOverlapMinutes(t *testing.T) {
	store := mock.NewStore()
	store.SetSlots(attendance.Slot{ID: "s1", Name: "Morning", StartTime: "09:00", EndTime: "09:50"})
	r := newTestReconciler(store, at(t, "10:00"))

	exit := at(t, "09:20")
	r.Reconcile(context.Background(), Subject{IdentityID: "id-1", Name: "Ada"}, at(t, "09:05"), &exit, testDate)

	rows := store.SlotRecords()
	require.Len(t, rows, 1)
	assert.Equal(t, 15.0, rows[0].OverlapMinutes)
	assert.Equal(t, attendance.StatusLate, rows[0].Status, "entry after slot start is late for that slot")
}

func TestReconcilePresentWhenEntryAtSlotStart(t *testing.T) {
	store := mock.NewStore()
	store.SetSlots(attendance.Slot{ID: "s1", Name: "Morning", StartTime: "09:00", EndTime: "09:50"})
	r := newTestReconciler(store, at(t, "10:00"))

	exit := at(t, "09:30")
	r.Reconcile(context.Background(), Subject{IdentityID: "id-1"}, at(t, "09:00"), &exit, testDate)

	rows := store.SlotRecords()
	require.Len(t, rows, 1)
	assert.Equal(t, attendance.StatusPresent, rows[0].Status)
	assert.Equal(t, 30.0, rows[0].OverlapMinutes)
}

func TestReconcileOverlapClippedToSlot(t *testing.T) {
	store := mock.NewStore()
	store.SetSlots(attendance.Slot{ID: "s1", StartTime: "09:00", EndTime: "09:50"})
	r := newTestReconciler(store, at(t, "11:00"))

	// Session spans the whole slot; overlap must not exceed slot length.
	exit := at(t, "10:30")
	r.Reconcile(context.Background(), Subject{IdentityID: "id-1"}, at(t, "08:30"), &exit, testDate)

	rows := store.SlotRecords()
	require.Len(t, rows, 1)
	assert.Equal(t, 50.0, rows[0].OverlapMinutes)
	assert.Equal(t, attendance.StatusPresent, rows[0].Status)
}

func TestReconcileOpenSessionUnderwaySlot(t *testing.T) {
	store := mock.NewStore()
	store.SetSlots(attendance.Slot{ID: "s1", StartTime: "09:00", EndTime: "09:50"})
	// First detection ten seconds ago; no full minute of overlap yet.
	r := newTestReconciler(store, at(t, "09:04:10"))

	r.Reconcile(context.Background(), Subject{IdentityID: "id-1"}, at(t, "09:04"), nil, testDate)

	rows := store.SlotRecords()
	require.Len(t, rows, 1, "open session during a running slot must be recorded immediately")
	assert.Equal(t, attendance.StatusLate, rows[0].Status)
}

func TestReconcileSubMinuteCloseKeepsStatus(t *testing.T) {
	store := mock.NewStore()
	store.SetSlots(attendance.Slot{ID: "s1", StartTime: "09:00", EndTime: "09:50"})
	ctx := context.Background()
	sub := Subject{IdentityID: "id-1"}

	r := newTestReconciler(store, at(t, "09:04:10"))
	r.Reconcile(ctx, sub, at(t, "09:04"), nil, testDate)

	// Session closes 31 seconds after entry. The earlier classification
	// stands; only the measured overlap is revised.
	r = newTestReconciler(store, at(t, "09:04:35"))
	exit := at(t, "09:04:31")
	r.Reconcile(ctx, sub, at(t, "09:04"), &exit, testDate)

	rows := store.SlotRecords()
	require.Len(t, rows, 1)
	assert.Equal(t, attendance.StatusLate, rows[0].Status)
	assert.Equal(t, 0.52, rows[0].OverlapMinutes)
}

func TestReconcileAbsentAfterSlotEnd(t *testing.T) {
	store := mock.NewStore()
	store.SetSlots(attendance.Slot{ID: "s1", StartTime: "09:00", EndTime: "09:50"})
	r := newTestReconciler(store, at(t, "10:30"))

	exit := at(t, "10:20")
	r.Reconcile(context.Background(), Subject{IdentityID: "id-1"}, at(t, "10:05"), &exit, testDate)

	rows := store.SlotRecords()
	require.Len(t, rows, 1)
	assert.Equal(t, attendance.StatusAbsent, rows[0].Status)
	assert.Equal(t, 0.0, rows[0].OverlapMinutes)
}

func TestReconcileNoAbsentBeforeSlotEnd(t *testing.T) {
	store := mock.NewStore()
	store.SetSlots(attendance.Slot{ID: "s1", StartTime: "14:00", EndTime: "15:00"})
	r := newTestReconciler(store, at(t, "10:30"))

	exit := at(t, "10:20")
	r.Reconcile(context.Background(), Subject{IdentityID: "id-1"}, at(t, "10:05"), &exit, testDate)

	assert.Empty(t, store.SlotRecords(), "absence cannot be decided while the slot is upcoming")
}

func TestReconcileAbsentNeverOverwritten(t *testing.T) {
	store := mock.NewStore()
	store.SetSlots(attendance.Slot{ID: "s1", StartTime: "09:00", EndTime: "09:50"})
	ctx := context.Background()
	sub := Subject{IdentityID: "id-1"}

	r := newTestReconciler(store, at(t, "10:00"))
	exit := at(t, "09:59")
	r.Reconcile(ctx, sub, at(t, "09:55"), &exit, testDate)
	require.Equal(t, attendance.StatusAbsent, store.SlotRecords()[0].Status)

	// A later qualifying interval for the same slot and date must not
	// resurrect the row.
	exit2 := at(t, "10:30")
	r.Reconcile(ctx, sub, at(t, "09:05"), &exit2, testDate)

	rows := store.SlotRecords()
	require.Len(t, rows, 1)
	assert.Equal(t, attendance.StatusAbsent, rows[0].Status)
}

func TestReconcileAbsentIdempotent(t *testing.T) {
	store := mock.NewStore()
	store.SetSlots(attendance.Slot{ID: "s1", StartTime: "09:00", EndTime: "09:50"})
	ctx := context.Background()
	sub := Subject{IdentityID: "id-1"}
	r := newTestReconciler(store, at(t, "10:30"))
	exit := at(t, "10:20")

	r.Reconcile(ctx, sub, at(t, "10:05"), &exit, testDate)
	r.Reconcile(ctx, sub, at(t, "10:05"), &exit, testDate)

	assert.Len(t, store.SlotRecords(), 1)
}

func TestReconcileSlotsErrorMeansZeroSlots(t *testing.T) {
	store := mock.NewStore()
	store.SlotsError = errors.New("relation does not exist")
	r := newTestReconciler(store, at(t, "10:00"))

	exit := at(t, "09:30")
	r.Reconcile(context.Background(), Subject{IdentityID: "id-1"}, at(t, "09:00"), &exit, testDate)

	assert.Empty(t, store.SlotRecords())
}

func TestReconcileSlotWriteErrorSkipsOnlyThatSlot(t *testing.T) {
	store := mock.NewStore()
	store.SetSlots(
		attendance.Slot{ID: "bad", StartTime: "25:00", EndTime: "09:50"},
		attendance.Slot{ID: "good", StartTime: "09:00", EndTime: "09:50"},
	)
	r := newTestReconciler(store, at(t, "10:00"))

	exit := at(t, "09:30")
	r.Reconcile(context.Background(), Subject{IdentityID: "id-1"}, at(t, "09:00"), &exit, testDate)

	rows := store.SlotRecords()
	require.Len(t, rows, 1)
	assert.Equal(t, "good", rows[0].SlotID)
}

func TestIsLate(t *testing.T) {
	settings := attendance.ClassSettings{StartTime: "09:00:00", LateThresholdMinutes: 10}

	tests := []struct {
		name  string
		entry string
		late  bool
	}{
		{"well before threshold", "09:05:00", false},
		{"exactly at threshold", "09:10:00", false},
		{"one second past threshold", "09:10:01", true},
		{"well past threshold", "09:45:00", true},
		{"before class start", "08:50:00", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			late, classStart := IsLate(settings, at(t, tt.entry))
			assert.Equal(t, tt.late, late)
			require.NotNil(t, classStart)
			assert.Equal(t, at(t, "09:00:00"), *classStart)
		})
	}
}

func TestIsLateUnparsableSettings(t *testing.T) {
	late, classStart := IsLate(attendance.ClassSettings{StartTime: "nonsense"}, at(t, "12:00"))
	assert.False(t, late)
	assert.Nil(t, classStart)

	late, classStart = IsLate(attendance.ClassSettings{}, at(t, "12:00"))
	assert.False(t, late)
	assert.Nil(t, classStart)
}

func TestCombineDate(t *testing.T) {
	ref := time.Date(2026, 3, 2, 14, 30, 0, 0, time.Local)

	got, err := CombineDate(ref, "09:05")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 5, 0, 0, time.Local), got)

	got, err = CombineDate(ref, "09:05:30")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 5, 30, 0, time.Local), got)

	for _, bad := range []string{"", "09", "24:00", "09:60", "a:b", "09:05:30:00"} {
		_, err := CombineDate(ref, bad)
		assert.Error(t, err, "clock %q", bad)
	}
}
