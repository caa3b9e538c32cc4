package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classtrack/internal/attendance/mock"
)

func TestNewWatchdogDefaults(t *testing.T) {
	w := NewWatchdog(nil, 0, -time.Second)
	assert.Equal(t, DefaultWatchdogPeriod, w.period)
	assert.Equal(t, DefaultInactivityTimeout, w.threshold)

	w = NewWatchdog(nil, time.Second, 5*time.Second)
	assert.Equal(t, time.Second, w.period)
	assert.Equal(t, 5*time.Second, w.threshold)
}

func TestSweepClosesOnlyExpired(t *testing.T) {
	store := mock.NewStore()
	trk, _ := newTestTracker(store)
	ctx := context.Background()

	stale := det(base)
	fresh := det(base.Add(20 * time.Second))
	fresh.IdentityID = "id-2"
	fresh.Name = "Grace"
	trk.OnDetection(ctx, stale)
	trk.OnDetection(ctx, fresh)

	trk.now = func() time.Time { return base.Add(31 * time.Second) }
	NewWatchdog(trk, DefaultWatchdogPeriod, DefaultInactivityTimeout).Sweep(ctx)

	active := trk.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "id-2", active[0].IdentityID)
}

func TestRunStopsOnCancel(t *testing.T) {
	store := mock.NewStore()
	trk, _ := newTestTracker(store)
	w := NewWatchdog(trk, time.Millisecond, DefaultInactivityTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop after cancel")
	}
}
