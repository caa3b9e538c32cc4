package tracker

import (
	"context"
	"log"
	"time"
)

const (
	// DefaultWatchdogPeriod is how often the inactivity sweep runs.
	DefaultWatchdogPeriod = 10 * time.Second
	// DefaultInactivityTimeout is how long an identity may go unseen
	// before its session is closed.
	DefaultInactivityTimeout = 30 * time.Second
)

// Watchdog periodically closes sessions whose detections have gone quiet.
// Ticks never overlap: each sweep runs to completion before the next tick
// is taken, so an overrunning sweep delays the next one instead of racing it.
type Watchdog struct {
	tracker   *Tracker
	period    time.Duration
	threshold time.Duration
}

// NewWatchdog creates a watchdog over the tracker. Non-positive durations
// fall back to the defaults.
func NewWatchdog(t *Tracker, period, threshold time.Duration) *Watchdog {
	if period <= 0 {
		period = DefaultWatchdogPeriod
	}
	if threshold <= 0 {
		threshold = DefaultInactivityTimeout
	}
	return &Watchdog{tracker: t, period: period, threshold: threshold}
}

// Run sweeps until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()
	log.Printf("watchdog: started (period %s, inactivity timeout %s)", w.period, w.threshold)
	for {
		select {
		case <-ctx.Done():
			log.Println("watchdog: stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep closes all currently expired sessions.
func (w *Watchdog) Sweep(ctx context.Context) {
	if n := w.tracker.CloseExpired(ctx, w.threshold); n > 0 {
		log.Printf("watchdog: closed %d inactive session(s)", n)
	}
}
