package camera

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Info describes one registered camera for observers.
type Info struct {
	ID        string    `json:"camera_id"`
	Locator   string    `json:"camera_url"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// Manager owns the set of camera workers. Stopping or failing leaves the
// camera registered so its terminal status stays observable; a later Start
// with the same id replaces it.
type Manager struct {
	newSource SourceFactory
	rec       Recognizer
	sink      Sink
	policy    Policy

	mu      sync.Mutex
	workers map[string]*managed
}

type managed struct {
	worker *Worker
	cancel context.CancelFunc
}

// NewManager creates a manager building sources with factory.
func NewManager(factory SourceFactory, rec Recognizer, sink Sink, policy Policy) *Manager {
	return &Manager{
		newSource: factory,
		rec:       rec,
		sink:      sink,
		policy:    policy,
		workers:   make(map[string]*managed),
	}
}

// Start registers a camera and launches its worker. Starting an id whose
// worker is still starting or running is rejected.
func (m *Manager) Start(ctx context.Context, id, locator string) error {
	if id == "" {
		return fmt.Errorf("camera id required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.workers[id]; ok {
		switch existing.worker.Status() {
		case StatusStarting, StatusRunning:
			return fmt.Errorf("camera %s is already running", id)
		}
	}

	source, err := m.newSource(locator)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithCancel(ctx)
	w := NewWorker(id, locator, source, m.rec, m.sink, m.policy)
	m.workers[id] = &managed{worker: w, cancel: cancel}
	go w.Run(wctx)
	return nil
}

// Stop signals a camera's worker and waits for its loop to exit.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	entry, ok := m.workers[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("camera %s is not registered", id)
	}
	entry.cancel()
	<-entry.worker.Done()
	return nil
}

// StopAll stops every worker; used during shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	entries := make([]*managed, 0, len(m.workers))
	for _, e := range m.workers {
		entries = append(entries, e)
	}
	m.mu.Unlock()
	for _, e := range entries {
		e.cancel()
		<-e.worker.Done()
	}
}

// List returns all registered cameras sorted by id.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.workers))
	for id, e := range m.workers {
		out = append(out, Info{
			ID:        id,
			Locator:   e.worker.locator,
			Status:    e.worker.Status(),
			StartedAt: e.worker.StartedAt(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Frame returns the latest annotated frame for a camera; ok is false when
// the camera is unknown, not running, or has no frame yet.
func (m *Manager) Frame(id string) ([]byte, bool) {
	m.mu.Lock()
	entry, ok := m.workers[id]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	frame, _, ok := entry.worker.Frame()
	return frame, ok
}

// Active reports whether a camera is registered and currently running.
func (m *Manager) Active(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.workers[id]
	if !ok {
		return false
	}
	st := entry.worker.Status()
	return st == StatusStarting || st == StatusRunning
}
