// Package alerts is a bounded, lossy, observability-only event feed.
package alerts

import (
	"context"
	"log"
	"sync"
	"time"
)

// Kind classifies an alert.
type Kind string

// Alert kinds.
const (
	KindEntry Kind = "entry"
	KindLate  Kind = "late"
	KindExit  Kind = "exit"
)

// DefaultCapacity bounds the buffer when no capacity is configured.
const DefaultCapacity = 100

// Alert is one human-readable event.
type Alert struct {
	Kind        Kind      `json:"type"`
	Message     string    `json:"message"`
	Name        string    `json:"name,omitempty"`
	ExternalKey string    `json:"external_key,omitempty"`
	At          time.Time `json:"timestamp"`
}

// Sink receives a best-effort copy of every pushed alert, e.g. for durable
// fan-out. Errors are logged, never propagated to producers.
type Sink interface {
	Store(ctx context.Context, a Alert) error
}

// Buffer is a bounded FIFO ring of recent alerts. When full, the oldest
// entry is evicted; producers never block and nothing is retried. This is
// a lossy feed, not a work queue.
type Buffer struct {
	mu      sync.Mutex
	entries []Alert
	cap     int
	sink    Sink
}

// NewBuffer creates a buffer holding at most capacity alerts.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{cap: capacity}
}

// SetSink attaches an optional fan-out sink. Must be called before
// producers start.
func (b *Buffer) SetSink(s Sink) {
	b.sink = s
}

// Push appends an alert, evicting the oldest entry if the buffer is full.
func (b *Buffer) Push(a Alert) {
	if a.At.IsZero() {
		a.At = time.Now()
	}
	b.mu.Lock()
	b.entries = append(b.entries, a)
	if len(b.entries) > b.cap {
		b.entries = b.entries[len(b.entries)-b.cap:]
	}
	sink := b.sink
	b.mu.Unlock()

	if sink != nil {
		// Fan-out stays off the producer's critical path.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := sink.Store(ctx, a); err != nil {
				log.Printf("alerts: sink store failed: %v", err)
			}
		}()
	}
}

// Peek returns the most recent k alerts in chronological order, without
// mutating the buffer.
func (b *Buffer) Peek(k int) []Alert {
	b.mu.Lock()
	defer b.mu.Unlock()
	if k <= 0 || k > len(b.entries) {
		k = len(b.entries)
	}
	out := make([]Alert, k)
	copy(out, b.entries[len(b.entries)-k:])
	return out
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
}

// Len returns the current number of buffered alerts.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
