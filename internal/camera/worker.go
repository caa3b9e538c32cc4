// Package camera runs the per-camera ingest loop: read, recognize, track,
// publish.
package camera

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"log"
	"sync"
	"time"

	"classtrack/internal/metrics"
	"classtrack/internal/recognizer"
	"classtrack/internal/tracker"
)

// Status is the externally observable lifecycle state of one camera worker.
type Status string

// Worker statuses.
const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
	StatusStopped  Status = "stopped"
)

// Recognizer finds faces in a JPEG frame.
type Recognizer interface {
	Recognize(ctx context.Context, frame []byte) ([]recognizer.Detection, error)
}

// Sink receives recognized detections.
type Sink interface {
	OnDetection(ctx context.Context, det tracker.Detection)
}

// Policy holds the tunable ingest parameters. Zero values take defaults.
type Policy struct {
	// ProcessEvery runs recognition on every Nth frame; the frames in
	// between are display-only. Default 2 (alternate frames).
	ProcessEvery int
	// DownsampleFactor shrinks frames before recognition. Default 4.
	DownsampleFactor int
	// FrameInterval paces the loop. Default 33ms (~30 FPS).
	FrameInterval time.Duration
	// ReadBackoff is the sleep before reopening after a read failure.
	// Default 1s.
	ReadBackoff time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.ProcessEvery <= 0 {
		p.ProcessEvery = 2
	}
	if p.DownsampleFactor <= 0 {
		p.DownsampleFactor = 4
	}
	if p.FrameInterval <= 0 {
		p.FrameInterval = 33 * time.Millisecond
	}
	if p.ReadBackoff <= 0 {
		p.ReadBackoff = time.Second
	}
	return p
}

// Worker pulls frames from one camera, forwards recognized identities to
// the session tracker and publishes annotated frames for live viewing.
type Worker struct {
	id      string
	locator string
	source  Source
	rec     Recognizer
	sink    Sink
	policy  Policy
	holder  *FrameHolder
	now     func() time.Time

	mu        sync.Mutex
	status    Status
	startedAt time.Time

	done chan struct{}
}

// NewWorker builds a worker; Run drives it.
func NewWorker(id, locator string, source Source, rec Recognizer, sink Sink, policy Policy) *Worker {
	return &Worker{
		id:      id,
		locator: locator,
		source:  source,
		rec:     rec,
		sink:    sink,
		policy:  policy.withDefaults(),
		holder:  NewFrameHolder(),
		now:     time.Now,
		status:  StatusStarting,
		done:    make(chan struct{}),
	}
}

// Run executes the ingest loop until ctx is cancelled. A camera that never
// opens is a terminal failure for this worker only; read failures after a
// successful open are retried indefinitely with backoff.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	w.mu.Lock()
	w.startedAt = w.now()
	w.mu.Unlock()

	if err := w.source.Open(ctx); err != nil {
		log.Printf("camera %s: could not open source %s: %v", w.id, w.locator, err)
		w.setStatus(StatusFailed)
		return
	}
	defer w.source.Close()
	w.setStatus(StatusRunning)
	log.Printf("camera %s: started (%s)", w.id, w.locator)

	frameIdx := 0
	var lastDets []recognizer.Detection

	for {
		if ctx.Err() != nil {
			w.setStatus(StatusStopped)
			log.Printf("camera %s: stopped", w.id)
			return
		}

		img, err := w.source.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			metrics.FrameReadFailures.WithLabelValues(w.id).Inc()
			log.Printf("camera %s: read failed: %v", w.id, err)
			w.sleep(ctx, w.policy.ReadBackoff)
			if err := w.reopen(ctx); err != nil {
				log.Printf("camera %s: reopen failed: %v", w.id, err)
			}
			continue
		}
		metrics.FramesRead.WithLabelValues(w.id).Inc()

		// Temporal decimation bounds recognition cost; every frame still
		// yields a display frame.
		if frameIdx%w.policy.ProcessEvery == 0 {
			lastDets = w.processFrame(ctx, img)
		}
		frameIdx++

		annotated := Annotate(img, lastDets, w.policy.DownsampleFactor)
		if encoded, err := encodeJPEG(annotated); err == nil {
			w.holder.Set(encoded)
		}

		w.sleep(ctx, w.policy.FrameInterval)
	}
}

// processFrame runs recognition on a downsampled copy and forwards each
// recognized identity to the tracker at most once for this frame. Split or
// duplicate boxes for the same person must not double-count.
func (w *Worker) processFrame(ctx context.Context, img image.Image) []recognizer.Detection {
	small := Downsample(img, w.policy.DownsampleFactor)
	encoded, err := encodeJPEG(small)
	if err != nil {
		log.Printf("camera %s: encode failed: %v", w.id, err)
		return nil
	}

	metrics.RecognitionCalls.WithLabelValues(w.id).Inc()
	dets, err := w.rec.Recognize(ctx, encoded)
	if err != nil {
		// Recognition errors skip the frame; the loop continues.
		log.Printf("camera %s: recognition failed: %v", w.id, err)
		return nil
	}

	seen := make(map[string]bool, len(dets))
	at := w.now()
	for _, det := range dets {
		if !det.Recognized() || seen[det.IdentityID] {
			continue
		}
		seen[det.IdentityID] = true
		metrics.Detections.WithLabelValues(w.id).Inc()
		w.sink.OnDetection(ctx, tracker.Detection{
			IdentityID:  det.IdentityID,
			Name:        det.Name,
			ExternalKey: det.ExternalKey,
			CameraID:    w.id,
			At:          at,
		})
	}
	return dets
}

func (w *Worker) reopen(ctx context.Context) error {
	_ = w.source.Close()
	return w.source.Open(ctx)
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Frame returns the latest annotated frame for this camera.
func (w *Worker) Frame() ([]byte, time.Time, bool) {
	return w.holder.Latest()
}

// Status returns the worker's lifecycle state.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// StartedAt returns when Run began.
func (w *Worker) StartedAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startedAt
}

// Done is closed when the worker's loop has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) setStatus(s Status) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
