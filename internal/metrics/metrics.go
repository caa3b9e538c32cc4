// Package metrics holds the Prometheus collectors shared by the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesRead counts frames successfully read per camera.
	FramesRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classtrack_frames_read_total",
		Help: "Frames read from camera sources.",
	}, []string{"camera"})

	// FrameReadFailures counts camera read failures per camera.
	FrameReadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classtrack_frame_read_failures_total",
		Help: "Failed camera reads that triggered backoff and reopen.",
	}, []string{"camera"})

	// RecognitionCalls counts recognizer invocations per camera.
	RecognitionCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classtrack_recognition_calls_total",
		Help: "Recognition collaborator calls.",
	}, []string{"camera"})

	// Detections counts recognized identity detections handed to the tracker.
	Detections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classtrack_detections_total",
		Help: "Recognized detections forwarded to the session tracker.",
	}, []string{"camera"})

	// SessionsOpened counts new in-memory sessions.
	SessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_sessions_opened_total",
		Help: "Sessions created by the tracker.",
	})

	// SessionsClosed counts closed sessions by reason.
	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classtrack_sessions_closed_total",
		Help: "Sessions closed, by reason.",
	}, []string{"reason"})

	// ActiveSessions tracks the current in-memory session count.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "classtrack_active_sessions",
		Help: "Currently open in-memory sessions.",
	})

	// Alerts counts emitted alerts by kind.
	Alerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classtrack_alerts_total",
		Help: "Alerts pushed to the alert buffer, by kind.",
	}, []string{"kind"})

	// SlotUpserts counts slot attendance writes by status.
	SlotUpserts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classtrack_slot_records_total",
		Help: "Slot attendance rows written, by status.",
	}, []string{"status"})

	// StorageErrors counts failed storage calls by operation.
	StorageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classtrack_storage_errors_total",
		Help: "Storage calls that failed, by operation.",
	}, []string{"op"})
)
