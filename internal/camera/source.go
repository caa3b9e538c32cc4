package camera

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Source is a stream of frames from one camera. Implementations are used by
// a single worker goroutine; they do not need to be concurrency-safe.
type Source interface {
	// Open (re)connects to the camera. Called once at startup and again
	// after read failures.
	Open(ctx context.Context) error
	// ReadFrame blocks for the next frame.
	ReadFrame(ctx context.Context) (image.Image, error)
	// Close releases the connection. Safe to call when not open.
	Close() error
}

// SourceFactory builds a Source from a locator string.
type SourceFactory func(locator string) (Source, error)

// NewSource maps a locator to a Source. Supported locators are HTTP(S) MJPEG
// stream URLs (IP cameras, simulators). Device indexes need a video capture
// backend this build does not carry.
func NewSource(locator string) (Source, error) {
	switch {
	case strings.HasPrefix(locator, "http://"), strings.HasPrefix(locator, "https://"):
		return NewMJPEGSource(locator), nil
	default:
		return nil, fmt.Errorf("unsupported camera source %q (expect an http(s) MJPEG URL)", locator)
	}
}

// MJPEGSource reads frames from a multipart/x-mixed-replace MJPEG stream.
type MJPEGSource struct {
	url    string
	client *http.Client
	resp   *http.Response
	parts  *multipart.Reader
}

// NewMJPEGSource creates a source for the given stream URL.
func NewMJPEGSource(url string) *MJPEGSource {
	return &MJPEGSource{
		url: url,
		// No overall timeout: the stream is long-lived by design.
		client: &http.Client{},
	}
}

// Open connects and positions the multipart reader on the stream.
func (s *MJPEGSource) Open(ctx context.Context) error {
	_ = s.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect %s: %w", s.url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("connect %s: unexpected status %s", s.url, resp.Status)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		return fmt.Errorf("connect %s: not an MJPEG stream (content-type %q)",
			s.url, resp.Header.Get("Content-Type"))
	}

	s.resp = resp
	s.parts = multipart.NewReader(resp.Body, params["boundary"])
	return nil
}

// ReadFrame decodes the next JPEG part.
func (s *MJPEGSource) ReadFrame(ctx context.Context) (image.Image, error) {
	if s.parts == nil {
		return nil, fmt.Errorf("source not open")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	part, err := s.parts.NextPart()
	if err != nil {
		return nil, fmt.Errorf("read part: %w", err)
	}
	defer part.Close()
	img, err := jpeg.Decode(part)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

// Close drops the connection.
func (s *MJPEGSource) Close() error {
	s.parts = nil
	if s.resp != nil {
		err := s.resp.Body.Close()
		s.resp = nil
		return err
	}
	return nil
}

// FrameHolder is a single-slot, last-write-wins holder for the latest
// annotated frame of one camera. Consumers always see the newest frame;
// no backlog is ever queued.
type FrameHolder struct {
	mu    sync.RWMutex
	frame []byte
	at    time.Time
}

// NewFrameHolder creates an empty holder.
func NewFrameHolder() *FrameHolder {
	return &FrameHolder{}
}

// Set replaces the held frame.
func (h *FrameHolder) Set(frame []byte) {
	h.mu.Lock()
	h.frame = frame
	h.at = time.Now()
	h.mu.Unlock()
}

// Latest returns the newest frame and its capture time; ok is false before
// the first frame arrives.
func (h *FrameHolder) Latest() (frame []byte, at time.Time, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.frame, h.at, h.frame != nil
}
