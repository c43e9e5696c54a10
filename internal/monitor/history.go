// Package monitor keeps a rolling in-memory history of frame results and
// serves it, with link statistics, on the debug HTTP routes.
package monitor

import (
	"sync"
	"time"

	"github.com/banshee-data/yawtrack/internal/mode"
)

// DefaultHistorySize is the number of frames kept when none is configured.
const DefaultHistorySize = 600

// Point is the per-frame summary kept in the history.
type Point struct {
	Seq             uint64    `json:"seq"`
	Time            time.Time `json:"time"`
	Mode            mode.Mode `json:"mode"`
	Found           bool      `json:"found"`
	Degraded        bool      `json:"degraded"`
	Sent            bool      `json:"sent"`
	ErrorPx         float64   `json:"error_px"`
	YawRate         float64   `json:"yaw_rate"`
	MeasuredYawRate float64   `json:"measured_yaw_rate"`
	Yaw             float64   `json:"yaw"`
	FPS             float64   `json:"fps"`
}

// Counters accumulate over the lifetime of the history, not just the
// retained window.
type Counters struct {
	Frames       uint64 `json:"frames"`
	TrackFrames  uint64 `json:"track_frames"`
	Degraded     uint64 `json:"degraded"`
	Sent         uint64 `json:"sent"`
	SendFailures uint64 `json:"send_failures"`
	Transitions  uint64 `json:"transitions"`
}

// History is a fixed-size ring of Points. It implements mode.Observer.
type History struct {
	mu       sync.RWMutex
	points   []Point
	next     int
	full     bool
	counters Counters
	last     *mode.Transition
}

// NewHistory returns a history holding up to size points.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{points: make([]Point, size)}
}

// Observe implements mode.Observer.
func (h *History) Observe(r mode.FrameResult) {
	p := Point{
		Seq:             r.Seq,
		Time:            r.Time,
		Mode:            r.Mode,
		Found:           r.Found,
		Degraded:        r.Degraded,
		Sent:            r.Sent(),
		ErrorPx:         r.ErrorPx,
		YawRate:         r.YawRate,
		MeasuredYawRate: r.Attitude.YawRate,
		Yaw:             r.Attitude.Yaw,
		FPS:             r.FPS,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.points[h.next] = p
	h.next = (h.next + 1) % len(h.points)
	if h.next == 0 {
		h.full = true
	}

	h.counters.Frames++
	if r.Mode == mode.Track {
		h.counters.TrackFrames++
	}
	if r.Degraded {
		h.counters.Degraded++
	}
	if r.Command != nil {
		if r.SendErr != nil {
			h.counters.SendFailures++
		} else {
			h.counters.Sent++
		}
	}
	if r.Transition != nil {
		h.counters.Transitions++
		t := *r.Transition
		h.last = &t
	}
}

// Points returns the retained points, oldest first.
func (h *History) Points() []Point {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.full {
		return append([]Point(nil), h.points[:h.next]...)
	}
	out := make([]Point, 0, len(h.points))
	out = append(out, h.points[h.next:]...)
	return append(out, h.points[:h.next]...)
}

// Latest returns the most recent point.
func (h *History) Latest() (Point, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.full && h.next == 0 {
		return Point{}, false
	}
	i := h.next - 1
	if i < 0 {
		i = len(h.points) - 1
	}
	return h.points[i], true
}

// Counters returns the lifetime counters.
func (h *History) Counters() Counters {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.counters
}

// LastTransition returns the most recent mode change, or nil.
func (h *History) LastTransition() *mode.Transition {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return nil
	}
	t := *h.last
	return &t
}
