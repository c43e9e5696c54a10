// Package vision adapts an external vision process to the coordinator's
// collaborator interfaces. The process captures video, runs detection and
// tracking, and reports its results as JSON lines, one message per frame;
// operator clicks arrive on the same stream.
package vision

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/yawtrack/internal/mode"
	"github.com/banshee-data/yawtrack/internal/monitoring"
)

var (
	// ErrNotInitialised is returned by Tracker.Update before Init.
	ErrNotInitialised = errors.New("vision: tracker not initialised")
	// ErrUnknownFrame is returned when the feed holds no message for a frame.
	ErrUnknownFrame = errors.New("vision: no feed message for frame")
)

// Message is one line of the vision feed. A message with a positive width
// describes a frame; Event may ride along on a frame message or arrive
// alone.
type Message struct {
	Seq        uint64           `json:"seq"`
	Width      int              `json:"width,omitempty"`
	Height     int              `json:"height,omitempty"`
	Captured   time.Time        `json:"captured,omitempty"`
	Detections []mode.Detection `json:"detections,omitempty"`
	Track      *TrackReport     `json:"track,omitempty"`
	Event      *EventReport     `json:"event,omitempty"`
}

// TrackReport is the external tracker's result for a frame.
type TrackReport struct {
	Region mode.Region `json:"region"`
	Found  bool        `json:"found"`
}

// EventReport is an operator action captured by the vision process UI.
type EventReport struct {
	Type   string       `json:"type"` // select, select_region or stop
	X      float64      `json:"x,omitempty"`
	Y      float64      `json:"y,omitempty"`
	Region *mode.Region `json:"region,omitempty"`
}

// ToEvent converts the report into a coordinator event.
func (e EventReport) ToEvent() (mode.Event, error) {
	switch e.Type {
	case "select":
		return mode.Select(e.X, e.Y), nil
	case "select_region":
		if e.Region == nil {
			return mode.Event{}, errors.New("select_region event without region")
		}
		return mode.SelectRegion(*e.Region), nil
	case "stop":
		return mode.Stop(), nil
	default:
		return mode.Event{}, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// DefaultRetain is how many frame messages the feed keeps for lookup.
const DefaultRetain = 16

// Config configures a Feed.
type Config struct {
	// OnEvent receives operator events, normally Coordinator.Post.
	OnEvent func(mode.Event)
	// Control, when set, receives a JSON line each time the coordinator
	// initialises the tracker so the vision process can start tracking.
	Control io.Writer
	// Retain bounds the frame messages kept for lookup.
	Retain int
	// FrameBuffer sizes the Frames channel.
	FrameBuffer int
}

// Feed turns vision messages into frames for the coordinator and answers
// the coordinator's detector and tracker calls from the same messages.
type Feed struct {
	onEvent func(mode.Event)
	control io.Writer
	retain  int

	frames chan mode.Frame

	mu       sync.Mutex
	messages map[uint64]Message
	order    []uint64
	tracking bool

	statsMu   sync.Mutex
	received  int
	malformed int
}

// NewFeed returns an idle feed. Start one of the readers to fill it.
func NewFeed(cfg Config) *Feed {
	retain := cfg.Retain
	if retain <= 0 {
		retain = DefaultRetain
	}
	buf := cfg.FrameBuffer
	if buf <= 0 {
		buf = 4
	}
	return &Feed{
		onEvent:  cfg.OnEvent,
		control:  cfg.Control,
		retain:   retain,
		frames:   make(chan mode.Frame, buf),
		messages: make(map[uint64]Message),
	}
}

// Frames delivers one frame per frame message. It is closed when the
// reader returns.
func (f *Feed) Frames() <-chan mode.Frame { return f.frames }

// Detector returns the feed as a mode.Detector.
func (f *Feed) Detector() mode.Detector { return feedDetector{f} }

// Tracker returns the feed as a mode.Tracker.
func (f *Feed) Tracker() mode.Tracker { return feedTracker{f} }

// Counts returns the number of lines handled and how many were malformed.
func (f *Feed) Counts() (received, malformed int) {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	return f.received, f.malformed
}

// ReadLines consumes newline-delimited messages from r until EOF or ctx is
// done, then closes Frames.
func (f *Feed) ReadLines(ctx context.Context, r io.Reader) error {
	defer close(f.frames)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := f.HandleLine(ctx, scanner.Bytes()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read vision feed: %w", err)
	}
	return nil
}

// HandleLine processes one message. It only fails when ctx ends while a
// frame is waiting to be delivered.
func (f *Feed) HandleLine(ctx context.Context, line []byte) error {
	if len(line) == 0 {
		return nil
	}
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		f.count(true)
		monitoring.Logf("vision: malformed line: %v", err)
		return nil
	}
	f.count(false)

	if msg.Event != nil {
		f.dispatch(*msg.Event)
	}
	if msg.Width <= 0 {
		return nil
	}

	f.store(msg)
	frame := mode.Frame{Seq: msg.Seq, Width: msg.Width, Height: msg.Height, Captured: msg.Captured}
	select {
	case f.frames <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Feed) count(malformed bool) {
	f.statsMu.Lock()
	f.received++
	if malformed {
		f.malformed++
	}
	f.statsMu.Unlock()
}

func (f *Feed) dispatch(report EventReport) {
	ev, err := report.ToEvent()
	if err != nil {
		monitoring.Logf("vision: %v", err)
		return
	}
	if f.onEvent == nil {
		monitoring.Debugf("vision: no event handler for %s", ev)
		return
	}
	f.onEvent(ev)
}

func (f *Feed) store(msg Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[msg.Seq]; !ok {
		f.order = append(f.order, msg.Seq)
	}
	f.messages[msg.Seq] = msg
	for len(f.order) > f.retain {
		delete(f.messages, f.order[0])
		f.order = f.order[1:]
	}
}

func (f *Feed) lookup(seq uint64) (Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[seq]
	return msg, ok
}

type controlLine struct {
	Type   string      `json:"type"`
	Seq    uint64      `json:"seq"`
	Region mode.Region `json:"region"`
}

type feedDetector struct{ f *Feed }

func (d feedDetector) Detect(frame mode.Frame) ([]mode.Detection, error) {
	msg, ok := d.f.lookup(frame.Seq)
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrUnknownFrame, frame.Seq)
	}
	return msg.Detections, nil
}

type feedTracker struct{ f *Feed }

func (t feedTracker) Init(frame mode.Frame, region mode.Region) error {
	f := t.f
	if f.control != nil {
		b, err := json.Marshal(controlLine{Type: "track_init", Seq: frame.Seq, Region: region})
		if err != nil {
			return err
		}
		if _, err := f.control.Write(append(b, '\n')); err != nil {
			return fmt.Errorf("notify vision process: %w", err)
		}
	}
	f.mu.Lock()
	f.tracking = true
	f.mu.Unlock()
	return nil
}

// Update reports the vision process's track for the frame. A frame without
// a track report counts as a lost target.
func (t feedTracker) Update(frame mode.Frame) (mode.Region, bool, error) {
	f := t.f
	f.mu.Lock()
	tracking := f.tracking
	f.mu.Unlock()
	if !tracking {
		return mode.Region{}, false, ErrNotInitialised
	}
	msg, ok := f.lookup(frame.Seq)
	if !ok {
		return mode.Region{}, false, fmt.Errorf("%w %d", ErrUnknownFrame, frame.Seq)
	}
	if msg.Track == nil {
		return mode.Region{}, false, nil
	}
	return msg.Track.Region, msg.Track.Found, nil
}
