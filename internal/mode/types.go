// Package mode arbitrates between detect and track operation for every
// video frame and closes the loop from tracker output to attitude commands.
package mode

import (
	"fmt"
	"image"
	"math"
	"time"

	"github.com/banshee-data/yawtrack/internal/attitude"
)

// Mode is the coordinator's operating state.
type Mode int

const (
	Detect Mode = iota
	Track
)

func (m Mode) String() string {
	switch m {
	case Detect:
		return "detect"
	case Track:
		return "track"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText accepts the names written by MarshalText.
func (m *Mode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "detect":
		*m = Detect
	case "track":
		*m = Track
	default:
		return fmt.Errorf("unknown mode %q", b)
	}
	return nil
}

// Region is an axis-aligned box in pixel coordinates with its origin at the
// top-left corner.
type Region struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the box centre.
func (r Region) Center() (x, y float64) {
	return r.X + r.W/2, r.Y + r.H/2
}

// Contains reports whether (x, y) lies inside the box, edges included.
func (r Region) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.W && y >= r.Y && y <= r.Y+r.H
}

// Empty reports whether the box has no area or non-finite coordinates.
func (r Region) Empty() bool {
	for _, v := range []float64{r.X, r.Y, r.W, r.H} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return r.W <= 0 || r.H <= 0
}

// Rect converts the region to an image rectangle, rounding outwards.
func (r Region) Rect() image.Rectangle {
	return image.Rect(
		int(math.Floor(r.X)), int(math.Floor(r.Y)),
		int(math.Ceil(r.X+r.W)), int(math.Ceil(r.Y+r.H)),
	)
}

// Frame is one video frame handed in by the capture collaborator. Pixels
// may be nil when the frame arrives as metadata only.
type Frame struct {
	Seq      uint64
	Width    int
	Height   int
	Captured time.Time
	Pixels   image.Image
}

// Detection is one candidate region reported by the detector.
type Detection struct {
	Region     Region  `json:"region"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label"`
}

// Detector finds candidate regions in a frame.
type Detector interface {
	Detect(Frame) ([]Detection, error)
}

// Tracker follows one region across frames. Update reports found=false when
// the target is lost for the frame.
type Tracker interface {
	Init(Frame, Region) error
	Update(Frame) (region Region, found bool, err error)
}

// Renderer draws a processed frame for the operator. Optional.
type Renderer interface {
	Render(Frame, FrameResult)
}

// Observer receives every frame result. Optional.
type Observer interface {
	Observe(FrameResult)
}

// Observers fans a frame result out to several observers in order.
type Observers []Observer

func (o Observers) Observe(r FrameResult) {
	for _, obs := range o {
		obs.Observe(r)
	}
}

// Link is the part of the attitude link the coordinator drives.
type Link interface {
	Commit() attitude.State
	Send(attitude.Command) error
}

// Transition records a mode change and the event that caused it.
type Transition struct {
	From  Mode   `json:"from"`
	To    Mode   `json:"to"`
	Cause string `json:"cause"`
}

// FrameResult is the outcome of processing one frame.
type FrameResult struct {
	Seq        uint64         `json:"seq"`
	Time       time.Time      `json:"time"`
	Mode       Mode           `json:"mode"`
	Transition *Transition    `json:"transition,omitempty"`
	Detections []Detection    `json:"detections,omitempty"`
	DetectErr  error          `json:"-"`
	InitErr    error          `json:"-"`
	Region     Region         `json:"region"`
	Found      bool           `json:"found"`
	TrackErr   error          `json:"-"`
	Degraded   bool           `json:"degraded"`
	Attitude   attitude.State `json:"attitude"`
	ErrorPx    float64        `json:"error_px"`
	YawRate    float64        `json:"yaw_rate"`
	// Command is the command handed to the link this frame, nil when
	// nothing was sent.
	Command *attitude.Command `json:"command,omitempty"`
	SendErr error             `json:"-"`
	FPS     float64           `json:"fps"`
}

// Sent reports whether a command was transmitted successfully.
func (r FrameResult) Sent() bool { return r.Command != nil && r.SendErr == nil }
