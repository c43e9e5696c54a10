package mode

import (
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/yawtrack/internal/attitude"
	"github.com/banshee-data/yawtrack/internal/control"
	"github.com/banshee-data/yawtrack/internal/monitoring"
	"github.com/banshee-data/yawtrack/internal/timeutil"
)

// Config wires a Coordinator. Link, Controller, Detector and Tracker are
// required.
type Config struct {
	Link       Link
	Controller control.Controller
	Detector   Detector
	Tracker    Tracker
	Renderer   Renderer
	Observer   Observer
	Policy     DegradedPolicy
	// OrientationHold adds the committed attitude as an active orientation
	// to every command.
	OrientationHold bool
	Clock           timeutil.Clock
}

// Coordinator runs the per-frame state machine. ProcessFrame must be called
// from a single goroutine; Post may be called from any goroutine.
type Coordinator struct {
	link       Link
	controller control.Controller
	detector   Detector
	tracker    Tracker
	renderer   Renderer
	observer   Observer
	policy     DegradedPolicy
	hold       bool
	clock      timeutil.Clock

	eventMu sync.Mutex
	events  []Event

	modeMu sync.RWMutex
	mode   Mode

	detections []Detection
	lastCmd    *attitude.Command
	lastFrame  time.Time
}

// New validates cfg and returns a Coordinator in Detect mode.
func New(cfg Config) (*Coordinator, error) {
	var missing []string
	if cfg.Link == nil {
		missing = append(missing, "link")
	}
	if cfg.Controller == nil {
		missing = append(missing, "controller")
	}
	if cfg.Detector == nil {
		missing = append(missing, "detector")
	}
	if cfg.Tracker == nil {
		missing = append(missing, "tracker")
	}
	if len(missing) > 0 {
		return nil, errors.New("mode: missing " + strings.Join(missing, ", "))
	}

	policy, err := ParseDegradedPolicy(string(cfg.Policy))
	if err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	return &Coordinator{
		link:       cfg.Link,
		controller: cfg.Controller,
		detector:   cfg.Detector,
		tracker:    cfg.Tracker,
		renderer:   cfg.Renderer,
		observer:   cfg.Observer,
		policy:     policy,
		hold:       cfg.OrientationHold,
		clock:      clock,
		mode:       Detect,
	}, nil
}

// Post queues an operator event for the next frame.
func (c *Coordinator) Post(e Event) {
	c.eventMu.Lock()
	c.events = append(c.events, e)
	c.eventMu.Unlock()
}

// Mode returns the current mode.
func (c *Coordinator) Mode() Mode {
	c.modeMu.RLock()
	defer c.modeMu.RUnlock()
	return c.mode
}

func (c *Coordinator) setMode(m Mode) {
	c.modeMu.Lock()
	c.mode = m
	c.modeMu.Unlock()
}

// Policy returns the degraded-frame policy in effect.
func (c *Coordinator) Policy() DegradedPolicy { return c.policy }

// ProcessFrame applies queued events to f and then runs one detect or track
// cycle on it. Errors from collaborators and the link are reported in the
// result; none of them stop the loop.
func (c *Coordinator) ProcessFrame(f Frame) FrameResult {
	now := c.clock.Now()
	res := FrameResult{Seq: f.Seq, Time: now}

	transitioned := c.applyEvents(f, &res)
	res.Mode = c.Mode()

	switch {
	case transitioned && res.Mode == Track:
		// The tracker was initialised on this frame; tracking starts with
		// the next one.
		c.lastFrame = now
	case res.Mode == Detect:
		c.detect(f, &res)
	default:
		c.track(f, now, &res)
	}

	if c.renderer != nil {
		c.renderer.Render(f, res)
	}
	if c.observer != nil {
		c.observer.Observe(res)
	}
	return res
}

func (c *Coordinator) takeEvents() []Event {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	events := c.events
	c.events = nil
	return events
}

// applyEvents reports whether any event changed the mode.
func (c *Coordinator) applyEvents(f Frame, res *FrameResult) bool {
	changed := false
	for _, e := range c.takeEvents() {
		mode := c.Mode()
		switch {
		case e.kind == eventStop && mode == Track:
			c.setMode(Detect)
			c.lastCmd = nil
			c.detections = nil
			res.Transition = &Transition{From: Track, To: Detect, Cause: e.String()}
			changed = true
			monitoring.Logf("mode: stop, back to detect")

		case e.kind != eventStop && mode == Detect:
			region, ok := c.resolveSelection(e)
			if !ok {
				monitoring.Logf("mode: %s did not hit a detection", e)
				continue
			}
			if err := c.tracker.Init(f, region); err != nil {
				res.InitErr = err
				monitoring.Logf("mode: tracker init failed for %s: %v", e, err)
				continue
			}
			c.setMode(Track)
			c.lastCmd = nil
			res.Region = region
			res.Found = true
			res.Transition = &Transition{From: Detect, To: Track, Cause: e.String()}
			changed = true
			monitoring.Logf("mode: tracking region x=%.0f y=%.0f w=%.0f h=%.0f", region.X, region.Y, region.W, region.H)

		default:
			monitoring.Debugf("mode: %s ignored in %s", e, mode)
		}
	}
	return changed
}

// resolveSelection maps an event to the region to track. A click selects
// the first detection of the last detect cycle that contains the point.
func (c *Coordinator) resolveSelection(e Event) (Region, bool) {
	switch e.kind {
	case eventSelectRegion:
		return e.region, !e.region.Empty()
	case eventSelect:
		for _, d := range c.detections {
			if d.Region.Contains(e.x, e.y) {
				return d.Region, true
			}
		}
	}
	return Region{}, false
}

func (c *Coordinator) detect(f Frame, res *FrameResult) {
	dets, err := c.detector.Detect(f)
	if err != nil {
		res.DetectErr = err
		monitoring.Logf("mode: detector failed on frame %d: %v", f.Seq, err)
	}
	c.detections = dets
	res.Detections = dets
}

func (c *Coordinator) track(f Frame, now time.Time, res *FrameResult) {
	st := c.link.Commit()
	res.Attitude = st

	if !c.lastFrame.IsZero() {
		if dt := now.Sub(c.lastFrame).Seconds(); dt > 0 {
			res.FPS = math.Round(10/dt) / 10
		}
	}
	c.lastFrame = now

	region, found, err := c.tracker.Update(f)
	res.Region = region
	res.Found = found && err == nil
	if err != nil {
		res.TrackErr = err
		monitoring.Logf("mode: tracker failed on frame %d: %v", f.Seq, err)
	}

	if !res.Found {
		res.Degraded = true
		c.degraded(st, res)
		return
	}

	cx, _ := region.Center()
	res.ErrorPx = cx - float64(f.Width)/2
	res.YawRate = c.controller.YawRate(res.ErrorPx)
	c.send(c.command(st, res.YawRate), res)
	monitoring.Debugf("mode: frame %d error=%.1fpx yaw_rate=%.5f", f.Seq, res.ErrorPx, res.YawRate)
}

func (c *Coordinator) degraded(st attitude.State, res *FrameResult) {
	switch c.policy {
	case PolicyHold:
		if c.lastCmd != nil {
			res.YawRate = c.lastCmd.YawRate
			c.send(*c.lastCmd, res)
		}
	case PolicyCoast:
		c.send(c.command(st, 0), res)
	}
}

// command builds the frame's command: the yaw rate from the controller with
// the committed roll and pitch rates passed through.
func (c *Coordinator) command(st attitude.State, yawRate float64) attitude.Command {
	cmd := attitude.RateCommand(st.RollRate, st.PitchRate, yawRate)
	if c.hold {
		cmd.Orientation = attitude.QuaternionFromEuler(st.Roll, st.Pitch, st.Yaw)
		cmd.Fields |= attitude.FieldOrientation
	}
	return cmd
}

func (c *Coordinator) send(cmd attitude.Command, res *FrameResult) {
	res.Command = &cmd
	if err := c.link.Send(cmd); err != nil {
		res.SendErr = err
		monitoring.Logf("mode: send failed on frame %d: %v", res.Seq, err)
		return
	}
	c.lastCmd = &cmd
}
