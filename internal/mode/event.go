package mode

import (
	"fmt"
	"strings"
)

type eventKind int

const (
	eventSelect eventKind = iota
	eventSelectRegion
	eventStop
)

// Event is an operator action. Events are queued and applied at the start
// of the next ProcessFrame against that frame.
type Event struct {
	kind   eventKind
	x, y   float64
	region Region
}

// Select picks the detection under the pixel (x, y).
func Select(x, y float64) Event { return Event{kind: eventSelect, x: x, y: y} }

// SelectRegion starts tracking an explicit region.
func SelectRegion(r Region) Event { return Event{kind: eventSelectRegion, region: r} }

// Stop ends tracking.
func Stop() Event { return Event{kind: eventStop} }

func (e Event) String() string {
	switch e.kind {
	case eventSelect:
		return fmt.Sprintf("select(%.0f,%.0f)", e.x, e.y)
	case eventSelectRegion:
		return fmt.Sprintf("select-region(%.0f,%.0f %.0fx%.0f)", e.region.X, e.region.Y, e.region.W, e.region.H)
	case eventStop:
		return "stop"
	default:
		return "unknown"
	}
}

// DegradedPolicy decides what is sent on a frame where the tracker lost
// the target.
type DegradedPolicy string

const (
	// PolicySkip sends nothing.
	PolicySkip DegradedPolicy = "skip"
	// PolicyHold resends the last successfully sent command.
	PolicyHold DegradedPolicy = "hold"
	// PolicyCoast sends a zero yaw rate with roll and pitch passed through.
	PolicyCoast DegradedPolicy = "coast"
)

// ValidDegradedPolicies lists the accepted policy names.
var ValidDegradedPolicies = []DegradedPolicy{PolicySkip, PolicyHold, PolicyCoast}

// ParseDegradedPolicy parses a policy name. The empty string selects skip.
func ParseDegradedPolicy(s string) (DegradedPolicy, error) {
	p := DegradedPolicy(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return PolicySkip, nil
	}
	for _, v := range ValidDegradedPolicies {
		if p == v {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown degraded policy %q (want skip, hold or coast)", s)
}
