// Package attitude bridges an asynchronous telemetry link to the synchronous
// per-frame control loop. A background receiver keeps the latest attitude
// report; the control loop commits it once per cycle and sends attitude
// target commands back to the flight controller.
package attitude

import (
	"fmt"
	"time"
)

// Sample is one attitude report from the flight controller. Angles are in
// radians and rates in radians per second. Samples are immutable once built.
type Sample struct {
	TimeBootMs uint32  `json:"time_boot_ms"`
	Roll       float64 `json:"roll"`
	Pitch      float64 `json:"pitch"`
	Yaw        float64 `json:"yaw"`
	RollRate   float64 `json:"rollspeed"`
	PitchRate  float64 `json:"pitchspeed"`
	YawRate    float64 `json:"yawspeed"`
}

func (s Sample) String() string {
	return fmt.Sprintf("t=%dms roll=%.4f pitch=%.4f yaw=%.4f rates=(%.4f, %.4f, %.4f)",
		s.TimeBootMs, s.Roll, s.Pitch, s.Yaw, s.RollRate, s.PitchRate, s.YawRate)
}

// State is a received Sample together with its arrival metadata. The link
// publishes States by pointer and never mutates one after publishing it,
// so a single pointer load yields a consistent snapshot.
type State struct {
	Sample
	// Seq counts reports received since the link was created. Zero means no
	// report has been committed yet and the Sample is all zeros.
	Seq        uint64    `json:"seq"`
	ReceivedAt time.Time `json:"received_at"`
}

// Valid reports whether the state holds a received report rather than the
// zero default.
func (s State) Valid() bool { return s.Seq > 0 }

// Heartbeat identifies the flight controller that answered the link.
type Heartbeat struct {
	SystemID    uint8 `json:"system_id"`
	ComponentID uint8 `json:"component_id"`
}
