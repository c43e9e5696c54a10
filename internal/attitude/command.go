package attitude

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Field marks which parts of a Command the flight controller should act on.
type Field uint8

const (
	FieldRollRate Field = 1 << iota
	FieldPitchRate
	FieldYawRate
	FieldThrust
	FieldOrientation
)

// RateFields is the default selection: body rates only.
const RateFields = FieldRollRate | FieldPitchRate | FieldYawRate

// Type mask bits of an outbound attitude target. A set bit means the
// corresponding field is to be ignored by the receiver.
const (
	MaskIgnoreRollRate    uint8 = 1
	MaskIgnorePitchRate   uint8 = 2
	MaskIgnoreYawRate     uint8 = 4
	MaskIgnoreThrottle    uint8 = 64
	MaskIgnoreOrientation uint8 = 128
)

// Quaternion is an orientation in (w, x, y, z) order.
type Quaternion struct {
	W, X, Y, Z float64
}

// Identity is the no-rotation quaternion sent when orientation is unused.
var Identity = Quaternion{W: 1}

// QuaternionFromEuler converts roll (x), pitch (y) and yaw (z) in radians
// to a quaternion using the aerospace ZYX rotation order.
func QuaternionFromEuler(roll, pitch, yaw float64) Quaternion {
	qx := quat.Number{Real: math.Cos(roll / 2), Imag: math.Sin(roll / 2)}
	qy := quat.Number{Real: math.Cos(pitch / 2), Jmag: math.Sin(pitch / 2)}
	qz := quat.Number{Real: math.Cos(yaw / 2), Kmag: math.Sin(yaw / 2)}
	q := quat.Mul(quat.Mul(qz, qy), qx)
	return Quaternion{W: q.Real, X: q.Imag, Y: q.Jmag, Z: q.Kmag}
}

// Array returns the quaternion as [w, x, y, z].
func (q Quaternion) Array() [4]float32 {
	return [4]float32{float32(q.W), float32(q.X), float32(q.Y), float32(q.Z)}
}

// Command is the output of one control cycle. It is built fresh every
// frame and never retained by the link.
type Command struct {
	RollRate    float64    `json:"roll_rate"`
	PitchRate   float64    `json:"pitch_rate"`
	YawRate     float64    `json:"yaw_rate"`
	Thrust      float64    `json:"thrust"`
	Orientation Quaternion `json:"orientation"`
	Fields      Field      `json:"fields"`
}

// RateCommand builds a body-rate command with orientation and thrust unused.
func RateCommand(rollRate, pitchRate, yawRate float64) Command {
	return Command{
		RollRate:    rollRate,
		PitchRate:   pitchRate,
		YawRate:     yawRate,
		Orientation: Identity,
		Fields:      RateFields,
	}
}

// TypeMask translates the active fields into the ignore-bit mask carried by
// an attitude target message.
func (c Command) TypeMask() uint8 {
	var mask uint8
	if c.Fields&FieldRollRate == 0 {
		mask |= MaskIgnoreRollRate
	}
	if c.Fields&FieldPitchRate == 0 {
		mask |= MaskIgnorePitchRate
	}
	if c.Fields&FieldYawRate == 0 {
		mask |= MaskIgnoreYawRate
	}
	if c.Fields&FieldThrust == 0 {
		mask |= MaskIgnoreThrottle
	}
	if c.Fields&FieldOrientation == 0 {
		mask |= MaskIgnoreOrientation
	}
	return mask
}

// Target is the wire-level attitude target handed to a Transport.
type Target struct {
	TimeBootMs      uint32     `json:"time_boot_ms"`
	TargetSystem    uint8      `json:"target_system"`
	TargetComponent uint8      `json:"target_component"`
	TypeMask        uint8      `json:"type_mask"`
	Q               Quaternion `json:"q"`
	BodyRollRate    float64    `json:"body_roll_rate"`
	BodyPitchRate   float64    `json:"body_pitch_rate"`
	BodyYawRate     float64    `json:"body_yaw_rate"`
	Thrust          float64    `json:"thrust"`
}

func (c Command) target(timeBootMs uint32, system, component uint8) Target {
	q := c.Orientation
	if c.Fields&FieldOrientation == 0 || q == (Quaternion{}) {
		q = Identity
	}
	thrust := 0.0
	if c.Fields&FieldThrust != 0 {
		thrust = math.Max(0, math.Min(1, c.Thrust))
	}
	return Target{
		TimeBootMs:      timeBootMs,
		TargetSystem:    system,
		TargetComponent: component,
		TypeMask:        c.TypeMask(),
		Q:               q,
		BodyRollRate:    c.RollRate,
		BodyPitchRate:   c.PitchRate,
		BodyYawRate:     c.YawRate,
		Thrust:          thrust,
	}
}
