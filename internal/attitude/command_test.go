package attitude

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuaternionFromEuler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		roll, pitch, yaw float64
	}{
		{"zero", 0, 0, 0},
		{"yaw only", 0, 0, math.Pi / 2},
		{"roll only", 0.3, 0, 0},
		{"mixed", 0.1, -0.2, 1.4},
		{"negative yaw", -0.05, 0.02, -2.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cr, sr := math.Cos(tt.roll/2), math.Sin(tt.roll/2)
			cp, sp := math.Cos(tt.pitch/2), math.Sin(tt.pitch/2)
			cy, sy := math.Cos(tt.yaw/2), math.Sin(tt.yaw/2)
			want := Quaternion{
				W: cr*cp*cy + sr*sp*sy,
				X: sr*cp*cy - cr*sp*sy,
				Y: cr*sp*cy + sr*cp*sy,
				Z: cr*cp*sy - sr*sp*cy,
			}

			got := QuaternionFromEuler(tt.roll, tt.pitch, tt.yaw)
			assert.InDelta(t, want.W, got.W, 1e-12)
			assert.InDelta(t, want.X, got.X, 1e-12)
			assert.InDelta(t, want.Y, got.Y, 1e-12)
			assert.InDelta(t, want.Z, got.Z, 1e-12)

			norm := got.W*got.W + got.X*got.X + got.Y*got.Y + got.Z*got.Z
			assert.InDelta(t, 1.0, norm, 1e-12)
		})
	}
}

func TestCommandTypeMask(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		fields Field
		want   uint8
	}{
		{"rates only", RateFields, MaskIgnoreThrottle | MaskIgnoreOrientation},
		{"yaw only", FieldYawRate, MaskIgnoreRollRate | MaskIgnorePitchRate | MaskIgnoreThrottle | MaskIgnoreOrientation},
		{"rates and orientation", RateFields | FieldOrientation, MaskIgnoreThrottle},
		{"everything", RateFields | FieldOrientation | FieldThrust, 0},
		{"nothing", 0, 1 | 2 | 4 | 64 | 128},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Command{Fields: tt.fields}.TypeMask())
		})
	}
}

func TestCommandTarget(t *testing.T) {
	t.Parallel()

	t.Run("rate command uses identity orientation", func(t *testing.T) {
		t.Parallel()
		tgt := RateCommand(0.01, -0.02, 0.3).target(1500, 7, 1)
		assert.Equal(t, uint32(1500), tgt.TimeBootMs)
		assert.Equal(t, uint8(7), tgt.TargetSystem)
		assert.Equal(t, uint8(1), tgt.TargetComponent)
		assert.Equal(t, Identity, tgt.Q)
		assert.Equal(t, 0.01, tgt.BodyRollRate)
		assert.Equal(t, -0.02, tgt.BodyPitchRate)
		assert.Equal(t, 0.3, tgt.BodyYawRate)
		assert.Equal(t, MaskIgnoreThrottle|MaskIgnoreOrientation, tgt.TypeMask)
		assert.Zero(t, tgt.Thrust)
	})

	t.Run("inactive orientation is replaced", func(t *testing.T) {
		t.Parallel()
		cmd := RateCommand(0, 0, 0)
		cmd.Orientation = QuaternionFromEuler(0, 0, 1)
		assert.Equal(t, Identity, cmd.target(0, 1, 1).Q)
	})

	t.Run("active orientation is kept", func(t *testing.T) {
		t.Parallel()
		cmd := RateCommand(0, 0, 0)
		cmd.Orientation = QuaternionFromEuler(0.1, 0.2, 0.3)
		cmd.Fields |= FieldOrientation
		tgt := cmd.target(0, 1, 1)
		assert.Equal(t, cmd.Orientation, tgt.Q)
		assert.Equal(t, MaskIgnoreThrottle, tgt.TypeMask)
	})

	t.Run("thrust clamped when active", func(t *testing.T) {
		t.Parallel()
		cmd := Command{Thrust: 1.7, Fields: FieldThrust}
		assert.Equal(t, 1.0, cmd.target(0, 1, 1).Thrust)
		cmd.Thrust = -0.5
		assert.Equal(t, 0.0, cmd.target(0, 1, 1).Thrust)
	})
}
