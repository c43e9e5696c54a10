package telemetry

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/yawtrack/internal/attitude"
	"github.com/banshee-data/yawtrack/internal/timeutil"
)

func nextReport(t *testing.T, s *Sim) attitude.Sample {
	t.Helper()
	select {
	case r := <-s.Reports():
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no simulated report")
		return attitude.Sample{}
	}
}

func TestSim_IntegratesYawRate(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewSim(SimConfig{SystemID: 2, RateHz: 10, InitialYaw: 0.5, Clock: clock})
	defer s.Close()

	hb, err := s.WaitHeartbeat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, attitude.Heartbeat{SystemID: 2, ComponentID: 1}, hb)

	clock.Advance(100 * time.Millisecond)
	r := nextReport(t, s)
	assert.Equal(t, uint32(100), r.TimeBootMs)
	assert.InDelta(t, 0.5, r.Yaw, 1e-12)

	require.NoError(t, s.SendTarget(attitude.Target{
		TypeMask:    attitude.MaskIgnoreThrottle | attitude.MaskIgnoreOrientation,
		BodyYawRate: 0.2,
	}))
	clock.Advance(100 * time.Millisecond)
	r = nextReport(t, s)
	assert.InDelta(t, 0.52, r.Yaw, 1e-9)
	assert.InDelta(t, 0.2, r.YawRate, 1e-12)
	assert.Equal(t, uint64(1), s.Targets())
}

func TestSim_IgnoresMaskedFields(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewSim(SimConfig{RateHz: 10, Clock: clock})
	defer s.Close()

	require.NoError(t, s.SendTarget(attitude.Target{
		TypeMask:    attitude.MaskIgnoreYawRate | attitude.MaskIgnoreThrottle | attitude.MaskIgnoreOrientation,
		BodyYawRate: 5,
	}))
	clock.Advance(100 * time.Millisecond)
	assert.Zero(t, nextReport(t, s).Yaw)
}

func TestSim_AppliesOrientation(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewSim(SimConfig{RateHz: 10, Clock: clock})
	defer s.Close()

	require.NoError(t, s.SendTarget(attitude.Target{
		TypeMask: attitude.MaskIgnoreRollRate | attitude.MaskIgnorePitchRate | attitude.MaskIgnoreYawRate | attitude.MaskIgnoreThrottle,
		Q:        attitude.QuaternionFromEuler(0.1, -0.2, 1.0),
	}))
	clock.Advance(100 * time.Millisecond)
	r := nextReport(t, s)
	assert.InDelta(t, 0.1, r.Roll, 1e-9)
	assert.InDelta(t, -0.2, r.Pitch, 1e-9)
	assert.InDelta(t, 1.0, r.Yaw, 1e-9)
}

func TestSim_RequestReportRate(t *testing.T) {
	t.Parallel()

	s := NewSim(SimConfig{Clock: timeutil.NewMockClock(time.Unix(0, 0))})
	defer s.Close()
	assert.NoError(t, s.RequestReportRate(50))
	assert.ErrorIs(t, s.RequestReportRate(0), ErrRejected)
}

func TestSim_Close(t *testing.T) {
	t.Parallel()

	s := NewSim(SimConfig{Clock: timeutil.NewMockClock(time.Unix(0, 0))})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err := s.WaitHeartbeat(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.SendTarget(attitude.Target{}), ErrClosed)
}

func TestWrapAngle(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want float64 }{
		{0, 0},
		{math.Pi, math.Pi},
		{-math.Pi, math.Pi},
		{3 * math.Pi / 2, -math.Pi / 2},
		{-3 * math.Pi / 2, math.Pi / 2},
		{7, 7 - 2*math.Pi},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, wrapAngle(tt.in), 1e-12, "wrapAngle(%v)", tt.in)
	}
}
