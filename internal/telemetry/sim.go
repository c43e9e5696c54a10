package telemetry

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/yawtrack/internal/attitude"
	"github.com/banshee-data/yawtrack/internal/monitoring"
	"github.com/banshee-data/yawtrack/internal/timeutil"
)

// DefaultSimRateHz is the simulated report rate before any rate request.
const DefaultSimRateHz = 25

// SimConfig configures the simulated flight controller.
type SimConfig struct {
	SystemID    uint8
	ComponentID uint8
	RateHz      float64
	// InitialYaw is the starting heading in radians.
	InitialYaw float64
	Clock      timeutil.Clock
}

// Sim is a Transport backed by a simple simulated vehicle. It reports its
// attitude at the requested rate and integrates the body rates of the last
// attitude target it received. Orientation targets are applied directly.
type Sim struct {
	clock     timeutil.Clock
	reports   *reportQueue
	heartbeat attitude.Heartbeat
	ticker    timeutil.Ticker

	mu      sync.Mutex
	sample  attitude.Sample
	target  attitude.Target
	hasCmd  bool
	start   time.Time
	last    time.Time
	targets uint64

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// NewSim starts the simulated vehicle.
func NewSim(cfg SimConfig) *Sim {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	rate := cfg.RateHz
	if rate <= 0 {
		rate = DefaultSimRateHz
	}
	hb := attitude.Heartbeat{SystemID: cfg.SystemID, ComponentID: cfg.ComponentID}
	if hb.SystemID == 0 {
		hb.SystemID = 1
	}
	if hb.ComponentID == 0 {
		hb.ComponentID = 1
	}

	now := clock.Now()
	s := &Sim{
		clock:     clock,
		reports:   newReportQueue(DefaultReportBuffer),
		heartbeat: hb,
		ticker:    clock.NewTicker(rateInterval(rate)),
		sample:    attitude.Sample{Yaw: wrapAngle(cfg.InitialYaw)},
		start:     now,
		last:      now,
		closed:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

func rateInterval(hz float64) time.Duration {
	return time.Duration(float64(time.Second) / hz)
}

func (s *Sim) run() {
	defer close(s.done)
	defer s.reports.close()
	defer s.ticker.Stop()
	for {
		select {
		case <-s.closed:
			return
		case now := <-s.ticker.C():
			s.reports.offer(s.step(now))
		}
	}
}

// step advances the vehicle to now and returns the report for that instant.
func (s *Sim) step(now time.Time) attitude.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	dt := now.Sub(s.last).Seconds()
	if dt < 0 {
		dt = 0
	}
	s.last = now

	var rollRate, pitchRate, yawRate float64
	if s.hasCmd {
		t := s.target
		if t.TypeMask&attitude.MaskIgnoreOrientation == 0 {
			s.sample.Roll, s.sample.Pitch, s.sample.Yaw = eulerFromQuaternion(t.Q)
		}
		if t.TypeMask&attitude.MaskIgnoreRollRate == 0 {
			rollRate = t.BodyRollRate
		}
		if t.TypeMask&attitude.MaskIgnorePitchRate == 0 {
			pitchRate = t.BodyPitchRate
		}
		if t.TypeMask&attitude.MaskIgnoreYawRate == 0 {
			yawRate = t.BodyYawRate
		}
	}

	s.sample.Roll = wrapAngle(s.sample.Roll + rollRate*dt)
	s.sample.Pitch = wrapAngle(s.sample.Pitch + pitchRate*dt)
	s.sample.Yaw = wrapAngle(s.sample.Yaw + yawRate*dt)
	s.sample.RollRate = rollRate
	s.sample.PitchRate = pitchRate
	s.sample.YawRate = yawRate
	s.sample.TimeBootMs = uint32(now.Sub(s.start).Milliseconds())

	monitoring.Debugf("telemetry: sim %s", s.sample)
	return s.sample
}

func (s *Sim) WaitHeartbeat(ctx context.Context) (attitude.Heartbeat, error) {
	select {
	case <-s.closed:
		return attitude.Heartbeat{}, ErrClosed
	case <-ctx.Done():
		return attitude.Heartbeat{}, ctx.Err()
	default:
		return s.heartbeat, nil
	}
}

// RequestReportRate changes the simulated report rate.
func (s *Sim) RequestReportRate(hz float64) error {
	if hz <= 0 {
		return ErrRejected
	}
	s.ticker.Reset(rateInterval(hz))
	return nil
}

func (s *Sim) Reports() <-chan attitude.Sample { return s.reports.ch }

// SendTarget replaces the active command. Rates take effect from the next
// step.
func (s *Sim) SendTarget(t attitude.Target) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = t
	s.hasCmd = true
	s.targets++
	return nil
}

// Attitude returns the current simulated state.
func (s *Sim) Attitude() attitude.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sample
}

// Targets returns the number of attitude targets received.
func (s *Sim) Targets() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targets
}

func (s *Sim) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		<-s.done
	})
	return nil
}

// wrapAngle maps a to (-pi, pi].
func wrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

// eulerFromQuaternion is the inverse of attitude.QuaternionFromEuler.
func eulerFromQuaternion(q attitude.Quaternion) (roll, pitch, yaw float64) {
	roll = math.Atan2(2*(q.W*q.X+q.Y*q.Z), 1-2*(q.X*q.X+q.Y*q.Y))
	sinp := 2 * (q.W*q.Y - q.Z*q.X)
	pitch = math.Asin(math.Max(-1, math.Min(1, sinp)))
	yaw = math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z))
	return roll, pitch, yaw
}
