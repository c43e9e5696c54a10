package attitude

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/yawtrack/internal/monitoring"
	"github.com/banshee-data/yawtrack/internal/timeutil"
)

var (
	// ErrConnection is returned when the link is not established, has been
	// closed, or could not be established.
	ErrConnection = errors.New("attitude link not connected")
	// ErrTransmit wraps a transport failure while sending a command.
	ErrTransmit = errors.New("attitude target transmit failed")
)

// Status is the lifecycle state of a Link.
type Status int

const (
	StatusUnestablished Status = iota
	StatusEstablished
	StatusReceiving
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusUnestablished:
		return "unestablished"
	case StatusEstablished:
		return "established"
	case StatusReceiving:
		return "receiving"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Default target ids used when the configuration leaves them unset and the
// heartbeat does not name a system.
const (
	DefaultTargetSystem    = 1
	DefaultTargetComponent = 1
)

// LinkConfig contains configuration options for a Link.
type LinkConfig struct {
	// ReportRateHz is the requested attitude report rate. Zero skips the
	// request.
	ReportRateHz float64
	// TargetSystem and TargetComponent address outbound commands. A zero
	// TargetSystem adopts the system id of the first heartbeat.
	TargetSystem    uint8
	TargetComponent uint8
	// Clock defaults to the real clock.
	Clock timeutil.Clock
}

// Stats is a point-in-time view of link activity.
type Stats struct {
	Status          string    `json:"status"`
	ReportsReceived uint64    `json:"reports_received"`
	Commits         uint64    `json:"commits"`
	Sent            uint64    `json:"sent"`
	SendFailures    uint64    `json:"send_failures"`
	TargetSystem    uint8     `json:"target_system"`
	TargetComponent uint8     `json:"target_component"`
	EstablishedAt   time.Time `json:"established_at"`
}

// Link owns the transport to the flight controller and the committed
// attitude state.
//
// Two goroutines touch a Link: the receiver started by StartReceiving,
// which only publishes into latest, and the control loop, which calls
// Commit and Send. latest and committed hold immutable *State values so
// every read is a single atomic pointer load.
type Link struct {
	transport Transport
	clock     timeutil.Clock
	cfg       LinkConfig

	mu              sync.Mutex
	status          Status
	establishedAt   time.Time
	targetSystem    uint8
	targetComponent uint8
	cancel          context.CancelFunc
	done            chan struct{}

	latest    atomic.Pointer[State]
	committed atomic.Pointer[State]

	sendMu     sync.Mutex
	lastTimeMs uint32

	received     atomic.Uint64
	commits      atomic.Uint64
	sent         atomic.Uint64
	sendFailures atomic.Uint64
}

// New returns an unestablished Link over t. Call Establish before any other
// operation.
func New(cfg LinkConfig, t Transport) *Link {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	l := &Link{
		transport: t,
		clock:     clock,
		cfg:       cfg,
		status:    StatusUnestablished,
	}
	l.committed.Store(&State{})
	return l
}

// Dial creates a Link over t and establishes it.
func Dial(ctx context.Context, cfg LinkConfig, t Transport) (*Link, error) {
	l := New(cfg, t)
	if err := l.Establish(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Establish waits for the flight controller's heartbeat and requests the
// configured attitude report rate. It blocks until a heartbeat arrives or
// ctx is done; there is no internal timeout.
//
// An ignored or failed rate request is logged and is not an error.
func (l *Link) Establish(ctx context.Context) error {
	l.mu.Lock()
	switch l.status {
	case StatusEstablished, StatusReceiving:
		l.mu.Unlock()
		return nil
	case StatusClosed:
		l.mu.Unlock()
		return fmt.Errorf("%w: link closed", ErrConnection)
	}
	l.mu.Unlock()

	monitoring.Logf("attitude: waiting for heartbeat...")
	hb, err := l.transport.WaitHeartbeat(ctx)
	if err != nil {
		return fmt.Errorf("%w: waiting for heartbeat: %w", ErrConnection, err)
	}
	monitoring.Logf("attitude: heartbeat received from system %d component %d", hb.SystemID, hb.ComponentID)

	if l.cfg.ReportRateHz > 0 {
		if err := l.transport.RequestReportRate(l.cfg.ReportRateHz); err != nil {
			monitoring.Logf("Warning: attitude report rate request (%.1f Hz) failed: %v", l.cfg.ReportRateHz, err)
		}
	}

	system := l.cfg.TargetSystem
	if system == 0 {
		system = hb.SystemID
	}
	if system == 0 {
		system = DefaultTargetSystem
	}
	component := l.cfg.TargetComponent
	if component == 0 {
		component = DefaultTargetComponent
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status == StatusClosed {
		return fmt.Errorf("%w: link closed while establishing", ErrConnection)
	}
	l.status = StatusEstablished
	l.establishedAt = l.clock.Now()
	l.targetSystem = system
	l.targetComponent = component
	return nil
}

// Status returns the current lifecycle state.
func (l *Link) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// StartReceiving starts the background receiver. Calling it while already
// receiving is a no-op. It never blocks.
func (l *Link) StartReceiving() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.status {
	case StatusReceiving:
		return nil
	case StatusUnestablished, StatusClosed:
		return fmt.Errorf("%w: cannot start receiving while %s", ErrConnection, l.status)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	l.status = StatusReceiving

	go l.receive(ctx, l.transport.Reports(), done)
	monitoring.Logf("attitude: receiver started")
	return nil
}

// StopReceiving signals the receiver to exit and waits until it has. Once it
// returns no further report will be published. Calling it when the receiver
// is not running is a no-op.
func (l *Link) StopReceiving() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel = nil
	if l.status == StatusReceiving {
		l.status = StatusEstablished
	}
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
		if cancel != nil {
			monitoring.Logf("attitude: receiver stopped")
		}
	}
}

func (l *Link) receive(ctx context.Context, reports <-chan Sample, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-reports:
			if !ok {
				monitoring.Logf("attitude: report stream closed by transport")
				l.receiverExited(done)
				return
			}
			// Both cases can be ready at once; never publish after stop.
			if ctx.Err() != nil {
				return
			}
			st := &State{Sample: s, Seq: l.received.Add(1), ReceivedAt: l.clock.Now()}
			l.latest.Store(st)
			monitoring.Debugf("attitude: received %s", s)
		}
	}
}

// receiverExited drops the link back to established when the receiver
// identified by done ends on its own, so StartReceiving can run again.
func (l *Link) receiverExited(done chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != done || l.status != StatusReceiving {
		return
	}
	l.status = StatusEstablished
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// Commit freezes the most recently received report as the attitude state
// for the current control cycle and returns it. Before any report has
// arrived it returns the zero State. It is meant to be called once per
// cycle by the control loop.
func (l *Link) Commit() State {
	if st := l.latest.Load(); st != nil {
		l.committed.Store(st)
	}
	l.commits.Add(1)
	st := *l.committed.Load()
	monitoring.Debugf("attitude: committed #%d %s", st.Seq, st.Sample)
	return st
}

// State returns the last committed state without committing a new one.
func (l *Link) State() State {
	return *l.committed.Load()
}

// Send stamps cmd with the milliseconds elapsed since Establish and
// transmits it. Failures are returned, never retried.
func (l *Link) Send(cmd Command) error {
	l.mu.Lock()
	status := l.status
	start := l.establishedAt
	system, component := l.targetSystem, l.targetComponent
	l.mu.Unlock()

	if status == StatusUnestablished || status == StatusClosed {
		return fmt.Errorf("%w: cannot send while %s", ErrConnection, status)
	}

	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	target := cmd.target(l.timeReference(start), system, component)
	if err := l.transport.SendTarget(target); err != nil {
		l.sendFailures.Add(1)
		return fmt.Errorf("%w: %w", ErrTransmit, err)
	}
	l.sent.Add(1)
	monitoring.Debugf("attitude: sent target t=%dms mask=%#x yaw_rate=%.5f", target.TimeBootMs, target.TypeMask, target.BodyYawRate)
	return nil
}

// timeReference returns ms since start, never going backwards. sendMu must
// be held.
func (l *Link) timeReference(start time.Time) uint32 {
	elapsed := l.clock.Since(start).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	ms := uint32(elapsed)
	if ms < l.lastTimeMs {
		ms = l.lastTimeMs
	}
	l.lastTimeMs = ms
	return ms
}

// Close stops the receiver and then closes the transport.
func (l *Link) Close() error {
	l.StopReceiving()

	l.mu.Lock()
	if l.status == StatusClosed {
		l.mu.Unlock()
		return nil
	}
	l.status = StatusClosed
	l.mu.Unlock()

	return l.transport.Close()
}

// Stats returns activity counters.
func (l *Link) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Status:          l.status.String(),
		ReportsReceived: l.received.Load(),
		Commits:         l.commits.Load(),
		Sent:            l.sent.Load(),
		SendFailures:    l.sendFailures.Load(),
		TargetSystem:    l.targetSystem,
		TargetComponent: l.targetComponent,
		EstablishedAt:   l.establishedAt,
	}
}
