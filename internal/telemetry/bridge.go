package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/yawtrack/internal/attitude"
	"github.com/banshee-data/yawtrack/internal/monitoring"
	"github.com/banshee-data/yawtrack/internal/serialmux"
	"github.com/banshee-data/yawtrack/internal/version"
)

// Bridge is a Transport over a companion serial bridge that speaks JSON
// lines. Reading is driven by the mux's Monitor loop, which the owner runs.
type Bridge struct {
	mux        serialmux.SerialMuxInterface
	subID      string
	lines      chan string
	reports    *reportQueue
	heartbeat  *heartbeatLatch
	acks       ackWaiter
	ackTimeout time.Duration

	requestMu sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}

	decodeErrors atomic.Uint64
}

// BridgeInitCommands returns the lines written to the bridge by
// SerialMux.Initialize.
func BridgeInitCommands() []string {
	hello, _ := EncodeLine(Line{Type: LineHello, Hello: &Hello{Client: "yawtrack", Version: version.Version}})
	return []string{hello}
}

// NewBridge subscribes to mux and starts decoding its lines.
func NewBridge(mux serialmux.SerialMuxInterface) *Bridge {
	id, lines := mux.Subscribe()
	b := &Bridge{
		mux:        mux,
		subID:      id,
		lines:      lines,
		reports:    newReportQueue(DefaultReportBuffer),
		heartbeat:  newHeartbeatLatch(),
		ackTimeout: DefaultAckTimeout,
		closed:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bridge) run() {
	defer close(b.done)
	defer b.reports.close()
	for {
		select {
		case <-b.closed:
			return
		case line, ok := <-b.lines:
			if !ok {
				monitoring.Logf("telemetry: serial bridge subscription closed")
				return
			}
			b.handleLine(line)
		}
	}
}

func (b *Bridge) handleLine(raw string) {
	l, err := DecodeLine(raw)
	if err != nil {
		b.decodeErrors.Add(1)
		monitoring.Debugf("telemetry: bridge line ignored: %v", err)
		return
	}
	switch l.Type {
	case LineHeartbeat:
		b.heartbeat.set(*l.Heartbeat)
	case LineAttitude:
		b.reports.offer(*l.Attitude)
	case LineAck:
		if l.Ack.Request == LineMessageInterval && !b.acks.resolve(l.Ack.Accepted) {
			monitoring.Debugf("telemetry: unsolicited bridge ack %+v", *l.Ack)
		}
	default:
		monitoring.Debugf("telemetry: bridge line %q not handled", l.Type)
	}
}

func (b *Bridge) WaitHeartbeat(ctx context.Context) (attitude.Heartbeat, error) {
	return b.heartbeat.wait(ctx, b.closed)
}

// RequestReportRate asks the bridge to emit attitude lines at hz and waits
// for its acknowledgement.
func (b *Bridge) RequestReportRate(hz float64) error {
	b.requestMu.Lock()
	defer b.requestMu.Unlock()

	line, err := EncodeLine(Line{Type: LineMessageInterval, Interval: &IntervalRequest{
		Message:    LineAttitude,
		IntervalUs: intervalMicros(hz),
	}})
	if err != nil {
		return err
	}
	ack := b.acks.arm()
	if err := b.mux.SendCommand(line); err != nil {
		b.acks.disarm()
		return fmt.Errorf("write interval request: %w", err)
	}
	return b.acks.await(ack, b.ackTimeout, b.closed)
}

func (b *Bridge) Reports() <-chan attitude.Sample { return b.reports.ch }

func (b *Bridge) SendTarget(t attitude.Target) error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}
	line, err := EncodeLine(Line{Type: LineAttitudeTarget, Target: &t})
	if err != nil {
		return err
	}
	return b.mux.SendCommand(line)
}

// DecodeErrors returns the number of unparseable lines seen.
func (b *Bridge) DecodeErrors() uint64 { return b.decodeErrors.Load() }

// Close stops decoding and closes the underlying mux.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		<-b.done
		b.mux.Unsubscribe(b.subID)
		err = b.mux.Close()
	})
	return err
}
