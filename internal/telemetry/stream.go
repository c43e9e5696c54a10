// Package telemetry implements the attitude link transports: MAVLink over
// UDP or serial, a JSON-lines serial bridge, pcap replay of recorded bridge
// traffic and a simulated flight controller for bench work.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/yawtrack/internal/attitude"
	"github.com/banshee-data/yawtrack/internal/timeutil"
)

var (
	// ErrClosed is returned by operations on a transport after Close.
	ErrClosed = errors.New("telemetry transport closed")
	// ErrNoAck is returned when a rate request is not acknowledged in time.
	ErrNoAck = errors.New("no acknowledgement from flight controller")
	// ErrRejected is returned when the flight controller refuses a request.
	ErrRejected = errors.New("request rejected by flight controller")
)

// DefaultReportBuffer is the number of undelivered reports a transport keeps
// before discarding the oldest.
const DefaultReportBuffer = 32

// DefaultAckTimeout bounds how long a rate request waits for its answer.
const DefaultAckTimeout = time.Second

// reportQueue delivers samples to the link receiver. When the receiver is not
// draining it keeps the newest samples and drops the oldest.
type reportQueue struct {
	ch      chan attitude.Sample
	once    sync.Once
	dropped atomic.Uint64
}

func newReportQueue(size int) *reportQueue {
	if size <= 0 {
		size = DefaultReportBuffer
	}
	return &reportQueue{ch: make(chan attitude.Sample, size)}
}

// offer must only be called from a single producer goroutine.
func (q *reportQueue) offer(s attitude.Sample) {
	for {
		select {
		case q.ch <- s:
			return
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

func (q *reportQueue) close() {
	q.once.Do(func() { close(q.ch) })
}

// heartbeatLatch records the first heartbeat seen on a transport.
type heartbeatLatch struct {
	once  sync.Once
	ready chan struct{}
	hb    attitude.Heartbeat
}

func newHeartbeatLatch() *heartbeatLatch {
	return &heartbeatLatch{ready: make(chan struct{})}
}

func (l *heartbeatLatch) set(hb attitude.Heartbeat) {
	l.once.Do(func() {
		l.hb = hb
		close(l.ready)
	})
}

// seen returns the latched heartbeat, if any.
func (l *heartbeatLatch) seen() (attitude.Heartbeat, bool) {
	select {
	case <-l.ready:
		return l.hb, true
	default:
		return attitude.Heartbeat{}, false
	}
}

func (l *heartbeatLatch) wait(ctx context.Context, closed <-chan struct{}) (attitude.Heartbeat, error) {
	select {
	case <-l.ready:
		return l.hb, nil
	case <-closed:
		return attitude.Heartbeat{}, ErrClosed
	case <-ctx.Done():
		return attitude.Heartbeat{}, ctx.Err()
	}
}

// ackWaiter matches command acknowledgements to the single outstanding
// request. Requests are serialised by the caller.
type ackWaiter struct {
	// clock times out requests; nil means the system clock.
	clock timeutil.Clock

	mu      sync.Mutex
	pending chan bool
}

// arm must be called before the request is written so a fast answer is not
// missed.
func (a *ackWaiter) arm() <-chan bool {
	ch := make(chan bool, 1)
	a.mu.Lock()
	a.pending = ch
	a.mu.Unlock()
	return ch
}

func (a *ackWaiter) disarm() {
	a.mu.Lock()
	a.pending = nil
	a.mu.Unlock()
}

// resolve reports whether an outstanding request consumed the answer.
func (a *ackWaiter) resolve(accepted bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil {
		return false
	}
	a.pending <- accepted
	a.pending = nil
	return true
}

func (a *ackWaiter) await(ch <-chan bool, timeout time.Duration, closed <-chan struct{}) error {
	defer a.disarm()
	clock := a.clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	select {
	case accepted := <-ch:
		if !accepted {
			return ErrRejected
		}
		return nil
	case <-clock.After(timeout):
		return fmt.Errorf("%w after %s", ErrNoAck, timeout)
	case <-closed:
		return ErrClosed
	}
}

// intervalMicros converts a report rate to the message interval used by
// the interval request. Non-positive rates map to -1, which asks the source
// to stop sending.
func intervalMicros(hz float64) float64 {
	if hz <= 0 {
		return -1
	}
	return float64(time.Second/time.Microsecond) / hz
}
