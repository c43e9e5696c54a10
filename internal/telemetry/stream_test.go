package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/yawtrack/internal/attitude"
	"github.com/banshee-data/yawtrack/internal/timeutil"
)

func TestReportQueue_DropsOldest(t *testing.T) {
	t.Parallel()

	q := newReportQueue(2)
	for i := 1; i <= 5; i++ {
		q.offer(attitude.Sample{TimeBootMs: uint32(i)})
	}
	assert.Equal(t, uint64(3), q.dropped.Load())
	assert.Equal(t, uint32(4), (<-q.ch).TimeBootMs)
	assert.Equal(t, uint32(5), (<-q.ch).TimeBootMs)

	q.close()
	q.close()
	_, ok := <-q.ch
	assert.False(t, ok)
}

func TestHeartbeatLatch(t *testing.T) {
	t.Parallel()

	l := newHeartbeatLatch()
	closed := make(chan struct{})

	_, ok := l.seen()
	assert.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := l.wait(ctx, closed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	l.set(attitude.Heartbeat{SystemID: 3, ComponentID: 1})
	l.set(attitude.Heartbeat{SystemID: 9})
	hb, err := l.wait(context.Background(), closed)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), hb.SystemID)

	l2 := newHeartbeatLatch()
	close(closed)
	_, err = l2.wait(context.Background(), closed)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAckWaiter(t *testing.T) {
	t.Parallel()

	var a ackWaiter
	never := make(chan struct{})

	assert.False(t, a.resolve(true), "no request outstanding")

	ch := a.arm()
	assert.True(t, a.resolve(true))
	assert.NoError(t, a.await(ch, time.Second, never))

	ch = a.arm()
	a.resolve(false)
	assert.ErrorIs(t, a.await(ch, time.Second, never), ErrRejected)

	ch = a.arm()
	assert.ErrorIs(t, a.await(ch, 5*time.Millisecond, never), ErrNoAck)
	assert.False(t, a.resolve(true), "timed out request is disarmed")
}

func TestAckWaiter_TimeoutFollowsClock(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	a := ackWaiter{clock: clock}
	ch := a.arm()

	errc := make(chan error, 1)
	go func() { errc <- a.await(ch, time.Second, make(chan struct{})) }()

	// Nothing but the mock clock can end the wait.
	require.Eventually(t, func() bool {
		clock.Advance(250 * time.Millisecond)
		return len(errc) == 1
	}, 2*time.Second, time.Millisecond)
	assert.ErrorIs(t, <-errc, ErrNoAck)
}

func TestIntervalMicros(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 20000.0, intervalMicros(50))
	assert.Equal(t, 1e6, intervalMicros(1))
	assert.Equal(t, -1.0, intervalMicros(0))
}
