package attitude

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/yawtrack/internal/timeutil"
)

func sampleN(n int) Sample {
	v := float64(n)
	return Sample{
		TimeBootMs: uint32(n),
		Roll:       v,
		Pitch:      v,
		Yaw:        v,
		RollRate:   v,
		PitchRate:  v,
		YawRate:    v,
	}
}

func newTestLink(t *testing.T, cfg LinkConfig) (*Link, *MockTransport) {
	t.Helper()
	mt := NewMockTransport(16)
	l, err := Dial(context.Background(), cfg, mt)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, mt
}

// waitReceived polls until the link has published n reports.
func waitReceived(t *testing.T, l *Link, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return l.Stats().ReportsReceived >= n
	}, 2*time.Second, time.Millisecond)
}

func TestLink_Lifecycle(t *testing.T) {
	t.Parallel()

	mt := NewMockTransport(4)
	l := New(LinkConfig{ReportRateHz: 50}, mt)
	assert.Equal(t, StatusUnestablished, l.Status())

	require.NoError(t, l.Establish(context.Background()))
	assert.Equal(t, StatusEstablished, l.Status())
	assert.Equal(t, []float64{50}, mt.RequestedRates())

	// Establish is idempotent once established.
	require.NoError(t, l.Establish(context.Background()))
	assert.Len(t, mt.RequestedRates(), 1)

	require.NoError(t, l.StartReceiving())
	assert.Equal(t, StatusReceiving, l.Status())
	require.NoError(t, l.StartReceiving())

	l.StopReceiving()
	assert.Equal(t, StatusEstablished, l.Status())
	l.StopReceiving()

	require.NoError(t, l.StartReceiving())
	require.NoError(t, l.Close())
	assert.Equal(t, StatusClosed, l.Status())
	assert.True(t, mt.Closed())
	require.NoError(t, l.Close())
}

func TestLink_EstablishErrors(t *testing.T) {
	t.Parallel()

	t.Run("heartbeat failure", func(t *testing.T) {
		t.Parallel()
		mt := NewMockTransport(1)
		mt.HeartbeatErr = errors.New("socket refused")
		_, err := Dial(context.Background(), LinkConfig{}, mt)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConnection)
		assert.Contains(t, err.Error(), "socket refused")
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		t.Parallel()
		mt := NewMockTransport(1)
		mt.BlockHeartbeat = true
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		l := New(LinkConfig{}, mt)
		err := l.Establish(ctx)
		assert.ErrorIs(t, err, ErrConnection)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, StatusUnestablished, l.Status())
	})

	t.Run("rate request failure is not fatal", func(t *testing.T) {
		t.Parallel()
		mt := NewMockTransport(1)
		mt.RateErr = errors.New("no ack")
		l, err := Dial(context.Background(), LinkConfig{ReportRateHz: 30}, mt)
		require.NoError(t, err)
		assert.Equal(t, StatusEstablished, l.Status())
	})

	t.Run("zero rate skips the request", func(t *testing.T) {
		t.Parallel()
		mt := NewMockTransport(1)
		_, err := Dial(context.Background(), LinkConfig{}, mt)
		require.NoError(t, err)
		assert.Empty(t, mt.RequestedRates())
	})

	t.Run("closed link cannot be established", func(t *testing.T) {
		t.Parallel()
		l := New(LinkConfig{}, NewMockTransport(1))
		require.NoError(t, l.Close())
		assert.ErrorIs(t, l.Establish(context.Background()), ErrConnection)
	})
}

func TestLink_RequiresEstablish(t *testing.T) {
	t.Parallel()

	mt := NewMockTransport(1)
	l := New(LinkConfig{}, mt)

	assert.ErrorIs(t, l.StartReceiving(), ErrConnection)
	assert.ErrorIs(t, l.Send(RateCommand(0, 0, 0.1)), ErrConnection)
	assert.Empty(t, mt.Sent())

	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Send(RateCommand(0, 0, 0.1)), ErrConnection)
	assert.ErrorIs(t, l.StartReceiving(), ErrConnection)
}

func TestLink_TargetAddressing(t *testing.T) {
	t.Parallel()

	t.Run("adopts heartbeat system", func(t *testing.T) {
		t.Parallel()
		mt := NewMockTransport(1)
		mt.Heartbeat = Heartbeat{SystemID: 42, ComponentID: 1}
		l, err := Dial(context.Background(), LinkConfig{}, mt)
		require.NoError(t, err)
		require.NoError(t, l.Send(RateCommand(0, 0, 0)))
		sent := mt.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, uint8(42), sent[0].TargetSystem)
		assert.Equal(t, uint8(DefaultTargetComponent), sent[0].TargetComponent)
	})

	t.Run("configured ids win", func(t *testing.T) {
		t.Parallel()
		mt := NewMockTransport(1)
		mt.Heartbeat = Heartbeat{SystemID: 42}
		l, err := Dial(context.Background(), LinkConfig{TargetSystem: 3, TargetComponent: 9}, mt)
		require.NoError(t, err)
		require.NoError(t, l.Send(RateCommand(0, 0, 0)))
		assert.Equal(t, uint8(3), mt.Sent()[0].TargetSystem)
		assert.Equal(t, uint8(9), mt.Sent()[0].TargetComponent)
	})

	t.Run("falls back to default system", func(t *testing.T) {
		t.Parallel()
		mt := NewMockTransport(1)
		mt.Heartbeat = Heartbeat{}
		l, err := Dial(context.Background(), LinkConfig{}, mt)
		require.NoError(t, err)
		assert.Equal(t, uint8(DefaultTargetSystem), l.Stats().TargetSystem)
	})
}

func TestLink_CommitBeforeAnyReport(t *testing.T) {
	t.Parallel()

	l, _ := newTestLink(t, LinkConfig{})
	require.NoError(t, l.StartReceiving())

	st := l.Commit()
	assert.False(t, st.Valid())
	assert.Equal(t, Sample{}, st.Sample)
	assert.Equal(t, st, l.State())
}

func TestLink_CommitFreezesState(t *testing.T) {
	t.Parallel()

	l, mt := newTestLink(t, LinkConfig{})
	require.NoError(t, l.StartReceiving())

	mt.Push(sampleN(1))
	waitReceived(t, l, 1)
	first := l.Commit()
	require.True(t, first.Valid())
	assert.Equal(t, sampleN(1), first.Sample)

	mt.Push(sampleN(2))
	waitReceived(t, l, 2)

	// New reports are invisible until the next commit.
	assert.Equal(t, first, l.State())

	second := l.Commit()
	assert.Equal(t, sampleN(2), second.Sample)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, uint64(2), l.Stats().Commits)
}

func TestLink_CommitWithoutNewReportKeepsLast(t *testing.T) {
	t.Parallel()

	l, mt := newTestLink(t, LinkConfig{})
	require.NoError(t, l.StartReceiving())
	mt.Push(sampleN(5))
	waitReceived(t, l, 1)

	a := l.Commit()
	b := l.Commit()
	assert.Equal(t, a, b)
}

func TestLink_CommitIsNeverTorn(t *testing.T) {
	t.Parallel()

	l, mt := newTestLink(t, LinkConfig{})
	require.NoError(t, l.StartReceiving())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; ctx.Err() == nil; i++ {
			select {
			case mt.reports <- sampleN(i):
			case <-ctx.Done():
				return
			}
		}
	}()

	var lastSeq uint64
	for i := 0; i < 2000; i++ {
		st := l.Commit()
		if !st.Valid() {
			continue
		}
		// Every field of a report carries the same value, so a mix of two
		// reports would show up as a mismatch.
		s := st.Sample
		assert.Equal(t, s.Roll, s.Pitch)
		assert.Equal(t, s.Roll, s.Yaw)
		assert.Equal(t, s.Roll, s.RollRate)
		assert.Equal(t, s.Roll, s.PitchRate)
		assert.Equal(t, s.Roll, s.YawRate)
		assert.Equal(t, uint32(s.Roll), s.TimeBootMs)
		assert.GreaterOrEqual(t, st.Seq, lastSeq)
		lastSeq = st.Seq
	}

	cancel()
	wg.Wait()
}

func TestLink_NoUpdatesAfterStopReceiving(t *testing.T) {
	t.Parallel()

	l, mt := newTestLink(t, LinkConfig{})
	require.NoError(t, l.StartReceiving())
	mt.Push(sampleN(1))
	waitReceived(t, l, 1)

	l.StopReceiving()
	received := l.Stats().ReportsReceived

	for i := 2; i < 10; i++ {
		mt.TryPush(sampleN(i))
	}
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, received, l.Stats().ReportsReceived)
	assert.Equal(t, sampleN(1), l.Commit().Sample)
}

func TestLink_ReportStreamEnds(t *testing.T) {
	t.Parallel()

	l, mt := newTestLink(t, LinkConfig{})
	require.NoError(t, l.StartReceiving())
	mt.Push(sampleN(3))
	mt.EndReports()

	waitReceived(t, l, 1)
	require.Eventually(t, func() bool { return l.Status() == StatusEstablished },
		time.Second, time.Millisecond, "receiver exit must leave the link established")
	assert.Equal(t, StatusEstablished.String(), l.Stats().Status)

	// The receiver has exited on its own; stopping must not block.
	l.StopReceiving()
	assert.Equal(t, sampleN(3), l.Commit().Sample)

	// A dead receiver can be started again.
	require.NoError(t, l.StartReceiving())
	l.StopReceiving()
	assert.Equal(t, StatusEstablished, l.Status())
}

func TestLink_SendTimestamps(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	l, mt := newTestLink(t, LinkConfig{Clock: clock})

	require.NoError(t, l.Send(RateCommand(0, 0, 0.1)))
	clock.Advance(250 * time.Millisecond)
	require.NoError(t, l.Send(RateCommand(0, 0, 0.2)))
	// A clock that steps backwards must not make the reference decrease.
	clock.Advance(-time.Second)
	require.NoError(t, l.Send(RateCommand(0, 0, 0.3)))

	sent := mt.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, uint32(0), sent[0].TimeBootMs)
	assert.Equal(t, uint32(250), sent[1].TimeBootMs)
	assert.Equal(t, uint32(250), sent[2].TimeBootMs)
	assert.Equal(t, 0.3, sent[2].BodyYawRate)
	assert.Equal(t, uint64(3), l.Stats().Sent)
}

func TestLink_SendFailure(t *testing.T) {
	t.Parallel()

	l, mt := newTestLink(t, LinkConfig{})
	mt.SendErr = errors.New("buffer full")

	err := l.Send(RateCommand(0, 0, 0.1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransmit)
	assert.Contains(t, err.Error(), "buffer full")
	assert.Equal(t, uint64(1), l.Stats().SendFailures)
	assert.Equal(t, uint64(0), l.Stats().Sent)
}

func TestStatus_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "unestablished", StatusUnestablished.String())
	assert.Equal(t, "established", StatusEstablished.String())
	assert.Equal(t, "receiving", StatusReceiving.String())
	assert.Equal(t, "closed", StatusClosed.String())
	assert.Equal(t, "Status(9)", Status(9).String())
}
