package db

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/yawtrack/internal/attitude"
	"github.com/banshee-data/yawtrack/internal/mode"
	"github.com/banshee-data/yawtrack/internal/testutil"
)

func trackResult(seq uint64) mode.FrameResult {
	cmd := attitude.RateCommand(0.01, 0.02, 0.3)
	return mode.FrameResult{
		Seq:      seq,
		Time:     time.Date(2025, 6, 1, 10, 0, 0, int(seq)*40_000_000, time.UTC),
		Mode:     mode.Track,
		Region:   mode.Region{X: 300, Y: 200, W: 40, H: 40},
		Found:    true,
		Attitude: attitude.State{Sample: attitude.Sample{Roll: 0.1, Pitch: 0.2, Yaw: 0.3, YawRate: 0.05}, Seq: seq * 2},
		ErrorPx:  20,
		YawRate:  0.3,
		Command:  &cmd,
		FPS:      25,
	}
}

func startTestSession(t *testing.T, db *DB) string {
	t.Helper()
	s := &Session{Transport: "sim", Controller: "proportional", Policy: "skip"}
	require.NoError(t, db.StartSession(s))
	return s.ID
}

func TestNewFrameRow(t *testing.T) {
	res := trackResult(3)
	res.Transition = &mode.Transition{From: mode.Detect, To: mode.Track, Cause: "select(1,2)"}
	res.SendErr = errors.New("link down")

	row := NewFrameRow("s1", res)
	assert.Equal(t, "track", row.Mode)
	assert.Equal(t, "detect->track select(1,2)", row.Transition)
	assert.False(t, row.Sent)
	assert.Equal(t, "link down", row.SendError)
	assert.Equal(t, 0.3, row.CmdYawRate)
	assert.Equal(t, 0.05, row.MeasuredYawRate)
	assert.Equal(t, uint64(6), row.AttitudeSeq)

	detect := NewFrameRow("s1", mode.FrameResult{Seq: 1, Mode: mode.Detect})
	assert.Zero(t, detect.CmdYawRate)
	assert.Empty(t, detect.Transition)
}

func TestInsertAndReadFrames(t *testing.T) {
	db := newTestDB(t)
	id := startTestSession(t, db)

	rows := []FrameRow{NewFrameRow(id, trackResult(2)), NewFrameRow(id, trackResult(1))}
	require.NoError(t, db.InsertFrames(rows))
	require.NoError(t, db.InsertFrames(nil))

	got, err := db.Frames(id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.True(t, got[0].Found)
	assert.True(t, got[0].Sent)
	assert.Equal(t, rows[1].Region, got[0].Region)
	assert.WithinDuration(t, rows[1].Time, got[0].Time, time.Microsecond)

	err = db.InsertFrames([]FrameRow{NewFrameRow("no-such-session", trackResult(1))})
	assert.Error(t, err, "foreign key enforced")
}

func TestRecorder_FlushesOnClose(t *testing.T) {
	db := newTestDB(t)
	id := startTestSession(t, db)

	rec := NewRecorder(db, id, RecorderConfig{BatchSize: 1000, FlushInterval: time.Hour})
	for seq := uint64(1); seq <= 10; seq++ {
		rec.Observe(trackResult(seq))
	}
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())
	rec.Observe(trackResult(11))

	frames, err := db.Frames(id)
	require.NoError(t, err)
	assert.Len(t, frames, 10)
	assert.Equal(t, RecorderStats{Written: 10}, rec.Stats())
}

func TestRecorder_FlushesOnBatchAndInterval(t *testing.T) {
	db := newTestDB(t)
	id := startTestSession(t, db)

	rec := NewRecorder(db, id, RecorderConfig{BatchSize: 2, FlushInterval: 10 * time.Millisecond})
	defer rec.Close()

	rec.Observe(trackResult(1))
	rec.Observe(trackResult(2))
	rec.Observe(trackResult(3))

	require.Eventually(t, func() bool {
		return rec.Stats().Written == 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRecorder_AccountsForEveryFrame(t *testing.T) {
	db := newTestDB(t)
	id := startTestSession(t, db)

	rec := NewRecorder(db, id, RecorderConfig{Buffer: 1, BatchSize: 1})
	for seq := uint64(1); seq <= 500; seq++ {
		rec.Observe(trackResult(seq))
	}
	require.NoError(t, rec.Close())

	st := rec.Stats()
	assert.Equal(t, int64(500), st.Written+st.Dropped+st.Failed)
	assert.Positive(t, st.Written)
	assert.Zero(t, st.Failed)
}

func TestRecorder_CountsFailedWrites(t *testing.T) {
	db := newTestDB(t)

	logs := testutil.CaptureLogs(t)
	rec := NewRecorder(db, "unknown-session", RecorderConfig{})
	rec.Observe(trackResult(1))
	require.NoError(t, rec.Close())
	assert.Equal(t, RecorderStats{Failed: 1}, rec.Stats())

	lines := logs.Lines()
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[len(lines)-1], "recorder: ")
}
