package main

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/yawtrack/internal/db"
)

func sampleRows() []db.FrameRow {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var rows []db.FrameRow
	for i := 0; i < 20; i++ {
		r := db.FrameRow{
			SessionID:       "0123456789abcdef",
			Seq:             uint64(i + 1),
			Time:            start.Add(time.Duration(i) * 50 * time.Millisecond),
			Mode:            "track",
			AttitudeSeq:     uint64(i + 1),
			Yaw:             0.01 * float64(i),
			MeasuredYawRate: 0.05,
		}
		if i >= 5 {
			r.Found = true
			r.ErrorPx = float64(40 - i)
			r.Sent = true
			r.CmdYawRate = 0.1
		}
		rows = append(rows, r)
	}
	return rows
}

func TestBuildSeries(t *testing.T) {
	s := buildSeries(sampleRows())

	assert.Len(t, s.errorPx, 15)
	assert.Len(t, s.cmdRate, 15)
	assert.Len(t, s.measRate, 20)
	assert.Len(t, s.yaw, 20)
	assert.Equal(t, 0.0, s.yaw[0].X)
	assert.InDelta(t, 0.25, s.errorPx[0].X, 1e-9)
}

func TestBuildSeries_Empty(t *testing.T) {
	s := buildSeries(nil)
	assert.Empty(t, s.errorPx)
}

func TestLatestSession(t *testing.T) {
	now := time.Now()
	_, ok := latestSession(nil)
	assert.False(t, ok)

	got, ok := latestSession([]db.Session{
		{ID: "a", StartedAt: now.Add(-time.Hour)},
		{ID: "b", StartedAt: now},
		{ID: "c", StartedAt: now.Add(-time.Minute)},
	})
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)
}

func TestRenderSession(t *testing.T) {
	dir := t.TempDir()
	files, err := renderSession(sampleRows(), dir, "0123456789abcdef")
	require.NoError(t, err)
	require.Len(t, files, 3)

	for _, f := range files {
		info, err := os.Stat(f)
		require.NoError(t, err, f)
		assert.Greater(t, info.Size(), int64(0), f)
		assert.Contains(t, f, "01234567_")
	}
}
