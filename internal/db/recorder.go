package db

import (
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/yawtrack/internal/mode"
	"github.com/banshee-data/yawtrack/internal/monitoring"
)

// FrameRow is the recorded form of one mode.FrameResult.
type FrameRow struct {
	SessionID       string      `json:"session_id"`
	Seq             uint64      `json:"seq"`
	Time            time.Time   `json:"time"`
	Mode            string      `json:"mode"`
	Transition      string      `json:"transition,omitempty"`
	Found           bool        `json:"found"`
	Degraded        bool        `json:"degraded"`
	Region          mode.Region `json:"region"`
	ErrorPx         float64     `json:"error_px"`
	YawRate         float64     `json:"yaw_rate"`
	Sent            bool        `json:"sent"`
	SendError       string      `json:"send_error,omitempty"`
	AttitudeSeq     uint64      `json:"attitude_seq"`
	Roll            float64     `json:"roll"`
	Pitch           float64     `json:"pitch"`
	Yaw             float64     `json:"yaw"`
	MeasuredYawRate float64     `json:"measured_yaw_rate"`
	CmdRollRate     float64     `json:"cmd_roll_rate"`
	CmdPitchRate    float64     `json:"cmd_pitch_rate"`
	CmdYawRate      float64     `json:"cmd_yaw_rate"`
	FPS             float64     `json:"fps"`
}

// NewFrameRow flattens a frame result for storage.
func NewFrameRow(sessionID string, r mode.FrameResult) FrameRow {
	row := FrameRow{
		SessionID:       sessionID,
		Seq:             r.Seq,
		Time:            r.Time,
		Mode:            r.Mode.String(),
		Found:           r.Found,
		Degraded:        r.Degraded,
		Region:          r.Region,
		ErrorPx:         r.ErrorPx,
		YawRate:         r.YawRate,
		Sent:            r.Sent(),
		AttitudeSeq:     r.Attitude.Seq,
		Roll:            r.Attitude.Roll,
		Pitch:           r.Attitude.Pitch,
		Yaw:             r.Attitude.Yaw,
		MeasuredYawRate: r.Attitude.YawRate,
		FPS:             r.FPS,
	}
	if r.Transition != nil {
		row.Transition = fmt.Sprintf("%s->%s %s", r.Transition.From, r.Transition.To, r.Transition.Cause)
	}
	if r.SendErr != nil {
		row.SendError = r.SendErr.Error()
	}
	if r.Command != nil {
		row.CmdRollRate = r.Command.RollRate
		row.CmdPitchRate = r.Command.PitchRate
		row.CmdYawRate = r.Command.YawRate
	}
	return row
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// InsertFrames writes rows in a single transaction.
func (db *DB) InsertFrames(rows []FrameRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin frame insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO frames (
			session_id, seq, time_unix, mode, transition, found, degraded,
			region_x, region_y, region_w, region_h, error_px, yaw_rate,
			sent, send_error, attitude_seq, roll, pitch, yaw, fps,
			cmd_roll_rate, cmd_pitch_rate, cmd_yaw_rate, measured_yaw_rate
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare frame insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.Exec(
			r.SessionID, int64(r.Seq), unixSeconds(r.Time), r.Mode, nullString(r.Transition),
			boolInt(r.Found), boolInt(r.Degraded),
			r.Region.X, r.Region.Y, r.Region.W, r.Region.H, r.ErrorPx, r.YawRate,
			boolInt(r.Sent), nullString(r.SendError), int64(r.AttitudeSeq),
			r.Roll, r.Pitch, r.Yaw, r.FPS,
			r.CmdRollRate, r.CmdPitchRate, r.CmdYawRate, r.MeasuredYawRate,
		)
		if err != nil {
			return fmt.Errorf("failed to insert frame %d: %w", r.Seq, err)
		}
	}
	return tx.Commit()
}

// Frames returns a session's recorded frames in sequence order.
func (db *DB) Frames(sessionID string) ([]FrameRow, error) {
	rows, err := db.Query(`
		SELECT seq, time_unix, mode, transition, found, degraded,
			region_x, region_y, region_w, region_h, error_px, yaw_rate,
			sent, send_error, attitude_seq, roll, pitch, yaw, fps,
			cmd_roll_rate, cmd_pitch_rate, cmd_yaw_rate, measured_yaw_rate
		FROM frames
		WHERE session_id = ?
		ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FrameRow
	for rows.Next() {
		var (
			r                     FrameRow
			seq, attSeq           int64
			ts                    float64
			transition, sendError sql.NullString
			found, degraded, sent int
		)
		if err := rows.Scan(
			&seq, &ts, &r.Mode, &transition, &found, &degraded,
			&r.Region.X, &r.Region.Y, &r.Region.W, &r.Region.H, &r.ErrorPx, &r.YawRate,
			&sent, &sendError, &attSeq, &r.Roll, &r.Pitch, &r.Yaw, &r.FPS,
			&r.CmdRollRate, &r.CmdPitchRate, &r.CmdYawRate, &r.MeasuredYawRate,
		); err != nil {
			return nil, err
		}
		r.SessionID = sessionID
		r.Seq = uint64(seq)
		r.AttitudeSeq = uint64(attSeq)
		r.Time = fromUnixSeconds(ts)
		r.Transition = transition.String
		r.SendError = sendError.String
		r.Found = found != 0
		r.Degraded = degraded != 0
		r.Sent = sent != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecorderConfig tunes a Recorder. Zero values select the defaults.
type RecorderConfig struct {
	Buffer        int
	BatchSize     int
	FlushInterval time.Duration
}

// Recorder persists frame results in the background. It implements
// mode.Observer and never blocks the control loop: when its buffer is full
// the frame is dropped and counted.
type Recorder struct {
	db        *DB
	sessionID string
	batchSize int
	interval  time.Duration

	mu     sync.RWMutex
	closed bool
	rows   chan FrameRow
	done   chan struct{}

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewRecorder starts a recorder writing into sessionID.
func NewRecorder(db *DB, sessionID string, cfg RecorderConfig) *Recorder {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	r := &Recorder{
		db:        db,
		sessionID: sessionID,
		batchSize: cfg.BatchSize,
		interval:  cfg.FlushInterval,
		rows:      make(chan FrameRow, cfg.Buffer),
		done:      make(chan struct{}),
	}
	go r.run()
	return r
}

// Observe implements mode.Observer.
func (r *Recorder) Observe(res mode.FrameResult) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.rows <- NewFrameRow(r.sessionID, res):
	default:
		if r.dropped.Add(1) == 1 {
			monitoring.Logf("recorder: buffer full, dropping frames")
		}
	}
}

func (r *Recorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	batch := make([]FrameRow, 0, r.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.db.InsertFrames(batch); err != nil {
			r.failed.Add(int64(len(batch)))
			monitoring.Logf("recorder: %v", err)
		} else {
			r.written.Add(int64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case row, ok := <-r.rows:
			if !ok {
				flush()
				return
			}
			batch = append(batch, row)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Close flushes buffered frames and stops the recorder. It is safe to call
// more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.rows)
	}
	r.mu.Unlock()
	<-r.done
	return nil
}

// RecorderStats counts frames by outcome.
type RecorderStats struct {
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
}

func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
		Failed:  r.failed.Load(),
	}
}
