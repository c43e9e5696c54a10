package main

import (
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/yawtrack/internal/db"
)

var (
	colorError    = color.RGBA{R: 200, G: 40, B: 40, A: 255}
	colorCommand  = color.RGBA{R: 30, G: 100, B: 220, A: 255}
	colorMeasured = color.RGBA{R: 40, G: 160, B: 60, A: 255}
)

// latestSession returns the most recently started session.
func latestSession(sessions []db.Session) (db.Session, bool) {
	var latest db.Session
	found := false
	for _, s := range sessions {
		if !found || s.StartedAt.After(latest.StartedAt) {
			latest, found = s, true
		}
	}
	return latest, found
}

// series holds the plotted columns of a session, with time in seconds
// from the first frame.
type series struct {
	errorPx  plotter.XYs
	cmdRate  plotter.XYs
	measRate plotter.XYs
	yaw      plotter.XYs
}

func buildSeries(rows []db.FrameRow) series {
	var s series
	if len(rows) == 0 {
		return s
	}
	start := rows[0].Time
	for _, r := range rows {
		t := r.Time.Sub(start).Seconds()
		if r.Found {
			s.errorPx = append(s.errorPx, plotter.XY{X: t, Y: r.ErrorPx})
		}
		if r.Sent {
			s.cmdRate = append(s.cmdRate, plotter.XY{X: t, Y: r.CmdYawRate})
		}
		if r.AttitudeSeq > 0 {
			s.measRate = append(s.measRate, plotter.XY{X: t, Y: r.MeasuredYawRate})
			s.yaw = append(s.yaw, plotter.XY{X: t, Y: r.Yaw})
		}
	}
	return s
}

func addLine(p *plot.Plot, label string, pts plotter.XYs, c color.Color) error {
	if len(pts) == 0 {
		return nil
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = c
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add(label, line)
	return nil
}

func newPlot(title, yLabel string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = yLabel
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p
}

// renderSession writes one PNG per chart into outDir and returns the paths.
func renderSession(rows []db.FrameRow, outDir, sessionID string) ([]string, error) {
	s := buildSeries(rows)
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}

	pErr := newPlot(fmt.Sprintf("Session %s - Tracking Error", short), "Error (px)")
	if err := addLine(pErr, "error", s.errorPx, colorError); err != nil {
		return nil, err
	}

	pRate := newPlot(fmt.Sprintf("Session %s - Yaw Rate", short), "Yaw rate (rad/s)")
	if err := addLine(pRate, "commanded", s.cmdRate, colorCommand); err != nil {
		return nil, err
	}
	if err := addLine(pRate, "measured", s.measRate, colorMeasured); err != nil {
		return nil, err
	}

	pYaw := newPlot(fmt.Sprintf("Session %s - Heading", short), "Yaw (rad)")
	if err := addLine(pYaw, "yaw", s.yaw, colorMeasured); err != nil {
		return nil, err
	}

	var files []string
	for name, p := range map[string]*plot.Plot{
		"error.png":    pErr,
		"yaw_rate.png": pRate,
		"heading.png":  pYaw,
	} {
		path := filepath.Join(outDir, fmt.Sprintf("%s_%s", short, name))
		if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
			return nil, fmt.Errorf("failed to save %s: %w", path, err)
		}
		files = append(files, path)
	}
	return files, nil
}
