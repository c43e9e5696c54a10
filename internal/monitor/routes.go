package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/yawtrack/internal/attitude"
	"github.com/banshee-data/yawtrack/internal/db"
	"github.com/banshee-data/yawtrack/internal/mode"
	"github.com/banshee-data/yawtrack/internal/monitoring"
	"github.com/banshee-data/yawtrack/internal/version"
)

// LinkStats is satisfied by *attitude.Link.
type LinkStats interface {
	Stats() attitude.Stats
}

// Coordinator is the part of *mode.Coordinator the routes use.
type Coordinator interface {
	Post(mode.Event)
	Mode() mode.Mode
	Policy() mode.DegradedPolicy
}

// RecorderStats is satisfied by *db.Recorder.
type RecorderStats interface {
	Stats() db.RecorderStats
}

// Server serves the tracker's debug pages. Only History is required.
type Server struct {
	History     *History
	Link        LinkStats
	Coordinator Coordinator
	Recorder    RecorderStats
	Frames      *FrameRenderer
	// Controller names the active control law for the status page.
	Controller string
	Started    time.Time
}

// Status is the JSON body of the status route.
type Status struct {
	Version        string            `json:"version"`
	GitSHA         string            `json:"git_sha"`
	Uptime         string            `json:"uptime"`
	Mode           string            `json:"mode,omitempty"`
	Policy         string            `json:"policy,omitempty"`
	Controller     string            `json:"controller,omitempty"`
	Link           *attitude.Stats   `json:"link,omitempty"`
	Recorder       *db.RecorderStats `json:"recorder,omitempty"`
	Counters       Counters          `json:"counters"`
	Latest         *Point            `json:"latest,omitempty"`
	LastTransition *mode.Transition  `json:"last_transition,omitempty"`
}

// Status assembles the current status snapshot.
func (s *Server) Status() Status {
	st := Status{
		Version:        version.Version,
		GitSHA:         version.GitSHA,
		Controller:     s.Controller,
		Counters:       s.History.Counters(),
		LastTransition: s.History.LastTransition(),
	}
	if !s.Started.IsZero() {
		st.Uptime = time.Since(s.Started).Truncate(time.Second).String()
	}
	if s.Coordinator != nil {
		st.Mode = s.Coordinator.Mode().String()
		st.Policy = string(s.Coordinator.Policy())
	}
	if s.Link != nil {
		ls := s.Link.Stats()
		st.Link = &ls
	}
	if s.Recorder != nil {
		rs := s.Recorder.Stats()
		st.Recorder = &rs
	}
	if p, ok := s.History.Latest(); ok {
		st.Latest = &p
	}
	return st
}

// AttachAdminRoutes mounts the tracker routes under /debug/yawtrack/.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("yawtrack/status", "Tracker status (JSON)", s.handleStatus)
	debug.HandleFunc("yawtrack/chart", "Tracking error and yaw rate history", s.handleChart)
	debug.HandleSilentFunc("yawtrack/history", s.handleHistory)
	if s.Coordinator != nil {
		debug.HandleSilentFunc("yawtrack/select", s.handleSelect)
		debug.HandleSilentFunc("yawtrack/stop", s.handleStop)
	}
	if s.Frames != nil {
		debug.HandleFunc("yawtrack/frame.png", "Latest frame with overlay", s.Frames.ServeHTTP)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("monitor: failed to encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	points := s.History.Points()
	if n, err := strconv.Atoi(r.URL.Query().Get("last")); err == nil && n > 0 && n < len(points) {
		points = points[len(points)-n:]
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("bad form: %v", err))
		return
	}

	vals := make(map[string]float64, 4)
	for _, key := range []string{"x", "y", "w", "h"} {
		raw := r.FormValue(key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: %q", key, raw))
			return
		}
		vals[key] = v
	}
	x, hasX := vals["x"]
	y, hasY := vals["y"]
	if !hasX || !hasY {
		writeJSONError(w, http.StatusBadRequest, "x and y are required")
		return
	}

	ev := mode.Select(x, y)
	if _, ok := vals["w"]; ok {
		ev = mode.SelectRegion(mode.Region{X: x, Y: y, W: vals["w"], H: vals["h"]})
	}
	s.Coordinator.Post(ev)
	writeJSON(w, http.StatusAccepted, map[string]string{"queued": ev.String()})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ev := mode.Stop()
	s.Coordinator.Post(ev)
	writeJSON(w, http.StatusAccepted, map[string]string{"queued": ev.String()})
}

// handleChart renders the retained history as line charts of pixel error,
// commanded against measured yaw rate, and frame rate.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	points := s.History.Points()

	x := make([]string, len(points))
	errPx := make([]opts.LineData, len(points))
	cmdRate := make([]opts.LineData, len(points))
	measRate := make([]opts.LineData, len(points))
	fps := make([]opts.LineData, len(points))
	for i, p := range points {
		x[i] = strconv.FormatUint(p.Seq, 10)
		if p.Mode == mode.Track && p.Found {
			errPx[i] = opts.LineData{Value: p.ErrorPx}
		} else {
			errPx[i] = opts.LineData{Value: "-"}
		}
		cmdRate[i] = opts.LineData{Value: p.YawRate}
		measRate[i] = opts.LineData{Value: p.MeasuredYawRate}
		fps[i] = opts.LineData{Value: p.FPS}
	}

	subtitle := fmt.Sprintf("frames=%d", len(points))
	if len(points) > 0 {
		subtitle += " until " + points[len(points)-1].Time.Format(time.RFC3339)
	}

	errChart := charts.NewLine()
	errChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "yawtrack", Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Tracking error", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "px"}),
	)
	errChart.SetXAxis(x).AddSeries("error", errPx)

	rateChart := charts.NewLine()
	rateChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Yaw rate"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "rad/s"}),
	)
	rateChart.SetXAxis(x).
		AddSeries("commanded", cmdRate).
		AddSeries("measured", measRate)

	fpsChart := charts.NewLine()
	fpsChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "240px"}),
		charts.WithTitleOpts(opts.Title{Title: "Tracker FPS"}),
	)
	fpsChart.SetXAxis(x).AddSeries("fps", fps)

	page := components.NewPage()
	page.AddCharts(errChart, rateChart, fpsChart)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
