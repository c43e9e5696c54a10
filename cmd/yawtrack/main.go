package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/yawtrack/internal/config"
	"github.com/banshee-data/yawtrack/internal/control"
	"github.com/banshee-data/yawtrack/internal/db"
	"github.com/banshee-data/yawtrack/internal/mode"
	"github.com/banshee-data/yawtrack/internal/monitor"
	"github.com/banshee-data/yawtrack/internal/monitoring"
	"github.com/banshee-data/yawtrack/internal/version"
	"github.com/banshee-data/yawtrack/internal/vision"
)

var (
	configFile = flag.String("config", "", "Path to JSON configuration file (defaults apply when unset)")
	devMode    = flag.Bool("dev", false, "Run against the simulated flight controller")
	listen     = flag.String("listen", "127.0.0.1:8080", "Debug HTTP listen address")
	dbPath     = flag.String("db", "yawtrack.db", "Flight recorder database path (empty disables recording)")
	feedAddr   = flag.String("feed", "-", "Vision feed: - for stdin or a UDP listen address")
	controlOut = flag.String("control-out", "", "UDP address that receives tracker control messages")
	verbose    = flag.Bool("verbose", false, "Log every report, commit and command")
)

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return &config.Config{}, nil
	}
	return config.LoadConfig(path)
}

// newSession describes this run for the recorder.
func newSession(cfg *config.Config, transport string, ctrl control.Controller) *db.Session {
	raw, err := json.Marshal(cfg)
	if err != nil {
		raw = []byte("{}")
	}
	return &db.Session{
		Transport:  transport,
		Controller: ctrl.Name(),
		Policy:     string(cfg.GetDegradedPolicy()),
		ConfigJSON: string(raw),
	}
}

func transportName(cfg *config.Config, dev bool) string {
	if dev {
		return config.TransportSim
	}
	return cfg.GetTransport()
}

// Main
func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	monitoring.SetVerbose(*verbose)
	log.Printf("yawtrack %s", version.String())

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	conv, err := cfg.Converter()
	if err != nil {
		log.Fatalf("invalid unit ranges: %v", err)
	}
	ctrl, err := control.New(cfg.ControllerParams(), conv)
	if err != nil {
		log.Fatalf("invalid controller: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport, serialMux, err := openTransport(cfg, *devMode)
	if err != nil {
		log.Fatalf("failed to open transport: %v", err)
	}
	defer serialMux.Close()

	// run the monitor routine to manage IO on the serial bridge
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := serialMux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	link, err := establish(ctx, cfg, transport)
	if err != nil {
		transport.Close()
		stop()
		wg.Wait()
		log.Fatalf("failed to establish link: %v", err)
	}
	defer link.Close()
	if err := link.StartReceiving(); err != nil {
		log.Fatalf("failed to start receiving: %v", err)
	}

	history := monitor.NewHistory(cfg.GetHistorySize())
	observers := mode.Observers{history}

	var recorder *db.Recorder
	var database *db.DB
	var session *db.Session
	if *dbPath != "" {
		database, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()

		session = newSession(cfg, transportName(cfg, *devMode), ctrl)
		if err := database.StartSession(session); err != nil {
			log.Fatalf("failed to start session: %v", err)
		}
		recorder = db.NewRecorder(database, session.ID, db.RecorderConfig{})
		observers = append(observers, recorder)
		log.Printf("recording session %s to %s", session.ID, database.Path())
	}

	var controlWriter io.Writer
	if *controlOut != "" {
		conn, err := net.Dial("udp", *controlOut)
		if err != nil {
			log.Fatalf("failed to dial control output: %v", err)
		}
		defer conn.Close()
		controlWriter = conn
	}

	var coord *mode.Coordinator
	feed := vision.NewFeed(vision.Config{
		OnEvent: func(e mode.Event) { coord.Post(e) },
		Control: controlWriter,
	})

	frames := &monitor.FrameRenderer{}
	coord, err = mode.New(mode.Config{
		Link:            link,
		Controller:      ctrl,
		Detector:        feed.Detector(),
		Tracker:         feed.Tracker(),
		Renderer:        frames,
		Observer:        observers,
		Policy:          cfg.GetDegradedPolicy(),
		OrientationHold: cfg.GetOrientationHold(),
	})
	if err != nil {
		log.Fatalf("failed to create coordinator: %v", err)
	}

	// vision feed reader. A blocked stdin read cannot be interrupted, so the
	// stdin reader is left out of the wait group.
	if *feedAddr == "-" {
		go func() {
			if err := feed.ReadLines(ctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("vision feed stopped: %v", err)
			}
		}()
	} else {
		sock, err := vision.ListenUDP(*feedAddr)
		if err != nil {
			log.Fatalf("failed to open vision feed: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := feed.ReadUDP(ctx, sock); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("vision feed stopped: %v", err)
			}
			log.Print("vision feed routine terminated")
		}()
	}

	// control loop: one coordinator step per frame
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case f, ok := <-feed.Frames():
				if !ok {
					log.Print("vision feed closed, stopping control loop")
					stop()
					return
				}
				coord.ProcessFrame(f)
			case <-ctx.Done():
				log.Print("control loop terminated")
				return
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only from loopback)
		if database != nil {
			if err := database.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach database routes: %v", err)
			}
		}
		serialMux.AttachAdminRoutes(mux)
		srv := &monitor.Server{
			History:     history,
			Link:        link,
			Coordinator: coord,
			Frames:      frames,
			Controller:  ctrl.Name(),
			Started:     time.Now(),
		}
		if recorder != nil {
			srv.Recorder = recorder
		}
		srv.AttachAdminRoutes(mux)
		mux.Handle("/", http.RedirectHandler("/debug/", http.StatusFound))

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()

	link.StopReceiving()
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			log.Printf("failed to flush recorder: %v", err)
		}
		if err := database.EndSession(session.ID, time.Now()); err != nil {
			log.Printf("failed to end session: %v", err)
		}
		rs := recorder.Stats()
		log.Printf("recorder: %+v", rs)
	}
	log.Printf("link: %+v", link.Stats())
	log.Printf("Graceful shutdown complete")
}
