// Command session-plot renders PNG charts of a recorded tracking session:
// tracking error, commanded against measured yaw rate, and heading.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/yawtrack/internal/db"
)

var (
	dbPath    = flag.String("db", "yawtrack.db", "Flight recorder database path")
	sessionID = flag.String("session", "", "Session id to plot (default: most recent)")
	outDir    = flag.String("out", "plots", "Output directory for PNG files")
	list      = flag.Bool("list", false, "List recorded sessions and exit")
)

func main() {
	flag.Parse()

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	sessions, err := database.Sessions()
	if err != nil {
		log.Fatalf("failed to list sessions: %v", err)
	}
	if *list {
		for _, s := range sessions {
			fmt.Printf("%s  %s  %-8s %-12s %s\n", s.ID, s.StartedAt.Format("2006-01-02 15:04:05"), s.Transport, s.Controller, s.Policy)
		}
		return
	}

	id := *sessionID
	if id == "" {
		latest, ok := latestSession(sessions)
		if !ok {
			log.Fatal("no sessions recorded")
		}
		id = latest.ID
	}

	rows, err := database.Frames(id)
	if err != nil {
		log.Fatalf("failed to read frames: %v", err)
	}
	if len(rows) == 0 {
		log.Fatalf("session %s has no recorded frames", id)
	}

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}
	files, err := renderSession(rows, *outDir, id)
	if err != nil {
		log.Fatalf("failed to render plots: %v", err)
	}
	for _, f := range files {
		log.Printf("wrote %s", f)
	}
}
