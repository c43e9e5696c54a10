// Package serialmux shares one serial bridge between several readers. Every
// line the companion bridge prints is fanned out to all subscribers, and
// writes from any goroutine are serialised onto the port.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// SubscriberBuffer is the number of lines a subscriber may fall behind
// before Monitor starts dropping lines for it.
const SubscriberBuffer = 64

// SerialPorter is what the mux needs from a port; go.bug.st/serial.Port and
// TestableSerialPort both satisfy it.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe returns a channel of lines read from the port, and the id
	// that unsubscribes it.
	Subscribe() (string, chan string)
	Unsubscribe(string)
	// SendCommand writes one line to the port.
	SendCommand(string) error
	// Monitor reads the port until ctx ends or the read fails.
	Monitor(context.Context) error
	// Close closes every subscriber channel and then the port.
	Close() error
	// Initialize writes the configured start lines.
	Initialize() error

	// AttachAdminRoutes mounts the bridge's /debug/ pages. They answer
	// loopback callers only.
	AttachAdminRoutes(*http.ServeMux)
}

// Stats counts traffic through a mux.
type Stats struct {
	LinesRead    uint64 `json:"lines_read"`
	LinesDropped uint64 `json:"lines_dropped"`
	CommandsSent uint64 `json:"commands_sent"`
	WriteErrors  uint64 `json:"write_errors"`
	Subscribers  int    `json:"subscribers"`
}

// SerialMux multiplexes a single port of type T.
type SerialMux[T SerialPorter] struct {
	port T

	subscriberMu sync.Mutex
	subscribers  map[string]chan string

	commandMu    sync.Mutex
	initCommands []string

	closing atomic.Bool

	linesRead    atomic.Uint64
	linesDropped atomic.Uint64
	commandsSent atomic.Uint64
	writeErrors  atomic.Uint64
}

// NewSerialMux creates a SerialMux instance backed by the given port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, SubscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe closes and forgets the subscriber. Unknown ids are ignored.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SetInitCommands sets the lines written to the device by Initialize.
func (s *SerialMux[T]) SetInitCommands(commands ...string) {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	s.initCommands = append([]string(nil), commands...)
}

// Initialize writes the configured start commands to the device, in order,
// stopping at the first failure.
func (s *SerialMux[T]) Initialize() error {
	s.commandMu.Lock()
	commands := s.initCommands
	s.commandMu.Unlock()

	for _, command := range commands {
		if err := s.SendCommand(command); err != nil {
			return fmt.Errorf("failed to send start command %q: %w", command, err)
		}
	}
	return nil
}

// SendCommand writes command, appending a newline if it lacks one.
func (s *SerialMux[T]) SendCommand(command string) error {
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}

	s.commandMu.Lock()
	n, err := s.port.Write([]byte(command))
	s.commandMu.Unlock()

	switch {
	case err != nil:
		s.writeErrors.Add(1)
		return err
	case n != len(command):
		s.writeErrors.Add(1)
		return ErrWriteFailed
	}
	s.commandsSent.Add(1)
	return nil
}

// Monitor scans the port and fans lines out to subscribers. A subscriber
// whose buffer is full misses the line; Monitor never blocks on a reader.
//
// Monitor returns ctx.Err() on cancellation, the read error if the port
// fails, or nil at EOF or once Close has been called.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	// Scan blocks in Read, so it runs apart from the select below.
	go func() {
		defer close(lines)
		scan := bufio.NewScanner(s.port)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scan.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return ctx.Err()
				}
			}
			if s.closing.Load() {
				return nil
			}
			s.linesRead.Add(1)
			s.broadcast(line)
		}
	}
}

func (s *SerialMux[T]) broadcast(line string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			s.linesDropped.Add(1)
		}
	}
}

// Stats returns the traffic counters.
func (s *SerialMux[T]) Stats() Stats {
	s.subscriberMu.Lock()
	n := len(s.subscribers)
	s.subscriberMu.Unlock()
	return Stats{
		LinesRead:    s.linesRead.Load(),
		LinesDropped: s.linesDropped.Load(),
		CommandsSent: s.commandsSent.Load(),
		WriteErrors:  s.writeErrors.Load(),
		Subscribers:  n,
	}
}

func (s *SerialMux[T]) Close() error {
	s.closing.Store(true)

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, s, s.Stats)
}
