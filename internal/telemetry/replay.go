package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/yawtrack/internal/attitude"
	"github.com/banshee-data/yawtrack/internal/monitoring"
)

// ReplayConfig configures pcap replay of recorded bridge traffic.
type ReplayConfig struct {
	// Path is the capture file.
	Path string
	// Port keeps only UDP datagrams to or from this port. Zero keeps all.
	Port int
	// Speed scales capture timing (1.0 = real time, 2.0 = twice as fast).
	// Zero means real time; a negative value replays without pacing.
	Speed float64
}

// Replay is a Transport that plays back JSON bridge lines carried in UDP
// datagrams of a pcap capture. Commands are counted and discarded.
type Replay struct {
	cfg       ReplayConfig
	file      io.ReadCloser
	reports   *reportQueue
	heartbeat *heartbeatLatch

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}

	packets  atomic.Uint64
	lines    atomic.Uint64
	sent     atomic.Uint64
	finished atomic.Bool
	err      atomic.Pointer[error]
}

// OpenReplay opens the capture and starts playback in the background.
func OpenReplay(cfg ReplayConfig) (*Replay, error) {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", cfg.Path, err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read PCAP header of %s: %w", cfg.Path, err)
	}
	if cfg.Speed == 0 {
		cfg.Speed = 1.0
	}

	rp := &Replay{
		cfg:       cfg,
		file:      f,
		reports:   newReportQueue(DefaultReportBuffer),
		heartbeat: newHeartbeatLatch(),
		closed:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	src := gopacket.NewPacketSource(r, r.LinkType())
	go rp.run(src)
	return rp, nil
}

func (rp *Replay) run(src *gopacket.PacketSource) {
	defer close(rp.done)
	defer rp.reports.close()

	start := time.Now()
	var lastCapture time.Time
	for {
		packet, err := src.NextPacket()
		if err == io.EOF {
			rp.finished.Store(true)
			monitoring.Logf("telemetry: replay complete: %d packets, %d lines in %v",
				rp.packets.Load(), rp.lines.Load(), time.Since(start))
			return
		}
		if err != nil {
			rp.err.Store(&err)
			monitoring.Logf("telemetry: replay stopped: %v", err)
			return
		}

		payload, ok := rp.udpPayload(packet)
		if !ok {
			continue
		}
		rp.packets.Add(1)

		captured := packet.Metadata().Timestamp
		if !lastCapture.IsZero() && rp.cfg.Speed > 0 {
			delay := time.Duration(float64(captured.Sub(lastCapture)) / rp.cfg.Speed)
			if delay > 0 {
				select {
				case <-rp.closed:
					return
				case <-time.After(delay):
				}
			}
		}
		lastCapture = captured

		select {
		case <-rp.closed:
			return
		default:
		}
		for _, line := range splitLines(payload) {
			rp.handleLine(line)
		}
	}
}

func (rp *Replay) udpPayload(packet gopacket.Packet) ([]byte, bool) {
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, false
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok || len(udp.Payload) == 0 {
		return nil, false
	}
	if rp.cfg.Port != 0 && int(udp.DstPort) != rp.cfg.Port && int(udp.SrcPort) != rp.cfg.Port {
		return nil, false
	}
	return udp.Payload, true
}

func (rp *Replay) handleLine(raw string) {
	l, err := DecodeLine(raw)
	if err != nil {
		monitoring.Debugf("telemetry: replay line ignored: %v", err)
		return
	}
	rp.lines.Add(1)
	switch l.Type {
	case LineHeartbeat:
		rp.heartbeat.set(*l.Heartbeat)
	case LineAttitude:
		rp.reports.offer(*l.Attitude)
	}
}

// WaitHeartbeat returns the first heartbeat in the capture. It fails when
// playback ends without one.
func (rp *Replay) WaitHeartbeat(ctx context.Context) (attitude.Heartbeat, error) {
	select {
	case <-rp.heartbeat.ready:
		return rp.heartbeat.hb, nil
	case <-rp.done:
		if hb, ok := rp.heartbeat.seen(); ok {
			return hb, nil
		}
		return attitude.Heartbeat{}, fmt.Errorf("replay %s: no heartbeat in capture", rp.cfg.Path)
	case <-rp.closed:
		return attitude.Heartbeat{}, ErrClosed
	case <-ctx.Done():
		return attitude.Heartbeat{}, ctx.Err()
	}
}

// RequestReportRate is accepted and ignored; a capture has a fixed rate.
func (rp *Replay) RequestReportRate(hz float64) error {
	monitoring.Debugf("telemetry: replay ignores report rate %.1f Hz", hz)
	return nil
}

func (rp *Replay) Reports() <-chan attitude.Sample { return rp.reports.ch }

func (rp *Replay) SendTarget(t attitude.Target) error {
	select {
	case <-rp.closed:
		return ErrClosed
	default:
	}
	rp.sent.Add(1)
	return nil
}

// Finished reports whether playback reached the end of the capture.
func (rp *Replay) Finished() bool { return rp.finished.Load() }

// Err returns the read error that stopped playback, if any.
func (rp *Replay) Err() error {
	if p := rp.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Sent returns the number of discarded commands.
func (rp *Replay) Sent() uint64 { return rp.sent.Load() }

func (rp *Replay) Close() error {
	var err error
	rp.closeOnce.Do(func() {
		close(rp.closed)
		<-rp.done
		err = rp.file.Close()
	})
	return err
}
