package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/yawtrack/internal/monitoring"
)

// UDPSocket is the part of *net.UDPConn the UDP reader uses.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// ListenUDP opens a UDP socket for the vision feed.
func ListenUDP(address string) (UDPSocket, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	return conn, nil
}

// UDPReadBuffer is the receive buffer requested for the feed socket.
const UDPReadBuffer = 1 << 20

// ReadUDP consumes datagrams from sock until ctx is done, then closes sock
// and Frames. A datagram may carry several newline-separated messages.
func (f *Feed) ReadUDP(ctx context.Context, sock UDPSocket) error {
	defer close(f.frames)
	defer sock.Close()

	if err := sock.SetReadBuffer(UDPReadBuffer); err != nil {
		monitoring.Logf("Warning: failed to set UDP receive buffer size to %d: %v", UDPReadBuffer, err)
	}
	monitoring.Logf("vision feed listening on %s", sock.LocalAddr())

	buf := make([]byte, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Poll so cancellation is noticed without traffic.
		sock.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, addr, err := sock.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			monitoring.Logf("vision feed read error: %v", err)
			continue
		}

		for _, line := range bytes.Split(buf[:n], []byte{'\n'}) {
			line = bytes.TrimSpace(line)
			if err := f.HandleLine(ctx, line); err != nil {
				return err
			}
		}
		monitoring.Debugf("vision feed: %d bytes from %v", n, addr)
	}
}
