package serialmux

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"tailscale.com/tsweb"
)

// DisabledSerialMux stands in when the link does not run over the serial
// bridge. Commands are discarded and Monitor idles until cancelled.
// Subscriber channels are still tracked so they close deterministically on
// Unsubscribe or Close.
type DisabledSerialMux struct {
	reason string

	mu          sync.Mutex
	subscribers map[string]chan string
	closing     bool

	discarded atomic.Uint64
}

// NewDisabledSerialMux returns a disabled mux; reason is shown on its debug
// page.
func NewDisabledSerialMux(reason string) *DisabledSerialMux {
	return &DisabledSerialMux{
		reason:      reason,
		subscribers: make(map[string]chan string),
	}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		// Already closed: hand back a closed channel so callers don't block.
		close(ch)
		return id, ch
	}
	d.subscribers[id] = ch
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

func (d *DisabledSerialMux) SendCommand(string) error {
	d.discarded.Add(1)
	return nil
}

func (d *DisabledSerialMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *DisabledSerialMux) Initialize() error { return nil }

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil
	}
	d.closing = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	return nil
}

// Discarded counts commands dropped by SendCommand.
func (d *DisabledSerialMux) Discarded() uint64 { return d.discarded.Load() }

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/serial-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "serial bridge disabled")
		if d.reason != "" {
			io.WriteString(w, ": "+d.reason)
		}
		io.WriteString(w, "\n")
	})
	tsweb.Debugger(mux).URL("/debug/serial-disabled", "Serial bridge (disabled)")
}
