package attitude

import (
	"context"
	"sync"
)

// MockTransport is an in-memory Transport for tests and dry runs.
type MockTransport struct {
	// Heartbeat is returned by WaitHeartbeat unless HeartbeatErr is set.
	Heartbeat    Heartbeat
	HeartbeatErr error
	// BlockHeartbeat makes WaitHeartbeat wait for ctx instead of answering.
	BlockHeartbeat bool
	RateErr        error
	SendErr        error

	reports chan Sample

	mu             sync.Mutex
	sent           []Target
	requestedRates []float64
	closed         bool
}

// NewMockTransport returns a MockTransport with a buffered report channel.
func NewMockTransport(buffer int) *MockTransport {
	return &MockTransport{
		Heartbeat: Heartbeat{SystemID: 1, ComponentID: 1},
		reports:   make(chan Sample, buffer),
	}
}

func (m *MockTransport) WaitHeartbeat(ctx context.Context) (Heartbeat, error) {
	if m.BlockHeartbeat {
		<-ctx.Done()
		return Heartbeat{}, ctx.Err()
	}
	if m.HeartbeatErr != nil {
		return Heartbeat{}, m.HeartbeatErr
	}
	return m.Heartbeat, nil
}

func (m *MockTransport) RequestReportRate(hz float64) error {
	m.mu.Lock()
	m.requestedRates = append(m.requestedRates, hz)
	m.mu.Unlock()
	return m.RateErr
}

func (m *MockTransport) Reports() <-chan Sample { return m.reports }

// Push delivers a report, blocking until the receiver has buffer room.
func (m *MockTransport) Push(s Sample) {
	m.reports <- s
}

// TryPush delivers a report if the buffer has room.
func (m *MockTransport) TryPush(s Sample) bool {
	select {
	case m.reports <- s:
		return true
	default:
		return false
	}
}

// EndReports closes the report channel as a transport shutdown would.
func (m *MockTransport) EndReports() {
	close(m.reports)
}

func (m *MockTransport) SendTarget(t Target) error {
	if m.SendErr != nil {
		return m.SendErr
	}
	m.mu.Lock()
	m.sent = append(m.sent, t)
	m.mu.Unlock()
	return nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Sent returns a copy of the transmitted targets.
func (m *MockTransport) Sent() []Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Target(nil), m.sent...)
}

// RequestedRates returns every rate passed to RequestReportRate.
func (m *MockTransport) RequestedRates() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.requestedRates...)
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
