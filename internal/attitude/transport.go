package attitude

import "context"

// Transport is the telemetry channel beneath a Link. Implementations must
// allow SendTarget to run concurrently with delivery on Reports: the two
// directions are independent even when they share a socket.
type Transport interface {
	// WaitHeartbeat blocks until the flight controller announces itself or
	// ctx is done.
	WaitHeartbeat(ctx context.Context) (Heartbeat, error)

	// RequestReportRate asks the source to emit attitude reports at hz.
	// The source may ignore the request.
	RequestReportRate(hz float64) error

	// Reports delivers decoded attitude reports. It is closed when the
	// transport shuts down.
	Reports() <-chan Sample

	// SendTarget transmits one attitude target without blocking
	// indefinitely.
	SendTarget(Target) error

	// Close releases the transport.
	Close() error
}
