// Package interfaces provides internal interface definitions for
// ptpfilter. Kept separate from the root package's public interfaces to
// avoid circular imports between the main package and internal packages.
package interfaces

import "context"

// Transport is the sole seam between the filter core and the USB/IP
// stub + host-controller machinery. It stands in for URB build/submit/
// complete and the stub's own wire framing: the filter core calls it to
// push an injected OUT command and to pull the resulting IN data/
// response phases, and never sees a raw URB or USB/IP envelope itself.
type Transport interface {
	// SubmitOut sends an OUT bulk transfer to the device on endpoint ep
	// and blocks until the device has accepted it.
	SubmitOut(ctx context.Context, ep int, payload []byte) error

	// SubmitIn requests an IN bulk transfer from the device on endpoint
	// ep into buf, returning the number of bytes the device actually
	// returned.
	SubmitIn(ctx context.Context, ep int, buf []byte) (n int, err error)

	// EndpointMaxPacketSize reports wMaxPacketSize for ep, used to round
	// frame-buffer reservations to the transfer quantum.
	EndpointMaxPacketSize(ep int) int
}

// Logger is the minimal logging surface the filter needs.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Observer is the pluggable metrics-collection surface.
type Observer interface {
	ObserveFrameProduced(latencyNs uint64, bytes uint64, ok bool)
	ObserveFrameServed(latencyNs uint64, bytes uint64)
	ObserveFrameDropped()
	ObserveStateTransition(from, to string)
	ObserveBypass(reason string)
}
