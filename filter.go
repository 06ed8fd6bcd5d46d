// Package ptpfilter provides the main API for attaching a PTP-over-USB
// preview filter to a bulk transport: given a Transport implementation
// (a USB/IP stub plus host controller, or the provided in-memory
// simulator), Attach probes the device against the built-in model table
// and, on a match, begins intercepting preview commands and streaming
// frames from the device's own periodic preview replies.
package ptpfilter

import (
	"context"
	"fmt"

	"github.com/ptpfilter/ptpfilter/internal/config"
	"github.com/ptpfilter/ptpfilter/internal/dispatcher"
	"github.com/ptpfilter/ptpfilter/internal/interfaces"
)

// Transport is the seam between the filter and the device: Attach's
// caller supplies a concrete implementation speaking to a real PTP
// camera (a USB/IP stub plus host controller, out of this module's
// scope) or to the testing package's in-memory simulator.
type Transport interface {
	// SubmitOut sends an OUT bulk transfer to the device on endpoint ep
	// and blocks until the device has accepted it.
	SubmitOut(ctx context.Context, ep int, payload []byte) error

	// SubmitIn requests an IN bulk transfer from the device on endpoint
	// ep into buf, returning the number of bytes the device returned.
	SubmitIn(ctx context.Context, ep int, buf []byte) (n int, err error)

	// EndpointMaxPacketSize reports wMaxPacketSize for ep.
	EndpointMaxPacketSize(ep int) int
}

// Logger is the minimal logging surface Attach accepts.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Params configures one filter attachment.
type Params struct {
	VendorID  uint16
	ProductID uint16

	// OutEndpoint/InEndpoint are the bulk endpoint numbers Transport
	// expects for OUT (filter->device) and IN (device->filter) traffic.
	OutEndpoint int
	InEndpoint  int

	FPS                     int // Preview target fps (default: 10)
	BufferCount             int // Max buffered frames (default: 3)
	FrameBufferMax          int // Frame cache max size in bytes (default: 1MiB)
	FreeCarrierCount        int // Pre-allocated injected URB carriers (default: 2)
	ParseDeviceInfoFallback bool
	CPUAffinity             []int
}

// DefaultParams returns default filter parameters for the given device.
func DefaultParams(vendorID, productID uint16) Params {
	return Params{
		VendorID:         vendorID,
		ProductID:        productID,
		OutEndpoint:      1,
		InEndpoint:       2,
		FPS:              DefaultFPS,
		BufferCount:      DefaultBufferCount,
		FrameBufferMax:   DefaultFrameBufferMax,
		FreeCarrierCount: DefaultFreeCarrierCount,
	}
}

func (p Params) toConfig() config.Config {
	cfg := config.Config{
		FPS:                     p.FPS,
		BufferCount:             p.BufferCount,
		FrameBufferMax:          p.FrameBufferMax,
		FreeCarrierCount:        p.FreeCarrierCount,
		ParseDeviceInfoFallback: p.ParseDeviceInfoFallback,
		CPUAffinity:             p.CPUAffinity,
	}
	cfg.Normalize()
	return cfg
}

// Options carries additional, less commonly set Attach arguments.
type Options struct {
	// Context governs the background scheduler's lifetime; if nil, the
	// ctx passed to Attach is used (context.Background() if that is nil).
	Context context.Context

	Logger   Logger
	Observer Observer
}

// Filter is a handle to one attached device's running preview filter.
type Filter struct {
	d       *dispatcher.Filter
	metrics *Metrics
}

// Attach probes the device described by params against the built-in
// model table and, on a match, starts intercepting its preview commands
// over transport. Returns an *Error with ErrCodeUnsupportedDevice if the
// device is not in the model table.
func Attach(ctx context.Context, transport Transport, params Params, options *Options) (*Filter, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if options == nil {
		options = &Options{}
	}
	if options.Context != nil {
		ctx = options.Context
	}

	var metrics *Metrics
	var observer interfaces.Observer
	if options.Observer != nil {
		observer = options.Observer
	} else {
		metrics = NewMetrics()
		observer = NewMetricsObserver(metrics)
	}

	d, ok := dispatcher.Probe(ctx, params.VendorID, params.ProductID, params.OutEndpoint, params.InEndpoint,
		transport, params.toConfig(), toInternalLogger(options.Logger), observer)
	if !ok {
		return nil, NewError("attach", ErrCodeUnsupportedDevice,
			fmt.Sprintf("no model table entry for vendor=0x%04x product=0x%04x", params.VendorID, params.ProductID))
	}

	return &Filter{d: d, metrics: metrics}, nil
}

// Detach stops the filter's background scheduler. f must not be used
// afterward.
func Detach(f *Filter) error {
	if f == nil {
		return NewError("detach", ErrCodeClientError, "nil filter")
	}
	if f.metrics != nil {
		f.metrics.Stop()
	}
	f.d.Remove()
	return nil
}

// State returns the filter's current top-level state name (one of
// "init", "bypassed", "idle", "command", "active", "busy", "wait",
// "drop", "sleep", "sleep_wait").
func (f *Filter) State() string {
	return f.d.State()
}

// OnClientOut feeds a client OUT URB (command or data phase) through the
// filter. forward reports whether the caller should still submit buf to
// the device.
func (f *Filter) OnClientOut(buf []byte) (forward bool, err error) {
	return f.d.OnClientOut(buf)
}

// OnClientIn feeds a client IN URB requesting preview data through the
// filter. If queued is true, no frame was ready yet and the request has
// been recorded; the caller can call OnClientIn again once a frame
// becomes available (e.g. after each successful tick). Filter has no
// method that completes the recorded requests.
func (f *Filter) OnClientIn(dst []byte) (n int, done bool, queued bool) {
	return f.d.OnClientIn(dst)
}

// OnTx feeds a device->client reply URB through the filter, restoring
// the client's original trans_id and advancing the filter's command
// state once the transaction completes. Any deferred client command is
// resubmitted to the device automatically.
func (f *Filter) OnTx(ctx context.Context, buf []byte) error {
	return f.d.OnTx(ctx, buf)
}

// Metrics returns the filter's metrics, or nil if a custom Observer was
// supplied at Attach time instead of the built-in one.
func (f *Filter) Metrics() *Metrics {
	return f.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of the filter's
// metrics (the zero value if a custom Observer was supplied at Attach).
func (f *Filter) MetricsSnapshot() MetricsSnapshot {
	if f.metrics == nil {
		return MetricsSnapshot{}
	}
	return f.metrics.Snapshot()
}

// toInternalLogger adapts a public Logger to the internal interface. The
// two interfaces share a method set so no method forwarding is needed;
// this only exists to turn a nil Logger into a nil interfaces.Logger
// rather than a non-nil interface wrapping a nil pointer.
func toInternalLogger(l Logger) interfaces.Logger {
	if l == nil {
		return nil
	}
	return l
}
