// Package dispatcher implements C5: the URB dispatcher that wires one
// attached device's FilterCore, Transport and scheduler together. Probe
// matches a device against the model table; OnClientOut/OnClientIn are
// the filter's two client-facing entry points; the dispatcher itself
// also implements scheduler.Submitter to drive injected preview
// transactions on tick.
package dispatcher

import (
	"context"
	"fmt"

	"github.com/ptpfilter/ptpfilter/internal/config"
	"github.com/ptpfilter/ptpfilter/internal/core"
	"github.com/ptpfilter/ptpfilter/internal/interfaces"
	"github.com/ptpfilter/ptpfilter/internal/pdu"
	"github.com/ptpfilter/ptpfilter/internal/queue"
	"github.com/ptpfilter/ptpfilter/internal/scheduler"
)

// Filter is the dispatcher's per-device handle, returned by Probe.
type Filter struct {
	core      *core.FilterCore
	transport interfaces.Transport
	sched     *scheduler.Scheduler
	logger    interfaces.Logger

	epOut, epIn int

	// wireBuf is a pooled scratch buffer reused across ticks to assemble
	// one injected preview transaction's bytes, avoiding a grow-by-append
	// allocation on every SubmitPreview call.
	wireBuf []byte
}

// Probe matches (vendorID, productID) against the model table and, on a
// hit, constructs a Filter bound to transport and starts its scheduler.
// If the device isn't in the table and cfg.ParseDeviceInfoFallback is
// set, Probe falls back to one GetDeviceInfo round trip and accepts the
// device anyway if it advertises a vendor extension with a registered
// preview opcode. ok is false if neither path recognizes the device.
func Probe(ctx context.Context, vendorID, productID uint16, epOut, epIn int, transport interfaces.Transport, cfg config.Config, logger interfaces.Logger, observer interfaces.Observer) (*Filter, bool) {
	model, ok := LookupModel(vendorID, productID)
	var opcode pdu.Code
	if ok {
		opcode, ok = PreviewOpcodeFor(model.VendorExtensionID)
	}
	if !ok && cfg.ParseDeviceInfoFallback {
		ext, probed, err := probeDeviceInfo(ctx, epOut, epIn, transport)
		if err != nil {
			if logger != nil {
				logger.Warnf("ptpfilter: device info probe failed for %04x:%04x: %v", vendorID, productID, err)
			}
			return nil, false
		}
		if probed {
			opcode, ok = PreviewOpcodeFor(ext)
		}
	}
	if !ok {
		return nil, false
	}

	fc := core.New(cfg, opcode, logger, observer)
	fc.Init()

	f := &Filter{
		core:      fc,
		transport: transport,
		logger:    logger,
		epOut:     epOut,
		epIn:      epIn,
		wireBuf:   queue.GetBuffer(uint32(cfg.FrameBufferMax)),
	}
	f.sched = scheduler.New(ctx, scheduler.Config{FPS: cfg.FPS, CPUAffinity: cfg.CPUAffinity}, f, logger)
	f.sched.Start()
	return f, true
}

// Remove tears down the filter's scheduler and returns its scratch
// buffer to the pool.
func (f *Filter) Remove() {
	f.sched.Stop()
	queue.PutBuffer(f.wireBuf)
}

// State exposes the current top-level state for diagnostics.
func (f *Filter) State() string {
	f.core.Lock()
	defer f.core.Unlock()
	return f.core.State().String()
}

// OnClientOut handles a client OUT URB (command or data phase) before it
// would otherwise be forwarded to the device unmodified. forward reports
// whether the caller should still submit buf to the device; when false,
// the dispatcher has already completed the client's URB locally (a
// pass-through error from a bypassed filter still asks the caller to
// forward, since bypass means "get out of the way").
func (f *Filter) OnClientOut(buf []byte) (forward bool, err error) {
	f.core.Lock()
	defer f.core.Unlock()

	if f.core.Bypassed() {
		return true, nil
	}

	res, err := f.core.OnClientCommand(buf)
	if err != nil {
		return true, err
	}

	switch res.Outcome {
	case core.OutcomeSubmit:
		return true, nil
	case core.OutcomeCompleteLocally:
		if res.StartStream {
			f.core.CaptureTrigger(buf)
			f.core.ArmStream()
		}
		return false, nil
	default: // OutcomeDeferred
		return false, nil
	}
}

// OnClientIn handles a client IN URB requesting the filtered device's
// preview data. If a frame is already buffered it is served immediately;
// otherwise the request is queued and will be completed once a frame is
// produced (the caller is expected to poll ServeQueued after every
// successful SubmitPreview tick, matching the "client_queue populated by
// on_rx, drained by the producer path" structure in §4.5).
func (f *Filter) OnClientIn(dst []byte) (n int, done bool, queued bool) {
	f.core.Lock()
	defer f.core.Unlock()

	if f.core.Bypassed() || !f.core.ServeFromBuffer() {
		f.core.EnqueueClientPreviewRead(core.ClientRequest{Buffer: dst})
		return 0, false, true
	}
	res := f.core.ServeInto(dst)
	return res.N, res.FrameDone, false
}

// OnTx handles a device->client reply URB — the response to a
// previously-forwarded (non-preview) client command — before it is
// forwarded back to the client. It restores the client's original
// trans_id onto the wire (rx stamped every forwarded command with
// current_trans_id on the way out; this is what undoes that) and
// advances the filter's command state once the transaction is seen
// complete. If a deferred command was queued while this one was in
// flight, it is resubmitted to the device now that the channel is free.
func (f *Filter) OnTx(ctx context.Context, buf []byte) error {
	f.core.Lock()
	if f.core.Bypassed() {
		f.core.Unlock()
		return nil
	}
	if err := f.core.OnDeviceReply(buf); err != nil {
		f.core.Unlock()
		return err
	}
	deferred, ok := f.core.PopDeferred()
	f.core.Unlock()
	if !ok {
		return nil
	}

	forward, err := f.OnClientOut(deferred.Buffer)
	if err != nil || !forward {
		return err
	}
	return f.transport.SubmitOut(ctx, f.epOut, deferred.Buffer)
}

// ServeQueued attempts to satisfy one pending client IN request from the
// buffer, returning ok=false if either the queue is empty or no frame is
// available yet.
func (f *Filter) ServeQueued() (req core.ClientRequest, n int, done bool, ok bool) {
	f.core.Lock()
	defer f.core.Unlock()

	if !f.core.ServeFromBuffer() {
		return core.ClientRequest{}, 0, false, false
	}
	req, ok = f.core.PopClientPreviewRead()
	if !ok {
		return core.ClientRequest{}, 0, false, false
	}
	res := f.core.ServeInto(req.Buffer)
	return req, res.N, res.FrameDone, true
}

// SubmitPreview implements scheduler.Submitter: it runs one full injected
// preview transaction (command, data, response) against the device if
// the filter core reports itself tick-eligible, and feeds the result
// back into the core.
func (f *Filter) SubmitPreview(ctx context.Context) (bool, error) {
	f.core.Lock()
	eligible := f.core.TickEligible()
	if !eligible {
		f.core.Unlock()
		return false, nil
	}
	if !f.core.AcquireCarrier() {
		f.core.Unlock()
		return false, nil
	}
	f.core.ArmStream()
	trigger, haveTrigger := f.core.Trigger()
	opcode := f.core.PreviewOpcode()
	transIDs := f.core.TransIDs()
	quantum := f.transport.EndpointMaxPacketSize(f.epIn)

	cmd := trigger
	if !haveTrigger {
		cmd = pdu.Header{Length: pdu.HeaderSize, Type: pdu.TypeCommand, Code: opcode, TransID: transIDs.CurrentTransID}.Marshal()
	} else {
		// Trigger bytes were captured once, at stream-arm time; restamp
		// them to the current trans_id before every injected resubmit
		// rather than replaying whatever id happened to be live then.
		cmd = append([]byte(nil), cmd...)
	}
	sendErr := f.core.StampSend(cmd)
	f.core.Unlock()
	if sendErr != nil {
		return false, fmt.Errorf("dispatcher: injected preview failed: %w", sendErr)
	}

	var submitErr error
	var ok bool
	if err := f.transport.SubmitOut(ctx, f.epOut, cmd); err != nil {
		submitErr = err
	} else {
		wire, err := f.readInjectedReply(ctx)
		if err != nil {
			submitErr = err
		} else {
			f.core.Lock()
			accepted, responseOK, perr := f.core.ProduceFrame(wire, quantum)
			f.core.Unlock()
			if perr != nil {
				submitErr = perr
			}
			ok = accepted && responseOK
		}
	}

	f.core.Lock()
	f.core.InjectedCompleted(submitErr, ok)
	f.core.ReleaseCarrier()
	f.core.Unlock()

	if submitErr != nil {
		return false, fmt.Errorf("dispatcher: injected preview failed: %w", submitErr)
	}
	return true, nil
}

// readInjectedReply pulls bulk IN transfers from the device until a full
// data-PDU-plus-response-PDU pair has been assembled, per the header's
// declared length. It accumulates into the filter's pooled scratch
// buffer, falling back to a plain append only if the transaction
// overruns it (the frame cache itself would reject a frame that large,
// so this is a safety margin rather than the expected path).
func (f *Filter) readInjectedReply(ctx context.Context) ([]byte, error) {
	wire := f.wireBuf[:0]
	quantum := f.transport.EndpointMaxPacketSize(f.epIn)
	if quantum <= 0 {
		quantum = 512
	}
	chunk := make([]byte, quantum)

	for {
		n, err := f.transport.SubmitIn(ctx, f.epIn, chunk)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, fmt.Errorf("dispatcher: device returned empty IN transfer")
		}
		wire = append(wire, chunk[:n]...)

		if len(wire) < pdu.HeaderSize {
			continue
		}
		dataHdr, err := pdu.UnmarshalHeader(wire)
		if err != nil {
			return nil, err
		}
		respOff := int(dataHdr.Length)
		if len(wire) < respOff+pdu.HeaderSize {
			continue
		}
		respHdr, err := pdu.UnmarshalHeader(wire[respOff:])
		if err != nil {
			return nil, err
		}
		if len(wire) >= respOff+int(respHdr.Length) {
			return wire, nil
		}
	}
}
