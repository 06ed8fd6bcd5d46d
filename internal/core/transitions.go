package core

import (
	"encoding/binary"

	"github.com/ptpfilter/ptpfilter/internal/parser"
	"github.com/ptpfilter/ptpfilter/internal/pdu"
	"github.com/ptpfilter/ptpfilter/internal/statemachine"
)

// CommandOutcome tells the dispatcher what to do with a client OUT
// command it just fed through OnClientCommand.
type CommandOutcome int

const (
	// OutcomeSubmit: forward the (trans-id rewritten) bytes to the
	// device as usual.
	OutcomeSubmit CommandOutcome = iota
	// OutcomeCompleteLocally: this was a preview command; complete the
	// client's OUT URB immediately with status OK, full length, and do
	// not forward it to the device. The device-facing work (injected
	// submit) is driven separately by the scheduler/stream-start path.
	OutcomeCompleteLocally
	// OutcomeDeferred: a transaction is already in flight; this command
	// has been queued to request_queue and will be resubmitted once the
	// current transaction completes.
	OutcomeDeferred
)

// CommandResult is returned by OnClientCommand.
type CommandResult struct {
	Outcome   CommandOutcome
	Header    pdu.Header
	IsPreview bool
	// StartStream is set when this command should also trigger a fresh
	// stream-start (idle -> busy): dispatcher must capture trigger bytes
	// and arm the stream; the scheduler's next tick submits the first
	// injected preview.
	StartStream bool
}

// OnClientCommand processes a client OUT command URB. It feeds buf
// through the rx parser itself, which rewrites the trans-id in place,
// and decides the outcome from the parsed header.
//
// As written, the source's on_rx prose names the "send" parser for this
// path, but that role is independently defined (§4.1) as "filter->device
// outgoing injected PDU" and only makes sense for C4's own submissions;
// the per-role table's definition of "rx" — capture rx_trans_id, stamp
// with current_trans_id — is what a client-originated OUT command
// actually needs, so rx is what's fed here. See DESIGN.md.
func (fc *FilterCore) OnClientCommand(buf []byte) (CommandResult, error) {
	prevIDs := fc.ts
	events, err := fc.rx.Feed(buf)
	if err != nil {
		fc.bypass(err.Error())
		return CommandResult{}, err
	}

	var hdr pdu.Header
	var sessionOpen, sessionClose bool
	for _, ev := range events {
		if ev.Phase == parser.PhaseHeader {
			hdr = ev.Header
			sessionOpen = sessionOpen || ev.SessionOpen
			sessionClose = sessionClose || ev.SessionClose
		}
	}

	if sessionOpen || sessionClose {
		fc.abortStream()
		fc.transition(statemachine.Idle)
		return CommandResult{Outcome: OutcomeSubmit, Header: hdr}, nil
	}

	isPreview := hdr.Type == pdu.TypeCommand && hdr.Code == fc.previewOpcode

	switch fc.state.Current() {
	case statemachine.Idle:
		if isPreview {
			return CommandResult{Outcome: OutcomeCompleteLocally, Header: hdr, IsPreview: true, StartStream: true}, nil
		}
		fc.transition(statemachine.Command)
		return CommandResult{Outcome: OutcomeSubmit, Header: hdr}, nil

	case statemachine.Active:
		if isPreview {
			return CommandResult{Outcome: OutcomeCompleteLocally, Header: hdr, IsPreview: true}, nil
		}
		fc.transition(statemachine.Wait)
		return CommandResult{Outcome: OutcomeSubmit, Header: hdr}, nil

	case statemachine.Sleep:
		if isPreview {
			return CommandResult{Outcome: OutcomeCompleteLocally, Header: hdr, IsPreview: true}, nil
		}
		fc.transition(statemachine.SleepWait)
		return CommandResult{Outcome: OutcomeSubmit, Header: hdr}, nil

	default:
		// A transaction is already in flight (command/busy/wait/drop/
		// sleep_wait); defer this one rather than violate single-
		// transaction-at-a-time serialization. The queued copy carries the
		// client's own trans_id, and the in-flight transaction keeps its
		// rx_trans_id, so each reply is restored to the id its client sent.
		orig := append([]byte(nil), buf...)
		if len(orig) >= pdu.HeaderSize {
			binary.LittleEndian.PutUint32(orig[8:pdu.HeaderSize], fc.ts.RXTransID)
		}
		fc.ts = prevIDs
		fc.requestQueue = append(fc.requestQueue, ClientRequest{Buffer: orig})
		return CommandResult{Outcome: OutcomeDeferred, Header: hdr}, nil
	}
}

// abortStream cancels any armed streaming and frees the trigger PDU, per
// the session-close and session-open handling in §4.1/§4.2.
func (fc *FilterCore) abortStream() {
	fc.trigger = nil
	fc.triggerValid = false
	fc.clientQueue = nil
	fc.requestQueue = nil
}

// CaptureTrigger stashes the client's preview command bytes as the
// trigger PDU, owned exclusively by the filter until the next idle
// transition or remove.
func (fc *FilterCore) CaptureTrigger(buf []byte) {
	fc.trigger = append([]byte(nil), buf...)
	fc.triggerValid = true
}

// Trigger returns the captured trigger PDU bytes, or ok=false if none is
// armed.
func (fc *FilterCore) Trigger() ([]byte, bool) {
	return fc.trigger, fc.triggerValid
}

// EnqueueClientPreviewRead records a client IN URB as pending delivery
// of a streamed frame (client_queue).
func (fc *FilterCore) EnqueueClientPreviewRead(req ClientRequest) {
	req.IsPreview = true
	fc.clientQueue = append(fc.clientQueue, req)
}

// PopClientPreviewRead removes and returns the oldest pending client
// preview read, if any.
func (fc *FilterCore) PopClientPreviewRead() (ClientRequest, bool) {
	if len(fc.clientQueue) == 0 {
		return ClientRequest{}, false
	}
	req := fc.clientQueue[0]
	fc.clientQueue = fc.clientQueue[1:]
	return req, true
}

// AcquireCarrier reserves one of the pre-allocated injected-URB
// carriers, reporting false if the free list is empty.
func (fc *FilterCore) AcquireCarrier() bool {
	if fc.carriersFree <= 0 {
		return false
	}
	fc.carriersFree--
	return true
}

// ReleaseCarrier returns a carrier to the free list.
func (fc *FilterCore) ReleaseCarrier() {
	if fc.carriersFree < fc.cfg.FreeCarrierCount {
		fc.carriersFree++
	}
}

// ArmStream transitions idle -> busy when a fresh stream is starting
// (first preview command) or active -> busy (scheduler tick).
func (fc *FilterCore) ArmStream() {
	fc.transition(statemachine.Busy)
}

// InjectedCompleted handles the busy -> {active, sleep} edge once an
// injected preview transaction's response has been parsed and any frame
// bytes committed to the buffer. deviceErr is a non-nil device-level
// error (non-zero URB status); responseOK reflects the PTP response
// code on success.
//
// Two behaviors are plausible on device error during an injected
// preview (bypassed vs sleep); this implementation adopts sleep, the
// recoverable option, per DESIGN.md.
func (fc *FilterCore) InjectedCompleted(deviceErr error, responseOK bool) {
	if deviceErr != nil || !responseOK || fc.buf.FrameCount() >= fc.cfg.BufferCount {
		fc.transition(statemachine.Sleep)
		return
	}
	fc.transition(statemachine.Active)
}

// OnDeviceReply processes a device->client reply URB (the on_tx path):
// buf is the device's response bytes on their way back to the client,
// already mutated in place by the tx parser (original client trans_id
// restored). Once a full transaction has been observed done, it drives
// ClientCommandCompleted.
func (fc *FilterCore) OnDeviceReply(buf []byte) error {
	events, err := fc.tx.Feed(buf)
	if err != nil {
		fc.bypass(err.Error())
		return err
	}
	for _, ev := range events {
		if ev.Phase == parser.PhaseDone {
			fc.ClientCommandCompleted()
		}
	}
	return nil
}

// ClientCommandCompleted handles the {command,wait,sleep_wait} -> edges
// once a client (pass-through) command's response has fully parsed on
// tx, advancing the trans-id counter (excluding rx and the
// frame-serving self responses, which never touch this path).
func (fc *FilterCore) ClientCommandCompleted() {
	fc.ts.Advance()
	switch fc.state.Current() {
	case statemachine.Command:
		fc.transition(statemachine.Idle)
	case statemachine.Wait:
		fc.transition(statemachine.Active)
	case statemachine.SleepWait:
		fc.transition(statemachine.Sleep)
	}

	if len(fc.requestQueue) > 0 {
		// A deferred command is waiting; dispatcher is expected to pull
		// it via PopDeferred and resubmit now that the channel is free.
		return
	}
}

// StampSend runs the filter's own outgoing injected preview command
// through the send parser, stamping its trans_id with CurrentTransID
// before submission to the device.
func (fc *FilterCore) StampSend(buf []byte) error {
	_, err := fc.send.Feed(buf)
	if err != nil {
		fc.bypass(err.Error())
		return err
	}
	return nil
}

// PopDeferred removes and returns the oldest request_queue entry.
func (fc *FilterCore) PopDeferred() (ClientRequest, bool) {
	if len(fc.requestQueue) == 0 {
		return ClientRequest{}, false
	}
	req := fc.requestQueue[0]
	fc.requestQueue = fc.requestQueue[1:]
	return req, true
}

// TickEligible reports whether the scheduler may submit an injected
// preview right now: a carrier must be free, fewer than BufferCount
// frames may be buffered, and the state must be active, or busy with
// every carrier free (a stream just armed by a client preview command,
// whose first injected preview has not been submitted yet).
func (fc *FilterCore) TickEligible() bool {
	st := fc.state.Current()
	armed := st == statemachine.Busy && fc.carriersFree == fc.cfg.FreeCarrierCount
	return (st.SchedulerEligible() || armed) && fc.carriersFree > 0 && fc.buf.FrameCount() < fc.cfg.BufferCount
}

// ServeFromBuffer reports whether a complete frame is currently
// available to serve to a waiting client read.
func (fc *FilterCore) ServeFromBuffer() bool {
	return fc.buf.FrameCount() > 0
}

// FrameServed decrements the buffer's frame count once a served frame's
// response PDU has been fully delivered to the client, and, if the
// filter was sleeping solely due to a full buffer, re-arms active
// streaming.
func (fc *FilterCore) FrameServed() {
	fc.buf.DecrementFrameCount()
	if fc.state.Current() == statemachine.Sleep {
		fc.transition(statemachine.Active)
	}
}

// Bypass exposes the bypass transition for dispatcher-detected failures
// that originate outside the parser (allocation failure, submission
// failure, unexpected state).
func (fc *FilterCore) Bypass(reason string) { fc.bypass(reason) }
