// Package core implements FilterCore, the single mutex-guarded aggregate
// that owns every piece of per-device state: the four parser instances,
// the transaction-id rewriter, the frame buffer, the top-level state
// machine, and the client/request queues. Every method here assumes the
// caller already holds Lock (typically dispatcher, which acquires it
// once per on_rx/on_tx/tick call) — no method blocks, the same
// no-blocking-inside-the-lock rule a kernel-style completion-context
// critical section requires.
package core

import (
	"sync"

	"github.com/ptpfilter/ptpfilter/internal/config"
	"github.com/ptpfilter/ptpfilter/internal/framebuf"
	"github.com/ptpfilter/ptpfilter/internal/interfaces"
	"github.com/ptpfilter/ptpfilter/internal/parser"
	"github.com/ptpfilter/ptpfilter/internal/pdu"
	"github.com/ptpfilter/ptpfilter/internal/statemachine"
)

// ClientRequest is a deferred or pending client URB, modeled as an
// ordered handle rather than an intrusive list node. Queue membership
// moves the handle between slices; it is never duplicated.
type ClientRequest struct {
	// SeqNum is the USB/IP seqnum of the originating envelope, used to
	// reconstitute the reply when completing the request locally.
	SeqNum uint32
	// Buffer is the caller-owned destination buffer for an IN request,
	// or the raw command payload for a deferred OUT request.
	Buffer []byte
	// IsPreview marks a client IN request waiting on a streamed frame
	// rather than a plain deferred command.
	IsPreview bool
}

// FilterCore is the per-device aggregate. All fields are guarded by Lock;
// there is deliberately no internal locking inside FilterCore itself —
// dispatcher holds a single mutex across the whole call into here, the
// same "one lock, acquired once per callback" model the source uses.
type FilterCore struct {
	mu sync.Mutex

	cfg   config.Config
	state *statemachine.Machine
	ts    parser.TransactionIDs

	rx   *parser.Parser
	tx   *parser.Parser
	self *parser.Parser
	send *parser.Parser

	buf *framebuf.Buffer

	previewOpcode pdu.Code

	trigger      []byte
	triggerValid bool

	carriersFree int

	clientQueue  []ClientRequest
	requestQueue []ClientRequest

	logger   interfaces.Logger
	observer interfaces.Observer
}

// New creates a FilterCore for one attached device.
func New(cfg config.Config, previewOpcode pdu.Code, logger interfaces.Logger, observer interfaces.Observer) *FilterCore {
	cfg.Normalize()
	ts := parser.TransactionIDs{CurrentTransID: 1}
	fc := &FilterCore{
		cfg:           cfg,
		state:         statemachine.NewMachine(),
		ts:            ts,
		buf:           framebuf.New(cfg.FrameBufferMax),
		previewOpcode: previewOpcode,
		carriersFree:  cfg.FreeCarrierCount,
		logger:        logger,
		observer:      observer,
	}
	fc.rx = parser.New(parser.RoleRX, &fc.ts)
	fc.tx = parser.New(parser.RoleTX, &fc.ts)
	fc.self = parser.New(parser.RoleSelf, &fc.ts)
	fc.send = parser.New(parser.RoleSend, &fc.ts)
	return fc
}

// Lock / Unlock expose the single filter lock to dispatcher, which holds
// it across an entire on_rx/on_tx/tick call — never released and
// reacquired mid-callback.
func (fc *FilterCore) Lock()   { fc.mu.Lock() }
func (fc *FilterCore) Unlock() { fc.mu.Unlock() }

// State returns the current top-level state. Safe to call without
// holding Lock only for diagnostics; production call sites hold Lock.
func (fc *FilterCore) State() statemachine.State { return fc.state.Current() }

// Bypassed reports whether the filter is in its terminal pass-through
// state. A single-word load would be cheap enough to check outside the
// lock on a hot path, but Go gives no cheaper primitive than an atomic
// without restructuring the whole type, so callers here still hold the
// lock.
func (fc *FilterCore) Bypassed() bool { return fc.state.Is(statemachine.Bypassed) }

func (fc *FilterCore) transition(to statemachine.State) {
	from := fc.state.Current()
	fc.state.Set(to)
	if fc.observer != nil {
		fc.observer.ObserveStateTransition(from.String(), to.String())
	}
}

// bypass transitions to the terminal bypassed state, freeing the
// trigger, dropping all queued client work back to pass-through, and
// logging the reason. Nothing about this filter instance can un-bypass.
func (fc *FilterCore) bypass(reason string) {
	fc.transition(statemachine.Bypassed)
	fc.trigger = nil
	fc.triggerValid = false
	fc.clientQueue = nil
	fc.requestQueue = nil
	if fc.observer != nil {
		fc.observer.ObserveBypass(reason)
	}
	if fc.logger != nil {
		fc.logger.Warnf("filter bypassed: %s", reason)
	}
}

// Init transitions the filter from init to idle once the device's
// non-preview capability has been confirmed (vendor-table match already
// happened at probe time in this implementation, so dispatcher calls
// this immediately after New).
func (fc *FilterCore) Init() {
	if fc.state.Is(statemachine.Init) {
		fc.transition(statemachine.Idle)
	}
}

// Buffer exposes the frame buffer for the scheduler and dispatcher data
// paths. Caller must hold Lock.
func (fc *FilterCore) Buffer() *framebuf.Buffer { return fc.buf }

// Config returns the resolved tunables.
func (fc *FilterCore) Config() config.Config { return fc.cfg }

// PreviewOpcode returns the configured preview command opcode.
func (fc *FilterCore) PreviewOpcode() pdu.Code { return fc.previewOpcode }

// TransIDs exposes the rewriter state for tests / invariant checks.
func (fc *FilterCore) TransIDs() parser.TransactionIDs { return fc.ts }
