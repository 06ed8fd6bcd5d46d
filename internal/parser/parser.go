// Package parser implements the PTP-over-USB bulk PDU parser (C1): a
// step function over arbitrary byte slices that tracks header/body phase
// per PDU and rewrites the transaction id in place on the wire buffer
// according to the parser's role.
//
// Four independent instances run per filter (rx, tx, self, send); they
// share only the TransactionIDs rewriter state, never their own phase.
package parser

import (
	"encoding/binary"
	"errors"

	"github.com/ptpfilter/ptpfilter/internal/pdu"
)

// Role selects the rewrite policy applied at header-completion time.
type Role int

const (
	// RoleRX parses client->device traffic: captures the client's original
	// trans_id and overwrites it with the current injected/passthrough id.
	RoleRX Role = iota
	// RoleTX parses device->client traffic: restores the client's original
	// trans_id so it never sees a rewritten value.
	RoleTX
	// RoleSelf parses device responses to filter-injected traffic: no
	// rewrite, used only for C2 bookkeeping.
	RoleSelf
	// RoleSend parses the filter's own outgoing injected PDU: stamps it
	// with the current trans_id at submission time.
	RoleSend
)

func (r Role) String() string {
	switch r {
	case RoleRX:
		return "rx"
	case RoleTX:
		return "tx"
	case RoleSelf:
		return "self"
	case RoleSend:
		return "send"
	default:
		return "unknown"
	}
}

// state is the parser's phase within one PDU.
type state int

const (
	stateNone state = iota
	stateCommandBody
	stateDataBody
	stateResponseBody
	stateUnknownBody
	stateWaitResponse
)

// ErrBypass is returned when the parser observes input its role cannot
// legally handle (e.g. a header split delivered to rx/send). Callers
// must transition the owning filter to bypassed.
var ErrBypass = errors.New("parser: header split not supported for this role")

// ErrMalformed is returned for a structurally invalid header (declared
// length < 12). Containers of any other type than command, data or
// response are not rejected; their bodies are consumed as unknown bodies.
var ErrMalformed = errors.New("parser: malformed pdu header")

// TransactionIDs is the rewriter state shared by all four role instances
// of one filter. CurrentTransID is the id the device currently expects;
// RXTransID is the one-shot stash of the client's original id.
type TransactionIDs struct {
	CurrentTransID uint32
	RXTransID      uint32
	RXTransIDValid bool
}

// ResetSession reinitializes the counter on an observed OpenSession; any
// armed preview stream must be aborted by the caller separately.
func (t *TransactionIDs) ResetSession() {
	t.CurrentTransID = 1
	t.RXTransIDValid = false
}

// Advance bumps the injected/pass-through trans_id counter. Called by the
// filter core when a transaction completes, never by the parser itself.
func (t *TransactionIDs) Advance() {
	t.CurrentTransID++
}

// Phase distinguishes the two events a Parser can emit per PDU.
type Phase int

const (
	// PhaseHeader fires as soon as a 12-byte header has been fully
	// assembled (and rewritten, if applicable) — before any body bytes
	// are consumed.
	PhaseHeader Phase = iota
	// PhaseDone fires when a PDU's body has been fully consumed *and*
	// the PDU was of type Response — i.e. "transaction done".
	PhaseDone
)

// Event is emitted by Feed for each header completion and each
// transaction completion.
type Event struct {
	Phase        Phase
	Header       pdu.Header
	SessionOpen  bool // rx only: opcode was OpenSession
	SessionClose bool // rx only: opcode was CloseSession
}

// Parser decodes one byte stream's worth of PTP bulk containers.
type Parser struct {
	role Role
	ts   *TransactionIDs

	st            state
	headerRaw     [pdu.HeaderSize]byte
	headerLen     int
	header        pdu.Header
	bodyRemaining uint32
}

// New creates a parser instance for the given role, sharing ts with the
// other three instances of the same filter.
func New(role Role, ts *TransactionIDs) *Parser {
	return &Parser{role: role, ts: ts, st: stateNone}
}

// Role reports the parser's role.
func (p *Parser) Role() Role { return p.role }

// Reset returns the parser to its initial (idle) phase, discarding any
// partially-assembled header or body. Nothing else in this module calls
// it; session open/close handling leaves the parser phase as it is.
func (p *Parser) Reset() {
	p.st = stateNone
	p.headerLen = 0
	p.bodyRemaining = 0
	p.header = pdu.Header{}
}

func (p *Parser) splitSupported() bool {
	return p.role == RoleTX || p.role == RoleSelf
}

// rewriteChunk overwrites trans_id bytes (wire offsets 8..12) falling
// within [startIdx, startIdx+len(chunk)) according to the parser's role.
// self never rewrites. rx/send only ever see this called with a full
// 12-byte chunk at startIdx 0 since they don't support split headers.
func (p *Parser) rewriteChunk(chunk []byte, startIdx int) {
	if p.role == RoleSelf {
		return
	}
	for i := range chunk {
		pos := startIdx + i
		if pos < 8 || pos >= pdu.HeaderSize {
			continue
		}
		byteIdx := uint(pos - 8)
		var val uint32
		switch p.role {
		case RoleTX:
			if !p.ts.RXTransIDValid {
				continue
			}
			val = p.ts.RXTransID
		case RoleRX, RoleSend:
			val = p.ts.CurrentTransID
		}
		chunk[i] = byte(val >> (8 * byteIdx))
	}
}

// Feed advances the parser over buf, mutating it in place for any
// required trans_id rewrite, and returns the events produced. On
// ErrBypass or ErrMalformed the parser's phase is left wherever it
// stopped; the caller is expected to discard the instance (filter goes
// bypassed) rather than keep feeding it.
func (p *Parser) Feed(buf []byte) ([]Event, error) {
	var events []Event
	off := 0
	for off < len(buf) {
		if p.st == stateNone || p.st == stateWaitResponse {
			need := pdu.HeaderSize - p.headerLen
			avail := len(buf) - off
			if avail < need {
				if !p.splitSupported() {
					return events, ErrBypass
				}
				copy(p.headerRaw[p.headerLen:], buf[off:])
				p.rewriteChunk(buf[off:], p.headerLen)
				p.headerLen += avail
				off += avail
				continue
			}

			// Capture the client's original trans_id before rewriteChunk
			// overwrites those same wire bytes in place — rx is the only
			// role that stamps a fresh id onto the wire, so it's the only
			// one that would otherwise lose the value it's meant to
			// restore later via tx.
			var origTransID uint32
			if p.role == RoleRX {
				origTransID = binary.LittleEndian.Uint32(buf[off+8 : off+need])
			}

			copy(p.headerRaw[p.headerLen:pdu.HeaderSize], buf[off:off+need])
			p.rewriteChunk(buf[off:off+need], p.headerLen)
			off += need
			p.headerLen = pdu.HeaderSize

			hdr, err := pdu.UnmarshalHeader(p.headerRaw[:])
			if err != nil || hdr.Length < pdu.HeaderSize {
				return events, ErrMalformed
			}
			p.headerLen = 0
			p.header = hdr
			p.bodyRemaining = hdr.Length - pdu.HeaderSize

			ev := Event{Phase: PhaseHeader, Header: hdr}

			switch hdr.Type {
			case pdu.TypeCommand:
				p.st = stateCommandBody
				if p.role == RoleRX {
					switch hdr.Code {
					case pdu.OpOpenSession:
						ev.SessionOpen = true
						p.ts.ResetSession()
					case pdu.OpCloseSession:
						ev.SessionClose = true
					}
				}
			case pdu.TypeData:
				p.st = stateDataBody
			case pdu.TypeResponse:
				p.st = stateResponseBody
			default:
				p.st = stateUnknownBody
			}

			if p.role == RoleRX {
				p.ts.RXTransID = origTransID
				p.ts.RXTransIDValid = true
			}

			events = append(events, ev)

			if p.bodyRemaining == 0 {
				if p.st == stateResponseBody {
					p.st = stateNone
					events = append(events, Event{Phase: PhaseDone, Header: hdr})
				} else {
					p.st = stateWaitResponse
				}
			}
			continue
		}

		// Body-consumption phase: drain up to bodyRemaining bytes.
		avail := uint32(len(buf) - off)
		n := p.bodyRemaining
		if avail < n {
			n = avail
		}
		off += int(n)
		p.bodyRemaining -= n

		if p.bodyRemaining == 0 {
			hdr := p.header
			if p.st == stateResponseBody {
				p.st = stateNone
				events = append(events, Event{Phase: PhaseDone, Header: hdr})
			} else {
				p.st = stateWaitResponse
			}
		}
	}
	return events, nil
}

// Idle reports whether the parser is between PDUs (no partial header or
// body outstanding) — used by tests to confirm a clean transaction
// boundary.
func (p *Parser) Idle() bool {
	return (p.st == stateNone || p.st == stateWaitResponse) && p.headerLen == 0
}
