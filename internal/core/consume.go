package core

import "github.com/ptpfilter/ptpfilter/internal/pdu"

// ServeResult is the outcome of one ServeInto call.
type ServeResult struct {
	N int
	// FrameDone is set once the PDU just finished being copied was the
	// frame's response PDU, i.e. the whole buffered frame has now been
	// delivered to the client and frame_count has been decremented.
	FrameDone bool
}

// ServeInto copies buffered preview-frame bytes into dst, tracking
// serving_length_remaining across calls so a client IN URB smaller than
// one PDU still gets fed the rest on the next call (§4.3/§4.5 point 3).
// Caller must hold Lock and must already know ServeFromBuffer() was true
// before the first call for this frame.
func (fc *FilterCore) ServeInto(dst []byte) ServeResult {
	remaining, isResponse, active := fc.buf.ServingState()
	if !active {
		hdr, ok := fc.buf.PeekHeader()
		if !ok {
			return ServeResult{}
		}
		remaining = hdr.Length
		isResponse = hdr.Type == pdu.TypeResponse
		active = true
	}

	n, pduBoundary := fc.buf.Read(dst, remaining)
	remaining -= uint32(n)

	if !pduBoundary {
		fc.buf.SetServingState(remaining, isResponse, true)
		return ServeResult{N: n}
	}

	// PDU boundary crossed. If this was the data PDU, the response PDU
	// immediately follows in the same frame; re-arm serving state lazily
	// on the next ServeInto call via PeekHeader rather than looking ahead
	// here, since the caller may not have room left in dst this round.
	fc.buf.SetServingState(0, false, false)
	if isResponse {
		fc.FrameServed()
		return ServeResult{N: n, FrameDone: true}
	}
	return ServeResult{N: n}
}
