package core

import (
	"github.com/ptpfilter/ptpfilter/internal/pdu"
	"github.com/ptpfilter/ptpfilter/internal/statemachine"
)

// ProduceFrame handles the producer side of an injected preview
// transaction's completion (C4's ptp_data_complete / ptp_cmd_complete
// path, §4.4): wire is the device's data-PDU bytes immediately followed
// by its response-PDU bytes, as captured by one injected command/data/
// response round trip. The self parser is fed the raw bytes for
// bookkeeping (transaction-done detection), matching its role in the
// per-role table even though the ring write itself is framed at
// transaction granularity here rather than re-derived one raw transfer
// chunk at a time (that incremental-resume behavior is the job
// internal/parser already owns and tests directly).
//
// The stored data-PDU header's trans_id is rewritten to the client's
// rx_trans_id before being written to the ring, since these bytes are
// later served verbatim as the response to the client's own preview
// command.
func (fc *FilterCore) ProduceFrame(wire []byte, quantum int) (accepted bool, responseOK bool, err error) {
	if _, err := fc.self.Feed(wire); err != nil {
		fc.bypass(err.Error())
		return false, false, err
	}

	dataHdr, err := pdu.UnmarshalHeader(wire)
	if err != nil || dataHdr.Type != pdu.TypeData || int(dataHdr.Length) > len(wire) {
		fc.bypass("malformed injected data pdu")
		return false, false, err
	}
	respOff := int(dataHdr.Length)
	if respOff+pdu.HeaderSize > len(wire) {
		fc.bypass("truncated injected response pdu")
		return false, false, nil
	}
	respHdr, err := pdu.UnmarshalHeader(wire[respOff:])
	if err != nil || respHdr.Type != pdu.TypeResponse {
		fc.bypass("malformed injected response pdu")
		return false, false, err
	}

	if fc.ts.RXTransIDValid {
		dataHdr.TransID = fc.ts.RXTransID
		respHdr.TransID = fc.ts.RXTransID
	}

	dataLen := framebufAlign(int(dataHdr.Length))
	respLen := framebufAlign(int(respHdr.Length))
	total := dataLen + respLen

	offset, got, rerr := fc.buf.Reserve(total, quantum)
	if rerr != nil || got < total {
		if fc.buf.ReceivingActive() {
			// A consumer is mid-frame; the producer must wait rather
			// than drop. In this synchronous model that simply means
			// refusing the frame for now — the caller will retry on the
			// next tick once the consumer has made room.
			return false, false, nil
		}
		fc.transition(statemachine.Sleep)
		return false, false, nil
	}

	fc.buf.BeginFrame()
	dataBytes := make([]byte, pdu.HeaderSize+len(wire[pdu.HeaderSize:respOff]))
	dataHdr.MarshalInto(dataBytes)
	copy(dataBytes[pdu.HeaderSize:], wire[pdu.HeaderSize:respOff])
	fc.buf.WriteAt(offset, dataBytes)
	fc.buf.CommitWrite(len(dataBytes), true)

	respBytes := make([]byte, pdu.HeaderSize+len(wire[respOff+pdu.HeaderSize:]))
	respHdr.MarshalInto(respBytes)
	copy(respBytes[pdu.HeaderSize:], wire[respOff+pdu.HeaderSize:])
	fc.buf.WriteAt(fc.buf.Head(), respBytes)
	fc.buf.CommitWrite(len(respBytes), true)

	fc.buf.CompleteFrame()
	if fc.observer != nil {
		fc.observer.ObserveFrameProduced(0, uint64(len(dataBytes)+len(respBytes)), respHdr.Code == pdu.ResponseOK)
	}

	return true, respHdr.Code == pdu.ResponseOK, nil
}

// framebufAlign rounds n up to the ring's 64-byte frame-boundary
// alignment. Declared here (rather than imported) to avoid a needless
// cross-package call for a one-line helper; the constant matches
// framebuf.AlignShift.
func framebufAlign(n int) int {
	const mask = 1<<6 - 1
	return (n + mask) &^ mask
}
