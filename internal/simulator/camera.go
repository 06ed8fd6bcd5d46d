// Package simulator provides an in-memory interfaces.Transport standing
// in for a real PTP camera, for use by tests and the demo CLI in place of
// an actual USB/IP stub and host controller.
package simulator

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/ptpfilter/ptpfilter/internal/pdu"
)

// BulkOut and BulkIn are the simulated bulk endpoint numbers used by
// Camera; callers don't need any others since the simulator speaks only
// PTP-over-USB bulk.
const (
	BulkOut = 1
	BulkIn  = 2
)

// MaxPacketSize is the simulated wMaxPacketSize reported for both
// endpoints.
const MaxPacketSize = 512

// Camera is a minimal, single-session PTP responder: it understands
// OpenSession, CloseSession, GetDeviceInfo (returns a data PDU carrying a
// 32-byte DeviceInfo dataset, all zeros unless SetDeviceInfo was called,
// followed by an OK response) and a configurable preview opcode (returns PreviewPayload framed
// as a data PDU followed by an OK response).
type Camera struct {
	mu sync.Mutex

	previewOpcode  pdu.Code
	previewPayload []byte
	deviceInfo     []byte

	pending []byte // bytes queued for the next SubmitIn call(s)

	// FailPreview, if true, makes the next preview response return a
	// non-OK PTP response code instead of completing normally. Reset to
	// false after being consumed once.
	FailPreview bool
}

// New creates a camera simulator that answers previewOpcode with a data
// PDU carrying payload (a placeholder JPEG/whatever bytes the caller
// wants exercised through the frame buffer).
func New(previewOpcode pdu.Code, payload []byte) *Camera {
	return &Camera{
		previewOpcode:  previewOpcode,
		previewPayload: payload,
		deviceInfo:     make([]byte, 32),
	}
}

// SubmitOut implements interfaces.Transport.
func (c *Camera) SubmitOut(ctx context.Context, ep int, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	hdr, err := pdu.UnmarshalHeader(payload)
	if err != nil {
		return err
	}
	if hdr.Type != pdu.TypeCommand {
		return nil
	}

	switch hdr.Code {
	case pdu.OpOpenSession, pdu.OpCloseSession:
		c.pending = append(c.pending, responsePDU(hdr.TransID, pdu.ResponseOK)...)
	case pdu.OpGetDeviceInfo:
		c.pending = append(c.pending, dataPDU(hdr.TransID, pdu.OpGetDeviceInfo, c.deviceInfo)...)
		c.pending = append(c.pending, responsePDU(hdr.TransID, pdu.ResponseOK)...)
	case c.previewOpcode:
		code := pdu.ResponseOK
		if c.FailPreview {
			code = 0x2002 // generic error response, any non-OK code
			c.FailPreview = false
		}
		c.pending = append(c.pending, dataPDU(hdr.TransID, c.previewOpcode, c.previewPayload)...)
		c.pending = append(c.pending, responsePDU(hdr.TransID, code)...)
	default:
		c.pending = append(c.pending, responsePDU(hdr.TransID, pdu.ResponseOK)...)
	}
	return nil
}

// SubmitIn implements interfaces.Transport: it drains queued response
// bytes into buf, up to MaxPacketSize per call, simulating a device that
// never returns more than one bulk transfer's worth of data at a time.
func (c *Camera) SubmitIn(ctx context.Context, ep int, buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	want := len(buf)
	if want > MaxPacketSize {
		want = MaxPacketSize
	}
	if want > len(c.pending) {
		want = len(c.pending)
	}
	n := copy(buf, c.pending[:want])
	c.pending = c.pending[n:]
	return n, nil
}

// EndpointMaxPacketSize implements interfaces.Transport.
func (c *Camera) EndpointMaxPacketSize(ep int) int { return MaxPacketSize }

// SetDeviceInfo overrides the bytes returned for GetDeviceInfo, letting
// tests exercise the vendor-extension fallback probe against an
// unlisted vendor/product pair.
func (c *Camera) SetDeviceInfo(standardVersion uint16, vendorExtensionID uint32, vendorExtensionVersion uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := make([]byte, 32)
	binary.LittleEndian.PutUint16(info[0:], standardVersion)
	binary.LittleEndian.PutUint32(info[2:], vendorExtensionID)
	binary.LittleEndian.PutUint16(info[6:], vendorExtensionVersion)
	c.deviceInfo = info
}

func dataPDU(transID uint32, code pdu.Code, payload []byte) []byte {
	length := pdu.HeaderSize + len(payload)
	buf := make([]byte, length)
	pdu.Header{Length: uint32(length), Type: pdu.TypeData, Code: code, TransID: transID}.MarshalInto(buf)
	copy(buf[pdu.HeaderSize:], payload)
	return buf
}

func responsePDU(transID uint32, code pdu.Code) []byte {
	buf := make([]byte, pdu.HeaderSize)
	pdu.Header{Length: pdu.HeaderSize, Type: pdu.TypeResponse, Code: code, TransID: transID}.MarshalInto(buf)
	return buf
}
