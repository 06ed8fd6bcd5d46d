// Package pdu defines the wire layout of a PTP-over-USB bulk container:
// a 12-byte packed little-endian header followed by a payload of
// length-12 bytes. The struct layout mirrors the kernel-exact framing used
// by the original filter, down to the compile-time size assertion.
package pdu

import (
	"encoding/binary"
	"unsafe"
)

// Type is the PTP container type carried in the header. Only Command,
// Data and Response are interpreted by the filter; Event and anything
// else fall into Unknown handling.
type Type uint16

const (
	TypeUndefined Type = 0
	TypeCommand   Type = 1
	TypeData      Type = 2
	TypeResponse  Type = 3
	TypeEvent     Type = 4
)

func (t Type) String() string {
	switch t {
	case TypeCommand:
		return "command"
	case TypeData:
		return "data"
	case TypeResponse:
		return "response"
	case TypeEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Header is the 12-byte PTP bulk container header.
type Header struct {
	Length  uint32
	Type    Type
	Code    uint16
	TransID uint32
}

// HeaderSize is the packed wire size of Header in bytes.
const HeaderSize = 12

// compile-time size assertion, same idiom as the kernel-exact uapi structs
// this package is grounded on.
var _ [HeaderSize]byte = [unsafe.Sizeof(struct {
	a uint32
	b uint16
	c uint16
	d uint32
}{})]byte{}

// Marshal packs h into a freshly allocated 12-byte little-endian buffer.
func (h Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	h.MarshalInto(buf)
	return buf
}

// MarshalInto packs h into buf, which must be at least HeaderSize bytes.
func (h Header) MarshalInto(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Length)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(h.Type))
	binary.LittleEndian.PutUint16(buf[6:8], h.Code)
	binary.LittleEndian.PutUint32(buf[8:12], h.TransID)
}

// UnmarshalHeader reads a 12-byte packed header from buf.
func UnmarshalHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrInsufficientData
	}
	return Header{
		Length:  binary.LittleEndian.Uint32(buf[0:4]),
		Type:    Type(binary.LittleEndian.Uint16(buf[4:6])),
		Code:    binary.LittleEndian.Uint16(buf[6:8]),
		TransID: binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

// MarshalError reports a failure to (un)marshal a wire structure.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const (
	ErrInsufficientData MarshalError = "pdu: insufficient data for header"
	ErrMalformedHeader  MarshalError = "pdu: malformed header"
)
