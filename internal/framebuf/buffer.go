// Package framebuf implements the bounded ring-buffer frame cache (C3): a
// single-producer/single-consumer region storing zero or more complete
// preview data-phase payloads, with frame-boundary alignment and
// drop-on-backpressure. Both endpoints run under the caller's lock; the
// buffer itself does no locking of its own.
package framebuf

import (
	"errors"

	"github.com/ptpfilter/ptpfilter/internal/pdu"
)

// AlignShift is the frame-boundary alignment, in bits: 1<<AlignShift = 64
// bytes. The source assumes cache-line alignment without comment; this
// constant is kept unchanged.
const AlignShift = 6

// Align rounds n up to the next multiple of 64.
func Align(n int) int {
	const mask = 1<<AlignShift - 1
	return (n + mask) &^ mask
}

// MaxCapacity is the default/maximum frame buffer size (1 MiB).
const MaxCapacity = 1 << 20

// ErrNoRoom is returned by Reserve when no contiguous window of at least
// minBytes (rounded to quantum) is currently available.
var ErrNoRoom = errors.New("framebuf: no room for reservation")

// Buffer is the ring. Capacity may shrink below max when head wraps
// early to avoid writing past the end of the backing array.
type Buffer struct {
	data     []byte
	capacity int // currently effective size; <= len(data)
	maxCap   int

	head int // next write offset
	tail int // next read offset

	// rxTail marks the start of a frame currently being received, or -1
	// if no producer is mid-frame.
	rxTail int
	// rxTail2 is the start of the most recently completed frame, a
	// candidate for drop-on-full.
	rxTail2 int

	frameCount int

	// In-flight receive bookkeeping.
	rxLengthRemaining uint32
	rxIsResponse      bool

	// In-flight serve bookkeeping.
	servingLengthRemaining uint32
	servingIsResponse      bool
	servingActive          bool
}

// New creates a frame buffer with the given maximum capacity (use
// MaxCapacity for the default 1 MiB).
func New(maxCapacity int) *Buffer {
	if maxCapacity <= 0 {
		maxCapacity = MaxCapacity
	}
	return &Buffer{
		data:     make([]byte, maxCapacity),
		capacity: maxCapacity,
		maxCap:   maxCapacity,
		rxTail:   -1,
		rxTail2:  -1,
	}
}

// Used returns the number of bytes currently occupied.
func (b *Buffer) Used() int {
	if b.head >= b.tail {
		return b.head - b.tail
	}
	return b.capacity - b.tail + b.head
}

// Free returns the number of bytes free in the current effective
// capacity (one cell reserved to distinguish full/empty).
func (b *Buffer) Free() int {
	return b.capacity - b.Used() - 1
}

// FrameCount reports the number of complete frames currently stored.
func (b *Buffer) FrameCount() int { return b.frameCount }

// ReceivingActive reports whether a producer is mid-frame (rxTail is not
// the sentinel).
func (b *Buffer) ReceivingActive() bool { return b.rxTail >= 0 }

// Reserve returns a contiguous write window of at least minBytes,
// rounded down to a multiple of quantum (the endpoint's wMaxPacketSize),
// at head. It may grow capacity back to maxCap, wrap head to 0, or
// report ErrNoRoom.
func (b *Buffer) Reserve(minBytes, quantum int) (offset, maxBytes int, err error) {
	if quantum <= 0 {
		quantum = 1
	}
	contiguousAtHead := b.contiguousFromHead()

	if contiguousAtHead >= minBytes {
		n := (contiguousAtHead / quantum) * quantum
		if n < minBytes {
			n = minBytes
		}
		return b.head, n, nil
	}

	// Not enough room at head in the current effective capacity. Try
	// growing back to the full backing array if head has room and no
	// wrap is currently in effect (head >= tail, i.e. we're not already
	// wrapped around).
	if b.capacity < b.maxCap && b.head >= b.tail {
		b.capacity = b.maxCap
		contiguousAtHead = b.contiguousFromHead()
		if contiguousAtHead >= minBytes {
			n := (contiguousAtHead / quantum) * quantum
			if n < minBytes {
				n = minBytes
			}
			return b.head, n, nil
		}
	}

	// Wrap: shrink capacity to head, restart writing at 0, provided the
	// region from 0 to tail has room. Always legal when the buffer is
	// currently empty, since there is nothing at tail to preserve.
	emptyAndAdvanced := b.Used() == 0 && b.head > 0
	if b.head > b.tail || emptyAndAdvanced {
		if emptyAndAdvanced {
			b.tail = 0
		}
		b.capacity = b.head
		b.head = 0
		contiguousAtHead = b.contiguousFromHead()
		if contiguousAtHead >= minBytes {
			n := (contiguousAtHead / quantum) * quantum
			if n < minBytes {
				n = minBytes
			}
			return 0, n, nil
		}
	}

	return 0, 0, ErrNoRoom
}

// contiguousFromHead returns the number of bytes available to write
// starting at head before hitting either tail (if wrapped) or the end of
// the effective capacity.
func (b *Buffer) contiguousFromHead() int {
	if b.head >= b.tail {
		// Writing from head up to end of capacity; if tail is 0 we must
		// leave one cell free to disambiguate full/empty.
		space := b.capacity - b.head
		if b.tail == 0 && space > 0 {
			space--
		}
		return space
	}
	return b.tail - b.head - 1
}

// CommitWrite advances head by exactly n bytes. alignPDU requests
// rounding head up to the 64-byte boundary, which the producer does at
// PDU completion.
func (b *Buffer) CommitWrite(n int, alignPDU bool) {
	b.head += n
	if alignPDU {
		b.head = Align(b.head)
	}
	if b.head >= b.capacity {
		b.head -= b.capacity
	}
}

// BeginFrame marks the start of a new inbound frame at the current head,
// recording it as the active receive position.
func (b *Buffer) BeginFrame() {
	b.rxTail = b.head
}

// CompleteFrame marks the just-received frame as done: rxTail shifts to
// rxTail2 (the most recent complete frame) and a new complete frame is
// counted.
func (b *Buffer) CompleteFrame() {
	b.rxTail2 = b.rxTail
	b.rxTail = -1
	b.frameCount++
}

// DropHead discards the in-progress frame: head rolls back to its start
// (rxTail) and any partially-accepted bytes for the frame are abandoned,
// though the device channel continues to be drained by the caller to
// preserve transaction serialization.
func (b *Buffer) DropHead() {
	if b.rxTail >= 0 {
		b.head = b.rxTail
		b.rxTail = -1
	}
}

// DropTailTo moves head back to rxTail2, discarding the most recently
// completed frame, when more than one frame is buffered. Tail is left
// unchanged.
func (b *Buffer) DropTailTo() bool {
	if b.frameCount <= 1 || b.rxTail2 < 0 {
		return false
	}
	b.head = b.rxTail2
	b.rxTail2 = -1
	b.frameCount--
	return true
}

// Read copies up to len(dst) bytes starting at tail into dst, clamped by
// used bytes and by remaining, the bytes left in the PDU being served.
// It advances tail and aligns at
// end-of-PDU. Returns bytes copied and whether a PDU boundary (and, if
// the PDU was a response, a frame) was crossed.
func (b *Buffer) Read(dst []byte, remaining uint32) (n int, pduBoundary bool) {
	used := b.Used()
	if used == 0 || remaining == 0 {
		return 0, false
	}
	want := len(dst)
	if uint32(want) > remaining {
		want = int(remaining)
	}
	if want > used {
		want = used
	}

	end := b.tail + want
	if end <= b.capacity {
		copy(dst[:want], b.data[b.tail:end])
	} else {
		first := b.capacity - b.tail
		copy(dst[:first], b.data[b.tail:b.capacity])
		copy(dst[first:want], b.data[0:want-first])
	}

	b.tail += want
	if b.tail >= b.capacity {
		b.tail -= b.capacity
	}

	if uint32(want) == remaining {
		pduBoundary = true
		b.tail = Align(b.tail)
		if b.tail >= b.capacity {
			b.tail -= b.capacity
		}
	}
	return want, pduBoundary
}

// WriteAt copies src into the buffer's backing array starting at
// offset, wrapping as needed. offset/len(src) must have been obtained
// from a prior Reserve call whose maxBytes covers len(src).
func (b *Buffer) WriteAt(offset int, src []byte) {
	end := offset + len(src)
	if end <= len(b.data) {
		copy(b.data[offset:end], src)
		return
	}
	first := len(b.data) - offset
	copy(b.data[offset:], src[:first])
	copy(b.data[0:end-len(b.data)], src[first:])
}

// RXState exposes the in-flight receive bookkeeping the caller threads
// across partial data PDUs.
func (b *Buffer) RXState() (lengthRemaining uint32, isResponse bool) {
	return b.rxLengthRemaining, b.rxIsResponse
}

// SetRXState updates the in-flight receive bookkeeping.
func (b *Buffer) SetRXState(lengthRemaining uint32, isResponse bool) {
	b.rxLengthRemaining = lengthRemaining
	b.rxIsResponse = isResponse
}

// ServingState exposes the in-flight serve bookkeeping.
func (b *Buffer) ServingState() (lengthRemaining uint32, isResponse bool, active bool) {
	return b.servingLengthRemaining, b.servingIsResponse, b.servingActive
}

// SetServingState updates the in-flight serve bookkeeping.
func (b *Buffer) SetServingState(lengthRemaining uint32, isResponse bool, active bool) {
	b.servingLengthRemaining = lengthRemaining
	b.servingIsResponse = isResponse
	b.servingActive = active
}

// DecrementFrameCount is called by the consumer when a served frame's
// response PDU has been fully delivered.
func (b *Buffer) DecrementFrameCount() {
	if b.frameCount > 0 {
		b.frameCount--
	}
}

// PeekHeader reads the PDU header currently at tail without advancing
// it, used by the consumer to (re)establish serving state at the start
// of each PDU it serves.
func (b *Buffer) PeekHeader() (pdu.Header, bool) {
	if b.Used() < pdu.HeaderSize {
		return pdu.Header{}, false
	}
	var raw [pdu.HeaderSize]byte
	for i := 0; i < pdu.HeaderSize; i++ {
		raw[i] = b.data[(b.tail+i)%b.capacity]
	}
	hdr, err := pdu.UnmarshalHeader(raw[:])
	if err != nil {
		return pdu.Header{}, false
	}
	return hdr, true
}

// Capacity returns the current effective capacity.
func (b *Buffer) Capacity() int { return b.capacity }

// Head and Tail expose raw indices. Tests use both for invariant checks;
// core.ProduceFrame uses Head to place the response PDU it writes.
func (b *Buffer) Head() int { return b.head }
func (b *Buffer) Tail() int { return b.tail }
