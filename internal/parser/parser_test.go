package parser

import (
	"testing"

	"github.com/ptpfilter/ptpfilter/internal/pdu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderSplitAcrossTwoTransfers(t *testing.T) {
	ts := &TransactionIDs{CurrentTransID: 0x20}
	// tx restores rx_trans_id; seed it so the rewrite target is known,
	// matching the boundary scenario's expected output bytes.
	ts.RXTransID = 0x20
	ts.RXTransIDValid = true

	p := New(RoleTX, ts)

	first := []byte{
		64, 0, 0, 0, // length = 64
		2, 0, // type = data
		0x53, 0x91, // code = 0x9153
		0x10, // tid byte 0 (will be overwritten)
	}
	second := append([]byte{0, 0, 0}, make([]byte, 52)...) // tid bytes 1..3 + payload

	events1, err := p.Feed(first)
	require.NoError(t, err)
	assert.Empty(t, events1, "header not yet complete")
	assert.Equal(t, byte(0x20), first[8], "byte 8 overwritten with low byte of rewrite target")

	events2, err := p.Feed(second)
	require.NoError(t, err)
	assert.Equal(t, byte(0), second[0])
	assert.Equal(t, byte(0), second[1])
	assert.Equal(t, byte(0), second[2])

	require.Len(t, events2, 1)
	ev := events2[0]
	assert.Equal(t, PhaseHeader, ev.Phase)
	assert.Equal(t, pdu.TypeData, ev.Header.Type)
	assert.Equal(t, pdu.Code(0x9153), ev.Header.Code)
	assert.Equal(t, uint32(64), ev.Header.Length)
	assert.Equal(t, uint32(0x10), ev.Header.TransID, "decoded trans_id reflects original wire bytes")
}

func TestRXCapturesOriginalAndOverwrites(t *testing.T) {
	ts := &TransactionIDs{CurrentTransID: 0x45}
	p := New(RoleRX, ts)

	hdr := pdu.Header{Length: 12, Type: pdu.TypeCommand, Code: 0x1009, TransID: 0x30}
	buf := hdr.Marshal()

	events, err := p.Feed(buf)
	require.NoError(t, err)
	require.Len(t, events, 1) // header only; command body isn't a response, no "done" signal

	assert.True(t, ts.RXTransIDValid)
	assert.Equal(t, uint32(0x30), ts.RXTransID)

	got, err := pdu.UnmarshalHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x45), got.TransID, "wire bytes rewritten to current_trans_id")
}

func TestRXSplitHeaderBypasses(t *testing.T) {
	ts := &TransactionIDs{CurrentTransID: 1}
	p := New(RoleRX, ts)
	_, err := p.Feed([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrBypass)
}

func TestSessionOpenResetsCounter(t *testing.T) {
	ts := &TransactionIDs{CurrentTransID: 99}
	p := New(RoleRX, ts)

	hdr := pdu.Header{Length: 12, Type: pdu.TypeCommand, Code: pdu.OpOpenSession, TransID: 7}
	buf := hdr.Marshal()

	events, err := p.Feed(buf)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.True(t, events[0].SessionOpen)
	assert.Equal(t, uint32(1), ts.CurrentTransID)
}

func TestResponseCompletionSignalsDone(t *testing.T) {
	ts := &TransactionIDs{CurrentTransID: 1}
	p := New(RoleTX, ts)

	hdr := pdu.Header{Length: 12, Type: pdu.TypeResponse, Code: pdu.ResponseOK, TransID: 1}
	buf := hdr.Marshal()

	events, err := p.Feed(buf)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, PhaseHeader, events[0].Phase)
	assert.Equal(t, PhaseDone, events[1].Phase)
	assert.True(t, p.Idle())
}

func TestMalformedLengthBypasses(t *testing.T) {
	ts := &TransactionIDs{CurrentTransID: 1}
	p := New(RoleSelf, ts)
	hdr := pdu.Header{Length: 4, Type: pdu.TypeCommand}
	_, err := p.Feed(hdr.Marshal())
	assert.ErrorIs(t, err, ErrMalformed)
}
