package framebuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveCommitReadRoundTrip(t *testing.T) {
	b := New(4096)

	off, n, err := b.Reserve(64, 8)
	require.NoError(t, err)
	assert.Equal(t, 0, off)
	assert.GreaterOrEqual(t, n, 64)

	b.BeginFrame()
	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i)
	}
	b.WriteAt(off, payload)
	b.CommitWrite(64, true)
	b.CompleteFrame()

	assert.Equal(t, 1, b.FrameCount())
	assert.Equal(t, 0, b.Tail())

	dst := make([]byte, 64)
	got, boundary := b.Read(dst, 64)
	assert.Equal(t, 64, got)
	assert.True(t, boundary)
	assert.Equal(t, payload, dst)

	b.DecrementFrameCount()
	assert.Equal(t, 0, b.FrameCount())
}

func TestAlignRoundsUpTo64(t *testing.T) {
	assert.Equal(t, 0, Align(0))
	assert.Equal(t, 64, Align(1))
	assert.Equal(t, 64, Align(64))
	assert.Equal(t, 128, Align(65))
}

func TestDropTailToRequiresMoreThanOneFrame(t *testing.T) {
	b := New(4096)
	assert.False(t, b.DropTailTo())

	b.BeginFrame()
	b.CommitWrite(64, true)
	b.CompleteFrame()
	assert.False(t, b.DropTailTo(), "only one frame buffered")

	b.BeginFrame()
	b.CommitWrite(64, true)
	b.CompleteFrame()
	assert.True(t, b.DropTailTo())
	assert.Equal(t, 1, b.FrameCount())
}

func TestWrapWhenInsufficientContiguousSpace(t *testing.T) {
	b := New(256)
	// Fill most of the buffer near the end, then advance tail so a wrap
	// is required for the next reservation.
	off, n, err := b.Reserve(200, 1)
	require.NoError(t, err)
	b.CommitWrite(n, false)
	_ = off

	// Consume it all so tail catches up with head.
	dst := make([]byte, n)
	b.Read(dst, uint32(n))

	// Now head sits near the end; request more than remains before wrap.
	_, n2, err := b.Reserve(100, 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n2, 100)
}
