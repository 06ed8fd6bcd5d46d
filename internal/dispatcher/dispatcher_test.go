package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ptpfilter/ptpfilter/internal/config"
	"github.com/ptpfilter/ptpfilter/internal/pdu"
	"github.com/ptpfilter/ptpfilter/internal/simulator"
)

func TestProbeRejectsUnknownVendor(t *testing.T) {
	cam := simulator.New(pdu.CanonGetViewFinderData, []byte("frame"))
	_, ok := Probe(context.Background(), 0xffff, 0xffff, simulator.BulkOut, simulator.BulkIn, cam, config.DefaultConfig(), nil, nil)
	require.False(t, ok)
}

func TestProbeDeviceInfoFallbackAcceptsUnlistedCanonVendor(t *testing.T) {
	cam := simulator.New(pdu.CanonGetViewFinderData, []byte("jpeg-frame-bytes"))
	cam.SetDeviceInfo(100, uint32(VendorExtensionCanon), 100)

	cfg := config.DefaultConfig()
	cfg.ParseDeviceInfoFallback = true

	f, ok := Probe(context.Background(), 0xffff, 0xffff, simulator.BulkOut, simulator.BulkIn, cam, cfg, nil, nil)
	require.True(t, ok, "unlisted vendor/product should be accepted via the device-info fallback")
	defer f.Remove()
	require.Equal(t, "idle", f.State())
}

func TestProbeDeviceInfoFallbackRejectsUnknownVendorExtension(t *testing.T) {
	cam := simulator.New(pdu.CanonGetViewFinderData, []byte("jpeg-frame-bytes"))
	// deviceInfo defaults to all-zero bytes -> VendorExtensionNone, which
	// has no registered preview opcode.
	cfg := config.DefaultConfig()
	cfg.ParseDeviceInfoFallback = true

	_, ok := Probe(context.Background(), 0xffff, 0xffff, simulator.BulkOut, simulator.BulkIn, cam, cfg, nil, nil)
	require.False(t, ok)
}

func TestOnTxRestoresClientTransIDAndAdvances(t *testing.T) {
	cam := simulator.New(pdu.CanonGetViewFinderData, []byte("jpeg-frame-bytes"))
	cfg := config.DefaultConfig()

	f, ok := Probe(context.Background(), 0x04a9, 0x323b, simulator.BulkOut, simulator.BulkIn, cam, cfg, nil, nil)
	require.True(t, ok)
	defer f.Remove()

	const clientTransID = 42
	cmd := pdu.Header{Length: pdu.HeaderSize, Type: pdu.TypeCommand, Code: pdu.OpGetDeviceInfo, TransID: clientTransID}.Marshal()

	forward, err := f.OnClientOut(cmd)
	require.NoError(t, err)
	require.True(t, forward, "a non-preview command must be forwarded to the device")

	rewritten, err := pdu.UnmarshalHeader(cmd)
	require.NoError(t, err)
	require.EqualValues(t, 1, rewritten.TransID, "rx must stamp the outgoing command with the current trans_id")

	require.Equal(t, "command", f.State())

	require.NoError(t, cam.SubmitOut(context.Background(), simulator.BulkOut, cmd))

	wire := make([]byte, 4096)
	n, err := cam.SubmitIn(context.Background(), simulator.BulkIn, wire)
	require.NoError(t, err)
	wire = wire[:n]

	require.NoError(t, f.OnTx(context.Background(), wire))

	dataHdr, err := pdu.UnmarshalHeader(wire)
	require.NoError(t, err)
	require.EqualValues(t, clientTransID, dataHdr.TransID, "tx must restore the client's original trans_id on the data PDU")

	respHdr, err := pdu.UnmarshalHeader(wire[dataHdr.Length:])
	require.NoError(t, err)
	require.EqualValues(t, clientTransID, respHdr.TransID, "tx must restore the client's original trans_id on the response PDU")

	require.Equal(t, "idle", f.State())

	f.core.Lock()
	transIDs := f.core.TransIDs()
	f.core.Unlock()
	require.EqualValues(t, 2, transIDs.CurrentTransID, "ClientCommandCompleted must advance the counter")
}

func TestOnTxResubmitsDeferredCommand(t *testing.T) {
	cam := simulator.New(pdu.CanonGetViewFinderData, []byte("jpeg-frame-bytes"))
	cfg := config.DefaultConfig()

	f, ok := Probe(context.Background(), 0x04a9, 0x323b, simulator.BulkOut, simulator.BulkIn, cam, cfg, nil, nil)
	require.True(t, ok)
	defer f.Remove()

	first := pdu.Header{Length: pdu.HeaderSize, Type: pdu.TypeCommand, Code: pdu.OpGetDeviceInfo, TransID: 1}.Marshal()
	forward, err := f.OnClientOut(first)
	require.NoError(t, err)
	require.True(t, forward)
	require.NoError(t, cam.SubmitOut(context.Background(), simulator.BulkOut, first))

	second := pdu.Header{Length: pdu.HeaderSize, Type: pdu.TypeCommand, Code: pdu.OpGetDeviceInfo, TransID: 2}.Marshal()
	forward, err = f.OnClientOut(second)
	require.NoError(t, err)
	require.False(t, forward, "a command arriving mid-transaction must be deferred, not forwarded")
	require.Equal(t, "command", f.State())

	wire := make([]byte, 4096)
	n, err := cam.SubmitIn(context.Background(), simulator.BulkIn, wire)
	require.NoError(t, err)
	require.NoError(t, f.OnTx(context.Background(), wire[:n]))

	require.Equal(t, "command", f.State(), "resubmitting the deferred command must re-enter command state")

	n, err = cam.SubmitIn(context.Background(), simulator.BulkIn, wire)
	require.NoError(t, err)
	require.Greater(t, n, 0, "the deferred command must actually have reached the device")
	require.NoError(t, f.OnTx(context.Background(), wire[:n]))
	require.Equal(t, "idle", f.State())
}

func TestProbeAndPreviewRoundTrip(t *testing.T) {
	cam := simulator.New(pdu.CanonGetViewFinderData, []byte("jpeg-frame-bytes"))
	cfg := config.DefaultConfig()
	cfg.FPS = 200

	f, ok := Probe(context.Background(), 0x04a9, 0x323b, simulator.BulkOut, simulator.BulkIn, cam, cfg, nil, nil)
	require.True(t, ok)
	defer f.Remove()

	require.Equal(t, "idle", f.State())

	preview := pdu.Header{Length: pdu.HeaderSize, Type: pdu.TypeCommand, Code: pdu.CanonGetViewFinderData, TransID: 1}.Marshal()
	forward, err := f.OnClientOut(preview)
	require.NoError(t, err)
	require.False(t, forward, "preview command must be completed locally, not forwarded")

	require.Eventually(t, func() bool {
		f.core.Lock()
		has := f.core.ServeFromBuffer()
		f.core.Unlock()
		return has
	}, time.Second, 2*time.Millisecond)

	dst := make([]byte, 4096)
	n, done, queued := f.OnClientIn(dst)
	require.False(t, queued)
	require.Greater(t, n, 0)
	_ = done
}
