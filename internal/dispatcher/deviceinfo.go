package dispatcher

import (
	"context"
	"fmt"

	"github.com/ptpfilter/ptpfilter/internal/interfaces"
	"github.com/ptpfilter/ptpfilter/internal/parser"
	"github.com/ptpfilter/ptpfilter/internal/pdu"
)

// probeDeviceInfo runs one GetDeviceInfo command/data/response round trip
// against a device that didn't match the model table, and reports the
// vendor extension it advertises. This is the disabled-by-default
// fallback for devices not worth a model-table row; callers only reach
// it when cfg.ParseDeviceInfoFallback is set.
func probeDeviceInfo(ctx context.Context, epOut, epIn int, transport interfaces.Transport) (VendorExtensionID, bool, error) {
	cmd := pdu.Header{Length: pdu.HeaderSize, Type: pdu.TypeCommand, Code: pdu.OpGetDeviceInfo, TransID: 1}.Marshal()
	if err := transport.SubmitOut(ctx, epOut, cmd); err != nil {
		return 0, false, err
	}

	quantum := transport.EndpointMaxPacketSize(epIn)
	if quantum <= 0 {
		quantum = 512
	}
	chunk := make([]byte, quantum)

	var wire []byte
	for {
		n, err := transport.SubmitIn(ctx, epIn, chunk)
		if err != nil {
			return 0, false, err
		}
		if n == 0 {
			return 0, false, fmt.Errorf("dispatcher: device returned empty IN transfer during probe")
		}
		wire = append(wire, chunk[:n]...)

		if len(wire) < pdu.HeaderSize {
			continue
		}
		dataHdr, err := pdu.UnmarshalHeader(wire)
		if err != nil {
			return 0, false, err
		}
		if dataHdr.Type != pdu.TypeData || dataHdr.Code != pdu.OpGetDeviceInfo {
			return 0, false, nil
		}
		respOff := int(dataHdr.Length)
		if len(wire) < respOff+pdu.HeaderSize {
			continue
		}
		respHdr, err := pdu.UnmarshalHeader(wire[respOff:])
		if err != nil {
			return 0, false, err
		}
		if len(wire) < respOff+int(respHdr.Length) {
			continue
		}

		info, ok := parser.ParseDeviceInfo(wire[pdu.HeaderSize:respOff])
		if !ok || respHdr.Code != pdu.ResponseOK {
			return 0, false, nil
		}
		return VendorExtensionID(info.VendorExtensionID), true, nil
	}
}
