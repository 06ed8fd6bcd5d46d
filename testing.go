package ptpfilter

import (
	"context"
	"sync"

	"github.com/ptpfilter/ptpfilter/internal/pdu"
	"github.com/ptpfilter/ptpfilter/internal/simulator"
)

// MockTransport wraps the internal in-memory camera simulator with call
// tracking, for callers building their own tests against Attach/Filter
// without bringing up a real USB/IP stub.
type MockTransport struct {
	cam *simulator.Camera

	mu           sync.RWMutex
	submitOutN   int
	submitInN    int
	lastOutBytes []byte
}

// NewMockTransport creates a mock transport that answers previewOpcode
// with a data PDU carrying payload, plus OK responses to OpenSession,
// CloseSession and GetDeviceInfo.
func NewMockTransport(previewOpcode uint16, payload []byte) *MockTransport {
	return &MockTransport{cam: simulator.New(pdu.Code(previewOpcode), payload)}
}

// SubmitOut implements Transport.
func (m *MockTransport) SubmitOut(ctx context.Context, ep int, payload []byte) error {
	m.mu.Lock()
	m.submitOutN++
	m.lastOutBytes = append([]byte(nil), payload...)
	m.mu.Unlock()
	return m.cam.SubmitOut(ctx, ep, payload)
}

// SubmitIn implements Transport.
func (m *MockTransport) SubmitIn(ctx context.Context, ep int, buf []byte) (int, error) {
	m.mu.Lock()
	m.submitInN++
	m.mu.Unlock()
	return m.cam.SubmitIn(ctx, ep, buf)
}

// EndpointMaxPacketSize implements Transport.
func (m *MockTransport) EndpointMaxPacketSize(ep int) int {
	return m.cam.EndpointMaxPacketSize(ep)
}

// FailNextPreview makes the next preview response return a non-OK PTP
// response code instead of completing normally.
func (m *MockTransport) FailNextPreview() {
	m.cam.FailPreview = true
}

// CallCounts returns the number of times each transport method has been
// called, for test assertions.
func (m *MockTransport) CallCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int{
		"submit_out": m.submitOutN,
		"submit_in":  m.submitInN,
	}
}

// LastOutBytes returns a copy of the most recent payload passed to
// SubmitOut, or nil if SubmitOut has not yet been called.
func (m *MockTransport) LastOutBytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.lastOutBytes...)
}

var _ Transport = (*MockTransport)(nil)
