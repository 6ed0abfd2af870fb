package radio

import (
	"errors"
	"sync"
	"time"

	"github.com/uwbtools/tdoatag/internal/tdoa3"
)

// Mock is an in-memory radio for tests and development. Test code delivers
// frames and events; the mock records the commands it is given.
type Mock struct {
	events chan tdoa3.EventKind

	mu          sync.Mutex
	frame       []byte
	hasFrame    bool
	rxTimestamp int64
	quality     tdoa3.SignalQuality

	receiveStarts  int
	transmits      [][]byte
	receiveTimeout time.Duration
	commits        int
}

// NewMock creates a mock radio.
func NewMock() *Mock {
	return &Mock{events: make(chan tdoa3.EventKind, eventBuffer)}
}

// DeliverFrame latches a captured frame and queues an EventPacketReceived.
func (m *Mock) DeliverFrame(frame []byte, rxTimestamp int64, q tdoa3.SignalQuality) {
	m.mu.Lock()
	m.frame = append([]byte(nil), frame...)
	m.hasFrame = true
	m.rxTimestamp = rxTimestamp
	m.quality = q
	m.mu.Unlock()
	m.events <- tdoa3.EventPacketReceived
}

// DeliverEvent queues a bare radio event.
func (m *Mock) DeliverEvent(ev tdoa3.EventKind) {
	m.events <- ev
}

// CloseEvents closes the event channel, ending a Run loop.
func (m *Mock) CloseEvents() {
	close(m.events)
}

// Events delivers radio events.
func (m *Mock) Events() <-chan tdoa3.EventKind {
	return m.events
}

// ReceivedFrame returns the delivered frame.
func (m *Mock) ReceivedFrame() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasFrame {
		return nil, errors.New("mock radio: no frame delivered")
	}
	return append([]byte(nil), m.frame...), nil
}

// ReceiveTimestamp returns the delivered capture timestamp.
func (m *Mock) ReceiveTimestamp() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasFrame {
		return 0, errors.New("mock radio: no frame delivered")
	}
	return m.rxTimestamp, nil
}

// SignalQuality returns the delivered quality readings.
func (m *Mock) SignalQuality() tdoa3.SignalQuality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quality
}

// StartReceive records a receive-arm command.
func (m *Mock) StartReceive() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receiveStarts++
	return nil
}

// Transmit records a transmitted frame.
func (m *Mock) Transmit(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transmits = append(m.transmits, append([]byte(nil), frame...))
	return nil
}

// SetReceiveWaitTimeout records the configured hardware receive timeout.
func (m *Mock) SetReceiveWaitTimeout(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receiveTimeout = d
	return nil
}

// CommitConfiguration records a configuration commit.
func (m *Mock) CommitConfiguration() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++
	return nil
}

// ReceiveStarts returns how many times the receiver was armed.
func (m *Mock) ReceiveStarts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receiveStarts
}

// Transmits returns the frames handed to Transmit.
func (m *Mock) Transmits() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.transmits))
	copy(out, m.transmits)
	return out
}

// ReceiveTimeout returns the configured hardware receive timeout.
func (m *Mock) ReceiveTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receiveTimeout
}

// Commits returns how many configuration commits were issued.
func (m *Mock) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}
