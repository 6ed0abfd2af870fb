package tdoa3

import "time"

// EventKind identifies a radio event delivered by the driver. The set is
// closed: the driver and this package agree on exactly these four values,
// and anything else is a programming error.
type EventKind uint8

const (
	// EventPacketReceived signals a captured frame waiting in the receive
	// buffer.
	EventPacketReceived EventKind = iota
	// EventTimeout signals the software timeout requested by a previous
	// OnEvent call elapsed.
	EventTimeout
	// EventReceiveTimeout signals the radio's hardware receive timeout.
	EventReceiveTimeout
	// EventPacketSent signals a transmit completed. The radio re-arms its
	// receiver on its own afterwards.
	EventPacketSent
)

func (e EventKind) String() string {
	switch e {
	case EventPacketReceived:
		return "packet-received"
	case EventTimeout:
		return "timeout"
	case EventReceiveTimeout:
		return "receive-timeout"
	case EventPacketSent:
		return "packet-sent"
	}
	return "unknown"
}

// Radio is the half-duplex UWB radio driver. Accessors refer to the most
// recently captured frame and are only meaningful while handling an
// EventPacketReceived event.
type Radio interface {
	// Events delivers radio events. The channel is owned by the driver.
	Events() <-chan EventKind

	// ReceivedFrame returns the captured frame, including the MAC header.
	ReceivedFrame() ([]byte, error)

	// ReceiveTimestamp returns the 40-bit radio-tick timestamp at which the
	// captured frame arrived, in the local radio clock domain.
	ReceiveTimestamp() (int64, error)

	// SignalQuality returns power and quality readings for the captured
	// frame.
	SignalQuality() SignalQuality

	// StartReceive arms the receiver with the driver defaults applied.
	StartReceive() error

	// Transmit sends a raw frame and leaves the radio in transmit mode; the
	// hardware returns to receive when the transmit completes.
	Transmit(frame []byte) error

	// SetReceiveWaitTimeout configures the hardware receive timeout.
	SetReceiveWaitTimeout(d time.Duration) error

	// CommitConfiguration applies pending configuration to the hardware.
	CommitConfiguration() error
}
