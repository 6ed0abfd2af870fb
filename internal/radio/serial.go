// Package radio provides drivers implementing the tag's radio contract: a
// serial-attached UWB module speaking a SLIP-framed message protocol, plus
// mock and replay drivers for tests and development.
package radio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/uwbtools/tdoatag/internal/monitoring"
	"github.com/uwbtools/tdoatag/internal/tdoa3"
)

// Module-to-host messages and host-to-module commands. Each SLIP frame
// starts with one of these bytes.
const (
	msgRxFrame   = 0x01 // ts(8) + fpPower(4) + rxPower(4) + quality(4) + frame
	msgRxTimeout = 0x02
	msgTxDone    = 0x03
	msgTimeout   = 0x04

	cmdStartReceive = 0x10
	cmdTransmit     = 0x11 // frame bytes follow
	cmdSetRxTimeout = 0x12 // timeout in microseconds, uint32
	cmdCommit       = 0x13
)

// rxFrameHeaderLength is the fixed metadata ahead of the captured frame in
// an msgRxFrame message (excluding the message type byte).
const rxFrameHeaderLength = 20

// DefaultBaudRate matches the UWB module's serial link.
const DefaultBaudRate = 921600

// eventBuffer bounds how many radio events can be pending before the event
// loop drains them.
const eventBuffer = 16

// SerialRadio drives a UWB module over a serial port.
type SerialRadio struct {
	port   serial.Port
	events chan tdoa3.EventKind

	writeMu sync.Mutex

	mu          sync.Mutex
	frame       []byte
	hasFrame    bool
	rxTimestamp int64
	quality     tdoa3.SignalQuality
}

// Open opens the serial port and returns a radio ready to Monitor. A baud
// of zero selects DefaultBaudRate.
func Open(portName string, baud int) (*SerialRadio, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: 1,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", portName, err)
	}

	return &SerialRadio{
		port:   port,
		events: make(chan tdoa3.EventKind, eventBuffer),
	}, nil
}

// Close closes the serial port.
func (r *SerialRadio) Close() error {
	return r.port.Close()
}

// Monitor reads the serial stream and turns module messages into radio
// events until ctx is cancelled.
func (r *SerialRadio) Monitor(ctx context.Context) error {
	defer close(r.events)

	var dec slipDecoder
	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		n, err := r.port.Read(buf)
		if err != nil {
			return fmt.Errorf("reading serial port: %w", err)
		}

		msgs, err := dec.feed(buf[:n])
		if err != nil {
			monitoring.Logf("radio: resynchronising serial stream: %v", err)
		}
		for _, msg := range msgs {
			r.handleMessage(msg)
		}
	}
}

func (r *SerialRadio) handleMessage(msg []byte) {
	if len(msg) == 0 {
		return
	}

	switch msg[0] {
	case msgRxFrame:
		body := msg[1:]
		if len(body) < rxFrameHeaderLength {
			monitoring.Logf("radio: short rx-frame message: %d bytes", len(body))
			return
		}
		frame := make([]byte, len(body)-rxFrameHeaderLength)
		copy(frame, body[rxFrameHeaderLength:])

		r.mu.Lock()
		r.rxTimestamp = int64(binary.LittleEndian.Uint64(body[0:8]))
		r.quality = tdoa3.SignalQuality{
			FirstPathPower: float64(math.Float32frombits(binary.LittleEndian.Uint32(body[8:12]))),
			ReceivePower:   float64(math.Float32frombits(binary.LittleEndian.Uint32(body[12:16]))),
			Quality:        float64(math.Float32frombits(binary.LittleEndian.Uint32(body[16:20]))),
		}
		r.frame = frame
		r.hasFrame = true
		r.mu.Unlock()

		r.emit(tdoa3.EventPacketReceived)
	case msgRxTimeout:
		r.emit(tdoa3.EventReceiveTimeout)
	case msgTxDone:
		r.emit(tdoa3.EventPacketSent)
	case msgTimeout:
		r.emit(tdoa3.EventTimeout)
	default:
		monitoring.Logf("radio: ignoring unknown serial message 0x%02x", msg[0])
	}
}

// emit queues an event without blocking the serial reader; if the event
// loop has fallen behind the event is dropped.
func (r *SerialRadio) emit(ev tdoa3.EventKind) {
	select {
	case r.events <- ev:
	default:
		monitoring.Logf("radio: dropping %s event, queue full", ev)
	}
}

func (r *SerialRadio) writeCommand(msg []byte) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_, err := r.port.Write(slipEncode(msg))
	return err
}

// Events delivers radio events.
func (r *SerialRadio) Events() <-chan tdoa3.EventKind {
	return r.events
}

// ReceivedFrame returns a copy of the most recently captured frame.
func (r *SerialRadio) ReceivedFrame() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasFrame {
		return nil, errors.New("radio: no captured frame")
	}
	frame := make([]byte, len(r.frame))
	copy(frame, r.frame)
	return frame, nil
}

// ReceiveTimestamp returns the capture timestamp of the latest frame.
func (r *SerialRadio) ReceiveTimestamp() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasFrame {
		return 0, errors.New("radio: no captured frame")
	}
	return r.rxTimestamp, nil
}

// SignalQuality returns the quality readings for the latest frame.
func (r *SerialRadio) SignalQuality() tdoa3.SignalQuality {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quality
}

// StartReceive arms the module's receiver.
func (r *SerialRadio) StartReceive() error {
	return r.writeCommand([]byte{cmdStartReceive})
}

// Transmit sends a raw frame.
func (r *SerialRadio) Transmit(frame []byte) error {
	msg := make([]byte, 1+len(frame))
	msg[0] = cmdTransmit
	copy(msg[1:], frame)
	return r.writeCommand(msg)
}

// SetReceiveWaitTimeout programs the module's hardware receive timeout.
func (r *SerialRadio) SetReceiveWaitTimeout(d time.Duration) error {
	msg := make([]byte, 5)
	msg[0] = cmdSetRxTimeout
	binary.LittleEndian.PutUint32(msg[1:], uint32(d.Microseconds()))
	return r.writeCommand(msg)
}

// CommitConfiguration applies pending module configuration.
func (r *SerialRadio) CommitConfiguration() error {
	return r.writeCommand([]byte{cmdCommit})
}
