// Package mac encodes and decodes the IEEE 802.15.4 data frames used by the
// UWB anchor network. Frames carry a fixed 21-byte header with 64-bit source
// and destination addresses; the low byte of an address is the node id.
package mac

import (
	"encoding/binary"
	"fmt"
)

// HeaderLength is the packed size of the frame header:
// frame control (2) + sequence (1) + PAN id (2) + dest (8) + source (8).
const HeaderLength = 21

// PANID is the personal area network id shared by all nodes in the system.
const PANID uint16 = 0xbccf

// BaseAddress is the upper 56 bits common to every node address. The low
// byte carries the node id.
const BaseAddress uint64 = 0xbccf000000000000

// TagID is the node id this tag uses as the source of outgoing frames.
const TagID uint8 = 0xff

// DataFrameControl is the frame-control field for a data frame with 64-bit
// addressing on both ends, intra-PAN compression and frame version 1.
const DataFrameControl uint16 = 0x0001 | // frame type: data
	0x0040 | // intra-PAN
	0x0c00 | // dest addressing: 64-bit extended
	0x1000 | // frame version 1
	0xc000 // source addressing: 64-bit extended

// Frame is a decoded 802.15.4 data frame. Payload aliases the buffer the
// frame was decoded from.
type Frame struct {
	FrameControl uint16
	Seq          uint8
	PAN          uint16
	Dest         uint64
	Source       uint64
	Payload      []byte
}

// Address builds the full 64-bit node address for a node id.
func Address(id uint8) uint64 {
	return BaseAddress | uint64(id)
}

// NewDataFrame builds a frame addressed from this tag to the given node id.
func NewDataFrame(dest uint8) *Frame {
	return &Frame{
		FrameControl: DataFrameControl,
		PAN:          PANID,
		Dest:         Address(dest),
		Source:       Address(TagID),
	}
}

// SourceID returns the node id carried in the low byte of the source address.
func (f *Frame) SourceID() uint8 {
	return uint8(f.Source & 0xff)
}

// Encode serialises the frame header followed by the payload.
func (f *Frame) Encode() []byte {
	buf := make([]byte, HeaderLength+len(f.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], f.FrameControl)
	buf[2] = f.Seq
	binary.LittleEndian.PutUint16(buf[3:5], f.PAN)
	binary.LittleEndian.PutUint64(buf[5:13], f.Dest)
	binary.LittleEndian.PutUint64(buf[13:21], f.Source)
	copy(buf[HeaderLength:], f.Payload)
	return buf
}

// Decode parses a raw frame. The returned frame's payload aliases data.
func Decode(data []byte) (*Frame, error) {
	if len(data) < HeaderLength {
		return nil, fmt.Errorf("frame too short: need %d header bytes, have %d", HeaderLength, len(data))
	}
	return &Frame{
		FrameControl: binary.LittleEndian.Uint16(data[0:2]),
		Seq:          data[2],
		PAN:          binary.LittleEndian.Uint16(data[3:5]),
		Dest:         binary.LittleEndian.Uint64(data[5:13]),
		Source:       binary.LittleEndian.Uint64(data[13:21]),
		Payload:      data[HeaderLength:],
	}, nil
}
