// Package tdoa3 implements the receive side of the TDOA3 ultra-wideband
// positioning protocol: decoding ranging packets broadcast by fixed anchors,
// feeding timestamp and time-of-flight data into the tracking engine, and
// driving the half-duplex radio through its receive/transmit event cycle.
//
// The tag moves around in a large system of anchors. Any anchor ids can be
// used, anchors appear and disappear over time, and transmissions are
// unslotted, so packet collisions and loss are expected. All decode and
// state-machine logic runs synchronously on the radio event loop.
package tdoa3

import (
	"encoding/binary"
	"fmt"
)

// PacketTypeTDOA3 identifies a TDOA3 ranging packet in the first payload
// byte. Payloads with any other type byte are not ours and are ignored.
const PacketTypeTDOA3 uint8 = 0x30

// Ranging packet layout. All fields are little-endian and packed:
//
//	offset 0: type (1)
//	offset 1: seq  (1)   low 7 bits sequence number
//	offset 2: txTimestamp (4)   low 32 bits of the 40-bit tx time
//	offset 6: remoteCount (1)
//	offset 7: remoteCount records, 8 bytes with a distance, 6 without
const (
	HeaderLength      = 7
	FullRecordLength  = 8 // id + seq + rxTimestamp + distance
	ShortRecordLength = 6 // id + seq + rxTimestamp

	seqMask         = 0x7f
	hasDistanceFlag = 0x80
)

// LPP (LoPo protocol) short packets may be appended after the ranging
// records inside the same frame.
const (
	LPPHeaderShortPacket uint8 = 0xf0
	LPPShortAnchorPos    uint8 = 0x01

	// Anchor position record: x, y, z, snr, powerDiff as float32.
	anchorPosLength = 20
)

// Time-of-flight diagnostics conversion. The raw distance field is in radio
// ticks; metersPerTick is speed of light divided by the radio timestamp
// frequency, and the antenna offset compensates the fixed antenna delay.
const (
	metersPerTick      = 0.0046917639786157855
	antennaOffsetMeter = 154.6
)

// TicksToMeters converts a raw time-of-flight tick count to meters. The
// result is only used for diagnostic telemetry, never for positioning.
func TicksToMeters(ticks int64) float64 {
	return float64(ticks)*metersPerTick - antennaOffsetMeter
}

// RangingHeader is the fixed header at the start of every ranging payload.
type RangingHeader struct {
	Type        uint8
	Seq         uint8 // low 7 bits only
	TxTimestamp uint32
	RemoteCount uint8
}

// RemoteAnchorRecord is one per-remote-anchor entry in a ranging payload.
// HasDistance selects the 8-byte record shape; without it the record is 6
// bytes and carries no distance.
type RemoteAnchorRecord struct {
	ID          uint8
	Seq         uint8 // low 7 bits only
	HasDistance bool
	RxTimestamp uint32
	Distance    uint16
}

// ParseRanging walks a complete ranging payload and returns the header, the
// decoded remote records and the total number of bytes consumed (header plus
// records). The consumed length locates any trailing LPP data.
//
// Every multi-byte read is bounds checked against the captured payload; a
// declared record count that would walk past the end is a decode failure and
// nothing is returned. Callers can therefore apply the records knowing the
// whole walk was valid.
func ParseRanging(payload []byte) (RangingHeader, []RemoteAnchorRecord, int, error) {
	if len(payload) < HeaderLength {
		return RangingHeader{}, nil, 0, fmt.Errorf("truncated ranging header: need %d bytes, have %d", HeaderLength, len(payload))
	}

	hdr := RangingHeader{
		Type:        payload[0],
		Seq:         payload[1] & seqMask,
		TxTimestamp: binary.LittleEndian.Uint32(payload[2:6]),
		RemoteCount: payload[6],
	}

	records := make([]RemoteAnchorRecord, 0, hdr.RemoteCount)
	cursor := HeaderLength
	for i := uint8(0); i < hdr.RemoteCount; i++ {
		// The record width depends on the hasDistance bit of its own
		// sequence byte, so peek that before reading the rest.
		if cursor+2 > len(payload) {
			return RangingHeader{}, nil, 0, fmt.Errorf("record %d: truncated at offset %d", i, cursor)
		}
		rec := RemoteAnchorRecord{
			ID:          payload[cursor],
			Seq:         payload[cursor+1] & seqMask,
			HasDistance: payload[cursor+1]&hasDistanceFlag != 0,
		}

		width := ShortRecordLength
		if rec.HasDistance {
			width = FullRecordLength
		}
		if cursor+width > len(payload) {
			return RangingHeader{}, nil, 0, fmt.Errorf("record %d: %d-byte record at offset %d overruns %d-byte payload", i, width, cursor, len(payload))
		}

		rec.RxTimestamp = binary.LittleEndian.Uint32(payload[cursor+2 : cursor+6])
		if rec.HasDistance {
			rec.Distance = binary.LittleEndian.Uint16(payload[cursor+6 : cursor+8])
		}

		records = append(records, rec)
		cursor += width
	}

	return hdr, records, cursor, nil
}
