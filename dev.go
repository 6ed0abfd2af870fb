package main

import (
	"encoding/binary"
	"math"

	"github.com/uwbtools/tdoatag/internal/mac"
	"github.com/uwbtools/tdoatag/internal/tdoa3"
)

// Dev-mode fixtures: a small anchor constellation broadcasting ranging
// packets with neighbour records and position reports, replayed in a loop.

type fixtureRemote struct {
	id       uint8
	seq      uint8
	rxTime   uint32
	distance uint16 // zero means no distance field
}

func fixtureFrame(src, seq uint8, txTime uint32, remotes []fixtureRemote, lpp []byte) []byte {
	payload := make([]byte, 0, tdoa3.HeaderLength+len(remotes)*tdoa3.FullRecordLength+len(lpp))
	payload = append(payload, tdoa3.PacketTypeTDOA3, seq)
	payload = binary.LittleEndian.AppendUint32(payload, txTime)
	payload = append(payload, uint8(len(remotes)))
	for _, r := range remotes {
		seqByte := r.seq
		if r.distance != 0 {
			seqByte |= 0x80
		}
		payload = append(payload, r.id, seqByte)
		payload = binary.LittleEndian.AppendUint32(payload, r.rxTime)
		if r.distance != 0 {
			payload = binary.LittleEndian.AppendUint16(payload, r.distance)
		}
	}
	payload = append(payload, lpp...)

	frame := &mac.Frame{
		FrameControl: mac.DataFrameControl,
		Seq:          seq,
		PAN:          mac.PANID,
		Dest:         mac.Address(mac.TagID),
		Source:       mac.Address(src),
		Payload:      payload,
	}
	return frame.Encode()
}

func fixturePosition(x, y, z, snr, powerDiff float32) []byte {
	lpp := make([]byte, 2, 2+20)
	lpp[0] = tdoa3.LPPHeaderShortPacket
	lpp[1] = tdoa3.LPPShortAnchorPos
	for _, v := range []float32{x, y, z, snr, powerDiff} {
		lpp = binary.LittleEndian.AppendUint32(lpp, math.Float32bits(v))
	}
	return lpp
}

// replayFrames builds one replay cycle: three anchors cross-referencing each
// other, two of them reporting their positions.
func replayFrames() [][]byte {
	// Distances around 33400 ticks come out near 2 m after the antenna
	// offset correction.
	const nearTwoMeters = 33400

	return [][]byte{
		fixtureFrame(1, 10, 100000, []fixtureRemote{
			{id: 2, seq: 20, rxTime: 90000, distance: nearTwoMeters},
			{id: 3, seq: 30, rxTime: 91000},
		}, fixturePosition(0, 0, 2.5, 18.5, 2.1)),
		fixtureFrame(2, 21, 110000, []fixtureRemote{
			{id: 1, seq: 10, rxTime: 95000, distance: nearTwoMeters},
			{id: 3, seq: 30, rxTime: 96000, distance: nearTwoMeters + 400},
		}, fixturePosition(4.2, 0, 2.5, 17.0, 2.8)),
		fixtureFrame(3, 31, 120000, []fixtureRemote{
			{id: 1, seq: 10, rxTime: 97000},
			{id: 2, seq: 21, rxTime: 98000, distance: nearTwoMeters + 400},
		}, nil),
	}
}
