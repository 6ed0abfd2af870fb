package tdoa3

import (
	"encoding/binary"
	"math"
)

// handleLPP inspects the bytes that follow the ranging records inside the
// same frame. An empty trailer is the normal case; a short-packet header
// byte introduces a typed LPP record.
func (t *Tag) handleLPP(trailer []byte, ctx AnchorContext, anchorID uint8) {
	if len(trailer) == 0 {
		return
	}
	if trailer[0] != LPPHeaderShortPacket {
		return
	}
	t.handleLPPShortPacket(trailer[1:], ctx, anchorID)
}

func (t *Tag) handleLPPShortPacket(data []byte, ctx AnchorContext, anchorID uint8) {
	if len(data) == 0 {
		return
	}

	switch data[0] {
	case LPPShortAnchorPos:
		pos, ok := parseAnchorPosition(data[1:])
		if !ok {
			return
		}
		ctx.SetPosition(pos.Point)
		t.telemetry.RecordAnchorPosition(anchorID, pos.Point, pos.SNR, pos.PowerDiff)
	default:
		// Unknown content types are not an error; newer anchors may send
		// records this tag does not understand.
	}
}

type anchorPosition struct {
	Point     Point
	SNR       float64
	PowerDiff float64
}

// parseAnchorPosition decodes the anchor-position record: x, y, z followed
// by the anchor's receive quality and power difference, all float32.
func parseAnchorPosition(data []byte) (anchorPosition, bool) {
	if len(data) < anchorPosLength {
		return anchorPosition{}, false
	}
	f32 := func(off int) float64 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4])))
	}
	return anchorPosition{
		Point:     Point{X: f32(0), Y: f32(4), Z: f32(8)},
		SNR:       f32(12),
		PowerDiff: f32(16),
	}, true
}
