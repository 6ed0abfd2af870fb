package tdoa3

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func positionTrailer(x, y, z, snr, powerDiff float32) []byte {
	trailer := []byte{LPPHeaderShortPacket, LPPShortAnchorPos}
	for _, v := range []float32{x, y, z, snr, powerDiff} {
		trailer = binary.LittleEndian.AppendUint32(trailer, math.Float32bits(v))
	}
	return trailer
}

func TestHandleLPPAnchorPosition(t *testing.T) {
	f := newTagFixture(t)
	ctx := newFakeContext(6)

	f.tag.handleLPP(positionTrailer(1.5, -2.25, 3.0, 18.5, 2.125), ctx, 6)

	require.NotNil(t, ctx.position)
	assert.InDelta(t, 1.5, ctx.position.X, 1e-6)
	assert.InDelta(t, -2.25, ctx.position.Y, 1e-6)
	assert.InDelta(t, 3.0, ctx.position.Z, 1e-6)

	require.Len(t, f.sink.positions, 1)
	pos := f.sink.positions[0]
	assert.Equal(t, uint8(6), pos.anchor)
	assert.InDelta(t, 18.5, pos.snr, 1e-6)
	assert.InDelta(t, 2.125, pos.powerDiff, 1e-6)
}

func TestHandleLPPIgnored(t *testing.T) {
	f := newTagFixture(t)

	cases := map[string][]byte{
		"empty trailer":      nil,
		"not a short packet": {0x42, 0x01, 0x02},
		"header only":        {LPPHeaderShortPacket},
		"unknown type":       {LPPHeaderShortPacket, 0x7e, 0x01, 0x02},
		"short position":     positionTrailer(1, 2, 3, 4, 5)[:12],
	}
	for name, trailer := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := newFakeContext(6)
			f.tag.handleLPP(trailer, ctx, 6)
			assert.Nil(t, ctx.position)
			assert.Empty(t, f.sink.positions)
		})
	}
}

func TestReceivePipelineAppliesTrailingLPP(t *testing.T) {
	f := newTagFixture(t)

	payload := buildRangingPayload(0x09, 2000, []testRemote{
		{id: 2, seq: 4, hasDistance: true, rxTimestamp: 700, distance: 90},
	}, positionTrailer(4.25, 0.5, 2.75, 20, 1.5))
	f.radio.loadFrame(anchorFrame(8, payload), 555, SignalQuality{})

	f.tag.OnEvent(EventPacketReceived)

	ctx := f.engine.contexts[8]
	require.NotNil(t, ctx)
	require.NotNil(t, ctx.position, "trailer located by the consumed record length")
	assert.InDelta(t, 4.25, ctx.position.X, 1e-6)

	require.Len(t, f.sink.positions, 1)
	assert.Equal(t, uint8(8), f.sink.positions[0].anchor, "position keyed by the carrying anchor")
}

func TestParseAnchorPosition(t *testing.T) {
	data := positionTrailer(1, 2, 3, 4, 5)[2:]

	pos, ok := parseAnchorPosition(data)
	require.True(t, ok)
	assert.Equal(t, Point{X: 1, Y: 2, Z: 3}, pos.Point)
	assert.Equal(t, 4.0, pos.SNR)
	assert.Equal(t, 5.0, pos.PowerDiff)

	_, ok = parseAnchorPosition(data[:anchorPosLength-1])
	assert.False(t, ok)
}
