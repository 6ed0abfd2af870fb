package tdoa3

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type remoteEntry struct {
	rxTime int64
	seq    uint8
}

type rxTxEntry struct {
	rxTime int64
	txTime int64
	seq    uint8
}

// fakeContext records every mutation the decoder applies.
type fakeContext struct {
	id       uint8
	remote   map[uint8]remoteEntry
	tof      map[uint8]int64
	rxTx     []rxTxEntry
	position *Point
}

func newFakeContext(id uint8) *fakeContext {
	return &fakeContext{
		id:     id,
		remote: make(map[uint8]remoteEntry),
		tof:    make(map[uint8]int64),
	}
}

func (c *fakeContext) ID() uint8 { return c.id }

func (c *fakeContext) SetRemoteRxTime(remoteID uint8, rxTime int64, seq uint8) {
	c.remote[remoteID] = remoteEntry{rxTime: rxTime, seq: seq}
}

func (c *fakeContext) SetTimeOfFlight(remoteID uint8, tof int64) {
	c.tof[remoteID] = tof
}

func (c *fakeContext) SetRxTxData(rxTime, txTime int64, seq uint8) {
	c.rxTx = append(c.rxTx, rxTxEntry{rxTime: rxTime, txTime: txTime, seq: seq})
}

func (c *fakeContext) SetPosition(p Point) {
	c.position = &p
}

func (c *fakeContext) mutated() bool {
	return len(c.remote) > 0 || len(c.tof) > 0 || len(c.rxTx) > 0 || c.position != nil
}

type tofCall struct {
	anchor, remote uint8
	meters         float64
}

type posCall struct {
	anchor         uint8
	point          Point
	snr, powerDiff float64
}

type linkCall struct {
	anchor  uint8
	quality SignalQuality
}

type diffCall struct {
	a, b uint8
	diff float64
}

// recordingSink captures telemetry calls in order.
type recordingSink struct {
	links     []linkCall
	tofs      []tofCall
	positions []posCall
	diffs     []diffCall
}

func (s *recordingSink) RecordLinkQuality(anchorID uint8, q SignalQuality) {
	s.links = append(s.links, linkCall{anchor: anchorID, quality: q})
}

func (s *recordingSink) RecordTimeOfFlight(anchorID, remoteID uint8, meters float64) {
	s.tofs = append(s.tofs, tofCall{anchor: anchorID, remote: remoteID, meters: meters})
}

func (s *recordingSink) RecordAnchorPosition(anchorID uint8, p Point, snr, powerDiff float64) {
	s.positions = append(s.positions, posCall{anchor: anchorID, point: p, snr: snr, powerDiff: powerDiff})
}

func (s *recordingSink) RecordDistanceDiff(idA, idB uint8, distanceDiff float64) {
	s.diffs = append(s.diffs, diffCall{a: idA, b: idB, diff: distanceDiff})
}

func TestUpdateRemoteData(t *testing.T) {
	sink := &recordingSink{}
	dec := NewDecoder(sink)
	ctx := newFakeContext(3)

	payload := buildRangingPayload(0x05, 1000, []testRemote{
		{id: 7, seq: 0x01, hasDistance: true, rxTimestamp: 500, distance: 200},
		{id: 9, seq: 0x02, rxTimestamp: 300},
	}, nil)

	consumed, err := dec.UpdateRemoteData(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, 21, consumed)

	assert.Equal(t, remoteEntry{rxTime: 500, seq: 1}, ctx.remote[7])
	assert.Equal(t, remoteEntry{rxTime: 300, seq: 2}, ctx.remote[9])
	assert.Equal(t, int64(200), ctx.tof[7])
	_, ok := ctx.tof[9]
	assert.False(t, ok, "short record carries no distance")

	require.Len(t, sink.tofs, 1)
	assert.Equal(t, uint8(3), sink.tofs[0].anchor)
	assert.Equal(t, uint8(7), sink.tofs[0].remote)
	assert.InDelta(t, TicksToMeters(200), sink.tofs[0].meters, 1e-9)
}

func TestUpdateRemoteDataZeroSentinels(t *testing.T) {
	dec := NewDecoder(nil)
	ctx := newFakeContext(3)

	payload := buildRangingPayload(1, 10, []testRemote{
		{id: 2, seq: 3, hasDistance: true, rxTimestamp: 0, distance: 0},
		{id: 5, seq: 6, rxTimestamp: 40},
	}, nil)

	consumed, err := dec.UpdateRemoteData(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, 7+8+6, consumed, "sentinel values do not change record width")

	_, ok := ctx.remote[2]
	assert.False(t, ok, "zero rx timestamp is discarded")
	_, ok = ctx.tof[2]
	assert.False(t, ok, "zero distance is discarded")
	assert.Equal(t, remoteEntry{rxTime: 40, seq: 6}, ctx.remote[5], "later records still apply")
}

func TestUpdateRemoteDataMalformedLeavesContextUntouched(t *testing.T) {
	dec := NewDecoder(nil)

	payload := buildRangingPayload(1, 10, []testRemote{
		{id: 2, seq: 3, rxTimestamp: 20},
		{id: 5, seq: 6, hasDistance: true, rxTimestamp: 40, distance: 50},
	}, nil)

	for n := 0; n < len(payload); n++ {
		ctx := newFakeContext(3)
		_, err := dec.UpdateRemoteData(ctx, payload[:n])
		require.Error(t, err, "length %d", n)
		assert.False(t, ctx.mutated(), "length %d: no partial application", n)
	}
}

func TestUpdateRemoteDataIdempotent(t *testing.T) {
	dec := NewDecoder(nil)
	ctx := newFakeContext(3)

	payload := buildRangingPayload(1, 10, []testRemote{
		{id: 2, seq: 3, hasDistance: true, rxTimestamp: 20, distance: 50},
	}, nil)

	_, err := dec.UpdateRemoteData(ctx, payload)
	require.NoError(t, err)
	first := *ctx
	firstRemote := ctx.remote[2]

	_, err = dec.UpdateRemoteData(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, firstRemote, ctx.remote[2])
	assert.Equal(t, first.tof[2], ctx.tof[2])
	assert.Len(t, ctx.remote, 1)
}

// fakeEngine hands out fakeContexts and records process calls.
type processCall struct {
	anchorID     uint8
	anchorTxTime int64
	localRxTime  int64
}

type fakeEngine struct {
	contexts  map[uint8]*fakeContext
	processed []processCall
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{contexts: make(map[uint8]*fakeContext)}
}

func (e *fakeEngine) ContextForPacket(anchorID uint8, now time.Time) AnchorContext {
	ctx, ok := e.contexts[anchorID]
	if !ok {
		ctx = newFakeContext(anchorID)
		e.contexts[anchorID] = ctx
	}
	return ctx
}

func (e *fakeEngine) ProcessPacket(ctx AnchorContext, anchorTxTime, localRxTime int64) {
	e.processed = append(e.processed, processCall{
		anchorID:     ctx.ID(),
		anchorTxTime: anchorTxTime,
		localRxTime:  localRxTime,
	})
}
