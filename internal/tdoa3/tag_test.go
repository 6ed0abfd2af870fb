package tdoa3

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uwbtools/tdoatag/internal/mac"
	"github.com/uwbtools/tdoatag/internal/timeutil"
)

// fakeRadio satisfies the driver contract synchronously for OnEvent tests.
type fakeRadio struct {
	events chan EventKind

	frame    []byte
	hasFrame bool
	rxTs     int64
	quality  SignalQuality

	receiveStarts int
	transmits     [][]byte
	rxTimeout     time.Duration
	commits       int
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{events: make(chan EventKind, 4)}
}

func (r *fakeRadio) loadFrame(frame []byte, rxTs int64, q SignalQuality) {
	r.frame = frame
	r.hasFrame = true
	r.rxTs = rxTs
	r.quality = q
}

func (r *fakeRadio) Events() <-chan EventKind { return r.events }

func (r *fakeRadio) ReceivedFrame() ([]byte, error) {
	if !r.hasFrame {
		return nil, assert.AnError
	}
	return r.frame, nil
}

func (r *fakeRadio) ReceiveTimestamp() (int64, error) {
	if !r.hasFrame {
		return 0, assert.AnError
	}
	return r.rxTs, nil
}

func (r *fakeRadio) SignalQuality() SignalQuality { return r.quality }

func (r *fakeRadio) StartReceive() error {
	r.receiveStarts++
	return nil
}

func (r *fakeRadio) Transmit(frame []byte) error {
	r.transmits = append(r.transmits, frame)
	return nil
}

func (r *fakeRadio) SetReceiveWaitTimeout(d time.Duration) error {
	r.rxTimeout = d
	return nil
}

func (r *fakeRadio) CommitConfiguration() error {
	r.commits++
	return nil
}

func anchorFrame(src uint8, payload []byte) []byte {
	frame := &mac.Frame{
		FrameControl: mac.DataFrameControl,
		PAN:          mac.PANID,
		Dest:         mac.Address(mac.TagID),
		Source:       mac.Address(src),
		Payload:      payload,
	}
	return frame.Encode()
}

type tagFixture struct {
	tag      *Tag
	radio    *fakeRadio
	engine   *fakeEngine
	sink     *recordingSink
	outgoing chan OutgoingPacket
	clock    *timeutil.MockClock
}

func newTagFixture(t *testing.T) *tagFixture {
	t.Helper()
	f := &tagFixture{
		radio:    newFakeRadio(),
		engine:   newFakeEngine(),
		sink:     &recordingSink{},
		outgoing: make(chan OutgoingPacket, 1),
		clock:    timeutil.NewMockClock(time.Unix(1000, 0)),
	}
	tag, err := NewTag(Config{
		Radio:     f.radio,
		Engine:    f.engine,
		Telemetry: f.sink,
		Outgoing:  f.outgoing,
		Clock:     f.clock,
	})
	require.NoError(t, err)
	f.tag = tag
	return f
}

func TestNewTagValidation(t *testing.T) {
	_, err := NewTag(Config{Engine: newFakeEngine()})
	assert.Error(t, err, "radio is required")

	_, err = NewTag(Config{Radio: newFakeRadio()})
	assert.Error(t, err, "engine is required")
}

func TestInitProgramsRadio(t *testing.T) {
	f := newTagFixture(t)
	require.NoError(t, f.tag.Init())
	assert.Equal(t, ReceiveWaitTimeout, f.radio.rxTimeout)
	assert.Equal(t, 1, f.radio.commits)
}

func TestOnEventReceivePipeline(t *testing.T) {
	f := newTagFixture(t)

	payload := buildRangingPayload(0x05, 1000, []testRemote{
		{id: 7, seq: 0x01, hasDistance: true, rxTimestamp: 500, distance: 200},
		{id: 9, seq: 0x02, rxTimestamp: 300},
	}, nil)
	f.radio.loadFrame(anchorFrame(3, payload), 123456, SignalQuality{
		ReceivePower: -80, FirstPathPower: -82, Quality: 20,
	})

	timeout := f.tag.OnEvent(EventPacketReceived)
	assert.Equal(t, MaxTimeout, timeout)

	ctx := f.engine.contexts[3]
	require.NotNil(t, ctx, "context keyed by the frame's source anchor")

	assert.Equal(t, remoteEntry{rxTime: 500, seq: 1}, ctx.remote[7])
	assert.Equal(t, remoteEntry{rxTime: 300, seq: 2}, ctx.remote[9])
	assert.Equal(t, int64(200), ctx.tof[7])

	require.Len(t, f.engine.processed, 1)
	assert.Equal(t, processCall{anchorID: 3, anchorTxTime: 1000, localRxTime: 123456}, f.engine.processed[0])

	require.Len(t, ctx.rxTx, 1)
	assert.Equal(t, rxTxEntry{rxTime: 123456, txTime: 1000, seq: 5}, ctx.rxTx[0])

	require.Len(t, f.sink.links, 1)
	assert.Equal(t, uint8(3), f.sink.links[0].anchor)
	assert.InDelta(t, 2.0, f.sink.links[0].quality.PowerDiff(), 1e-9)

	assert.True(t, f.tag.RangingOK())
	snap := f.tag.Stats().Snapshot()
	assert.Equal(t, uint64(1), snap.PacketsReceived)
	assert.Equal(t, uint64(1), snap.PacketsProcessed)
	assert.Equal(t, uint64(0), snap.PacketsMalformed)

	assert.Equal(t, 1, f.radio.receiveStarts, "receiver re-armed after the event")
}

func TestOnEventIgnoresOtherProtocols(t *testing.T) {
	f := newTagFixture(t)

	payload := buildRangingPayload(1, 10, []testRemote{{id: 2, seq: 3, rxTimestamp: 20}}, nil)
	payload[0] = 0x31
	f.radio.loadFrame(anchorFrame(3, payload), 99, SignalQuality{Quality: 5})

	f.tag.OnEvent(EventPacketReceived)

	assert.Empty(t, f.engine.contexts, "no context access for foreign payloads")
	assert.Empty(t, f.sink.links, "no telemetry for foreign payloads")
	assert.False(t, f.tag.RangingOK())

	snap := f.tag.Stats().Snapshot()
	assert.Equal(t, uint64(1), snap.PacketsReceived)
	assert.Equal(t, uint64(0), snap.PacketsProcessed)
	assert.Equal(t, uint64(0), snap.PacketsMalformed)
}

func TestOnEventMalformedPacket(t *testing.T) {
	f := newTagFixture(t)

	payload := buildRangingPayload(1, 10, []testRemote{{id: 2, seq: 3, rxTimestamp: 20}}, nil)
	payload[6] = 40 // declares records the payload does not carry
	f.radio.loadFrame(anchorFrame(3, payload), 99, SignalQuality{})

	f.tag.OnEvent(EventPacketReceived)

	ctx := f.engine.contexts[3]
	require.NotNil(t, ctx)
	assert.False(t, ctx.mutated(), "abort leaves the context untouched")
	assert.Empty(t, f.engine.processed)
	assert.False(t, f.tag.RangingOK())

	snap := f.tag.Stats().Snapshot()
	assert.Equal(t, uint64(1), snap.PacketsMalformed)
	assert.Equal(t, uint64(0), snap.PacketsProcessed)
}

func TestOnEventRearmPolicy(t *testing.T) {
	for _, tc := range []struct {
		ev     EventKind
		rearms bool
	}{
		{EventTimeout, true},
		{EventReceiveTimeout, true},
		{EventPacketSent, false},
	} {
		t.Run(tc.ev.String(), func(t *testing.T) {
			f := newTagFixture(t)
			f.tag.OnEvent(tc.ev)
			if tc.rearms {
				assert.Equal(t, 1, f.radio.receiveStarts)
			} else {
				assert.Zero(t, f.radio.receiveStarts, "hardware re-arms after transmit on its own")
			}
			assert.Empty(t, f.radio.transmits)
		})
	}
}

func TestOnEventTransmitsQueuedPacket(t *testing.T) {
	f := newTagFixture(t)
	f.outgoing <- OutgoingPacket{Dest: 4, Data: []byte{0x02, 0x01}}

	f.tag.OnEvent(EventTimeout)

	require.Len(t, f.radio.transmits, 1)
	assert.Zero(t, f.radio.receiveStarts, "transmit replaces the receive re-arm")

	frame, err := mac.Decode(f.radio.transmits[0])
	require.NoError(t, err)
	assert.Equal(t, mac.Address(4), frame.Dest)
	assert.Equal(t, mac.Address(mac.TagID), frame.Source)
	assert.Equal(t, []byte{LPPHeaderShortPacket, 0x02, 0x01}, frame.Payload)

	assert.Equal(t, uint64(1), f.tag.Stats().Snapshot().PacketsTransmitted)

	// Queue drained: the next event goes back to receiving.
	f.tag.OnEvent(EventPacketSent)
	assert.Len(t, f.radio.transmits, 1)
	assert.Zero(t, f.radio.receiveStarts)
	f.tag.OnEvent(EventReceiveTimeout)
	assert.Equal(t, 1, f.radio.receiveStarts)
}

func TestOnEventChecksQueueAfterEveryEvent(t *testing.T) {
	// Even the packet-sent branch flushes the queue, so back-to-back
	// outgoing packets do not wait for receive traffic.
	f := newTagFixture(t)
	f.outgoing <- OutgoingPacket{Dest: 4, Data: []byte{0x01}}

	f.tag.OnEvent(EventPacketSent)
	assert.Len(t, f.radio.transmits, 1)
	assert.Zero(t, f.radio.receiveStarts)
}

func TestOnEventUnknownEventPanics(t *testing.T) {
	f := newTagFixture(t)
	assert.Panics(t, func() {
		f.tag.OnEvent(EventKind(17))
	})
}

func TestRangingOKLatchIsMonotonic(t *testing.T) {
	f := newTagFixture(t)

	payload := buildRangingPayload(1, 10, []testRemote{{id: 2, seq: 3, rxTimestamp: 20}}, nil)
	f.radio.loadFrame(anchorFrame(3, payload), 99, SignalQuality{})
	f.tag.OnEvent(EventPacketReceived)
	require.True(t, f.tag.RangingOK())

	// Malformed traffic afterwards does not clear the latch.
	bad := append([]byte(nil), payload...)
	bad[6] = 99
	f.radio.loadFrame(anchorFrame(3, bad), 100, SignalQuality{})
	f.tag.OnEvent(EventPacketReceived)
	assert.True(t, f.tag.RangingOK())

	f.tag.OnEvent(EventReceiveTimeout)
	assert.True(t, f.tag.RangingOK())
}

func TestHandleMeasurement(t *testing.T) {
	f := newTagFixture(t)

	est := &recordingEstimator{}
	height := 1.2
	tag, err := NewTag(Config{
		Radio:     f.radio,
		Engine:    f.engine,
		Estimator: est,
		Telemetry: f.sink,
		Clock:     f.clock,
		Height2D:  &height,
	})
	require.NoError(t, err)

	m := Measurement{AnchorIDs: [2]uint8{2, 5}, DistanceDiff: 0.7, Timestamp: f.clock.Now()}
	tag.HandleMeasurement(m)

	require.Len(t, f.sink.diffs, 1)
	assert.Equal(t, diffCall{a: 2, b: 5, diff: 0.7}, f.sink.diffs[0])

	require.Len(t, est.diffs, 1)
	assert.Equal(t, m, est.diffs[0])

	require.Len(t, est.heights, 1, "planar mode enqueues the fixed height")
	assert.Equal(t, 1.2, est.heights[0].Height)
	assert.Equal(t, heightStdDev, est.heights[0].StdDev)
}

func TestHandleMeasurementWithoutEstimator(t *testing.T) {
	f := newTagFixture(t)
	assert.NotPanics(t, func() {
		f.tag.HandleMeasurement(Measurement{AnchorIDs: [2]uint8{1, 2}, DistanceDiff: 0.1})
	})
	assert.Len(t, f.sink.diffs, 1, "telemetry still flows without an estimator")
}

type recordingEstimator struct {
	diffs   []Measurement
	heights []HeightMeasurement
}

func (e *recordingEstimator) EnqueueDistanceDiff(m Measurement) {
	e.diffs = append(e.diffs, m)
}

func (e *recordingEstimator) EnqueueAbsoluteHeight(h HeightMeasurement) {
	e.heights = append(e.heights, h)
}
