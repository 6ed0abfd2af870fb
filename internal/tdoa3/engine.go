package tdoa3

import "time"

// Point is a position in the anchor coordinate system, in meters.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// AnchorContext is the per-anchor rolling state owned by the tracking
// engine. The decoder only reads and writes fields through this contract;
// it does not own context memory or its locking.
type AnchorContext interface {
	// ID returns the anchor id this context belongs to.
	ID() uint8

	// SetRemoteRxTime records when this anchor received a packet from the
	// given remote anchor, in the remote packet's clock domain.
	SetRemoteRxTime(remoteID uint8, rxTime int64, seq uint8)

	// SetTimeOfFlight records the anchor-to-anchor time of flight in radio
	// ticks.
	SetTimeOfFlight(remoteID uint8, tof int64)

	// SetRxTxData commits the local receive timestamp, the anchor's declared
	// transmit timestamp and the packet sequence number for use by future
	// neighbour records.
	SetRxTxData(rxTime, txTime int64, seq uint8)

	// SetPosition commits the anchor position reported over LPP.
	SetPosition(p Point)
}

// Engine is the anchor-tracking and clock-synchronisation engine. It owns
// anchor contexts and turns raw timestamp pairs into calibrated
// distance-difference measurements, delivered through a callback configured
// on the engine itself.
type Engine interface {
	// ContextForPacket fetches the context for an anchor id, creating it on
	// first contact. now feeds the engine's inactivity bookkeeping.
	ContextForPacket(anchorID uint8, now time.Time) AnchorContext

	// ProcessPacket resolves the clock offset between the anchor and this
	// tag from the anchor's declared transmit time and the locally captured
	// receive time, and may emit a measurement.
	ProcessPacket(ctx AnchorContext, anchorTxTime, localRxTime int64)
}

// Measurement is a calibrated distance-difference produced by the engine:
// the tag is DistanceDiff meters closer to anchor AnchorIDs[0] than to
// AnchorIDs[1].
type Measurement struct {
	AnchorIDs       [2]uint8  `json:"anchor_ids"`
	AnchorPositions [2]Point  `json:"anchor_positions"`
	DistanceDiff    float64   `json:"distance_diff"`
	StdDev          float64   `json:"std_dev"`
	Timestamp       time.Time `json:"timestamp"`
}

// HeightMeasurement is an absolute height fed to the estimator when the tag
// operates in planar (2D) mode at a known height.
type HeightMeasurement struct {
	Height    float64   `json:"height"`
	StdDev    float64   `json:"std_dev"`
	Timestamp time.Time `json:"timestamp"`
}

// Estimator consumes measurements produced from decoded ranging packets.
type Estimator interface {
	EnqueueDistanceDiff(m Measurement)
	EnqueueAbsoluteHeight(h HeightMeasurement)
}

// SignalQuality is the radio's receive-quality reading for the last frame.
type SignalQuality struct {
	// ReceivePower is the total received power in dBm.
	ReceivePower float64 `json:"receive_power"`
	// FirstPathPower is the power of the first arriving path in dBm.
	FirstPathPower float64 `json:"first_path_power"`
	// Quality is the first-path amplitude over the channel noise estimate.
	Quality float64 `json:"quality"`
}

// PowerDiff is the difference between total received power and first path
// power. Large values suggest a reflected rather than line-of-sight path.
func (q SignalQuality) PowerDiff() float64 {
	return q.ReceivePower - q.FirstPathPower
}

// TelemetrySink receives diagnostic values decoded from ranging traffic.
// Values are keyed by anchor id; implementations decide retention and
// exposure. None of it affects positioning.
type TelemetrySink interface {
	// RecordLinkQuality reports the local radio's receive quality for a
	// frame from the given anchor.
	RecordLinkQuality(anchorID uint8, q SignalQuality)

	// RecordTimeOfFlight reports an anchor-to-anchor time of flight carried
	// in anchorID's packet, converted to meters.
	RecordTimeOfFlight(anchorID, remoteID uint8, meters float64)

	// RecordAnchorPosition reports a position and the anchor's own receive
	// quality metrics decoded from an LPP anchor-position record.
	RecordAnchorPosition(anchorID uint8, p Point, snr, powerDiff float64)

	// RecordDistanceDiff reports a calibrated distance difference for an
	// anchor pair.
	RecordDistanceDiff(idA, idB uint8, distanceDiff float64)
}

// NopTelemetry discards all telemetry.
type NopTelemetry struct{}

func (NopTelemetry) RecordLinkQuality(uint8, SignalQuality)              {}
func (NopTelemetry) RecordTimeOfFlight(uint8, uint8, float64)            {}
func (NopTelemetry) RecordAnchorPosition(uint8, Point, float64, float64) {}
func (NopTelemetry) RecordDistanceDiff(uint8, uint8, float64)            {}

// OutgoingPacket is an LPP short packet queued for transmission to an
// anchor. The queue has capacity one: the configuration distributor writes
// it, the event cycle consumes it at most once per radio event.
type OutgoingPacket struct {
	Dest uint8
	Data []byte
}
