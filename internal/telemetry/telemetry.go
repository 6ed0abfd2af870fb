// Package telemetry collects the diagnostic values decoded from ranging
// traffic — link quality, anchor-reported signal metrics, time-of-flight
// distances and distance differences — keyed by anchor id, and exposes them
// as read-only snapshots and Prometheus metrics. Nothing here affects
// positioning.
package telemetry

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/uwbtools/tdoatag/internal/tdoa3"
)

// summaryWindow is how many recent distance differences per anchor pair
// feed the rolling mean/stddev summary.
const summaryWindow = 128

// AnchorTelemetry is the per-anchor diagnostic state.
type AnchorTelemetry struct {
	// SNR and PowerDiff are the local radio's readings for the last frame
	// received from this anchor.
	SNR       float64 `json:"snr"`
	PowerDiff float64 `json:"power_diff"`

	// ReportedSNR and ReportedPowerDiff are the anchor's own receive
	// quality metrics, carried in its LPP anchor-position record.
	ReportedSNR       float64 `json:"reported_snr"`
	ReportedPowerDiff float64 `json:"reported_power_diff"`

	// Position is the last position the anchor reported.
	Position    tdoa3.Point `json:"position"`
	HasPosition bool        `json:"has_position"`

	LastSeen time.Time `json:"last_seen"`
}

// PairTelemetry is the per-anchor-pair diagnostic state. For time of
// flight the pair is (carrier, remote); for distance differences it is the
// measurement's (A, B) order.
type PairTelemetry struct {
	A uint8 `json:"a"`
	B uint8 `json:"b"`

	TimeOfFlightMeters float64 `json:"time_of_flight_meters"`

	DistanceDiff       float64 `json:"distance_diff"`
	MeanDistanceDiff   float64 `json:"mean_distance_diff"`
	StdDevDistanceDiff float64 `json:"stddev_distance_diff"`
	Samples            int     `json:"samples"`
}

// Snapshot is a point-in-time copy of all telemetry.
type Snapshot struct {
	Anchors map[uint8]AnchorTelemetry `json:"anchors"`
	Pairs   []PairTelemetry           `json:"pairs"`
}

type pairKey struct {
	a, b uint8
}

type pairState struct {
	tofMeters    float64
	hasTOF       bool
	distanceDiff float64
	hasDiff      bool
	window       []float64 // ring of recent distance diffs
	next         int
	filled       bool
}

func (p *pairState) pushDiff(d float64) {
	if p.window == nil {
		p.window = make([]float64, 0, summaryWindow)
	}
	if len(p.window) < summaryWindow {
		p.window = append(p.window, d)
	} else {
		p.window[p.next] = d
		p.next = (p.next + 1) % summaryWindow
		p.filled = true
	}
	p.distanceDiff = d
	p.hasDiff = true
}

// Recorder implements the decoder's telemetry sink. Safe for concurrent
// use.
type Recorder struct {
	mu      sync.RWMutex
	anchors map[uint8]*AnchorTelemetry
	pairs   map[pairKey]*pairState
	metrics *Metrics
}

// NewRecorder creates a recorder. A nil Metrics disables Prometheus
// mirroring.
func NewRecorder(metrics *Metrics) *Recorder {
	return &Recorder{
		anchors: make(map[uint8]*AnchorTelemetry),
		pairs:   make(map[pairKey]*pairState),
		metrics: metrics,
	}
}

func (r *Recorder) anchor(id uint8) *AnchorTelemetry {
	a, ok := r.anchors[id]
	if !ok {
		a = &AnchorTelemetry{}
		r.anchors[id] = a
	}
	return a
}

func (r *Recorder) pair(a, b uint8) *pairState {
	key := pairKey{a, b}
	p, ok := r.pairs[key]
	if !ok {
		p = &pairState{}
		r.pairs[key] = p
	}
	return p
}

// RecordLinkQuality stores the local receive quality for frames from an
// anchor.
func (r *Recorder) RecordLinkQuality(anchorID uint8, q tdoa3.SignalQuality) {
	r.mu.Lock()
	a := r.anchor(anchorID)
	a.SNR = q.Quality
	a.PowerDiff = q.PowerDiff()
	a.LastSeen = time.Now()
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.observeLinkQuality(anchorID, q)
	}
}

// RecordTimeOfFlight stores a time-of-flight distance carried in an
// anchor's packet.
func (r *Recorder) RecordTimeOfFlight(anchorID, remoteID uint8, meters float64) {
	r.mu.Lock()
	p := r.pair(anchorID, remoteID)
	p.tofMeters = meters
	p.hasTOF = true
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.observeTimeOfFlight(anchorID, remoteID, meters)
	}
}

// RecordAnchorPosition stores an anchor's reported position and signal
// metrics.
func (r *Recorder) RecordAnchorPosition(anchorID uint8, pos tdoa3.Point, snr, powerDiff float64) {
	r.mu.Lock()
	a := r.anchor(anchorID)
	a.Position = pos
	a.HasPosition = true
	a.ReportedSNR = snr
	a.ReportedPowerDiff = powerDiff
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.observeAnchorSignal(anchorID, snr, powerDiff)
	}
}

// RecordDistanceDiff stores a calibrated distance difference for an anchor
// pair and feeds its rolling summary.
func (r *Recorder) RecordDistanceDiff(idA, idB uint8, distanceDiff float64) {
	r.mu.Lock()
	r.pair(idA, idB).pushDiff(distanceDiff)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.observeDistanceDiff(idA, idB, distanceDiff)
	}
}

// Snapshot returns a deep copy of the current telemetry, pairs sorted by
// (A, B).
func (r *Recorder) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Anchors: make(map[uint8]AnchorTelemetry, len(r.anchors)),
		Pairs:   make([]PairTelemetry, 0, len(r.pairs)),
	}
	for id, a := range r.anchors {
		snap.Anchors[id] = *a
	}
	for key, p := range r.pairs {
		pt := PairTelemetry{
			A:                  key.a,
			B:                  key.b,
			TimeOfFlightMeters: p.tofMeters,
			DistanceDiff:       p.distanceDiff,
			Samples:            len(p.window),
		}
		if len(p.window) > 1 {
			mean, std := stat.MeanStdDev(p.window, nil)
			pt.MeanDistanceDiff = mean
			pt.StdDevDistanceDiff = std
		} else if len(p.window) == 1 {
			pt.MeanDistanceDiff = p.window[0]
		}
		snap.Pairs = append(snap.Pairs, pt)
	}
	sort.Slice(snap.Pairs, func(i, j int) bool {
		if snap.Pairs[i].A != snap.Pairs[j].A {
			return snap.Pairs[i].A < snap.Pairs[j].A
		}
		return snap.Pairs[i].B < snap.Pairs[j].B
	})
	return snap
}
