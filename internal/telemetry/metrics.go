package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/uwbtools/tdoatag/internal/tdoa3"
)

// Metrics holds the Prometheus collectors mirroring the recorder state.
type Metrics struct {
	linkSNR       *prometheus.GaugeVec
	linkPowerDiff *prometheus.GaugeVec

	anchorSNR       *prometheus.GaugeVec
	anchorPowerDiff *prometheus.GaugeVec

	timeOfFlight *prometheus.GaugeVec
	distanceDiff *prometheus.GaugeVec

	tofSamplesTotal   prometheus.Counter
	measurementsTotal prometheus.Counter
}

// NewMetrics registers the telemetry collectors with reg. Passing nil uses
// the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		linkSNR: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tdoatag_link_snr",
			Help: "Local receive quality (first path amplitude over noise) per anchor",
		}, []string{"anchor"}),
		linkPowerDiff: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tdoatag_link_power_diff_dbm",
			Help: "Local RX power minus first path power per anchor",
		}, []string{"anchor"}),
		anchorSNR: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tdoatag_anchor_reported_snr",
			Help: "Receive quality the anchor reports for its own inbound traffic",
		}, []string{"anchor"}),
		anchorPowerDiff: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tdoatag_anchor_reported_power_diff_dbm",
			Help: "Power difference the anchor reports for its own inbound traffic",
		}, []string{"anchor"}),
		timeOfFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tdoatag_time_of_flight_meters",
			Help: "Anchor-to-anchor time of flight converted to meters",
		}, []string{"anchor", "remote"}),
		distanceDiff: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tdoatag_distance_diff_meters",
			Help: "Calibrated distance difference per anchor pair",
		}, []string{"anchor_a", "anchor_b"}),
		tofSamplesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tdoatag_tof_samples_total",
			Help: "Time-of-flight samples decoded from ranging packets",
		}),
		measurementsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tdoatag_measurements_total",
			Help: "Distance-difference measurements emitted by the engine",
		}),
	}
}

func anchorLabel(id uint8) string {
	return strconv.Itoa(int(id))
}

func (m *Metrics) observeLinkQuality(anchorID uint8, q tdoa3.SignalQuality) {
	label := anchorLabel(anchorID)
	m.linkSNR.WithLabelValues(label).Set(q.Quality)
	m.linkPowerDiff.WithLabelValues(label).Set(q.PowerDiff())
}

func (m *Metrics) observeAnchorSignal(anchorID uint8, snr, powerDiff float64) {
	label := anchorLabel(anchorID)
	m.anchorSNR.WithLabelValues(label).Set(snr)
	m.anchorPowerDiff.WithLabelValues(label).Set(powerDiff)
}

func (m *Metrics) observeTimeOfFlight(anchorID, remoteID uint8, meters float64) {
	m.timeOfFlight.WithLabelValues(anchorLabel(anchorID), anchorLabel(remoteID)).Set(meters)
	m.tofSamplesTotal.Inc()
}

func (m *Metrics) observeDistanceDiff(idA, idB uint8, distanceDiff float64) {
	m.distanceDiff.WithLabelValues(anchorLabel(idA), anchorLabel(idB)).Set(distanceDiff)
	m.measurementsTotal.Inc()
}
