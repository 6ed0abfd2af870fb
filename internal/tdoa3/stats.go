package tdoa3

import (
	"sync"
	"time"
)

// DefaultStatsInterval is how often packet rates are recomputed.
const DefaultStatsInterval = 2 * time.Second

// Stats tracks packet counters for the tag and derives per-second rates on
// a fixed interval. Counters are updated on the event loop; Snapshot may be
// called concurrently by reporting paths.
type Stats struct {
	mu       sync.Mutex
	interval time.Duration

	received    uint64
	processed   uint64
	malformed   uint64
	transmitted uint64

	lastUpdate    time.Time
	lastReceived  uint64
	lastProcessed uint64
	receiveRate   float64
	processRate   float64
}

// StatsSnapshot is a point-in-time copy of the tag counters.
type StatsSnapshot struct {
	PacketsReceived    uint64  `json:"packets_received"`
	PacketsProcessed   uint64  `json:"packets_processed"`
	PacketsMalformed   uint64  `json:"packets_malformed"`
	PacketsTransmitted uint64  `json:"packets_transmitted"`
	ReceiveRate        float64 `json:"receive_rate"`
	ProcessRate        float64 `json:"process_rate"`
}

// NewStats creates a Stats with the given rate interval; zero or negative
// selects DefaultStatsInterval.
func NewStats(interval time.Duration) *Stats {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	return &Stats{interval: interval}
}

// CountReceived counts a radio frame delivered by the driver.
func (s *Stats) CountReceived() {
	s.mu.Lock()
	s.received++
	s.mu.Unlock()
}

// CountProcessed counts a well-formed TDOA3 packet that was fully decoded.
func (s *Stats) CountProcessed() {
	s.mu.Lock()
	s.processed++
	s.mu.Unlock()
}

// CountMalformed counts a frame dropped by a decode failure.
func (s *Stats) CountMalformed() {
	s.mu.Lock()
	s.malformed++
	s.mu.Unlock()
}

// CountTransmitted counts an outgoing packet handed to the radio.
func (s *Stats) CountTransmitted() {
	s.mu.Lock()
	s.transmitted++
	s.mu.Unlock()
}

// Update recomputes the per-second rates if the interval has elapsed. It is
// called after every radio event.
func (s *Stats) Update(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastUpdate.IsZero() {
		s.lastUpdate = now
		s.lastReceived = s.received
		s.lastProcessed = s.processed
		return
	}

	elapsed := now.Sub(s.lastUpdate)
	if elapsed < s.interval {
		return
	}

	seconds := elapsed.Seconds()
	s.receiveRate = float64(s.received-s.lastReceived) / seconds
	s.processRate = float64(s.processed-s.lastProcessed) / seconds
	s.lastUpdate = now
	s.lastReceived = s.received
	s.lastProcessed = s.processed
}

// Snapshot returns a copy of the current counters and rates.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		PacketsReceived:    s.received,
		PacketsProcessed:   s.processed,
		PacketsMalformed:   s.malformed,
		PacketsTransmitted: s.transmitted,
		ReceiveRate:        s.receiveRate,
		ProcessRate:        s.processRate,
	}
}
