package tdoa3

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsRates(t *testing.T) {
	s := NewStats(2 * time.Second)
	base := time.Unix(1000, 0)

	s.Update(base) // establishes the baseline

	for i := 0; i < 20; i++ {
		s.CountReceived()
	}
	for i := 0; i < 16; i++ {
		s.CountProcessed()
	}
	s.CountMalformed()

	s.Update(base.Add(time.Second))
	assert.Zero(t, s.Snapshot().ReceiveRate, "interval not yet elapsed")

	s.Update(base.Add(2 * time.Second))
	snap := s.Snapshot()
	assert.InDelta(t, 10.0, snap.ReceiveRate, 1e-9)
	assert.InDelta(t, 8.0, snap.ProcessRate, 1e-9)
	assert.Equal(t, uint64(20), snap.PacketsReceived)
	assert.Equal(t, uint64(16), snap.PacketsProcessed)
	assert.Equal(t, uint64(1), snap.PacketsMalformed)

	// A quiet interval decays the rates to zero.
	s.Update(base.Add(4 * time.Second))
	snap = s.Snapshot()
	assert.Zero(t, snap.ReceiveRate)
	assert.Zero(t, snap.ProcessRate)
}

func TestStatsDefaultInterval(t *testing.T) {
	s := NewStats(0)
	assert.Equal(t, DefaultStatsInterval, s.interval)
}
