package radio

import (
	"context"
	"time"
)

// Replay feeds fixture frames through a mock radio at a fixed interval,
// looping over the fixture set. It stands in for real anchor traffic in dev
// mode.
type Replay struct {
	*Mock
	frames   [][]byte
	interval time.Duration
}

// replayTickStep approximates the radio-tick delta between replayed frames.
const replayTickStep = 10000

// NewReplay creates a replay radio over the given raw frames.
func NewReplay(frames [][]byte, interval time.Duration) *Replay {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Replay{
		Mock:     NewMock(),
		frames:   frames,
		interval: interval,
	}
}

// Run delivers frames until ctx is cancelled.
func (r *Replay) Run(ctx context.Context) error {
	defer r.CloseEvents()

	if len(r.frames) == 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var tick int64
	for i := 0; ; i = (i + 1) % len(r.frames) {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tick += replayTickStep
			r.DeliverFrame(r.frames[i], tick, r.SignalQuality())
		}
	}
}
