package tdoa3

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/uwbtools/tdoatag/internal/mac"
	"github.com/uwbtools/tdoatag/internal/monitoring"
	"github.com/uwbtools/tdoatag/internal/timeutil"
)

// MaxTimeout is the "no software timeout" sentinel returned by OnEvent: the
// event cycle relies on the radio's hardware receive timeout instead.
const MaxTimeout = time.Duration(math.MaxInt64)

// ReceiveWaitTimeout is the hardware receive timeout programmed at init.
const ReceiveWaitTimeout = 10 * time.Millisecond

// heightStdDev is the standard deviation reported with the fixed height in
// planar mode.
const heightStdDev = 0.0001

// Config assembles a Tag's collaborators.
type Config struct {
	Radio  Radio
	Engine Engine

	// Estimator receives measurements emitted by the engine. Optional.
	Estimator Estimator

	// Telemetry receives diagnostic values. Optional.
	Telemetry TelemetrySink

	// Outgoing is the single-slot queue of LPP packets to piggyback onto
	// gaps between anchor broadcasts. Optional; make it with capacity 1.
	Outgoing <-chan OutgoingPacket

	// Clock defaults to the real clock.
	Clock timeutil.Clock

	// Height2D, when set, enables planar operation: the tag is assumed to
	// stay at this height (meters) and an absolute-height measurement is
	// enqueued alongside every distance difference.
	Height2D *float64
}

// Tag is the TDOA3 receive pipeline and radio event state machine. All
// methods except the read accessors must be called from the event loop.
type Tag struct {
	radio     Radio
	engine    Engine
	estimator Estimator
	telemetry TelemetrySink
	outgoing  <-chan OutgoingPacket
	clock     timeutil.Clock
	height2D  *float64

	decoder *Decoder
	stats   *Stats

	// rangingOK latches true on the first fully decoded TDOA3 packet and
	// never resets: it reports "ranging has worked", not current health.
	rangingOK atomic.Bool

	txSeq uint8
}

// NewTag validates cfg and assembles a tag.
func NewTag(cfg Config) (*Tag, error) {
	if cfg.Radio == nil {
		return nil, errors.New("tdoa3: config needs a radio")
	}
	if cfg.Engine == nil {
		return nil, errors.New("tdoa3: config needs an engine")
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = NopTelemetry{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Tag{
		radio:     cfg.Radio,
		engine:    cfg.Engine,
		estimator: cfg.Estimator,
		telemetry: cfg.Telemetry,
		outgoing:  cfg.Outgoing,
		clock:     cfg.Clock,
		height2D:  cfg.Height2D,
		decoder:   NewDecoder(cfg.Telemetry),
		stats:     NewStats(DefaultStatsInterval),
	}, nil
}

// Init programs the radio defaults. It must run before the first event.
func (t *Tag) Init() error {
	if err := t.radio.SetReceiveWaitTimeout(ReceiveWaitTimeout); err != nil {
		return fmt.Errorf("tdoa3: set receive timeout: %w", err)
	}
	if err := t.radio.CommitConfiguration(); err != nil {
		return fmt.Errorf("tdoa3: commit radio configuration: %w", err)
	}
	t.rangingOK.Store(false)
	return nil
}

// OnEvent advances the state machine for one radio event and returns the
// requested software timeout until the next wake-up. After every event the
// outgoing queue is checked so configuration packets get bounded latency
// even during long full-receive stretches; if nothing is queued the
// receiver is re-armed, except after EventPacketSent where the hardware
// re-arms receive on its own.
//
// An event outside the defined set is a contract violation with the radio
// driver and panics.
func (t *Tag) OnEvent(ev EventKind) time.Duration {
	switch ev {
	case EventPacketReceived:
		t.stats.CountReceived()
		t.handleReceivedFrame()
	case EventTimeout:
	case EventReceiveTimeout:
	case EventPacketSent:
	default:
		panic(fmt.Sprintf("tdoa3: event %d outside the radio driver contract", ev))
	}

	if !t.sendQueuedPacket() && ev != EventPacketSent {
		t.startReceive()
	}

	t.stats.Update(t.clock.Now())
	return MaxTimeout
}

// Run drives the state machine from the radio's event channel until ctx is
// cancelled. A finite timeout returned by OnEvent is delivered back as an
// EventTimeout if no radio event arrives first.
func (t *Tag) Run(ctx context.Context) error {
	if err := t.Init(); err != nil {
		return err
	}

	// Prime the cycle: arms the receiver or flushes a queued packet.
	timeout := t.OnEvent(EventTimeout)

	for {
		var timer timeutil.Timer
		var timerC <-chan time.Time
		if timeout != MaxTimeout {
			timer = t.clock.NewTimer(timeout)
			timerC = timer.C()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case ev, ok := <-t.radio.Events():
			if timer != nil {
				timer.Stop()
			}
			if !ok {
				return errors.New("tdoa3: radio event channel closed")
			}
			timeout = t.OnEvent(ev)
		case <-timerC:
			timeout = t.OnEvent(EventTimeout)
		}
	}
}

// handleReceivedFrame is the receive pipeline: resolve the source anchor,
// fetch its context, walk the ranging records, hand the timestamp pair to
// the engine, commit this reception's own rx/tx data and finally decode any
// trailing LPP record. The order matters: the engine's clock-offset
// computation depends on the record walk, and the LPP offset depends on the
// consumed length.
func (t *Tag) handleReceivedFrame() {
	raw, err := t.radio.ReceivedFrame()
	if err != nil {
		monitoring.Logf("tdoa3: reading received frame: %v", err)
		return
	}

	frame, err := mac.Decode(raw)
	if err != nil {
		t.stats.CountMalformed()
		monitoring.Logf("tdoa3: dropping frame: %v", err)
		return
	}

	payload := frame.Payload
	if len(payload) == 0 || payload[0] != PacketTypeTDOA3 {
		// Not ours. Other protocols share the channel; ignoring them is
		// not an error.
		return
	}
	if len(payload) < HeaderLength {
		t.stats.CountMalformed()
		return
	}

	anchorID := frame.SourceID()
	t.telemetry.RecordLinkQuality(anchorID, t.radio.SignalQuality())

	arrival, err := t.radio.ReceiveTimestamp()
	if err != nil {
		monitoring.Logf("tdoa3: reading receive timestamp: %v", err)
		return
	}

	txTimestamp := int64(binary.LittleEndian.Uint32(payload[2:6]))
	seq := payload[1] & seqMask

	ctx := t.engine.ContextForPacket(anchorID, t.clock.Now())

	consumed, err := t.decoder.UpdateRemoteData(ctx, payload)
	if err != nil {
		t.stats.CountMalformed()
		monitoring.Logf("tdoa3: dropping malformed ranging packet from anchor %d: %v", anchorID, err)
		return
	}

	t.engine.ProcessPacket(ctx, txTimestamp, arrival)
	ctx.SetRxTxData(arrival, txTimestamp, seq)

	t.handleLPP(payload[consumed:], ctx, anchorID)

	t.stats.CountProcessed()
	t.rangingOK.Store(true)
}

// sendQueuedPacket dequeues at most one outgoing LPP packet and transmits
// it, reporting whether the radio was left in transmit mode.
func (t *Tag) sendQueuedPacket() bool {
	select {
	case p := <-t.outgoing:
		if err := t.transmitLPP(p); err != nil {
			monitoring.Logf("tdoa3: transmitting LPP packet to anchor %d: %v", p.Dest, err)
			return false
		}
		t.stats.CountTransmitted()
		return true
	default:
		return false
	}
}

func (t *Tag) transmitLPP(p OutgoingPacket) error {
	frame := mac.NewDataFrame(p.Dest)
	frame.Seq = t.txSeq
	t.txSeq++

	frame.Payload = make([]byte, 1+len(p.Data))
	frame.Payload[0] = LPPHeaderShortPacket
	copy(frame.Payload[1:], p.Data)

	return t.radio.Transmit(frame.Encode())
}

func (t *Tag) startReceive() {
	if err := t.radio.StartReceive(); err != nil {
		monitoring.Logf("tdoa3: arming receiver: %v", err)
	}
}

// RangingOK reports whether at least one well-formed TDOA3 packet has ever
// been decoded. The latch is monotonic by design; it does not reflect
// current link quality.
func (t *Tag) RangingOK() bool {
	return t.rangingOK.Load()
}

// HandleMeasurement is the measurement callback to configure on the engine.
// It forwards to the estimator and telemetry, and in planar mode also
// enqueues the fixed operating height.
func (t *Tag) HandleMeasurement(m Measurement) {
	t.telemetry.RecordDistanceDiff(m.AnchorIDs[0], m.AnchorIDs[1], m.DistanceDiff)

	if t.estimator == nil {
		return
	}
	t.estimator.EnqueueDistanceDiff(m)

	if t.height2D != nil {
		t.estimator.EnqueueAbsoluteHeight(HeightMeasurement{
			Height:    *t.height2D,
			StdDev:    heightStdDev,
			Timestamp: t.clock.Now(),
		})
	}
}

// Stats exposes the tag's packet counters.
func (t *Tag) Stats() *Stats {
	return t.stats
}
