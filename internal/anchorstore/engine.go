package anchorstore

import (
	"time"

	"github.com/uwbtools/tdoatag/internal/tdoa3"
)

// ProcessFunc resolves the clock offset between an anchor and the tag from
// one reception's timestamp pair and emits any resulting measurements. The
// real implementation lives in the external tracking engine.
type ProcessFunc func(ctx *Context, anchorTxTime, localRxTime int64, emit func(tdoa3.Measurement))

// Engine adapts a Store to the decoder's engine contract. Without a
// Process function it runs in storage-only mode: contexts are maintained
// and telemetry flows, but no measurements are produced.
type Engine struct {
	store *Store

	// Process performs clock-offset resolution. Optional.
	Process ProcessFunc

	// OnMeasurement receives measurements emitted by Process. Optional.
	OnMeasurement func(tdoa3.Measurement)
}

// NewEngine wraps a store.
func NewEngine(store *Store) *Engine {
	return &Engine{store: store}
}

// Store returns the underlying context store.
func (e *Engine) Store() *Store {
	return e.store
}

// ContextForPacket fetches or creates the anchor's context.
func (e *Engine) ContextForPacket(anchorID uint8, now time.Time) tdoa3.AnchorContext {
	return e.store.ContextForPacket(anchorID, now)
}

// ProcessPacket runs the configured process function for one reception.
func (e *Engine) ProcessPacket(ctx tdoa3.AnchorContext, anchorTxTime, localRxTime int64) {
	if e.Process == nil {
		return
	}
	storeCtx, ok := ctx.(*Context)
	if !ok {
		return
	}
	e.Process(storeCtx, anchorTxTime, localRxTime, func(m tdoa3.Measurement) {
		if e.OnMeasurement != nil {
			e.OnMeasurement(m)
		}
	})
}
