// Package anchorstore keeps the per-anchor rolling state consumed by the
// TDOA3 decoder: remote receive timestamps, time-of-flight estimates,
// positions and the anchor's own rx/tx pair. It implements the storage side
// of the tracking engine's accessor contract; clock-offset resolution
// itself is pluggable.
package anchorstore

import (
	"sort"
	"sync"
	"time"

	"github.com/uwbtools/tdoatag/internal/tdoa3"
)

const (
	// DefaultCapacity bounds how many anchors are tracked at once. The tag
	// typically sees 5-20 anchors at any point in the covered volume.
	DefaultCapacity = 16

	// DefaultActiveWindow is how recently an anchor must have been heard to
	// count as active.
	DefaultActiveWindow = 2 * time.Second
)

type remoteData struct {
	rxTime int64
	seq    uint8
}

type anchorInfo struct {
	id          uint8
	position    tdoa3.Point
	hasPosition bool

	rxTime int64
	txTime int64
	seq    uint8

	remote map[uint8]remoteData
	tof    map[uint8]int64

	lastUpdate time.Time
}

// Store is a bounded in-memory anchor context store. Contexts are created
// lazily on first contact; when the store is full the least recently heard
// anchor is replaced. Safe for concurrent use by the event loop and
// reporting paths.
type Store struct {
	mu           sync.Mutex
	capacity     int
	activeWindow time.Duration
	anchors      map[uint8]*anchorInfo
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity bounds the number of tracked anchors.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithActiveWindow sets the recency window for ActiveAnchorIDs.
func WithActiveWindow(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.activeWindow = d
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		capacity:     DefaultCapacity,
		activeWindow: DefaultActiveWindow,
		anchors:      make(map[uint8]*anchorInfo),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ContextForPacket fetches or creates the context for an anchor and stamps
// its activity time.
func (s *Store) ContextForPacket(id uint8, now time.Time) *Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.anchors[id]
	if !ok {
		info = s.createLocked(id)
	}
	info.lastUpdate = now
	return &Context{store: s, info: info}
}

// Context returns the context for an anchor without creating one.
func (s *Store) Context(id uint8) (*Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.anchors[id]
	if !ok {
		return nil, false
	}
	return &Context{store: s, info: info}, true
}

// createLocked inserts a fresh context, evicting the least recently heard
// anchor if the store is full.
func (s *Store) createLocked(id uint8) *anchorInfo {
	if len(s.anchors) >= s.capacity {
		var oldest *anchorInfo
		for _, info := range s.anchors {
			if oldest == nil || info.lastUpdate.Before(oldest.lastUpdate) {
				oldest = info
			}
		}
		delete(s.anchors, oldest.id)
	}

	info := &anchorInfo{
		id:     id,
		remote: make(map[uint8]remoteData),
		tof:    make(map[uint8]int64),
	}
	s.anchors[id] = info
	return info
}

// AnchorIDs returns the ids of all tracked anchors, sorted.
func (s *Store) AnchorIDs() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint8, 0, len(s.anchors))
	for id := range s.anchors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ActiveAnchorIDs returns the ids of anchors heard within the active
// window, sorted.
func (s *Store) ActiveAnchorIDs(now time.Time) []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint8, 0, len(s.anchors))
	for id, info := range s.anchors {
		if now.Sub(info.lastUpdate) <= s.activeWindow {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AnchorPosition returns the last position reported by an anchor.
func (s *Store) AnchorPosition(id uint8) (tdoa3.Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.anchors[id]
	if !ok || !info.hasPosition {
		return tdoa3.Point{}, false
	}
	return info.position, true
}

// Context is a handle to one anchor's state. It satisfies the decoder's
// AnchorContext contract.
type Context struct {
	store *Store
	info  *anchorInfo
}

// ID returns the anchor id.
func (c *Context) ID() uint8 {
	return c.info.id
}

// SetRemoteRxTime records when this anchor received a packet from remoteID.
func (c *Context) SetRemoteRxTime(remoteID uint8, rxTime int64, seq uint8) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.info.remote[remoteID] = remoteData{rxTime: rxTime, seq: seq}
}

// RemoteRxTime returns the recorded receive time and sequence for remoteID.
func (c *Context) RemoteRxTime(remoteID uint8) (rxTime int64, seq uint8, ok bool) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	r, ok := c.info.remote[remoteID]
	return r.rxTime, r.seq, ok
}

// SetTimeOfFlight records the tick-domain time of flight to remoteID.
func (c *Context) SetTimeOfFlight(remoteID uint8, tof int64) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.info.tof[remoteID] = tof
}

// TimeOfFlight returns the recorded time of flight to remoteID.
func (c *Context) TimeOfFlight(remoteID uint8) (int64, bool) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	tof, ok := c.info.tof[remoteID]
	return tof, ok
}

// SetRxTxData commits the anchor's own rx/tx timestamp pair and sequence.
func (c *Context) SetRxTxData(rxTime, txTime int64, seq uint8) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.info.rxTime = rxTime
	c.info.txTime = txTime
	c.info.seq = seq
}

// RxTxData returns the anchor's own rx/tx timestamp pair and sequence.
func (c *Context) RxTxData() (rxTime, txTime int64, seq uint8) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.info.rxTime, c.info.txTime, c.info.seq
}

// SetPosition commits the anchor position.
func (c *Context) SetPosition(p tdoa3.Point) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.info.position = p
	c.info.hasPosition = true
}

// Position returns the anchor position, if one has been reported.
func (c *Context) Position() (tdoa3.Point, bool) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.info.position, c.info.hasPosition
}
