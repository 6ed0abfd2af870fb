package main

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uwbtools/tdoatag/db"
	"github.com/uwbtools/tdoatag/internal/anchorstore"
	"github.com/uwbtools/tdoatag/internal/monitoring"
	"github.com/uwbtools/tdoatag/internal/tdoa3"
	"github.com/uwbtools/tdoatag/internal/telemetry"
	"github.com/uwbtools/tdoatag/internal/timeutil"
)

// Server exposes the tag's state over HTTP: anchor inventory, telemetry,
// packet counters and an endpoint to queue LPP configuration packets toward
// anchors.
type Server struct {
	store    *anchorstore.Store
	recorder *telemetry.Recorder
	tag      *tdoa3.Tag
	sessions *db.DB // may be nil
	outgoing chan<- tdoa3.OutgoingPacket
	registry *prometheus.Registry
	clock    timeutil.Clock

	startedAt time.Time
}

func newServer(store *anchorstore.Store, recorder *telemetry.Recorder, tag *tdoa3.Tag,
	sessions *db.DB, outgoing chan<- tdoa3.OutgoingPacket, registry *prometheus.Registry,
	clock timeutil.Clock) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{
		store:     store,
		recorder:  recorder,
		tag:       tag,
		sessions:  sessions,
		outgoing:  outgoing,
		registry:  registry,
		clock:     clock,
		startedAt: clock.Now(),
	}
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/anchors", s.handleAnchors)
	mux.HandleFunc("GET /api/anchors/active", s.handleActiveAnchors)
	mux.HandleFunc("GET /api/telemetry", s.handleTelemetry)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/measurements", s.handleMeasurements)
	mux.HandleFunc("POST /api/lpp", s.handleLPP)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("http: writing response: %v", err)
	}
}

type anchorEntry struct {
	ID          uint8        `json:"id"`
	Position    *tdoa3.Point `json:"position,omitempty"`
	HasPosition bool         `json:"has_position"`
}

func (s *Server) anchorEntries(ids []uint8) []anchorEntry {
	entries := make([]anchorEntry, 0, len(ids))
	for _, id := range ids {
		entry := anchorEntry{ID: id}
		if p, ok := s.store.AnchorPosition(id); ok {
			entry.Position = &p
			entry.HasPosition = true
		}
		entries = append(entries, entry)
	}
	return entries
}

func (s *Server) handleAnchors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.anchorEntries(s.store.AnchorIDs()))
}

func (s *Server) handleActiveAnchors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.anchorEntries(s.store.ActiveAnchorIDs(s.clock.Now())))
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.recorder.Snapshot())
}

type statusResponse struct {
	RangingOK bool                `json:"ranging_ok"`
	Anchors   int                 `json:"anchors"`
	Active    int                 `json:"active_anchors"`
	Uptime    string              `json:"uptime"`
	SessionID string              `json:"session_id,omitempty"`
	Stats     tdoa3.StatsSnapshot `json:"stats"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := s.clock.Now()
	resp := statusResponse{
		RangingOK: s.tag.RangingOK(),
		Anchors:   len(s.store.AnchorIDs()),
		Active:    len(s.store.ActiveAnchorIDs(now)),
		Uptime:    now.Sub(s.startedAt).Round(time.Second).String(),
		Stats:     s.tag.Stats().Snapshot(),
	}
	if s.sessions != nil {
		resp.SessionID = s.sessions.SessionID()
	}
	writeJSON(w, resp)
}

func (s *Server) handleMeasurements(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		http.Error(w, "measurement log disabled", http.StatusNotFound)
		return
	}
	rows, err := s.sessions.RecentMeasurements(100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rows)
}

type lppRequest struct {
	Dest uint8  `json:"dest"`
	Data string `json:"data"` // hex-encoded LPP payload, without the 0xf0 header
}

// handleLPP queues one LPP short packet for transmission. The queue holds a
// single packet; a full queue means the previous one has not gone out yet.
func (s *Server) handleLPP(w http.ResponseWriter, r *http.Request) {
	var req lppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	data, err := hex.DecodeString(req.Data)
	if err != nil {
		http.Error(w, "data must be hex encoded", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "empty LPP payload", http.StatusBadRequest)
		return
	}

	select {
	case s.outgoing <- tdoa3.OutgoingPacket{Dest: req.Dest, Data: data}:
		w.WriteHeader(http.StatusAccepted)
	default:
		http.Error(w, "transmit queue full", http.StatusServiceUnavailable)
	}
}
