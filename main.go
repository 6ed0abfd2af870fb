// tdoatag receives TDOA3 ultra-wideband ranging traffic from a serial
// attached UWB module, maintains per-anchor state, and serves anchor
// inventory, telemetry and packet statistics over HTTP. Decoded
// measurements can be logged to sqlite and published over MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/uwbtools/tdoatag/db"
	"github.com/uwbtools/tdoatag/internal/anchorstore"
	"github.com/uwbtools/tdoatag/internal/monitoring"
	"github.com/uwbtools/tdoatag/internal/radio"
	"github.com/uwbtools/tdoatag/internal/tdoa3"
	"github.com/uwbtools/tdoatag/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	serialPort := flag.String("serial", "", "serial device of the UWB module (overrides config)")
	dbPath := flag.String("db", "", "sqlite session log path (overrides config)")
	dev := flag.Bool("dev", false, "replay synthetic anchor traffic instead of opening a serial port")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *serialPort != "" {
		cfg.SerialPort = *serialPort
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	if err := run(cfg, *dev); err != nil {
		log.Fatal(err)
	}
}

func run(cfg Config, dev bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	recorder := telemetry.NewRecorder(telemetry.NewMetrics(registry))

	var sessions *db.DB
	if cfg.DBPath != "" {
		var err error
		sessions, err = db.NewDB(cfg.DBPath)
		if err != nil {
			return err
		}
		defer sessions.Close()
		monitoring.Logf("session %s logging to %s", sessions.SessionID(), cfg.DBPath)
	}

	publisher, err := NewPublisher(cfg.MQTT)
	if err != nil {
		return err
	}
	defer publisher.Close()

	var sink tdoa3.TelemetrySink = recorder
	if sessions != nil {
		sink = telemetryFanout{recorder, &dbSink{sessions: sessions}}
	}

	var storeOpts []anchorstore.Option
	if cfg.AnchorCapacity > 0 {
		storeOpts = append(storeOpts, anchorstore.WithCapacity(cfg.AnchorCapacity))
	}
	store := anchorstore.New(storeOpts...)
	engine := anchorstore.NewEngine(store)

	var rad tdoa3.Radio
	var runRadio func(context.Context) error
	if dev {
		monitoring.Logf("dev mode: replaying synthetic anchor traffic")
		replay := radio.NewReplay(replayFrames(), 50*time.Millisecond)
		rad = replay
		runRadio = replay.Run
	} else {
		serialRadio, err := radio.Open(cfg.SerialPort, cfg.BaudRate)
		if err != nil {
			return err
		}
		defer serialRadio.Close()
		rad = serialRadio
		runRadio = serialRadio.Monitor
	}

	// Single-slot transmit queue shared between the HTTP handler and the
	// radio event cycle.
	outgoing := make(chan tdoa3.OutgoingPacket, 1)

	tag, err := tdoa3.NewTag(tdoa3.Config{
		Radio:     rad,
		Engine:    engine,
		Estimator: &measurementLog{sessions: sessions, publisher: publisher},
		Telemetry: sink,
		Outgoing:  outgoing,
		Height2D:  cfg.Height2D,
	})
	if err != nil {
		return err
	}
	engine.OnMeasurement = tag.HandleMeasurement

	server := newServer(store, recorder, tag, sessions, outgoing, registry, nil)
	httpServer := &http.Server{Addr: cfg.Listen, Handler: server.handler()}

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runRadio(ctx); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := tag.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitoring.Logf("listening on %s", cfg.Listen)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		monitoring.Logf("shutting down")
	case runErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("http shutdown: %v", err)
	}

	wg.Wait()
	return runErr
}

// measurementLog receives measurements from the event loop and fans them out
// to the session log and the MQTT publisher.
type measurementLog struct {
	sessions  *db.DB // may be nil
	publisher *Publisher
}

func (l *measurementLog) EnqueueDistanceDiff(m tdoa3.Measurement) {
	if l.sessions != nil {
		if err := l.sessions.RecordMeasurement(m); err != nil {
			monitoring.Logf("recording measurement: %v", err)
		}
	}
	l.publisher.PublishMeasurement(m)
}

func (l *measurementLog) EnqueueAbsoluteHeight(tdoa3.HeightMeasurement) {
	// The fixed height is a constant configured locally; nothing to log.
}

// telemetryFanout forwards telemetry to every sink in order.
type telemetryFanout []tdoa3.TelemetrySink

func (f telemetryFanout) RecordLinkQuality(anchorID uint8, q tdoa3.SignalQuality) {
	for _, s := range f {
		s.RecordLinkQuality(anchorID, q)
	}
}

func (f telemetryFanout) RecordTimeOfFlight(anchorID, remoteID uint8, meters float64) {
	for _, s := range f {
		s.RecordTimeOfFlight(anchorID, remoteID, meters)
	}
}

func (f telemetryFanout) RecordAnchorPosition(anchorID uint8, p tdoa3.Point, snr, powerDiff float64) {
	for _, s := range f {
		s.RecordAnchorPosition(anchorID, p, snr, powerDiff)
	}
}

func (f telemetryFanout) RecordDistanceDiff(idA, idB uint8, distanceDiff float64) {
	for _, s := range f {
		s.RecordDistanceDiff(idA, idB, distanceDiff)
	}
}

// dbSink persists the durable subset of telemetry: time-of-flight samples
// and anchor position reports. Link quality and distance diffs are covered
// by the metrics endpoint and the measurements table.
type dbSink struct {
	sessions *db.DB
}

func (s *dbSink) RecordLinkQuality(uint8, tdoa3.SignalQuality) {}

func (s *dbSink) RecordTimeOfFlight(anchorID, remoteID uint8, meters float64) {
	if err := s.sessions.RecordTimeOfFlight(anchorID, remoteID, meters); err != nil {
		monitoring.Logf("recording time of flight: %v", err)
	}
}

func (s *dbSink) RecordAnchorPosition(anchorID uint8, p tdoa3.Point, snr, powerDiff float64) {
	if err := s.sessions.RecordAnchorPosition(anchorID, p, snr, powerDiff); err != nil {
		monitoring.Logf("recording anchor position: %v", err)
	}
}

func (s *dbSink) RecordDistanceDiff(uint8, uint8, float64) {}
