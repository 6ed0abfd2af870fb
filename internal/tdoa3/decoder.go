package tdoa3

// Decoder applies the remote-anchor records of a ranging payload to an
// anchor context.
type Decoder struct {
	telemetry TelemetrySink
}

// NewDecoder creates a decoder reporting diagnostics to sink. A nil sink
// discards them.
func NewDecoder(sink TelemetrySink) *Decoder {
	if sink == nil {
		sink = NopTelemetry{}
	}
	return &Decoder{telemetry: sink}
}

func isValidTimestamp(t int64) bool {
	return t != 0
}

// UpdateRemoteData walks the remote-anchor records in payload, updating the
// context's per-remote timestamp table and time-of-flight estimates, and
// returns the byte length consumed by the header plus all records.
//
// The whole payload is validated before any context mutation: a declared
// record count that would read past the captured payload returns an error
// with the context untouched. Zero timestamps and zero distances mean "not
// available" and are discarded without affecting the rest of the packet.
func (d *Decoder) UpdateRemoteData(ctx AnchorContext, payload []byte) (int, error) {
	_, records, consumed, err := ParseRanging(payload)
	if err != nil {
		return 0, err
	}

	for _, rec := range records {
		if isValidTimestamp(int64(rec.RxTimestamp)) {
			ctx.SetRemoteRxTime(rec.ID, int64(rec.RxTimestamp), rec.Seq)
		}

		if rec.HasDistance {
			// Widened without interpretation; zero is "no measurement",
			// never a valid zero-length distance.
			tof := int64(rec.Distance)
			if isValidTimestamp(tof) {
				ctx.SetTimeOfFlight(rec.ID, tof)
				d.telemetry.RecordTimeOfFlight(ctx.ID(), rec.ID, TicksToMeters(tof))
			}
		}
	}

	return consumed, nil
}
