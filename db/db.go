// Package db persists decoded ranging data to sqlite: distance-difference
// measurements, diagnostic time-of-flight samples and anchor positions,
// grouped under a per-run session id.
package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/uwbtools/tdoatag/internal/tdoa3"
)

type DB struct {
	*sql.DB
	sessionID string
}

// NewDB opens (creating if needed) the database at path and starts a new
// session.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = sqlDB.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS measurements (
			session_id TEXT,
			anchor_a INTEGER,
			anchor_b INTEGER,
			distance_diff DOUBLE,
			measured_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);
		CREATE TABLE IF NOT EXISTS tof_samples (
			session_id TEXT,
			anchor INTEGER,
			remote INTEGER,
			meters DOUBLE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);
		CREATE TABLE IF NOT EXISTS anchor_positions (
			session_id TEXT,
			anchor INTEGER,
			x DOUBLE, y DOUBLE, z DOUBLE,
			snr DOUBLE,
			power_diff DOUBLE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);
	`)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	sessionID := uuid.NewString()
	if _, err := sqlDB.Exec("INSERT INTO sessions (session_id) VALUES (?)", sessionID); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("starting session: %w", err)
	}

	return &DB{DB: sqlDB, sessionID: sessionID}, nil
}

// SessionID returns the id of this run's session.
func (db *DB) SessionID() string {
	return db.sessionID
}

// RecordMeasurement stores an emitted distance-difference measurement.
func (db *DB) RecordMeasurement(m tdoa3.Measurement) error {
	_, err := db.Exec(
		"INSERT INTO measurements (session_id, anchor_a, anchor_b, distance_diff, measured_at) VALUES (?, ?, ?, ?, ?)",
		db.sessionID, m.AnchorIDs[0], m.AnchorIDs[1], m.DistanceDiff, m.Timestamp,
	)
	return err
}

// RecordTimeOfFlight stores a diagnostic anchor-to-anchor distance.
func (db *DB) RecordTimeOfFlight(anchor, remote uint8, meters float64) error {
	_, err := db.Exec(
		"INSERT INTO tof_samples (session_id, anchor, remote, meters) VALUES (?, ?, ?, ?)",
		db.sessionID, anchor, remote, meters,
	)
	return err
}

// RecordAnchorPosition stores a position reported by an anchor over LPP.
func (db *DB) RecordAnchorPosition(anchor uint8, p tdoa3.Point, snr, powerDiff float64) error {
	_, err := db.Exec(
		"INSERT INTO anchor_positions (session_id, anchor, x, y, z, snr, power_diff) VALUES (?, ?, ?, ?, ?, ?, ?)",
		db.sessionID, anchor, p.X, p.Y, p.Z, snr, powerDiff,
	)
	return err
}

// MeasurementRow is one stored measurement.
type MeasurementRow struct {
	AnchorA      uint8     `json:"anchor_a"`
	AnchorB      uint8     `json:"anchor_b"`
	DistanceDiff float64   `json:"distance_diff"`
	MeasuredAt   time.Time `json:"measured_at"`
}

// RecentMeasurements returns the newest measurements of this session.
func (db *DB) RecentMeasurements(limit int) ([]MeasurementRow, error) {
	rows, err := db.Query(
		"SELECT anchor_a, anchor_b, distance_diff, measured_at FROM measurements WHERE session_id = ? ORDER BY created_at DESC LIMIT ?",
		db.sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MeasurementRow
	for rows.Next() {
		var m MeasurementRow
		if err := rows.Scan(&m.AnchorA, &m.AnchorB, &m.DistanceDiff, &m.MeasuredAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PositionRow is one stored anchor position report.
type PositionRow struct {
	Anchor    uint8       `json:"anchor"`
	Position  tdoa3.Point `json:"position"`
	SNR       float64     `json:"snr"`
	PowerDiff float64     `json:"power_diff"`
}

// LatestAnchorPositions returns the most recent position stored for each
// anchor in this session.
func (db *DB) LatestAnchorPositions() ([]PositionRow, error) {
	rows, err := db.Query(`
		SELECT anchor, x, y, z, snr, power_diff FROM anchor_positions
		WHERE session_id = ? AND rowid IN (
			SELECT MAX(rowid) FROM anchor_positions WHERE session_id = ? GROUP BY anchor
		)
		ORDER BY anchor`,
		db.sessionID, db.sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PositionRow
	for rows.Next() {
		var p PositionRow
		if err := rows.Scan(&p.Anchor, &p.Position.X, &p.Position.Y, &p.Position.Z, &p.SNR, &p.PowerDiff); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
