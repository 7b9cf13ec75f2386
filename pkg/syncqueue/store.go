// Package syncqueue buffers finished measurements in a local SQLite database
// and retries uploading them to the backend until confirmed persisted.
package syncqueue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/giesencoffeeroasters/btanalyzer/pkg/analyzer"
)

// Store wraps the SQLite measurement history
type Store struct {
	conn *sql.DB
}

// OpenStore opens or creates the local measurement database
func OpenStore(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open measurement database: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to migrate measurement database: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS measurements (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		taken_at DATETIME NOT NULL,
		payload TEXT NOT NULL,
		link_type TEXT,
		link_id TEXT,
		synced_at DATETIME,
		attempts INTEGER DEFAULT 0,
		last_error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_measurements_synced ON measurements(synced_at);
	CREATE INDEX IF NOT EXISTS idx_measurements_taken ON measurements(taken_at);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// Insert stores a finished measurement in the local history. A nil SyncedAt
// makes it part of the pending set.
func (s *Store) Insert(m analyzer.Measurement) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode measurement `%s`: %w", m.ID, err)
	}

	var linkType, linkID interface{}
	if m.Link != nil {
		linkType, linkID = string(m.Link.Type), m.Link.ID
	}

	_, err = s.conn.Exec(`
		INSERT INTO measurements (id, device_id, taken_at, payload, link_type, link_id, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.DeviceID, m.TakenAt, string(payload), linkType, linkID, m.SyncedAt,
	)
	return err
}

// Pending returns all measurements not yet confirmed persisted, oldest first
func (s *Store) Pending() ([]analyzer.Measurement, error) {
	rows, err := s.conn.Query(`
		SELECT payload FROM measurements
		WHERE synced_at IS NULL
		ORDER BY taken_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMeasurements(rows)
}

// History returns the most recent measurements, synced or not
func (s *Store) History(limit int) ([]analyzer.Measurement, error) {
	rows, err := s.conn.Query(`
		SELECT payload, synced_at FROM measurements
		ORDER BY taken_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []analyzer.Measurement
	for rows.Next() {
		var payload string
		var syncedAt sql.NullTime
		if err := rows.Scan(&payload, &syncedAt); err != nil {
			return nil, err
		}

		var m analyzer.Measurement
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, fmt.Errorf("failed to decode stored measurement: %w", err)
		}
		if syncedAt.Valid {
			t := syncedAt.Time
			m.SyncedAt = &t
		}
		out = append(out, m)
	}

	return out, rows.Err()
}

// MarkSynced stamps the given measurements as confirmed persisted
func (s *Store) MarkSynced(ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, at)
	for _, id := range ids {
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		UPDATE measurements SET synced_at = ?, last_error = NULL
		WHERE id IN (%s)`, placeholders(len(ids)))

	_, err := s.conn.Exec(query, args...)
	return err
}

// SetLink records the external entity a measurement is attached to
func (s *Store) SetLink(id string, link analyzer.Link) error {
	res, err := s.conn.Exec(`
		UPDATE measurements SET link_type = ?, link_id = ?
		WHERE id = ?`, string(link.Type), link.ID, id)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("measurement `%s` not found", id)
	}
	return err
}

// RecordAttempt bumps the attempt counter on all pending entries and keeps
// the last upload error for diagnostics
func (s *Store) RecordAttempt(uploadErr error) error {
	_, err := s.conn.Exec(`
		UPDATE measurements SET attempts = attempts + 1, last_error = ?
		WHERE synced_at IS NULL`, uploadErr.Error())
	return err
}

func scanMeasurements(rows *sql.Rows) ([]analyzer.Measurement, error) {
	var out []analyzer.Measurement
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}

		var m analyzer.Measurement
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, fmt.Errorf("failed to decode stored measurement: %w", err)
		}
		out = append(out, m)
	}

	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
