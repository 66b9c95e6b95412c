package store

import (
	"database/sql"
	"fmt"
	"time"
)

// AppendEvent records a new event with an auto-assigned sequence number.
// The sequence number is calculated within a transaction to avoid races.
func (db *DB) AppendEvent(provisioning string, eventType string, data []byte, at time.Time) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sequence, err := nextSequenceInTx(tx, provisioning)
	if err != nil {
		return err
	}

	if len(data) == 0 {
		data = []byte("{}")
	}

	query := `
		INSERT INTO events (provisioning, sequence, event_type, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := tx.Exec(query, provisioning, sequence, eventType, string(data), at.UTC()); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func nextSequenceInTx(tx *sql.Tx, provisioning string) (int, error) {
	query := `SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE provisioning = ?`

	var next int
	if err := tx.QueryRow(query, provisioning).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to get next sequence: %w", err)
	}
	return next, nil
}

// ListEvents returns all events for a provisioning in sequence order
func (db *DB) ListEvents(provisioning string) ([]*EventRecord, error) {
	return db.ListEventsSince(provisioning, 0)
}

// ListEventsSince returns the events with sequence > the given value.
// Used for incremental fetching by live views.
func (db *DB) ListEventsSince(provisioning string, sequence int) ([]*EventRecord, error) {
	query := `
		SELECT id, provisioning, sequence, event_type, payload_json, created_at
		FROM events
		WHERE provisioning = ? AND sequence > ?
		ORDER BY sequence
	`

	rows, err := db.conn.Query(query, provisioning, sequence)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var records []*EventRecord
	for rows.Next() {
		r := &EventRecord{}
		err := rows.Scan(
			&r.ID,
			&r.Provisioning,
			&r.Sequence,
			&r.EventType,
			&r.PayloadJSON,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return records, nil
}
