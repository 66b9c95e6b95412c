package store

import (
	"fmt"
	"time"
)

// RecordContainer records a container created for a provisioning
func (db *DB) RecordContainer(provisioning, id, name, role, image string, at time.Time) error {
	query := `
		INSERT INTO containers (id, provisioning, name, role, image, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	if _, err := db.conn.Exec(query, id, provisioning, name, role, image, at.UTC()); err != nil {
		return fmt.Errorf("failed to record container: %w", err)
	}
	return nil
}

// MarkContainerRemoved records the removal of a container. Unknown IDs and
// already removed containers are left untouched.
func (db *DB) MarkContainerRemoved(id string, at time.Time) error {
	query := `UPDATE containers SET removed_at = ? WHERE id = ? AND removed_at IS NULL`
	if _, err := db.conn.Exec(query, at.UTC(), id); err != nil {
		return fmt.Errorf("failed to mark container removed: %w", err)
	}
	return nil
}

const containerColumns = `id, provisioning, name, role, image, created_at, removed_at`

// ListContainers returns the containers of a provisioning in creation order
func (db *DB) ListContainers(provisioning string) ([]*ContainerRecord, error) {
	query := `SELECT ` + containerColumns + ` FROM containers WHERE provisioning = ? ORDER BY created_at, rowid`
	return db.queryContainers(query, provisioning)
}

// ListLiveContainers returns every container not yet recorded as removed
func (db *DB) ListLiveContainers() ([]*ContainerRecord, error) {
	query := `SELECT ` + containerColumns + ` FROM containers WHERE removed_at IS NULL ORDER BY created_at, rowid`
	return db.queryContainers(query)
}

func (db *DB) queryContainers(query string, args ...any) ([]*ContainerRecord, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	defer rows.Close()

	var containers []*ContainerRecord
	for rows.Next() {
		c := &ContainerRecord{}
		err := rows.Scan(
			&c.ID,
			&c.Provisioning,
			&c.Name,
			&c.Role,
			&c.Image,
			&c.CreatedAt,
			&c.RemovedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan container: %w", err)
		}
		containers = append(containers, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating containers: %w", err)
	}

	return containers, nil
}
