package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateBuild records a new node request in the awaiting-remoting state.
// Re-recording an existing provisioning ID is a no-op.
func (db *DB) CreateBuild(provisioning, job string, at time.Time) error {
	query := `
		INSERT INTO builds (provisioning, job, phase, status, started_at)
		VALUES (?, ?, 'provisioning-remoting', ?, ?)
		ON CONFLICT(provisioning) DO NOTHING
	`

	if _, err := db.conn.Exec(query, provisioning, job, BuildStatusRunning, at.UTC()); err != nil {
		return fmt.Errorf("failed to create build: %w", err)
	}
	return nil
}

// SetBuildIdentity attaches the build identity to a provisioning
func (db *DB) SetBuildIdentity(provisioning, build string) error {
	return db.updateBuild("set build identity", `UPDATE builds SET build = ? WHERE provisioning = ?`, build, provisioning)
}

// UpdateBuildPhase records the current phase of a provisioning
func (db *DB) UpdateBuildPhase(provisioning, phase string) error {
	return db.updateBuild("update build phase", `UPDATE builds SET phase = ? WHERE provisioning = ?`, phase, provisioning)
}

// MarkBuildFailed marks a provisioning failed with the given reason
func (db *DB) MarkBuildFailed(provisioning, reason string) error {
	query := `UPDATE builds SET status = ?, error = ? WHERE provisioning = ?`
	return db.updateBuild("mark build failed", query, BuildStatusFailed, reason, provisioning)
}

// FinishBuild records that all containers of a provisioning were cleaned.
// A failed build keeps its failed status.
func (db *DB) FinishBuild(provisioning string, at time.Time) error {
	query := `
		UPDATE builds
		SET phase = 'terminated',
		    status = CASE WHEN status = ? THEN ? ELSE status END,
		    finished_at = ?
		WHERE provisioning = ?
	`
	return db.updateBuild("finish build", query, BuildStatusRunning, BuildStatusTerminated, at.UTC(), provisioning)
}

func (db *DB) updateBuild(what, query string, args ...any) error {
	result, err := db.conn.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("build not found: %s", args[len(args)-1])
	}
	return nil
}

const buildColumns = `provisioning, job, build, phase, status, error, started_at, finished_at`

// GetBuild retrieves a build by its provisioning ID.
// Returns nil, nil if the build does not exist.
func (db *DB) GetBuild(provisioning string) (*Build, error) {
	row := db.conn.QueryRow(`SELECT `+buildColumns+` FROM builds WHERE provisioning = ?`, provisioning)
	b, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get build: %w", err)
	}
	return b, nil
}

// FindBuild returns the most recent provisioning for a build identity
// ("job#number"). Returns nil, nil if no such build was recorded.
func (db *DB) FindBuild(identity string) (*Build, error) {
	query := `SELECT ` + buildColumns + ` FROM builds WHERE build = ? ORDER BY started_at DESC LIMIT 1`
	b, err := scanBuild(db.conn.QueryRow(query, identity))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find build: %w", err)
	}
	return b, nil
}

// ListBuilds returns builds newest first. A limit of zero or less returns
// every build.
func (db *DB) ListBuilds(limit int) ([]*Build, error) {
	query := `SELECT ` + buildColumns + ` FROM builds ORDER BY started_at DESC, provisioning DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return db.queryBuilds(query, args...)
}

// ListBuildsByStatus returns builds with the given status, oldest first
func (db *DB) ListBuildsByStatus(status BuildStatus) ([]*Build, error) {
	query := `SELECT ` + buildColumns + ` FROM builds WHERE status = ? ORDER BY started_at, provisioning`
	return db.queryBuilds(query, status)
}

func (db *DB) queryBuilds(query string, args ...any) ([]*Build, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}
	defer rows.Close()

	var builds []*Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build: %w", err)
		}
		builds = append(builds, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating builds: %w", err)
	}

	return builds, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(s scanner) (*Build, error) {
	b := &Build{}
	err := s.Scan(
		&b.Provisioning,
		&b.Job,
		&b.Build,
		&b.Phase,
		&b.Status,
		&b.Error,
		&b.StartedAt,
		&b.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// NextBuildNumber returns one more than the number of builds recorded for job.
func (db *DB) NextBuildNumber(job string) (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM builds WHERE job = ? AND build IS NOT NULL`, job).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count builds: %w", err)
	}
	return n + 1, nil
}
