// Package store persists the undelivered backlog to SQLite across restarts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"energybridge/pkg/types"
)

var (
	errFailedOpenDB      = errors.New("failed to open backlog database")
	errFailedToEnableWAL = errors.New("failed to enable WAL mode")
	errFailedToInit      = errors.New("failed to initialize schema")
	errFailedToBeginTx   = errors.New("failed to begin transaction")
	errFailedToInsert    = errors.New("failed to insert")
	errFailedToQuery     = errors.New("failed to query")
	errFailedToScan      = errors.New("failed to scan")
	errFailedToClean     = errors.New("failed to clean")
)

const createTablesSQL = `
	CREATE TABLE IF NOT EXISTS backlog (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		series_key TEXT NOT NULL,
		field TEXT NOT NULL,
		value REAL NOT NULL,
		timestamp INTEGER NOT NULL,
		type TEXT NOT NULL DEFAULT ''
	);
`

// DB is a backlog snapshot file.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the snapshot database at path.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedOpenDB, err)
	}

	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: %w", errFailedToEnableWAL, err)
	}

	if _, err := sqlDB.Exec(createTablesSQL); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: %w", errFailedToInit, err)
	}

	return &DB{sqlDB}, nil
}

// Save replaces the stored snapshot with points, keeping their order.
func (db *DB) Save(ctx context.Context, points []types.MeasurementPoint) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", errFailedToBeginTx, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM backlog"); err != nil {
		return fmt.Errorf("%w backlog: %w", errFailedToClean, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backlog (series_key, field, value, timestamp, type)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("%w backlog: %w", errFailedToInsert, err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err = stmt.ExecContext(ctx, p.SeriesKey, p.Field, p.Value, p.Timestamp, p.Type); err != nil {
			return fmt.Errorf("%w backlog point: %w", errFailedToInsert, err)
		}
	}

	return tx.Commit()
}

// Load returns the stored snapshot, oldest first.
func (db *DB) Load(ctx context.Context) ([]types.MeasurementPoint, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT series_key, field, value, timestamp, type
		FROM backlog
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("%w backlog: %w", errFailedToQuery, err)
	}
	defer rows.Close()

	var points []types.MeasurementPoint
	for rows.Next() {
		var p types.MeasurementPoint
		if err := rows.Scan(&p.SeriesKey, &p.Field, &p.Value, &p.Timestamp, &p.Type); err != nil {
			return nil, fmt.Errorf("%w backlog point: %w", errFailedToScan, err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w backlog: %w", errFailedToQuery, err)
	}
	return points, nil
}

// Clear removes the stored snapshot.
func (db *DB) Clear(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM backlog"); err != nil {
		return fmt.Errorf("%w backlog: %w", errFailedToClean, err)
	}
	return nil
}
