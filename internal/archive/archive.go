// Package archive reads observations from an astrometry SQLite database
// kept by another tool. The database is only ever opened read-only.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"astrored/internal/mpc80"

	_ "github.com/mattn/go-sqlite3"
)

// Archive is a read-only handle on an observation database with a table
//
//	observations(designation TEXT, obs80 TEXT)
//
// where obs80 holds one 80 column record.
type Archive struct {
	path string
	db   *sql.DB
}

// TargetCount is the number of archived records for one designation.
type TargetCount struct {
	Designation string `json:"designation"`
	Records     int    `json:"records"`
}

// Open connects to the archive at path without write access.
func Open(path string) (*Archive, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("archive not found at %s: %w", path, err)
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive ping failed: %w", err)
	}
	return &Archive{path: path, db: db}, nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Targets lists the archived designations with their record counts.
func (a *Archive) Targets(ctx context.Context) ([]TargetCount, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT designation, COUNT(*) FROM observations GROUP BY designation ORDER BY designation`)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()
	var out []TargetCount
	for rows.Next() {
		var tc TargetCount
		if err := rows.Scan(&tc.Designation, &tc.Records); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// Lines returns the raw records of one designation in archive order.
func (a *Archive) Lines(ctx context.Context, designation string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT obs80 FROM observations WHERE designation = ? ORDER BY rowid`, designation)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", designation, err)
	}
	defer rows.Close()
	var lines []string
	for rows.Next() {
		var line sql.NullString
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		if line.Valid {
			lines = append(lines, line.String)
		}
	}
	return lines, rows.Err()
}

// Observations decodes the records of one designation with d.
func (a *Archive) Observations(ctx context.Context, designation string, d mpc80.Decoder) (mpc80.ObservationSet, error) {
	lines, err := a.Lines(ctx, designation)
	if err != nil {
		return nil, err
	}
	return d.Decode(lines)
}
