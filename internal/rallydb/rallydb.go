// Package rallydb persists extraction runs and their rallies and segments
// to SQLite so results can be inspected and compared across tuning changes.
package rallydb

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/rallycut/internal/pipeline"
)

type RallyDB struct {
	*sql.DB
}

// schema.sql defines tables for runs, their detected rallies, and the
// assembled output segments.
//
//go:embed schema.sql
var schemaSQL string

// Run is one recorded extraction run.
type Run struct {
	RunID           string
	Source          string
	VideoDuration   float64
	FramesProcessed int
	Created         time.Time
}

func NewRallyDB(path string) (*RallyDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize rally database schema: %w", err)
	}
	return &RallyDB{db}, nil
}

// RecordRun persists a pipeline summary under a fresh run ID and returns it.
// The run row and its rallies and segments are written in one transaction.
func (rdb *RallyDB) RecordRun(source string, summary pipeline.Summary) (string, error) {
	runID := uuid.New().String()

	tx, err := rdb.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (run_id, source, video_duration_s, frames_processed, created_unix)
		 VALUES (?, ?, ?, ?, ?)`,
		runID, source, summary.VideoDuration, summary.FramesProcessed, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	for _, r := range summary.Rallies {
		_, err = tx.Exec(
			`INSERT INTO rallies (run_id, start_s, end_s, duration_s, max_confidence, avg_confidence, estimated_contacts, quality)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, r.Start, r.End, r.Duration, r.MaxConfidence, r.AvgConfidence, r.EstimatedContacts, r.Quality)
		if err != nil {
			return "", fmt.Errorf("failed to insert rally: %w", err)
		}
	}

	for _, s := range summary.Segments {
		_, err = tx.Exec(
			`INSERT INTO segments (run_id, start_s, end_s) VALUES (?, ?, ?)`,
			runID, s.Start, s.End)
		if err != nil {
			return "", fmt.Errorf("failed to insert segment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return runID, nil
}

// ListRuns returns all recorded runs, most recent first.
func (rdb *RallyDB) ListRuns() ([]Run, error) {
	rows, err := rdb.Query(
		`SELECT run_id, source, video_duration_s, frames_processed, created_unix
		 FROM runs ORDER BY created_unix DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var createdUnix int64
		if err := rows.Scan(&r.RunID, &r.Source, &r.VideoDuration, &r.FramesProcessed, &createdUnix); err != nil {
			return nil, err
		}
		r.Created = time.Unix(createdUnix, 0)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RalliesForRun returns the stored rallies of a run in time order.
func (rdb *RallyDB) RalliesForRun(runID string) ([]StoredRally, error) {
	rows, err := rdb.Query(
		`SELECT start_s, end_s, duration_s, max_confidence, avg_confidence, estimated_contacts, quality
		 FROM rallies WHERE run_id = ? ORDER BY start_s`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rallies []StoredRally
	for rows.Next() {
		var r StoredRally
		if err := rows.Scan(&r.Start, &r.End, &r.Duration, &r.MaxConfidence, &r.AvgConfidence, &r.EstimatedContacts, &r.Quality); err != nil {
			return nil, err
		}
		rallies = append(rallies, r)
	}
	return rallies, rows.Err()
}

// StoredRally is one rally row read back from the database.
type StoredRally struct {
	Start             float64
	End               float64
	Duration          float64
	MaxConfidence     float64
	AvgConfidence     float64
	EstimatedContacts int
	Quality           float64
}

// SegmentsForRun returns the stored output segments of a run in time order.
func (rdb *RallyDB) SegmentsForRun(runID string) ([][2]float64, error) {
	rows, err := rdb.Query(
		`SELECT start_s, end_s FROM segments WHERE run_id = ? ORDER BY start_s`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments [][2]float64
	for rows.Next() {
		var start, end float64
		if err := rows.Scan(&start, &end); err != nil {
			return nil, err
		}
		segments = append(segments, [2]float64{start, end})
	}
	return segments, rows.Err()
}
