package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/parking.report/internal/occupancy"
)

// OccupancyEvent is a stored occupancy transition.
type OccupancyEvent struct {
	EventID  int64           `json:"event_id"`
	ROIID    string          `json:"roi_id"`
	Label    string          `json:"label"`
	From     occupancy.State `json:"from"`
	To       occupancy.State `json:"to"`
	Cycle    int             `json:"cycle"`
	At       time.Time       `json:"at"`
	Duration time.Duration   `json:"duration_ns"`
}

// EventFilter narrows ListEvents. Zero fields do not filter.
type EventFilter struct {
	ROIID string
	Since time.Time
	Until time.Time
	Limit int // Defaults to 500
}

const defaultEventLimit = 500

// InsertTransitions appends transitions to the event log.
func (db *DB) InsertTransitions(ctx context.Context, transitions []occupancy.Transition) error {
	if len(transitions) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert transitions: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO occupancy_events (roi_id, label, from_state, to_state, cycle, at_unix_nanos, duration_nanos)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert transition: %w", err)
	}
	defer stmt.Close()

	for _, tr := range transitions {
		if _, err := stmt.ExecContext(ctx,
			tr.ROIID, tr.Label, string(tr.From), string(tr.To), tr.Cycle, tr.At.UnixNano(), int64(tr.Duration),
		); err != nil {
			return fmt.Errorf("insert transition for %s: %w", tr.ROIID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transitions: %w", err)
	}
	tracef("[Events] Recorded %d transitions", len(transitions))
	return nil
}

// ListEvents returns stored transitions in chronological order, keeping
// the most recent Limit rows.
func (db *DB) ListEvents(ctx context.Context, f EventFilter) ([]OccupancyEvent, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.ROIID != "" {
		where = append(where, "roi_id = ?")
		args = append(args, f.ROIID)
	}
	if !f.Since.IsZero() {
		where = append(where, "at_unix_nanos >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		where = append(where, "at_unix_nanos < ?")
		args = append(args, f.Until.UnixNano())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}

	q := `SELECT event_id, roi_id, label, from_state, to_state, cycle, at_unix_nanos, duration_nanos FROM occupancy_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q = `SELECT * FROM (` + q + ` ORDER BY at_unix_nanos DESC, event_id DESC LIMIT ?) ORDER BY at_unix_nanos, event_id`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []OccupancyEvent{}
	for rows.Next() {
		var (
			ev       OccupancyEvent
			from, to string
			at, dur  int64
		)
		if err := rows.Scan(&ev.EventID, &ev.ROIID, &ev.Label, &from, &to, &ev.Cycle, &at, &dur); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.From = occupancy.State(from)
		ev.To = occupancy.State(to)
		ev.At = fromNanos(at)
		ev.Duration = time.Duration(dur)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// InsertCalibrationRun records a completed auto-detect run.
func (db *DB) InsertCalibrationRun(ctx context.Context, r occupancy.CalibrationReport) (int64, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO calibration_runs (at_unix_nanos, snapshots, candidates, kept, required_votes, mean_votes, max_votes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.At.UnixNano(), r.Snapshots, r.Candidates, r.Kept, r.RequiredVotes, r.MeanVotes, r.MaxVotes,
	)
	if err != nil {
		return 0, fmt.Errorf("insert calibration run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("calibration run id: %w", err)
	}
	return id, nil
}

// LatestCalibrationRun returns the most recent auto-detect run.
func (db *DB) LatestCalibrationRun(ctx context.Context) (occupancy.CalibrationReport, error) {
	var (
		r  occupancy.CalibrationReport
		at int64
	)
	err := db.QueryRowContext(ctx, `
		SELECT at_unix_nanos, snapshots, candidates, kept, required_votes, mean_votes, max_votes
		FROM calibration_runs ORDER BY run_id DESC LIMIT 1`).Scan(
		&at, &r.Snapshots, &r.Candidates, &r.Kept, &r.RequiredVotes, &r.MeanVotes, &r.MaxVotes,
	)
	if err == sql.ErrNoRows {
		return occupancy.CalibrationReport{}, fmt.Errorf("calibration run: %w", ErrNotFound)
	}
	if err != nil {
		return occupancy.CalibrationReport{}, fmt.Errorf("query calibration run: %w", err)
	}
	r.At = fromNanos(at)
	return r, nil
}
