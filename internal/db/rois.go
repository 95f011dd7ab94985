package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/parking.report/internal/occupancy"
)

// SaveROIs replaces the stored ROI collection with rois in a single
// transaction.
func (db *DB) SaveROIs(ctx context.Context, rois []occupancy.ROI) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save rois: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rois`); err != nil {
		return fmt.Errorf("clear rois: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rois (
			roi_id, position, left_px, top_px, width_px, height_px, label,
			occupancy, is_evaluating, cycle_count, created_unix_nanos,
			first_seen_unix_nanos, last_seen_unix_nanos, events_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert roi: %w", err)
	}
	defer stmt.Close()

	for i, r := range rois {
		events := r.Events
		if events == nil {
			events = []occupancy.Event{}
		}
		eventsJSON, err := json.Marshal(events)
		if err != nil {
			return fmt.Errorf("marshal events of %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, i, r.Rect.Left, r.Rect.Top, r.Rect.Width, r.Rect.Height, r.Label,
			string(r.Occupancy), r.IsEvaluating, r.CycleCount, r.CreatedAt.UnixNano(),
			nullableNanos(r.FirstSeenAt), nullableNanos(r.LastSeenAt), string(eventsJSON),
		); err != nil {
			return fmt.Errorf("insert roi %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save rois: %w", err)
	}
	tracef("[ROIs] Saved %d ROIs", len(rois))
	return nil
}

// LoadROIs returns the stored ROI collection in store order. An empty
// database yields an empty, non-nil slice.
func (db *DB) LoadROIs(ctx context.Context) ([]occupancy.ROI, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT roi_id, left_px, top_px, width_px, height_px, label,
			occupancy, is_evaluating, cycle_count, created_unix_nanos,
			first_seen_unix_nanos, last_seen_unix_nanos, events_json
		FROM rois ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query rois: %w", err)
	}
	defer rows.Close()

	rois := []occupancy.ROI{}
	for rows.Next() {
		var (
			r          occupancy.ROI
			state      string
			created    int64
			first      sql.NullInt64
			last       sql.NullInt64
			eventsJSON string
		)
		if err := rows.Scan(
			&r.ID, &r.Rect.Left, &r.Rect.Top, &r.Rect.Width, &r.Rect.Height, &r.Label,
			&state, &r.IsEvaluating, &r.CycleCount, &created,
			&first, &last, &eventsJSON,
		); err != nil {
			return nil, fmt.Errorf("scan roi: %w", err)
		}
		r.Occupancy = occupancy.State(state)
		r.CreatedAt = fromNanos(created)
		r.FirstSeenAt = timeFromNull(first)
		r.LastSeenAt = timeFromNull(last)
		if err := json.Unmarshal([]byte(eventsJSON), &r.Events); err != nil {
			return nil, fmt.Errorf("decode events of %s: %w", r.ID, err)
		}
		if r.Events == nil {
			r.Events = []occupancy.Event{}
		}
		if err := r.Rect.Validate(); err != nil {
			opsf("[ROIs] Skipping stored ROI %s: %v", r.ID, err)
			continue
		}
		rois = append(rois, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rois, nil
}

func nullableNanos(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func timeFromNull(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
