package db

import (
	"context"
	"time"

	"github.com/banshee-data/parking.report/internal/occupancy"
)

// writeTimeout bounds each write made from an engine callback.
const writeTimeout = 5 * time.Second

// Recorder is an occupancy.Listener that persists the ROI collection
// after structural changes and transitions, appends transitions to the
// event log, and records calibration runs. Write failures are logged and
// never reach the engine.
type Recorder struct {
	db *DB
}

var _ occupancy.Listener = (*Recorder)(nil)

// NewRecorder returns a Recorder writing to db.
func NewRecorder(db *DB) *Recorder {
	return &Recorder{db: db}
}

// OnTick records transitions and, when there were any, the new ROI
// states.
func (r *Recorder) OnTick(report occupancy.TickReport) {
	if len(report.Transitions) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.db.InsertTransitions(ctx, report.Transitions); err != nil {
		opsf("[Recorder] Lost %d transitions: %v", len(report.Transitions), err)
	}
	if err := r.db.SaveROIs(ctx, report.ROIs); err != nil {
		opsf("[Recorder] Failed to save ROIs after tick: %v", err)
	}
}

// OnROIsChanged saves the new collection.
func (r *Recorder) OnROIsChanged(reason occupancy.ChangeReason, rois []occupancy.ROI) {
	if reason == occupancy.ReasonRestored {
		return // Came from the database
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.db.SaveROIs(ctx, rois); err != nil {
		opsf("[Recorder] Failed to save ROIs (%s): %v", reason, err)
		return
	}
	diagf("[Recorder] Saved %d ROIs (%s)", len(rois), reason)
}

// OnCalibration records the run.
func (r *Recorder) OnCalibration(report occupancy.CalibrationReport) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if _, err := r.db.InsertCalibrationRun(ctx, report); err != nil {
		opsf("[Recorder] Failed to record calibration run: %v", err)
	}
}

// Restore loads the stored ROIs into engine. It returns how many were
// restored.
func Restore(ctx context.Context, db *DB, engine *occupancy.Engine) (int, error) {
	rois, err := db.LoadROIs(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := engine.Dispatch(occupancy.ReplaceROIs{ROIs: rois}); err != nil {
		return 0, err
	}
	diagf("[DB] Restored %d ROIs", len(rois))
	return len(rois), nil
}
