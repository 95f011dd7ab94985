package db

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/parking.report/internal/geometry"
	"github.com/banshee-data/parking.report/internal/occupancy"
	"github.com/google/go-cmp/cmp"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "parking.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func occupiedROI(id string, rect geometry.Rect) occupancy.ROI {
	r := occupancy.NewROI(id, rect, "", t0)
	first := t0.Add(time.Second)
	last := t0.Add(8 * time.Second)
	dur := last.Sub(first)
	r.Occupancy = occupancy.StateOccupied
	r.IsEvaluating = false
	r.CycleCount = 1
	r.FirstSeenAt = &first
	r.LastSeenAt = &last
	r.Events = []occupancy.Event{{Cycle: 1, Kind: occupancy.EventOccupied, Timestamp: t0.Add(7 * time.Second), Duration: &dur}}
	return r
}

func TestNewDB_MigratesAndAppliesPragmas(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 2 || dirty {
		t.Errorf("got version=%d dirty=%v, want 2 clean", version, dirty)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("Failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout=5000, got %d", busyTimeout)
	}

	// Reopening an up-to-date database is a no-op.
	if err := db.MigrateUp(); err != nil {
		t.Errorf("second MigrateUp failed: %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	db := newTestDB(t)
	if err := db.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	version, _, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 {
		t.Errorf("version after down = %d, want 1", version)
	}
	if _, err := db.Exec("SELECT COUNT(*) FROM calibration_runs"); err == nil {
		t.Error("calibration_runs still exists after rollback")
	}
}

func TestSaveLoadROIs(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	want := []occupancy.ROI{
		occupiedROI("b-second-id", geometry.Rect{Left: 10, Top: 20, Width: 100, Height: 200}),
		occupancy.NewROI("a-first-id", geometry.Rect{Left: 130, Top: 20, Width: 100.5, Height: 200}, "van", t0),
	}
	if err := db.SaveROIs(ctx, want); err != nil {
		t.Fatalf("SaveROIs failed: %v", err)
	}

	got, err := db.LoadROIs(ctx)
	if err != nil {
		t.Fatalf("LoadROIs failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	// Saving replaces the previous collection.
	if err := db.SaveROIs(ctx, want[1:]); err != nil {
		t.Fatalf("SaveROIs failed: %v", err)
	}
	got, err = db.LoadROIs(ctx)
	if err != nil {
		t.Fatalf("LoadROIs failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a-first-id" {
		t.Errorf("got %+v after replace", got)
	}
}

func TestLoadROIs_Empty(t *testing.T) {
	db := newTestDB(t)
	got, err := db.LoadROIs(context.Background())
	if err != nil {
		t.Fatalf("LoadROIs failed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %#v, want empty non-nil slice", got)
	}
}

func TestInsertListEvents(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	trs := []occupancy.Transition{
		{ROIID: "a", Label: "generic", From: occupancy.StateUnknown, To: occupancy.StateOccupied, Cycle: 1, At: t0.Add(time.Second), Duration: 1500 * time.Millisecond},
		{ROIID: "b", Label: "generic", From: occupancy.StateUnknown, To: occupancy.StateOccupied, Cycle: 1, At: t0.Add(2 * time.Second)},
		{ROIID: "a", Label: "generic", From: occupancy.StateOccupied, To: occupancy.StateVacant, Cycle: 1, At: t0.Add(time.Minute), Duration: 50 * time.Second},
	}
	if err := db.InsertTransitions(ctx, trs); err != nil {
		t.Fatalf("InsertTransitions failed: %v", err)
	}
	if err := db.InsertTransitions(ctx, nil); err != nil {
		t.Fatalf("InsertTransitions(nil) failed: %v", err)
	}

	all, err := db.ListEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d events, want 3", len(all))
	}
	if all[0].At != t0.Add(time.Second) || all[2].To != occupancy.StateVacant {
		t.Errorf("events out of order: %+v", all)
	}
	if all[2].Duration != 50*time.Second {
		t.Errorf("duration = %v", all[2].Duration)
	}

	tests := []struct {
		name   string
		filter EventFilter
		want   []string // roi ids in order
	}{
		{"by roi", EventFilter{ROIID: "a"}, []string{"a", "a"}},
		{"since", EventFilter{Since: t0.Add(2 * time.Second)}, []string{"b", "a"}},
		{"until", EventFilter{Until: t0.Add(2 * time.Second)}, []string{"a"}},
		{"limit keeps newest", EventFilter{Limit: 2}, []string{"b", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.ListEvents(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListEvents failed: %v", err)
			}
			ids := make([]string, len(got))
			for i, ev := range got {
				ids[i] = ev.ROIID
			}
			if diff := cmp.Diff(tt.want, ids); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCalibrationRuns(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	if _, err := db.LatestCalibrationRun(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty table, got %v", err)
	}

	report := occupancy.CalibrationReport{Snapshots: 10, Candidates: 2, Kept: 1, RequiredVotes: 6, MeanVotes: 5.5, MaxVotes: 8, At: t0}
	if _, err := db.InsertCalibrationRun(ctx, report); err != nil {
		t.Fatalf("InsertCalibrationRun failed: %v", err)
	}
	got, err := db.LatestCalibrationRun(ctx)
	if err != nil {
		t.Fatalf("LatestCalibrationRun failed: %v", err)
	}
	// Per-candidate votes are not stored.
	if diff := cmp.Diff(report, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestRecorderAndRestore(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	cfg := occupancy.Config{EvaluateTime: time.Second, OverlapThreshold: 0.4, AutoEvaluateTime: 10 * time.Second, MinimumAttendance: 0.6}
	engine := occupancy.NewEngine(cfg, nil, NewRecorder(db))

	res, err := engine.Dispatch(occupancy.AddROI{Rect: geometry.Rect{Width: 100, Height: 100}, At: t0})
	if err != nil {
		t.Fatalf("AddROI failed: %v", err)
	}
	car := occupancy.Snapshot{{Rect: geometry.Rect{Width: 100, Height: 100}, Label: "car", Confidence: 0.9}}
	for _, ms := range []int{0, 500, 1000, 1500} {
		if _, err := engine.Dispatch(occupancy.Tick{Detections: car, At: t0.Add(time.Duration(ms) * time.Millisecond)}); err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
	}

	events, err := db.ListEvents(ctx, EventFilter{ROIID: res.ID})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].To != occupancy.StateOccupied {
		t.Fatalf("events = %+v, want one occupied transition", events)
	}

	// A fresh engine picks up the persisted state.
	restored := occupancy.NewEngine(cfg, nil)
	n, err := Restore(ctx, db, restored)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("restored %d ROIs, want 1", n)
	}
	if diff := cmp.Diff(engine.Snapshot(), restored.Snapshot()); diff != "" {
		t.Errorf("restored state mismatch (-want +got):\n%s", diff)
	}

	if _, err := engine.Dispatch(occupancy.ClearAll{}); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}
	rois, err := db.LoadROIs(ctx)
	if err != nil {
		t.Fatalf("LoadROIs failed: %v", err)
	}
	if len(rois) != 0 {
		t.Errorf("ClearAll was not persisted, %d ROIs stored", len(rois))
	}
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		t.Fatalf("AttachAdminRoutes failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("backup status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/gzip" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Body.Len() == 0 {
		t.Error("empty backup body")
	}
}
