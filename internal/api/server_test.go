package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/parking.report/internal/db"
	"github.com/banshee-data/parking.report/internal/driver"
	"github.com/banshee-data/parking.report/internal/geometry"
	"github.com/banshee-data/parking.report/internal/occupancy"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	server  *Server
	mux     *http.ServeMux
	engine  *occupancy.Engine
	mailbox *driver.Mailbox
	db      *db.DB
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	database, err := db.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	engine := occupancy.NewEngine(occupancy.DefaultConfig(), nil, db.NewRecorder(database))
	mailbox := &driver.Mailbox{}
	server := NewServer(Config{
		Engine:  engine,
		Mailbox: mailbox,
		DB:      database,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("metrics")) }),
	})
	server.now = func() time.Time { return t0 }

	return &testEnv{server: server, mux: server.ServeMux(), engine: engine, mailbox: mailbox, db: database}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func (e *testEnv) addROI(t *testing.T, rect geometry.Rect) string {
	t.Helper()
	res, err := e.engine.Dispatch(occupancy.AddROI{Rect: rect, At: t0})
	if err != nil {
		t.Fatalf("AddROI: %v", err)
	}
	return res.ID
}

func TestROIs_AddListDelete(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodPost, "/api/rois", `{"rect":{"left":10,"top":20,"width":100,"height":50}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var created map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	id := created["id"]
	if id == "" {
		t.Fatal("Expected an id in response")
	}

	w = env.do(t, http.MethodGet, "/api/rois", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var rois []occupancy.ROI
	if err := json.Unmarshal(w.Body.Bytes(), &rois); err != nil {
		t.Fatalf("Failed to parse ROIs: %v", err)
	}
	if len(rois) != 1 || rois[0].ID != id || rois[0].Label != occupancy.GenericLabel {
		t.Fatalf("Unexpected ROIs: %+v", rois)
	}
	if rois[0].Occupancy != occupancy.StateUnknown || !rois[0].IsEvaluating {
		t.Errorf("Expected new ROI to be unknown and evaluating, got %+v", rois[0])
	}

	w = env.do(t, http.MethodGet, "/api/rois/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for single ROI, got %d: %s", w.Code, w.Body.String())
	}
	var single occupancy.ROI
	if err := json.Unmarshal(w.Body.Bytes(), &single); err != nil {
		t.Fatalf("Failed to parse ROI: %v", err)
	}
	if single.ID != id || single.Rect != (geometry.Rect{Left: 10, Top: 20, Width: 100, Height: 50}) {
		t.Errorf("Unexpected ROI: %+v", single)
	}

	w = env.do(t, http.MethodDelete, "/api/rois/"+id, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	w = env.do(t, http.MethodDelete, "/api/rois/"+id, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for second delete, got %d", w.Code)
	}
	if got := len(env.engine.Snapshot()); got != 0 {
		t.Errorf("Expected no ROIs, got %d", got)
	}
	w = env.do(t, http.MethodGet, "/api/rois/"+id, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for removed ROI, got %d", w.Code)
	}
}

func TestROIs_BadRequests(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"invalid JSON", http.MethodPost, "/api/rois", `{`, http.StatusBadRequest},
		{"missing rect", http.MethodPost, "/api/rois", `{}`, http.StatusBadRequest},
		{"label not accepted", http.MethodPost, "/api/rois", `{"rect":{"left":0,"top":0,"width":1,"height":1},"label":"car"}`, http.StatusBadRequest},
		{"negative width", http.MethodPost, "/api/rois", `{"rect":{"left":0,"top":0,"width":-1,"height":5}}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/rois", `{"rect":{"left":0,"top":0,"width":1,"height":1},"colour":"red"}`, http.StatusBadRequest},
		{"put not allowed", http.MethodPut, "/api/rois", `{}`, http.StatusMethodNotAllowed},
		{"put single not allowed", http.MethodPut, "/api/rois/abc", `{}`, http.StatusMethodNotAllowed},
		{"empty id", http.MethodDelete, "/api/rois/", "", http.StatusNotFound},
		{"clear needs POST", http.MethodGet, "/api/rois/clear", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.target, tt.body)
			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
	if got := len(env.engine.Snapshot()); got != 0 {
		t.Errorf("Rejected requests must not store ROIs, got %d", got)
	}
}

func TestClearAndCounts(t *testing.T) {
	env := setupTestServer(t)
	env.addROI(t, geometry.Rect{Left: 0, Top: 0, Width: 10, Height: 10})
	env.addROI(t, geometry.Rect{Left: 20, Top: 0, Width: 10, Height: 10})

	w := env.do(t, http.MethodGet, "/api/counts", "")
	var counts occupancy.Counts
	if err := json.Unmarshal(w.Body.Bytes(), &counts); err != nil {
		t.Fatalf("Failed to parse counts: %v", err)
	}
	if counts != (occupancy.Counts{Unknown: 2, Total: 2}) {
		t.Errorf("Unexpected counts: %+v", counts)
	}

	w = env.do(t, http.MethodPost, "/api/rois/clear", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"removed":2`) {
		t.Errorf("Expected removed count, got %s", w.Body.String())
	}
}

func TestPushDetections(t *testing.T) {
	env := setupTestServer(t)

	for _, body := range []string{
		`{"detections":[{"rect":{"left":1,"top":2,"width":3,"height":4},"label":"car","confidence":0.9}]}`,
		`[{"rect":{"left":1,"top":2,"width":3,"height":4},"label":"car","confidence":0.9}]`,
	} {
		w := env.do(t, http.MethodPost, "/api/detections", body)
		if w.Code != http.StatusAccepted {
			t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
		}
		snap, at, _, ok := env.mailbox.Latest()
		if !ok || len(snap) != 1 || snap[0].Label != "car" || !at.Equal(t0) {
			t.Errorf("Unexpected mailbox contents: %+v at %v (ok=%v)", snap, at, ok)
		}
	}

	w := env.do(t, http.MethodPost, "/api/detections", `{"detections":`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for truncated body, got %d", w.Code)
	}

	big := bytes.Repeat([]byte(" "), maxBodyBytes+1)
	req := httptest.NewRequest(http.MethodPost, "/api/detections", bytes.NewReader(big))
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status 413, got %d", rec.Code)
	}
}

func TestAutoDetect(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodPost, "/api/autodetect/start", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", w.Code)
	}
	var st occupancy.CalibrationStatus
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("Failed to parse status: %v", err)
	}
	if !st.Active || st.Window != "10s" {
		t.Errorf("Unexpected status: %+v", st)
	}

	if _, err := env.engine.Dispatch(occupancy.Tick{At: t0.Add(time.Second)}); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	w = env.do(t, http.MethodGet, "/api/autodetect", "")
	var resp autoDetectResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Buffered != 1 || resp.LastRun != nil {
		t.Errorf("Unexpected auto-detect response: %+v", resp)
	}

	w = env.do(t, http.MethodPost, "/api/autodetect/stop", "")
	if !strings.Contains(w.Body.String(), `"discarded":1`) {
		t.Errorf("Expected one discarded snapshot, got %s", w.Body.String())
	}
	if env.engine.CalibrationStatus().Active {
		t.Error("Expected auto-detect to be stopped")
	}
}

func TestAutoDetect_ReportsLastRun(t *testing.T) {
	env := setupTestServer(t)

	if _, err := env.db.InsertCalibrationRun(t.Context(), occupancy.CalibrationReport{Snapshots: 20, Kept: 3, At: t0}); err != nil {
		t.Fatalf("InsertCalibrationRun: %v", err)
	}
	w := env.do(t, http.MethodGet, "/api/autodetect", "")
	var resp autoDetectResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.LastRun == nil || resp.LastRun.Kept != 3 {
		t.Errorf("Expected last run with 3 kept ROIs, got %+v", resp.LastRun)
	}
}

func TestShowConfig(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodGet, "/api/config", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var cfg configResponse
	if err := json.Unmarshal(w.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}
	want := configResponse{EvaluateTime: "5s", OverlapThreshold: 0.4, AutoEvaluateTime: "10s", MinimumAttendance: 0.6}
	if cfg != want {
		t.Errorf("Expected %+v, got %+v", want, cfg)
	}
}

func TestUpdateConfig(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodPut, "/api/config", `{"evaluate_time":"2s","minimum_attendance":0.75}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var cfg configResponse
	if err := json.Unmarshal(w.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}
	want := configResponse{EvaluateTime: "2s", OverlapThreshold: 0.4, AutoEvaluateTime: "10s", MinimumAttendance: 0.75}
	if cfg != want {
		t.Errorf("Expected %+v, got %+v", want, cfg)
	}
	if got := env.engine.Config().EvaluateTime; got != 2*time.Second {
		t.Errorf("Expected engine evaluate time 2s, got %v", got)
	}
}

func TestUpdateConfig_Rejected(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid JSON", `{`, http.StatusBadRequest},
		{"overlap above one", `{"overlap_threshold":1.5}`, http.StatusBadRequest},
		{"negative duration", `{"evaluate_time":"-1s"}`, http.StatusBadRequest},
		{"bad duration", `{"auto_evaluate_time":"soon"}`, http.StatusBadRequest},
		{"startup-only field", `{"tick_interval":"1s"}`, http.StatusBadRequest},
		{"unknown field", `{"colour":"red"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPut, "/api/config", tt.body)
			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
	if got := env.engine.Config(); got != occupancy.DefaultConfig() {
		t.Errorf("Expected config to be unchanged, got %+v", got)
	}

	w := env.do(t, http.MethodPost, "/api/config", `{}`)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestExportROIs(t *testing.T) {
	env := setupTestServer(t)
	id := env.addROI(t, geometry.Rect{Left: 5, Top: 5, Width: 10, Height: 10})

	w := env.do(t, http.MethodGet, "/api/export", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename="rois-20260314T090000Z.json"` {
		t.Errorf("Unexpected Content-Disposition: %q", cd)
	}
	var rois []occupancy.ROI
	if err := json.Unmarshal(w.Body.Bytes(), &rois); err != nil {
		t.Fatalf("Failed to parse export: %v", err)
	}
	if len(rois) != 1 || rois[0].ID != id {
		t.Errorf("Unexpected export: %+v", rois)
	}
}

func TestListEvents(t *testing.T) {
	env := setupTestServer(t)
	cfg := occupancy.DefaultConfig()
	id := env.addROI(t, geometry.Rect{Left: 0, Top: 0, Width: 10, Height: 10})

	car := occupancy.Snapshot{{Rect: geometry.Rect{Left: 0, Top: 0, Width: 10, Height: 10}, Label: "car", Confidence: 0.9}}
	for _, at := range []time.Time{t0.Add(time.Second), t0.Add(cfg.EvaluateTime + 2*time.Second)} {
		if _, err := env.engine.Dispatch(occupancy.Tick{Detections: car, At: at}); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}

	w := env.do(t, http.MethodGet, "/api/events?roi_id="+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var events []db.OccupancyEvent
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
		t.Fatalf("Failed to parse events: %v", err)
	}
	if len(events) != 1 || events[0].To != occupancy.StateOccupied {
		t.Fatalf("Expected one occupied transition, got %+v", events)
	}

	for _, q := range []string{"limit=0", "limit=x", "since=yesterday"} {
		if w := env.do(t, http.MethodGet, "/api/events?"+q, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", q, w.Code)
		}
	}
}

func TestListEvents_NoDatabase(t *testing.T) {
	server := NewServer(Config{Engine: occupancy.NewEngine(occupancy.DefaultConfig(), nil), Mailbox: &driver.Mailbox{}})
	w := httptest.NewRecorder()
	server.ServeMux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

func TestOccupancyChartAndMetrics(t *testing.T) {
	env := setupTestServer(t)
	env.addROI(t, geometry.Rect{Left: 0, Top: 0, Width: 10, Height: 10})

	w := env.do(t, http.MethodGet, "/debug/occupancy/chart", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Expected HTML, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "Occupancy cycles per ROI") {
		t.Error("Expected chart title in page")
	}

	if w := env.do(t, http.MethodGet, "/metrics", ""); w.Body.String() != "metrics" {
		t.Errorf("Expected metrics handler to be mounted, got %q", w.Body.String())
	}
}

func TestLoggingMiddleware(t *testing.T) {
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusTeapot {
		t.Errorf("Expected status to pass through, got %d", w.Code)
	}
	if got := statusCodeColor(http.StatusTeapot); !strings.Contains(got, "418") {
		t.Errorf("Unexpected colour string %q", got)
	}
}
