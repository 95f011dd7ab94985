package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/parking.report/internal/config"
	"github.com/banshee-data/parking.report/internal/db"
	"github.com/banshee-data/parking.report/internal/geometry"
	"github.com/banshee-data/parking.report/internal/httputil"
	"github.com/banshee-data/parking.report/internal/occupancy"
)

// addROIRequest carries only the rectangle; drawn ROIs are always generic.
type addROIRequest struct {
	Rect *geometry.Rect `json:"rect"`
}

type detectionsRequest struct {
	Detections occupancy.Snapshot `json:"detections"`
}

// configResponse mirrors occupancy.Config with human-readable durations.
type configResponse struct {
	EvaluateTime      string  `json:"evaluate_time"`
	OverlapThreshold  float64 `json:"overlap_threshold"`
	AutoEvaluateTime  string  `json:"auto_evaluate_time"`
	MinimumAttendance float64 `json:"minimum_attendance"`
}

type autoDetectResponse struct {
	occupancy.CalibrationStatus
	LastRun *occupancy.CalibrationReport `json:"last_run,omitempty"`
}

// handleROIs lists ROIs (GET) or adds one (POST).
func (s *Server) handleROIs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.engine.Snapshot())

	case http.MethodPost:
		var req addROIRequest
		err := httputil.DecodeJSON(w, r, maxBodyBytes, &req)
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			s.writeJSONError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Rect == nil {
			s.writeJSONError(w, http.StatusBadRequest, "missing 'rect'")
			return
		}
		res, err := s.engine.Dispatch(occupancy.AddROI{Rect: *req.Rect, At: s.now()})
		if errors.Is(err, occupancy.ErrInvalidRect) {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to add ROI: %v", err))
			return
		}
		s.writeJSON(w, http.StatusCreated, map[string]string{"id": res.ID})

	default:
		httputil.MethodNotAllowed(w, "GET, POST")
	}
}

// handleROI serves /api/rois/{id}: GET reads the live ROI, DELETE
// removes it.
func (s *Server) handleROI(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/rois/")
	if id == "" || strings.Contains(id, "/") {
		s.writeJSONError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		roi, ok := s.engine.ROI(id)
		if !ok {
			s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("ROI %q not found", id))
			return
		}
		s.writeJSON(w, http.StatusOK, roi)
		return
	case http.MethodDelete:
	default:
		httputil.MethodNotAllowed(w, "GET, DELETE")
		return
	}

	_, err := s.engine.Dispatch(occupancy.RemoveROI{ID: id})
	if errors.Is(err, occupancy.ErrROINotFound) {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("ROI %q not found", id))
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to remove ROI: %v", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearROIs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	res, err := s.engine.Dispatch(occupancy.ClearAll{})
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to clear ROIs: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": res.Removed})
}

func (s *Server) showCounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.Counts())
}

// pushDetections hands one snapshot to the driver. The body is either
// {"detections":[...]} or a bare array.
func (s *Server) pushDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var snap occupancy.Snapshot
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &snap)
	} else {
		var req detectionsRequest
		err = json.Unmarshal(body, &req)
		snap = req.Detections
	}
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid detections: %v", err))
		return
	}

	s.mailbox.Push(snap, s.now())
	s.writeJSON(w, http.StatusAccepted, map[string]int{"detections": len(snap)})
}

func (s *Server) showAutoDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	resp := autoDetectResponse{CalibrationStatus: s.engine.CalibrationStatus()}
	if s.db != nil {
		last, err := s.db.LatestCalibrationRun(r.Context())
		switch {
		case err == nil:
			resp.LastRun = &last
		case !errors.Is(err, db.ErrNotFound):
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load calibration run: %v", err))
			return
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) startAutoDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	if _, err := s.engine.Dispatch(occupancy.StartAutoDetect{At: s.now()}); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to start auto-detect: %v", err))
		return
	}
	s.writeJSON(w, http.StatusAccepted, s.engine.CalibrationStatus())
}

func (s *Server) stopAutoDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	res, err := s.engine.Dispatch(occupancy.StopAutoDetect{})
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to stop auto-detect: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"discarded": res.Removed})
}

// handleConfig shows (GET) or updates (PUT) the occupancy parameters.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.showConfig(w)
	case http.MethodPut:
		s.updateConfig(w, r)
	default:
		httputil.MethodNotAllowed(w, "GET, PUT")
	}
}

// updateConfig applies a partial occupancy tuning document. Fields that
// only take effect at startup are rejected.
func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	var req config.OccupancyConfig
	err := httputil.DecodeJSON(w, r, maxBodyBytes, &req)
	if errors.Is(err, httputil.ErrBodyTooLarge) {
		s.writeJSONError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TickInterval != nil || req.DetectionThreshold != nil || req.IoUThreshold != nil || req.MQTTTopicPrefix != nil {
		s.writeJSONError(w, http.StatusBadRequest, "tick_interval, detection_threshold, iou_threshold and mqtt_topic_prefix are startup-only")
		return
	}
	if err := req.Validate(); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	next := s.engine.Config().WithTuning(&req)
	_, err = s.engine.Dispatch(occupancy.SetConfig{Config: next})
	if errors.Is(err, occupancy.ErrInvalidConfig) {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to update config: %v", err))
		return
	}
	s.showConfig(w)
}

func (s *Server) showConfig(w http.ResponseWriter) {
	cfg := s.engine.Config()
	s.writeJSON(w, http.StatusOK, configResponse{
		EvaluateTime:      cfg.EvaluateTime.String(),
		OverlapThreshold:  cfg.OverlapThreshold,
		AutoEvaluateTime:  cfg.AutoEvaluateTime.String(),
		MinimumAttendance: cfg.MinimumAttendance,
	})
}

// exportROIs serves the ROI collection as a downloadable JSON file.
func (s *Server) exportROIs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	data, err := json.MarshalIndent(s.engine.Snapshot(), "", "  ")
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to export ROIs: %v", err))
		return
	}
	filename := fmt.Sprintf("rois-%s.json", s.now().UTC().Format("20060102T150405Z"))
	httputil.WriteAttachment(w, "application/json", filename, data)
}

// listEvents returns stored transitions. Query params:
//   - roi_id (optional)
//   - since, until (optional, RFC3339)
//   - limit (optional, default 500)
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "event log not available")
		return
	}

	q := r.URL.Query()
	f := db.EventFilter{ROIID: q.Get("roi_id")}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		f.Limit = n
	}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"since", &f.Since}, {"until", &f.Until}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid '%s' parameter", p.name))
			return
		}
		*p.dst = t
	}

	events, err := s.db.ListEvents(r.Context(), f)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve events: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}
