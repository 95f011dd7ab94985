package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/parking.report/internal/db"
	"github.com/banshee-data/parking.report/internal/driver"
	"github.com/banshee-data/parking.report/internal/httputil"
	"github.com/banshee-data/parking.report/internal/occupancy"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxBodyBytes caps request bodies. A detection snapshot from a busy
// frame is a few KB.
const maxBodyBytes = 1 << 20

// Config contains the collaborators of Server.
type Config struct {
	Engine  *occupancy.Engine
	Mailbox *driver.Mailbox
	// DB is optional; without it /api/events answers 503.
	DB *db.DB
	// Metrics is optional and mounted at /metrics.
	Metrics http.Handler
}

type Server struct {
	engine  *occupancy.Engine
	mailbox *driver.Mailbox
	db      *db.DB
	metrics http.Handler
	now     func() time.Time
}

func NewServer(cfg Config) *Server {
	return &Server{
		engine:  cfg.Engine,
		mailbox: cfg.Mailbox,
		db:      cfg.DB,
		metrics: cfg.Metrics,
		now:     time.Now,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/rois", s.handleROIs)
	mux.HandleFunc("/api/rois/", s.handleROI)
	mux.HandleFunc("/api/rois/clear", s.clearROIs)
	mux.HandleFunc("/api/counts", s.showCounts)
	mux.HandleFunc("/api/detections", s.pushDetections)
	mux.HandleFunc("/api/autodetect", s.showAutoDetect)
	mux.HandleFunc("/api/autodetect/start", s.startAutoDetect)
	mux.HandleFunc("/api/autodetect/stop", s.stopAutoDetect)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/export", s.exportROIs)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/debug/occupancy/chart", s.handleOccupancyChart)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	httputil.WriteJSONError(w, status, msg)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	httputil.WriteJSON(w, status, v)
}
