package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/parking.report/internal/api"
	"github.com/banshee-data/parking.report/internal/config"
	"github.com/banshee-data/parking.report/internal/db"
	"github.com/banshee-data/parking.report/internal/driver"
	"github.com/banshee-data/parking.report/internal/metrics"
	"github.com/banshee-data/parking.report/internal/mqtt"
	"github.com/banshee-data/parking.report/internal/occupancy"
	"github.com/banshee-data/parking.report/internal/version"
)

var (
	listen       = flag.String("listen", ":8080", "Listen address")
	dbPath       = flag.String("db", "parking.db", "Path to the SQLite database")
	configPath   = flag.String("config", config.DefaultConfigPath, "Path to the occupancy tuning JSON (empty for built-in defaults)")
	mqttBroker   = flag.String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883 (empty disables MQTT)")
	mqttClientID = flag.String("mqtt-client-id", "parking-report", "MQTT client ID")
	mqttUsername = flag.String("mqtt-username", "", "MQTT username")
	replayPath   = flag.String("replay", "", "Replay a JSON-lines detection recording and exit")
	replayDetect = flag.Bool("replay-autodetect", false, "Start auto-detect at the beginning of the replay")
	logDiag      = flag.Bool("log-diag", true, "Log state transitions and calibration outcomes")
	logTrace     = flag.Bool("log-trace", false, "Log per-tick telemetry (verbose)")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

// logWriters maps the logging flags onto the three streams. Ops is always
// on.
func logWriters(diag, trace bool, w io.Writer) (ops, diagW, traceW io.Writer) {
	ops = w
	if diag {
		diagW = w
	}
	if trace {
		traceW = w
	}
	return ops, diagW, traceW
}

func configureLogging(ops, diag, trace io.Writer) {
	occupancy.SetLogWriters(ops, diag, trace)
	driver.SetLogWriters(ops, diag, trace)
	db.SetLogWriters(ops, diag, trace)
	mqtt.SetLogWriters(ops, diag, trace)
}

// loadTuning reads path, or returns the fully populated built-in
// defaults when path is empty.
func loadTuning(path string) (*config.OccupancyConfig, error) {
	if path == "" {
		return config.DefaultOccupancyConfig(), nil
	}
	return config.LoadOccupancyConfig(path)
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("parking %s\n", version.String())
		return
	}
	if *listen == "" && *replayPath == "" {
		log.Fatal("Listen address is required")
	}

	configureLogging(logWriters(*logDiag, *logTrace, os.Stderr))
	log.Printf("parking %s", version.String())

	tuning, err := loadTuning(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := occupancy.ConfigFromTuning(tuning)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid occupancy config: %v", err)
	}
	filter := driver.Filter{
		DetectionThreshold: tuning.GetDetectionThreshold(),
		IoUThreshold:       tuning.GetIoUThreshold(),
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *replayPath != "" {
		if err := runReplay(ctx, database, cfg, filter, *replayPath, *replayDetect, os.Stdout); err != nil {
			log.Fatalf("replay failed: %v", err)
		}
		return
	}

	m, err := metrics.New()
	if err != nil {
		log.Fatalf("failed to create metrics: %v", err)
	}

	engine := occupancy.NewEngine(cfg, nil, db.NewRecorder(database), m.Occupancy)
	restored, err := db.Restore(ctx, database, engine)
	if err != nil {
		log.Fatalf("failed to restore ROIs: %v", err)
	}
	log.Printf("restored %d ROIs from %s", restored, database.Path())

	// Create a wait group for the HTTP server, tick driver and MQTT publisher routines
	var wg sync.WaitGroup

	if *mqttBroker != "" {
		client, err := mqtt.Dial(ctx, mqtt.Config{
			Broker:   *mqttBroker,
			ClientID: *mqttClientID,
			Username: *mqttUsername,
			Password: os.Getenv("PARKING_MQTT_PASSWORD"),
		}, m.MQTT)
		if err != nil {
			log.Fatalf("failed to connect to MQTT broker: %v", err)
		}
		pub := mqtt.NewPublisher(client, mqtt.PublisherConfig{
			TopicPrefix: tuning.GetMQTTTopicPrefix(),
			Metrics:     m.MQTT,
		})
		engine.AddListener(pub)
		// Retained counts for subscribers that connect before the first change
		pub.OnROIsChanged(occupancy.ReasonRestored, engine.Snapshot())

		wg.Add(1)
		go func() {
			defer wg.Done()
			pub.Run(ctx)
			log.Print("mqtt publisher routine terminated")
		}()
	}

	mailbox := &driver.Mailbox{}
	drv := driver.New(engine, mailbox, driver.Config{
		Interval: tuning.GetTickInterval(),
		Filter:   filter,
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := drv.Run(ctx); err != nil {
			log.Printf("tick driver failed: %v", err)
			stop()
		}
		log.Printf("tick driver routine terminated after %d ticks", drv.Ticks())
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(api.Config{
			Engine:  engine,
			Mailbox: mailbox,
			DB:      database,
			Metrics: m.Handler(),
		}).ServeMux()

		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach DB admin routes: %v", err)
		}

		serveHTTP(ctx, stop, &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		})
		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()

	// Episode timestamps move on every hit but are only written on
	// transitions; save the latest collection before exiting.
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := database.SaveROIs(saveCtx, engine.Snapshot()); err != nil {
		log.Printf("failed to save ROIs on shutdown: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// serveHTTP runs server until ctx is done. A listen failure calls stop so
// the other routines wind down and the shutdown save still runs.
func serveHTTP(ctx context.Context, stop context.CancelFunc, server *http.Server) {
	go func() {
		log.Printf("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
			stop()
		}
	}()

	// Wait for context cancellation to shut down server
	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
}

type replayOutput struct {
	Stats  driver.ReplayStats `json:"stats"`
	Counts occupancy.Counts   `json:"counts"`
	ROIs   []occupancy.ROI    `json:"rois"`
}

// runReplay evaluates a recording against the stored ROIs without
// writing anything back, and prints the outcome as JSON.
func runReplay(ctx context.Context, database *db.DB, cfg occupancy.Config, filter driver.Filter, path string, autodetect bool, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	frames, err := driver.ReadFrames(f)
	if err != nil {
		return err
	}

	engine := occupancy.NewEngine(cfg, nil)
	if _, err := db.Restore(ctx, database, engine); err != nil {
		return fmt.Errorf("failed to restore ROIs: %w", err)
	}

	base := time.Now().UTC()
	if autodetect {
		if _, err := engine.Dispatch(occupancy.StartAutoDetect{At: base}); err != nil {
			return err
		}
	}

	stats, err := driver.Replay(ctx, engine, frames, filter, base)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(replayOutput{Stats: stats, Counts: engine.Counts(), ROIs: engine.Snapshot()})
}
