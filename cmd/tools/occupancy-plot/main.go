// Command occupancy-plot renders the occupancy event log as a PNG
// timeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/banshee-data/parking.report/internal/db"
	"github.com/banshee-data/parking.report/internal/report"
	"github.com/banshee-data/parking.report/internal/security"
)

func main() {
	dbPath := flag.String("db", "parking.db", "path to the SQLite database")
	output := flag.String("o", "", "output PNG path (default occupancy[-<roi>].png)")
	roiID := flag.String("roi", "", "only plot this ROI")
	since := flag.Duration("since", 24*time.Hour, "how far back to plot")
	limit := flag.Int("limit", 10000, "maximum number of events")
	title := flag.String("title", "", "plot title (defaults to the time range)")
	flag.Parse()

	if *output == "" {
		*output = "occupancy.png"
		if *roiID != "" {
			*output = "occupancy-" + security.SanitizeFilename(*roiID) + ".png"
		}
	}
	if err := security.ValidateOutputPath(*output); err != nil {
		log.Fatalf("invalid output path: %v", err)
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	until := time.Now().UTC()
	from := until.Add(-*since)
	events, err := database.ListEvents(context.Background(), db.EventFilter{
		ROIID: *roiID,
		Since: from,
		Until: until,
		Limit: *limit,
	})
	if err != nil {
		log.Fatalf("failed to list events: %v", err)
	}

	if *title == "" {
		*title = fmt.Sprintf("Occupancy %s to %s", from.Format("2006-01-02 15:04"), until.Format("2006-01-02 15:04"))
	}

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("failed to create %s: %v", *output, err)
	}
	if err := report.WritePNG(f, events, *title, until); err != nil {
		f.Close()
		log.Fatalf("failed to render timeline: %v", err)
	}
	if err := f.Close(); err != nil {
		log.Fatalf("failed to write %s: %v", *output, err)
	}
	log.Printf("✓ Created: %s (%d events)", *output, len(events))
}
