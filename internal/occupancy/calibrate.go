package occupancy

import (
	"math"
	"time"

	"github.com/banshee-data/parking.report/internal/geometry"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// CalibrationCoverage is the fixed self-overlap a detection needs to vote
// for a candidate. It is independent of Config.OverlapThreshold.
const CalibrationCoverage = 0.8

// CalibrationReport summarises one calibration run.
type CalibrationReport struct {
	Snapshots     int       `json:"snapshots"`
	Candidates    int       `json:"candidates"`
	Kept          int       `json:"kept"`
	RequiredVotes int       `json:"required_votes"` // A candidate needs strictly more votes than this
	Votes         []int     `json:"votes"`          // Per candidate, in candidate order
	MeanVotes     float64   `json:"mean_votes"`
	MaxVotes      float64   `json:"max_votes"`
	At            time.Time `json:"at"`
}

// Calibrate infers a ROI set from a window of snapshots.
//
// The snapshot with the most detections (earliest wins ties) seeds the
// candidates. Each candidate earns one vote per snapshot holding a
// detection that covers more than CalibrationCoverage of it, and is kept
// when its votes exceed ceil(len(buffer) * minimumAttendance).
//
// Candidates are seeded from one frame only, so a stall never detected
// together with the others in the busiest frame is missed.
func Calibrate(buffer []Snapshot, minimumAttendance float64) ([]geometry.Rect, CalibrationReport) {
	report := CalibrationReport{Snapshots: len(buffer)}

	seed := -1
	for i, snap := range buffer {
		if seed < 0 || len(snap) > len(buffer[seed]) {
			seed = i
		}
	}
	if seed < 0 || len(buffer[seed]) == 0 {
		return []geometry.Rect{}, report
	}

	candidates := buffer[seed]
	report.Candidates = len(candidates)
	report.RequiredVotes = int(math.Ceil(float64(len(buffer)) * minimumAttendance))

	kept := make([]geometry.Rect, 0, len(candidates))
	report.Votes = make([]int, len(candidates))
	for i, c := range candidates {
		votes := 0
		for _, snap := range buffer {
			for _, d := range snap {
				if covers(c.Rect, d.Rect, CalibrationCoverage) {
					votes++
					break
				}
			}
		}
		report.Votes[i] = votes
		if votes > report.RequiredVotes {
			kept = append(kept, c.Rect)
		}
	}
	report.Kept = len(kept)

	fv := make([]float64, len(report.Votes))
	for i, v := range report.Votes {
		fv[i] = float64(v)
	}
	report.MeanVotes = stat.Mean(fv, nil)
	report.MaxVotes = floats.Max(fv)

	return kept, report
}

// Calibrator buffers detection snapshots while auto-detect is active.
// The zero value is inactive and ready to use.
type Calibrator struct {
	active bool
	start  time.Time
	buffer []Snapshot
}

// Start activates calibration with an empty buffer whose window opens at now.
func (c *Calibrator) Start(now time.Time) {
	c.active = true
	c.start = now
	c.buffer = nil
}

// Stop cancels calibration and discards the buffer. It returns how many
// snapshots were dropped.
func (c *Calibrator) Stop() int {
	n := len(c.buffer)
	c.active = false
	c.buffer = nil
	return n
}

// Active reports whether snapshots are being buffered.
func (c *Calibrator) Active() bool { return c.active }

// Buffered returns the number of snapshots held.
func (c *Calibrator) Buffered() int { return len(c.buffer) }

// StartedAt returns when the current window opened.
func (c *Calibrator) StartedAt() time.Time { return c.start }

// Observe appends snap to the buffer. Once more than window has passed
// since Start, it runs Calibrate, resets the buffer, deactivates and
// returns done=true with the inferred rectangles. The snapshot that
// closes the window is scored with the rest.
func (c *Calibrator) Observe(snap Snapshot, now time.Time, window time.Duration, minimumAttendance float64) (rects []geometry.Rect, report CalibrationReport, done bool) {
	if !c.active {
		return nil, CalibrationReport{}, false
	}
	c.buffer = append(c.buffer, withoutSentinels(snap))
	if now.Sub(c.start) <= window {
		return nil, CalibrationReport{}, false
	}

	rects, report = Calibrate(c.buffer, minimumAttendance)
	report.At = now
	c.Stop()
	return rects, report, true
}
