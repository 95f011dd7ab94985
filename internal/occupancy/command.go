package occupancy

import (
	"time"

	"github.com/banshee-data/parking.report/internal/geometry"
)

// Command is a request to the Engine. The set of implementations is
// closed: only the types in this file satisfy it.
type Command interface {
	command()
}

// AddROI places a ROI drawn by an operator. Drawn ROIs are always
// GenericLabel.
type AddROI struct {
	Rect geometry.Rect
	At   time.Time
}

// RemoveROI deletes a single ROI.
type RemoveROI struct {
	ID string
}

// ClearAll deletes every ROI.
type ClearAll struct{}

// Tick delivers one detection snapshot.
type Tick struct {
	Detections Snapshot
	At         time.Time
}

// StartAutoDetect begins buffering snapshots for calibration.
type StartAutoDetect struct {
	At time.Time
}

// StopAutoDetect cancels calibration without touching the ROI set.
type StopAutoDetect struct{}

// ReplaceROIs swaps in a previously persisted collection.
type ReplaceROIs struct {
	ROIs []ROI
}

// SetConfig replaces the engine configuration.
type SetConfig struct {
	Config Config
}

func (AddROI) command()          {}
func (RemoveROI) command()       {}
func (ClearAll) command()        {}
func (Tick) command()            {}
func (StartAutoDetect) command() {}
func (StopAutoDetect) command()  {}
func (ReplaceROIs) command()     {}
func (SetConfig) command()       {}
