package driver

import (
	"math"
	"sort"

	"github.com/banshee-data/parking.report/internal/geometry"
	"github.com/banshee-data/parking.report/internal/occupancy"
)

// Filter is the upstream step between the detector and the engine. It
// drops low-confidence detections and suppresses duplicates of the same
// label whose boxes overlap by more than IoUThreshold.
type Filter struct {
	DetectionThreshold float64
	IoUThreshold       float64
}

// Apply returns the filtered detections of snap, ordered by descending
// confidence. Malformed rectangles are clamped to the empty rectangle so
// they can never produce a hit. Sentinels are dropped; the engine adds
// its own for an empty tick.
func (f Filter) Apply(snap occupancy.Snapshot) occupancy.Snapshot {
	kept := make(occupancy.Snapshot, 0, len(snap))
	for _, d := range snap {
		if d.IsSentinel() {
			continue
		}
		if math.IsNaN(d.Confidence) || d.Confidence < f.DetectionThreshold {
			continue
		}
		d.Rect = d.Rect.Sanitize()
		if d.Rect.Area() == 0 {
			continue
		}
		kept = append(kept, d)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Confidence > kept[j].Confidence
	})

	out := kept[:0]
	for _, d := range kept {
		suppressed := false
		for _, k := range out {
			if k.Label == d.Label && geometry.IoU(k.Rect, d.Rect) > f.IoUThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			out = append(out, d)
		}
	}
	if dropped := len(snap) - len(out); dropped > 0 {
		tracef("[Filter] Kept %d of %d detections", len(out), len(snap))
	}
	return out
}
