package occupancy

import (
	"math"

	"github.com/banshee-data/parking.report/internal/geometry"
)

// covers reports whether det covers more than threshold of roi's own
// area, or all of it. Both areas are rounded to whole pixels first so
// float noise cannot flip the result at the threshold.
//
// Coverage is intersection over ROI area, not IoU: a detection much
// larger than the ROI still counts as full coverage.
func covers(roi, det geometry.Rect, threshold float64) bool {
	inter, ok := geometry.Intersect(roi, det)
	if !ok {
		return false
	}
	interArea := math.Round(inter.Area())
	roiArea := math.Round(roi.Area())
	if interArea == roiArea {
		return true
	}
	return interArea/roiArea > threshold
}

// IsHit reports whether any single detection covers more than threshold
// of the ROI's area.
func IsHit(roi geometry.Rect, detections []Detection, threshold float64) bool {
	for _, d := range detections {
		if covers(roi, d.Rect, threshold) {
			return true
		}
	}
	return false
}
