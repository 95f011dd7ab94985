package driver

import (
	"math"
	"testing"

	"github.com/banshee-data/parking.report/internal/geometry"
	"github.com/banshee-data/parking.report/internal/occupancy"
	"github.com/stretchr/testify/assert"
)

func TestFilter_Apply(t *testing.T) {
	t.Parallel()

	f := Filter{DetectionThreshold: 0.5, IoUThreshold: 0.45}

	tests := []struct {
		name string
		in   occupancy.Snapshot
		want []float64 // confidences of the kept detections, in order
	}{
		{"empty", nil, []float64{}},
		{"sentinel dropped", occupancy.Snapshot{occupancy.NoDetection()}, []float64{}},
		{"below threshold", occupancy.Snapshot{car(0, 0.49)}, []float64{}},
		{"at threshold kept", occupancy.Snapshot{car(0, 0.5)}, []float64{0.5}},
		{"NaN confidence", occupancy.Snapshot{car(0, math.NaN())}, []float64{}},
		{"sorted by confidence", occupancy.Snapshot{car(0, 0.6), car(300, 0.9)}, []float64{0.9, 0.6}},
		{"duplicate suppressed", occupancy.Snapshot{car(0, 0.7), car(10, 0.95)}, []float64{0.95}},
		{"low overlap kept", occupancy.Snapshot{car(0, 0.7), car(60, 0.8)}, []float64{0.8, 0.7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.Apply(tt.in)
			confs := make([]float64, 0, len(got))
			for _, d := range got {
				confs = append(confs, d.Confidence)
			}
			assert.Equal(t, tt.want, confs)
		})
	}
}

func TestFilter_DifferentLabelsNotSuppressed(t *testing.T) {
	t.Parallel()

	truck := car(0, 0.8)
	truck.Label = "truck"
	got := Filter{IoUThreshold: 0.45}.Apply(occupancy.Snapshot{car(0, 0.9), truck})
	assert.Len(t, got, 2)
}

func TestFilter_ClampsMalformedRects(t *testing.T) {
	t.Parallel()

	bad := occupancy.Detection{
		Rect:       geometry.Rect{Left: 5, Top: 5, Width: -20, Height: 10},
		Label:      "car",
		Confidence: 0.9,
	}
	nan := occupancy.Detection{
		Rect:       geometry.Rect{Left: math.NaN(), Width: 10, Height: 10},
		Label:      "car",
		Confidence: 0.9,
	}
	assert.Empty(t, Filter{}.Apply(occupancy.Snapshot{bad, nan}))
}
