package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/parking.report/internal/occupancy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func TestOccupancyMetrics_Listener(t *testing.T) {
	t.Parallel()

	m, err := NewOccupancyMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.OnTick(occupancy.TickReport{
		At:     t0,
		Counts: occupancy.Counts{Occupied: 2, Vacant: 1, Unknown: 3, Total: 6},
		Transitions: []occupancy.Transition{
			{ROIID: "a", To: occupancy.StateOccupied},
			{ROIID: "b", To: occupancy.StateOccupied},
			{ROIID: "c", To: occupancy.StateVacant},
		},
	})
	m.OnTick(occupancy.TickReport{At: t0.Add(time.Second), Counts: occupancy.Counts{Occupied: 2, Vacant: 1, Unknown: 3, Total: 6}})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TicksTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("occupied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("vacant")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ROIs.WithLabelValues("occupied")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ROIs.WithLabelValues("unknown")))
	assert.Equal(t, float64(t0.Add(time.Second).Unix()), testutil.ToFloat64(m.LastTickTimestamp))

	m.OnROIsChanged(occupancy.ReasonCleared, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ROIChangesTotal.WithLabelValues("cleared")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ROIs.WithLabelValues("occupied")))

	m.OnCalibration(occupancy.CalibrationReport{Kept: 4, MeanVotes: 7.5})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CalibrationRuns))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.CalibrationKept))
	assert.Equal(t, 7.5, testutil.ToFloat64(m.CalibrationMeanVotes))
}

func TestNewOccupancyMetrics_DuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewOccupancyMetrics(reg)
	require.NoError(t, err)
	_, err = NewOccupancyMetrics(reg)
	assert.Error(t, err)
}

func TestMQTTMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewMQTTMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.UpdateConnectionStatus(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionStatus))
	m.UpdateConnectionStatus(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectionStatus))
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m, err := New()
	require.NoError(t, err)
	m.Occupancy.OnTick(occupancy.TickReport{At: t0, Counts: occupancy.Counts{Occupied: 1, Total: 1}})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `parking_rois{state="occupied"} 1`), body)
	assert.Contains(t, body, "parking_ticks_total 1")
	assert.Contains(t, body, "go_goroutines")
}
