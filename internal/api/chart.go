package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/parking.report/internal/httputil"
	"github.com/banshee-data/parking.report/internal/occupancy"
)

var stateColors = map[occupancy.State]string{
	occupancy.StateOccupied: "#d62728",
	occupancy.StateVacant:   "#2ca02c",
	occupancy.StateUnknown:  "#7f7f7f",
}

// handleOccupancyChart renders the current counts and per-ROI cycle
// counts as an HTML page. Debugging only; no auth.
func (s *Server) handleOccupancyChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}

	rois := s.engine.Snapshot()
	counts := occupancy.CountStates(rois)
	now := s.now()

	states := []occupancy.State{occupancy.StateOccupied, occupancy.StateVacant, occupancy.StateUnknown}
	x := make([]string, len(states))
	y := make([]opts.BarData, len(states))
	for i, st := range states {
		x[i] = string(st)
		n := counts.Occupied
		switch st {
		case occupancy.StateVacant:
			n = counts.Vacant
		case occupancy.StateUnknown:
			n = counts.Unknown
		}
		y[i] = opts.BarData{Value: n, ItemStyle: &opts.ItemStyle{Color: stateColors[st]}}
	}

	summary := charts.NewBar()
	summary.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Parking Occupancy", Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Occupancy", Subtitle: fmt.Sprintf("%d ROIs at %s", counts.Total, now.Format(time.RFC3339))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	summary.SetXAxis(x).
		AddSeries("rois", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	names := make([]string, len(rois))
	cycles := make([]opts.BarData, len(rois))
	for i, roi := range rois {
		names[i] = shortID(roi.ID)
		cycles[i] = opts.BarData{
			Name:      roi.Label,
			Value:     roi.CycleCount,
			ItemStyle: &opts.ItemStyle{Color: stateColors[roi.Occupancy]},
		}
	}

	perROI := charts.NewBar()
	perROI.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Occupancy cycles per ROI", Subtitle: "bar colour is the current state"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "ROI", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "cycles", NameLocation: "middle", NameGap: 30}),
	)
	perROI.SetXAxis(names).AddSeries("cycles", cycles)

	page := components.NewPage()
	page.AddCharts(summary, perROI)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
