// Package report renders occupancy history from the event log as PNG
// timelines.
package report

import (
	"fmt"
	"image/color"
	"io"
	"sort"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/parking.report/internal/db"
	"github.com/banshee-data/parking.report/internal/occupancy"
)

// Span is one occupied episode of a ROI.
type Span struct {
	ROIID string
	Label string
	Start time.Time
	End   time.Time
	Open  bool // No vacancy recorded before the end of the window
}

// Spans pairs Occupied and Vacant transitions per ROI. The episode
// starts when the vehicle was first seen, which is the Occupied
// transition time minus its duration. Episodes still open at until end
// there. Events must be in chronological order, as ListEvents returns
// them.
func Spans(events []db.OccupancyEvent, until time.Time) []Span {
	open := make(map[string]*Span)
	var spans []Span
	for _, ev := range events {
		switch ev.To {
		case occupancy.StateOccupied:
			open[ev.ROIID] = &Span{ROIID: ev.ROIID, Label: ev.Label, Start: ev.At.Add(-ev.Duration)}
		case occupancy.StateVacant:
			sp, ok := open[ev.ROIID]
			if !ok {
				continue
			}
			sp.End = ev.At
			spans = append(spans, *sp)
			delete(open, ev.ROIID)
		}
	}
	for _, sp := range open {
		sp.End = until
		sp.Open = true
		spans = append(spans, *sp)
	}
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].ROIID != spans[j].ROIID {
			return spans[i].ROIID < spans[j].ROIID
		}
		return spans[i].Start.Before(spans[j].Start)
	})
	return spans
}

// OccupiedSeries returns the number of occupied ROIs after each
// transition, as a step series over unix seconds. The count starts at
// zero at the first event, so a window that begins mid-episode
// undercounts until those ROIs go vacant; values never drop below zero.
func OccupiedSeries(events []db.OccupancyEvent) plotter.XYs {
	pts := make(plotter.XYs, 0, 2*len(events))
	n := 0
	for _, ev := range events {
		x := float64(ev.At.UnixNano()) / 1e9
		if len(pts) > 0 {
			pts = append(pts, plotter.XY{X: x, Y: float64(n)})
		}
		switch {
		case ev.To == occupancy.StateOccupied:
			n++
		case ev.From == occupancy.StateOccupied && n > 0:
			n--
		}
		pts = append(pts, plotter.XY{X: x, Y: float64(n)})
	}
	return pts
}

// Timeline builds the two plots of a report: occupied count over time
// and per-ROI occupied spans.
func Timeline(events []db.OccupancyEvent, title string, until time.Time) (count, spans *plot.Plot, err error) {
	ticks := plot.TimeTicks{Format: "01-02 15:04", Time: plot.UnixTimeIn(time.UTC)}

	count = plot.New()
	count.Title.Text = title
	count.X.Label.Text = "Time (UTC)"
	count.Y.Label.Text = "Occupied ROIs"
	count.X.Tick.Marker = ticks
	count.Add(plotter.NewGrid())
	if pts := OccupiedSeries(events); len(pts) > 0 {
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, nil, fmt.Errorf("occupied series: %w", err)
		}
		line.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
		line.Width = vg.Points(1.5)
		count.Add(line)
	}

	spans = plot.New()
	spans.Title.Text = "Occupied spans per ROI"
	spans.X.Label.Text = "Time (UTC)"
	spans.X.Tick.Marker = ticks

	var rows []string
	index := make(map[string]int)
	for _, sp := range Spans(events, until) {
		row, ok := index[sp.ROIID]
		if !ok {
			row = len(rows)
			index[sp.ROIID] = row
			rows = append(rows, shortID(sp.ROIID))
		}
		line, err := plotter.NewLine(plotter.XYs{
			{X: float64(sp.Start.UnixNano()) / 1e9, Y: float64(row)},
			{X: float64(sp.End.UnixNano()) / 1e9, Y: float64(row)},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("span for %s: %w", sp.ROIID, err)
		}
		line.Width = vg.Points(6)
		line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
		if sp.Open {
			line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		}
		spans.Add(line)
	}
	yTicks := make([]plot.Tick, len(rows))
	for i, name := range rows {
		yTicks[i] = plot.Tick{Value: float64(i), Label: name}
	}
	spans.Y.Tick.Marker = plot.ConstantTicks(yTicks)
	spans.Y.Min, spans.Y.Max = -1, float64(len(rows))

	return count, spans, nil
}

// WritePNG renders both timeline plots stacked into one PNG.
func WritePNG(w io.Writer, events []db.OccupancyEvent, title string, until time.Time) error {
	count, spans, err := Timeline(events, title, until)
	if err != nil {
		return err
	}

	width, height := 14*vg.Inch, 9*vg.Inch
	img := vgimg.New(width, height)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 2, Cols: 1, PadY: vg.Points(10), PadTop: vg.Points(5), PadBottom: vg.Points(5)}
	plots := [][]*plot.Plot{{count}, {spans}}
	canvases := plot.Align(plots, tiles, dc)
	count.Draw(canvases[0][0])
	spans.Draw(canvases[1][0])

	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
