package driver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/parking.report/internal/occupancy"
)

// maxLineBytes bounds a single recorded frame.
const maxLineBytes = 4 * 1024 * 1024

// Frame is one recorded detector output. TMs is milliseconds from the
// start of the recording.
type Frame struct {
	TMs        int64              `json:"t_ms"`
	Detections occupancy.Snapshot `json:"detections"`
}

// ReadFrames parses a JSON-lines recording. Blank lines are skipped.
// Frames must be in non-decreasing time order.
func ReadFrames(r io.Reader) ([]Frame, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	var frames []Frame
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var f Frame
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if n := len(frames); n > 0 && f.TMs < frames[n-1].TMs {
			return nil, fmt.Errorf("line %d: t_ms %d goes backwards (previous %d)", line, f.TMs, frames[n-1].TMs)
		}
		frames = append(frames, f)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}
	return frames, nil
}

// ReplayStats summarizes a replay run.
type ReplayStats struct {
	Frames      int `json:"frames"`
	Transitions int `json:"transitions"`
	Buffered    int `json:"buffered"` // Frames captured by auto-detect
}

// Replay dispatches every frame as a tick at base + t_ms without
// waiting in between, so a recording evaluates deterministically.
func Replay(ctx context.Context, engine Dispatcher, frames []Frame, filter Filter, base time.Time) (ReplayStats, error) {
	var stats ReplayStats
	for i, f := range frames {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		at := base.Add(time.Duration(f.TMs) * time.Millisecond)
		res, err := engine.Dispatch(occupancy.Tick{Detections: filter.Apply(f.Detections), At: at})
		if err != nil {
			return stats, fmt.Errorf("frame %d: %w", i, err)
		}
		stats.Frames++
		stats.Transitions += len(res.Transitions)
		if res.Buffered {
			stats.Buffered++
		}
	}
	diagf("[Replay] %d frames, %d transitions, %d buffered for auto-detect", stats.Frames, stats.Transitions, stats.Buffered)
	return stats, nil
}
