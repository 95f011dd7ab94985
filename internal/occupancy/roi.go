package occupancy

import (
	"time"

	"github.com/banshee-data/parking.report/internal/geometry"
)

// State is the derived occupancy classification of a ROI.
type State string

const (
	StateUnknown  State = "unknown"  // No confirmed continuous overlap yet
	StateVacant   State = "vacant"   // Was occupied, overlap has since expired
	StateOccupied State = "occupied" // Overlap sustained past the evaluate time
)

// GenericLabel marks ROIs drawn by hand or produced by auto-detect. Such
// ROIs carry no detector-class semantics and are excluded from
// label-based filtering.
const GenericLabel = "generic"

// SentinelLabel is the label of the placeholder detection used for ticks
// without any real detection.
const SentinelLabel = "none"

// sentinelRect sits far outside any frame so it never intersects a ROI.
var sentinelRect = geometry.Rect{Left: -1e6, Top: -1e6, Width: 1, Height: 1}

// Detection is one detector output for one object in one frame.
type Detection struct {
	Rect       geometry.Rect `json:"rect"`
	Label      string        `json:"label"`
	Confidence float64       `json:"confidence"`
}

// IsSentinel reports whether d is the empty-tick placeholder.
func (d Detection) IsSentinel() bool {
	return d.Label == SentinelLabel && d.Rect == sentinelRect
}

// NoDetection returns the placeholder detection for an empty tick.
func NoDetection() Detection {
	return Detection{Rect: sentinelRect, Label: SentinelLabel}
}

// Snapshot is the ordered list of detections delivered by one tick.
type Snapshot []Detection

// NormalizeSnapshot returns s, or a single sentinel detection when s is
// empty, so the state machine always runs its no-overlap branch uniformly.
func NormalizeSnapshot(s Snapshot) Snapshot {
	if len(s) == 0 {
		return Snapshot{NoDetection()}
	}
	return s
}

// withoutSentinels returns the real detections in s.
func withoutSentinels(s Snapshot) Snapshot {
	out := make(Snapshot, 0, len(s))
	for _, d := range s {
		if !d.IsSentinel() {
			out = append(out, d)
		}
	}
	return out
}

// EventKind classifies an entry in a ROI's event log.
type EventKind string

const (
	EventOccupied EventKind = "occupied"
	EventVacant   EventKind = "vacant"
)

// Event is one entry of a ROI's audit log. Duration is nil until the
// cycle has been confirmed and is refreshed in place while it continues.
type Event struct {
	Cycle     int            `json:"cycle"`
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  *time.Duration `json:"duration_ns,omitempty"`
}

// ROI is a monitored rectangle, typically one parking stall.
type ROI struct {
	// Identity
	ID    string        `json:"id"`
	Rect  geometry.Rect `json:"rect"`
	Label string        `json:"label"`

	// Classification
	Occupancy    State `json:"occupancy"`
	IsEvaluating bool  `json:"is_evaluating"`
	CycleCount   int   `json:"cycle_count"`

	// Timestamps. FirstSeenAt/LastSeenAt are nil outside an episode.
	CreatedAt   time.Time  `json:"created_at"`
	FirstSeenAt *time.Time `json:"first_seen_at,omitempty"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`

	Events []Event `json:"events"`
}

// NewROI builds a fresh ROI in the Unknown state with an empty event log.
func NewROI(id string, rect geometry.Rect, label string, createdAt time.Time) ROI {
	if label == "" {
		label = GenericLabel
	}
	return ROI{
		ID:           id,
		Rect:         rect,
		Label:        label,
		Occupancy:    StateUnknown,
		IsEvaluating: true,
		CreatedAt:    createdAt,
		Events:       []Event{},
	}
}

// Clone returns a deep copy of r that shares no memory with it.
func (r ROI) Clone() ROI {
	c := r
	if r.FirstSeenAt != nil {
		t := *r.FirstSeenAt
		c.FirstSeenAt = &t
	}
	if r.LastSeenAt != nil {
		t := *r.LastSeenAt
		c.LastSeenAt = &t
	}
	c.Events = make([]Event, len(r.Events))
	for i, ev := range r.Events {
		if ev.Duration != nil {
			d := *ev.Duration
			ev.Duration = &d
		}
		c.Events[i] = ev
	}
	return c
}

// cloneAll deep-copies a slice of ROIs.
func cloneAll(rois []ROI) []ROI {
	out := make([]ROI, len(rois))
	for i := range rois {
		out[i] = rois[i].Clone()
	}
	return out
}

// Counts aggregates ROI occupancy for consumers.
type Counts struct {
	Occupied int `json:"occupied"`
	Vacant   int `json:"vacant"`
	Unknown  int `json:"unknown"`
	Total    int `json:"total"`
}

// CountStates tallies the occupancy of rois.
func CountStates(rois []ROI) Counts {
	c := Counts{Total: len(rois)}
	for _, r := range rois {
		switch r.Occupancy {
		case StateOccupied:
			c.Occupied++
		case StateVacant:
			c.Vacant++
		default:
			c.Unknown++
		}
	}
	return c
}
