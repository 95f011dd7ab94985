package occupancy

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnknownCommand is returned by Dispatch for a nil command.
var ErrUnknownCommand = errors.New("unknown command")

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid config")

// ChangeReason says why the ROI collection changed outside a tick.
type ChangeReason string

const (
	ReasonAdded      ChangeReason = "added"
	ReasonRemoved    ChangeReason = "removed"
	ReasonCleared    ChangeReason = "cleared"
	ReasonCalibrated ChangeReason = "calibrated"
	ReasonRestored   ChangeReason = "restored"
)

// TickReport describes the outcome of one evaluated tick.
type TickReport struct {
	At          time.Time
	Counts      Counts
	Transitions []Transition
	ROIs        []ROI // Collection after the tick
}

// Listener receives engine notifications. Callbacks run synchronously
// inside Dispatch, in dispatch order, and must not call back into the
// Engine.
type Listener interface {
	OnTick(report TickReport)
	OnROIsChanged(reason ChangeReason, rois []ROI)
	OnCalibration(report CalibrationReport)
}

// Result is what Dispatch hands back to the caller.
type Result struct {
	ID          string             `json:"id,omitempty"`      // AddROI
	Removed     int                `json:"removed,omitempty"` // RemoveROI, ClearAll, StopAutoDetect (dropped snapshots)
	Transitions []Transition       `json:"transitions,omitempty"`
	Buffered    bool               `json:"buffered,omitempty"` // Tick was captured by auto-detect
	Calibration *CalibrationReport `json:"calibration,omitempty"`
}

// Engine routes commands to the store and calibrator. Dispatch is
// serialized, so concurrent ticks are applied one after another rather
// than interleaved.
type Engine struct {
	mu         sync.Mutex
	store      *Store
	calibrator Calibrator
	cfg        Config
	listeners  []Listener
}

// NewEngine creates an engine over store. A nil store gets a fresh one.
func NewEngine(cfg Config, store *Store, listeners ...Listener) *Engine {
	if store == nil {
		store = NewStore()
	}
	e := &Engine{store: store, cfg: cfg}
	for _, l := range listeners {
		if l != nil {
			e.listeners = append(e.listeners, l)
		}
	}
	return e
}

// AddListener registers l for subsequent notifications.
func (e *Engine) AddListener(l Listener) {
	if l == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// Dispatch applies one command.
func (e *Engine) Dispatch(cmd Command) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch c := cmd.(type) {
	case AddROI:
		id, err := e.store.Add(c.Rect, orNow(c.At))
		if err != nil {
			return Result{}, err
		}
		diagf("[Engine] Added ROI %s at %+v", id, c.Rect)
		e.notifyChanged(ReasonAdded)
		return Result{ID: id}, nil

	case RemoveROI:
		if err := e.store.Remove(c.ID); err != nil {
			return Result{}, err
		}
		diagf("[Engine] Removed ROI %s", c.ID)
		e.notifyChanged(ReasonRemoved)
		return Result{Removed: 1}, nil

	case ClearAll:
		n := e.store.Clear()
		diagf("[Engine] Cleared %d ROIs", n)
		e.notifyChanged(ReasonCleared)
		return Result{Removed: n}, nil

	case Tick:
		return e.tick(c), nil

	case StartAutoDetect:
		at := orNow(c.At)
		if e.calibrator.Active() {
			diagf("[Engine] Auto-detect restarted, dropping %d buffered snapshots", e.calibrator.Buffered())
		}
		e.calibrator.Start(at)
		diagf("[Engine] Auto-detect started, window %v", e.cfg.AutoEvaluateTime)
		return Result{}, nil

	case StopAutoDetect:
		dropped := e.calibrator.Stop()
		diagf("[Engine] Auto-detect stopped, discarded %d snapshots", dropped)
		return Result{Removed: dropped}, nil

	case ReplaceROIs:
		e.store.Replace(c.ROIs)
		diagf("[Engine] Restored %d ROIs", len(c.ROIs))
		e.notifyChanged(ReasonRestored)
		return Result{}, nil

	case SetConfig:
		if err := c.Config.Validate(); err != nil {
			opsf("[Engine] Rejected config update: %v", err)
			return Result{}, err
		}
		e.cfg = c.Config
		diagf("[Engine] Config updated: %+v", c.Config)
		return Result{}, nil

	default:
		return Result{}, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
}

func (e *Engine) tick(c Tick) Result {
	at := orNow(c.At)

	if e.calibrator.Active() {
		rects, report, done := e.calibrator.Observe(c.Detections, at, e.cfg.AutoEvaluateTime, e.cfg.MinimumAttendance)
		if !done {
			tracef("[Engine] Buffered snapshot %d (%d detections)", e.calibrator.Buffered(), len(c.Detections))
			return Result{Buffered: true}
		}
		rois := e.store.ReplaceRects(rects, at)
		diagf("[Engine] Auto-detect kept %d of %d candidates over %d snapshots (need > %d votes)",
			report.Kept, report.Candidates, report.Snapshots, report.RequiredVotes)
		for _, l := range e.listeners {
			l.OnCalibration(report)
			l.OnROIsChanged(ReasonCalibrated, rois)
		}
		return Result{Buffered: true, Calibration: &report}
	}

	transitions := e.store.ApplyTick(c.Detections, at, e.cfg)
	for _, tr := range transitions {
		diagf("[Engine] ROI %s %s -> %s (cycle %d)", tr.ROIID, tr.From, tr.To, tr.Cycle)
	}
	tracef("[Engine] Tick %s: %d detections, %d ROIs, %d transitions",
		at.Format(time.RFC3339Nano), len(c.Detections), e.store.Len(), len(transitions))

	if len(e.listeners) > 0 {
		rois := e.store.Snapshot()
		report := TickReport{
			At:          at,
			Counts:      CountStates(rois),
			Transitions: transitions,
			ROIs:        rois,
		}
		for _, l := range e.listeners {
			l.OnTick(report)
		}
	}
	return Result{Transitions: transitions}
}

func (e *Engine) notifyChanged(reason ChangeReason) {
	if len(e.listeners) == 0 {
		return
	}
	rois := e.store.Snapshot()
	for _, l := range e.listeners {
		l.OnROIsChanged(reason, rois)
	}
}

// Snapshot returns a copy of the current ROI collection. It does not
// wait for an in-flight Dispatch.
func (e *Engine) Snapshot() []ROI {
	return e.store.Snapshot()
}

// ROI returns a copy of the live ROI with the given id.
func (e *Engine) ROI(id string) (ROI, bool) {
	return e.store.Get(id)
}

// Counts tallies the current ROI collection.
func (e *Engine) Counts() Counts {
	return e.store.Counts()
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// CalibrationStatus describes the auto-detect state.
type CalibrationStatus struct {
	Active    bool      `json:"active"`
	Buffered  int       `json:"buffered"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Window    string    `json:"window"`
}

// CalibrationStatus reports whether auto-detect is running.
func (e *Engine) CalibrationStatus() CalibrationStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := CalibrationStatus{
		Active:   e.calibrator.Active(),
		Buffered: e.calibrator.Buffered(),
		Window:   e.cfg.AutoEvaluateTime.String(),
	}
	if st.Active {
		st.StartedAt = e.calibrator.StartedAt()
	}
	return st
}

// Validate checks that c is usable.
func (c Config) Validate() error {
	if c.EvaluateTime < 0 || c.AutoEvaluateTime < 0 {
		return fmt.Errorf("%w: durations must be non-negative: evaluate=%v auto_evaluate=%v", ErrInvalidConfig, c.EvaluateTime, c.AutoEvaluateTime)
	}
	if c.OverlapThreshold < 0 || c.OverlapThreshold > 1 {
		return fmt.Errorf("%w: overlap_threshold must be between 0 and 1, got %f", ErrInvalidConfig, c.OverlapThreshold)
	}
	if c.MinimumAttendance < 0 || c.MinimumAttendance > 1 {
		return fmt.Errorf("%w: minimum_attendance must be between 0 and 1, got %f", ErrInvalidConfig, c.MinimumAttendance)
	}
	return nil
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		tracef("[Engine] Command without timestamp, using wall clock")
		return time.Now()
	}
	return t
}
