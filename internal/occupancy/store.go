package occupancy

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/parking.report/internal/geometry"
	"github.com/google/uuid"
)

var (
	// ErrInvalidRect is returned when a ROI rectangle is malformed.
	ErrInvalidRect = geometry.ErrInvalidRect
	// ErrROINotFound is returned by Remove for an unknown id.
	ErrROINotFound = errors.New("roi not found")
)

// Store is the authoritative ROI collection.
//
// Every mutation builds a new slice and publishes it with an atomic
// pointer swap, so Snapshot never observes a half-applied tick.
// Writers are serialized by mu; readers take no lock.
type Store struct {
	rois atomic.Pointer[[]ROI]
	mu   sync.Mutex

	// NewID generates ROI ids. Defaults to random UUIDs.
	NewID func() string
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{NewID: func() string { return uuid.New().String() }}
	empty := []ROI{}
	s.rois.Store(&empty)
	return s
}

func (s *Store) current() []ROI {
	return *s.rois.Load()
}

// Add validates rect and appends a new generic ROI created at now.
func (s *Store) Add(rect geometry.Rect, now time.Time) (string, error) {
	if err := rect.Validate(); err != nil {
		return "", fmt.Errorf("add roi: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current()
	next := make([]ROI, len(cur), len(cur)+1)
	copy(next, cur)
	roi := NewROI(s.NewID(), rect, GenericLabel, now)
	next = append(next, roi)
	s.rois.Store(&next)
	return roi.ID, nil
}

// Remove deletes the ROI with the given id. Unknown ids return
// ErrROINotFound and leave the store untouched.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current()
	next := make([]ROI, 0, len(cur))
	for _, r := range cur {
		if r.ID != id {
			next = append(next, r)
		}
	}
	if len(next) == len(cur) {
		return fmt.Errorf("remove roi %q: %w", id, ErrROINotFound)
	}
	s.rois.Store(&next)
	return nil
}

// Clear removes every ROI and returns how many were dropped.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.current())
	empty := []ROI{}
	s.rois.Store(&empty)
	return n
}

// Replace swaps in an entirely new collection. The input is copied.
func (s *Store) Replace(rois []ROI) {
	next := cloneAll(rois)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rois.Store(&next)
}

// ReplaceRects swaps in fresh ROIs built from rects, all created at now
// with the generic label.
func (s *Store) ReplaceRects(rects []geometry.Rect, now time.Time) []ROI {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]ROI, 0, len(rects))
	for _, r := range rects {
		next = append(next, NewROI(s.NewID(), r, GenericLabel, now))
	}
	s.rois.Store(&next)
	return cloneAll(next)
}

// ApplyTick evaluates every ROI against the same detections and time and
// publishes the result in a single swap. It returns the transitions that
// occurred, in collection order.
func (s *Store) ApplyTick(detections Snapshot, now time.Time, cfg Config) []Transition {
	detections = NormalizeSnapshot(detections)

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current()
	next := make([]ROI, len(cur))
	var transitions []Transition
	for i, roi := range cur {
		hit := IsHit(roi.Rect, detections, cfg.OverlapThreshold)
		updated, tr := Step(roi, hit, now, cfg.EvaluateTime)
		next[i] = updated
		if tr != nil {
			transitions = append(transitions, *tr)
		}
	}
	s.rois.Store(&next)
	return transitions
}

// Snapshot returns a deep copy of the current collection.
func (s *Store) Snapshot() []ROI {
	return cloneAll(s.current())
}

// Get returns a copy of the ROI with the given id.
func (s *Store) Get(id string) (ROI, bool) {
	for _, r := range s.current() {
		if r.ID == id {
			return r.Clone(), true
		}
	}
	return ROI{}, false
}

// Len returns the number of ROIs.
func (s *Store) Len() int {
	return len(s.current())
}

// Counts tallies the current collection.
func (s *Store) Counts() Counts {
	return CountStates(s.current())
}
