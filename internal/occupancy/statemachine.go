package occupancy

import "time"

// Transition records an occupancy change produced by Step.
type Transition struct {
	ROIID    string        `json:"roi_id"`
	Label    string        `json:"label"`
	From     State         `json:"from"`
	To       State         `json:"to"`
	Cycle    int           `json:"cycle"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration_ns"` // Length of the occupied span at the time of the transition
}

// Step advances one ROI by one tick and returns the updated copy; roi
// itself is never modified. The returned Transition is nil unless the
// occupancy changed.
//
// Rules, in priority order:
//  1. the evaluating flag clears once evaluateTime has passed since the
//     ROI was created (independent of the rules below);
//  2. a hit with no open episode opens one (first = last = now);
//  3. a hit inside an episode extends it, and once the episode is longer
//     than evaluateTime the ROI becomes Occupied and the current cycle's
//     duration is refreshed;
//  4. no hit for longer than evaluateTime since the last hit resets an
//     Occupied ROI to Vacant and closes the episode;
//  5. otherwise nothing changes, which absorbs single missed detections.
func Step(roi ROI, hit bool, now time.Time, evaluateTime time.Duration) (ROI, *Transition) {
	next := roi.Clone()

	if next.IsEvaluating && now.Sub(next.CreatedAt) >= evaluateTime {
		next.IsEvaluating = false
	}

	var tr *Transition
	switch {
	case hit && next.FirstSeenAt == nil:
		first, last := now, now
		next.FirstSeenAt = &first
		next.LastSeenAt = &last

	case hit:
		last := now
		next.LastSeenAt = &last
		elapsed := last.Sub(*next.FirstSeenAt)
		if elapsed > evaluateTime {
			if next.Occupancy != StateOccupied {
				from := next.Occupancy
				next.Occupancy = StateOccupied
				next.CycleCount++
				next.Events = append(next.Events, Event{
					Cycle:     next.CycleCount,
					Kind:      EventOccupied,
					Timestamp: now,
				})
				tr = &Transition{
					ROIID: next.ID,
					Label: next.Label,
					From:  from,
					To:    StateOccupied,
					Cycle: next.CycleCount,
					At:    now,
				}
			}
			next.refreshCycleDuration(elapsed)
			if tr != nil {
				tr.Duration = elapsed
			}
		}

	case !hit && next.LastSeenAt != nil && now.Sub(*next.LastSeenAt) > evaluateTime:
		if next.Occupancy == StateOccupied {
			occupiedFor := next.LastSeenAt.Sub(*next.FirstSeenAt)
			next.FirstSeenAt = nil
			next.LastSeenAt = nil
			next.Occupancy = StateVacant
			next.Events = append(next.Events, Event{
				Cycle:     next.CycleCount,
				Kind:      EventVacant,
				Timestamp: now,
			})
			tr = &Transition{
				ROIID:    next.ID,
				Label:    next.Label,
				From:     StateOccupied,
				To:       StateVacant,
				Cycle:    next.CycleCount,
				At:       now,
				Duration: occupiedFor,
			}
		}
	}

	return next, tr
}

// refreshCycleDuration updates the Occupied entry of the current cycle.
func (r *ROI) refreshCycleDuration(d time.Duration) {
	for i := len(r.Events) - 1; i >= 0; i-- {
		ev := &r.Events[i]
		if ev.Cycle == r.CycleCount && ev.Kind == EventOccupied {
			dur := d
			ev.Duration = &dur
			return
		}
	}
}
