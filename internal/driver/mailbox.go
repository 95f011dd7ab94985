package driver

import (
	"sync"
	"time"

	"github.com/banshee-data/parking.report/internal/occupancy"
)

// Mailbox holds the most recent detection snapshot pushed by the
// detector. A push overwrites any snapshot the driver has not consumed
// yet: the engine only ever evaluates the latest frame.
type Mailbox struct {
	mu          sync.Mutex
	snap        occupancy.Snapshot
	receivedAt  time.Time
	pending     bool
	pushed      uint64
	overwritten uint64
}

// Push stores snap as the latest snapshot, received at at.
func (m *Mailbox) Push(snap occupancy.Snapshot, at time.Time) {
	cp := make(occupancy.Snapshot, len(snap))
	copy(cp, snap)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending {
		m.overwritten++
	}
	m.snap = cp
	m.receivedAt = at
	m.pending = true
	m.pushed++
}

// Latest returns the most recent snapshot and when it arrived. fresh
// is true when it has not been returned by Latest before. ok is false
// when nothing was ever pushed.
func (m *Mailbox) Latest() (snap occupancy.Snapshot, at time.Time, fresh, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.receivedAt.IsZero() {
		return nil, time.Time{}, false, false
	}
	fresh = m.pending
	m.pending = false
	return m.snap, m.receivedAt, fresh, true
}

// MailboxStats counts pushes and snapshots replaced before evaluation.
type MailboxStats struct {
	Pushed      uint64 `json:"pushed"`
	Overwritten uint64 `json:"overwritten"`
}

// Stats returns push counters.
func (m *Mailbox) Stats() MailboxStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MailboxStats{Pushed: m.pushed, Overwritten: m.overwritten}
}
