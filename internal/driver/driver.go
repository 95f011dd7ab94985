package driver

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/parking.report/internal/occupancy"
	"github.com/banshee-data/parking.report/internal/timeutil"
)

// Dispatcher is the part of occupancy.Engine the driver needs.
type Dispatcher interface {
	Dispatch(cmd occupancy.Command) (occupancy.Result, error)
}

// Config contains configuration for Driver.
type Config struct {
	// Interval is the tick cadence (e.g. 500*time.Millisecond).
	Interval time.Duration
	// MaxAge is how long the latest snapshot keeps being re-evaluated
	// when the detector stops pushing. Older snapshots are treated as an
	// empty frame. Zero means three intervals.
	MaxAge time.Duration
	// Filter is applied to every snapshot before dispatch.
	Filter Filter
	// Clock is optional; nil uses timeutil.RealClock.
	Clock timeutil.Clock
}

// Driver turns the mailbox into a steady stream of Tick commands.
type Driver struct {
	engine  Dispatcher
	mailbox *Mailbox
	cfg     Config
	clock   timeutil.Clock

	ticks atomic.Uint64
	stale atomic.Bool
}

// New creates a driver reading from mailbox and dispatching to engine.
func New(engine Dispatcher, mailbox *Mailbox, cfg Config) *Driver {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 3 * cfg.Interval
	}
	return &Driver{engine: engine, mailbox: mailbox, cfg: cfg, clock: clock}
}

// Run ticks until ctx is cancelled. Each tick is dispatched and
// completes before the next one is taken from the ticker.
func (d *Driver) Run(ctx context.Context) error {
	if d.cfg.Interval <= 0 {
		return fmt.Errorf("driver: tick interval must be positive, got %v", d.cfg.Interval)
	}

	ticker := d.clock.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	diagf("[Driver] Started: interval=%v max_age=%v", d.cfg.Interval, d.cfg.MaxAge)
	for {
		select {
		case <-ctx.Done():
			diagf("[Driver] Stopping after %d ticks", d.ticks.Load())
			return nil
		case now := <-ticker.C():
			if _, err := d.TickOnce(now); err != nil {
				opsf("[Driver] Tick at %s failed: %v", now.Format(time.RFC3339Nano), err)
			}
		}
	}
}

// TickOnce dispatches a single tick at now using the latest snapshot.
func (d *Driver) TickOnce(now time.Time) (occupancy.Result, error) {
	snap, received, fresh, ok := d.mailbox.Latest()
	switch {
	case !ok:
		snap = nil
	case now.Sub(received) > d.cfg.MaxAge:
		if !d.stale.Swap(true) {
			opsf("[Driver] Detector silent since %s, evaluating empty frames", received.Format(time.RFC3339))
		}
		snap = nil
	default:
		if d.stale.Swap(false) {
			diagf("[Driver] Detector resumed")
		}
	}

	filtered := d.cfg.Filter.Apply(snap)
	d.ticks.Add(1)
	tracef("[Driver] Tick %s: %d detections (fresh=%v)", now.Format(time.RFC3339Nano), len(filtered), fresh)
	return d.engine.Dispatch(occupancy.Tick{Detections: filtered, At: now})
}

// Ticks returns how many ticks have been dispatched.
func (d *Driver) Ticks() uint64 {
	return d.ticks.Load()
}
