// Package driver feeds detector output into the occupancy engine.
//
// Responsibilities:
//   - Hold the latest detector snapshot (Mailbox); pushes never block.
//   - Filter snapshots upstream of the engine: confidence threshold and
//     per-label non-maximum suppression.
//   - Dispatch one occupancy.Tick per interval from a timeutil.Clock
//     ticker, waiting for each tick to complete before taking the next.
//   - Replay JSON-lines recordings deterministically.
//
// Dependency rule: driver imports occupancy, geometry and timeutil. It
// never touches storage or transport; those are engine listeners.
package driver
