// Package occupancy owns the parking-stall occupancy model.
//
// Responsibilities: the ROI data model, per-tick overlap evaluation,
// the occupancy hysteresis state machine, the copy-on-write ROI store,
// and the auto-detect calibrator that infers ROIs from a window of
// detection snapshots.
// Key types: ROI, Detection, Store, Calibrator, Engine.
//
// Dependency rule: this package performs no I/O. Persistence, MQTT,
// metrics and HTTP attach through the Listener interface.
package occupancy
