// Package db persists the occupancy engine's state in SQLite.
//
// Responsibilities:
//   - Open the database (modernc.org/sqlite) with WAL pragmas and apply
//     the embedded golang-migrate migrations.
//   - Store the ROI collection and restore it on startup.
//   - Append occupancy transitions and calibration runs to their logs.
//   - Expose tailsql and a backup download under the tsweb debugger.
//
// Key types: DB, Recorder (an occupancy.Listener), OccupancyEvent.
//
// Dependency rule: db imports occupancy only. The engine
// never imports db; it reaches storage through the Listener interface.
package db
