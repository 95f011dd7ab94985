// Package mqtt publishes occupancy changes to an MQTT broker.
//
// Responsibilities:
//   - Maintain a broker connection with automatic reconnects (PahoClient)
//   - Translate engine notifications into retained per-ROI and count topics
//   - Decouple engine callbacks from network I/O through a bounded queue
//
// Topics, relative to the configured prefix:
//
//	<prefix>/roi/<id>      retained ROIMessage on every transition
//	<prefix>/counts        retained CountsMessage
//	<prefix>/calibration   CalibrationMessage after an auto-detect run
//
// Key types: Client, PahoClient, Publisher.
//
// Dependency rule: mqtt may import occupancy and metrics; nothing in the
// domain layer imports mqtt.
package mqtt
