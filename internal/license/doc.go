// Package license implements the licensing and activation subsystem that
// gates transaction creation behind a trial counter and a serial-number
// activation flow.
//
// The package is organized around five pieces:
//
//   - SerialCodec: structural and checksum validation of serial numbers.
//   - Store: the durable single-row license state plus the preloaded serial
//     reference table, the validation retry queue, and the activation audit
//     trail, all in an embedded SQLite database.
//   - Client: the HTTP client for the authoritative licensing server.
//   - Engine: the activation protocol orchestrator exposing the status,
//     increment, activate, and reset operations. Online validation falls back
//     to offline validation on any online failure.
//   - Reconciler: the scheduled job that re-validates offline-accepted
//     serials against the licensing server.
//
// The Store is the single source of truth; the Engine never caches license
// status across calls.
package license
