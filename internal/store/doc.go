// Package store persists farmer profiles and conversation turns in SQLite.
//
// # Model
//
// A FarmerProfile is keyed by the channel address (for WhatsApp, the E.164
// number). It is created on first contact and carries the last stated region
// and its resolved coordinates, the farmer's name, crops and language, and
// whether the last reply asked where the farm is. Columns added after the
// first release are added to older databases on open.
//
// Turns are append-only. Each inbound message produces a farmer turn and an
// assistant turn sharing the inbound message id. Assistant turns carry an
// Annotation with the intent and any disease detection or weather snapshot
// that informed the reply, stored as JSON.
//
// FindReply looks up the assistant turn for an inbound message id so a
// redelivered message can be answered again after a restart. SearchTurns
// matches farmer messages by substring for the operator API.
//
// # Ordering
//
// AppendTurn keeps a farmer's timestamps strictly increasing, so the window
// returned by ReadWindow (most recent n, oldest first) matches insertion order
// even when the clock steps backwards.
//
// # Implementations
//
//   - SQLiteStore: modernc.org/sqlite, WAL mode, single connection
//   - MockStore: in-memory with read/write failure injection for tests
package store
