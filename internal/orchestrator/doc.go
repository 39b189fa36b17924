// Package orchestrator turns one inbound farmer message into a composed reply.
//
// # State machine
//
// Every message moves through:
//
//	classifying -> dispatching -> merging -> persisting -> composed
//
// or ends in failed when it cannot be handled at all (no farmer id, or the
// caller gave up while waiting for the farmer's previous message). The steps
// taken are returned in Outcome.Trace.
//
// # Serialization
//
// Messages from one farmer are processed strictly one at a time through a
// keyed lock; messages from different farmers run in parallel. A duplicate
// delivery that arrives while the original is still in flight waits for it
// and then replays the stored reply without calling any backend. When the
// replay cache has lost the entry (eviction, restart) the reply stored for
// the message id is replayed instead.
//
// # Dispatch
//
// Each intent kind maps to one entry of the dispatch table:
//
//   - greeting, general advisory: advisory only
//   - disease query: vision, then advisory with the detection as context
//   - weather query: weather, then advisory with the snapshot as context;
//     without a location the farmer is asked for one
//   - unknown: a canned clarification, no backends
//
// A planting question about maize or coffee adds a planting calendar section
// for the month the message arrived. Photos are sent to the vision backend
// with the crop the farmer named, or their only crop on record.
//
// The first backend call runs concurrently with the conversation window read.
// Backend failures become missing sections; if every invoked backend failed
// the reply is a single apology.
//
// # Persistence
//
// The farmer turn, the assistant turn and a profile update are written after
// the reply is composed. Write failures are logged and counted but never
// withhold the reply.
//
// The profile update records the region (a place that resolved in a weather
// question, or one the farmer says they are in), name, crops and language.
// It also records whether the reply asked for the farm location, so the next
// message can be read as the answer.
package orchestrator
