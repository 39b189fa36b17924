// Package gateway is the HTTP front of awaki-gateway.
//
// # Overview
//
// New opens the SQLite store, builds the intent classifier, the three backend
// adapters, the replay cache and the response composer, and wires them into an
// orchestrator. The gateway then translates channel payloads into
// orchestrator.InboundMessage values and sends the composed replies back.
//
// # Endpoints
//
//   - POST /webhook/inbound - JSON relay webhook, replies in the response body
//   - POST /webhook/twilio - Twilio WhatsApp webhook, replies as TwiML
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (store ping)
//   - GET /api/stats - Store counts and orchestrator counters (operator JWT)
//   - GET /api/farmers/{id}/history - Profile and recent turns for a farmer (operator JWT)
//   - GET /api/turns?q= - Farmer messages containing q, with their replies (operator JWT)
//
// The operator API is only registered when auth.jwt_secret is set.
//
// # Inbound JSON
//
//	{
//	  "farmer_id": "+254700000001",
//	  "text": "my maize leaves have spots",
//	  "media_url": "https://media.example/abc.jpg",
//	  "message_id": "wamid.HBgL...",
//	  "received_at": "2026-03-01T08:30:00Z"
//	}
//
// A missing message_id is replaced with a random UUID, which disables replay
// for that message.
//
// # Reply delivery
//
// When outbound.reply_url is set, HTTPReplySender posts
// {"farmer_id": ..., "messages": [...]} to the relay after each handled
// message. Replayed duplicates are not pushed again. For Twilio, bodies are
// returned inline as TwiML when no relay is configured or the push failed.
//
// # Lifecycle
//
// Run listens on server.http_addr and blocks until its context is canceled,
// then drains in-flight requests for up to server.shutdown_timeout before
// closing the replay cache and the store.
package gateway
