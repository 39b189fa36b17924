// Package auth protects the gateway's HTTP surfaces.
//
// # Operator tokens
//
// The read-only operator API (stats and farmer history) requires an HS256
// JWT signed with auth.jwt_secret. Tokens carry the operator name in "sub",
// the audience "awaki-operator" and a mandatory expiry. They are minted with
// the CLI:
//
//	awaki-gateway token --operator alice --ttl 24h
//
// # Webhook token
//
// When auth.webhook_token is set, the JSON inbound webhook must present it as a
// bearer token. The comparison is constant time.
//
// # Twilio signatures
//
// Twilio cannot send bearer tokens, so /webhook/twilio is checked against the
// X-Twilio-Signature header instead when auth.twilio_auth_token is set. The
// signature covers the URL Twilio called; set server.public_url when a proxy
// rewrites the host.
package auth
