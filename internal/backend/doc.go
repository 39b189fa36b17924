// Package backend wraps the three external capabilities the gateway depends on:
// the advisory language model, the crop disease image classifier and the
// weather provider.
//
// # Adapters
//
// Each adapter exposes a single Invoke operation:
//
//	advice, err := advisory.Invoke(ctx, backend.AdvisoryRequest{...})
//	detection, err := vision.Invoke(ctx, backend.VisionRequest{MediaURL: url})
//	snapshot, err := weather.Invoke(ctx, backend.WeatherRequest{Location: "Nyeri"})
//
// Results implement the sealed Result interface (AdvisoryText, DiseaseDetection,
// WeatherSnapshot) so they can be carried through the orchestrator's merge step
// without losing their concrete type.
//
// # Failure Policy
//
// Every call runs under a Policy: a per-attempt timeout and at most one retry.
// Only transient failures (timeouts, network errors, 5xx/429 responses) are
// retried. Failures are returned as *Error values carrying a Kind:
//
//   - KindTimeout: the attempt exceeded its deadline
//   - KindUnavailable: network failure or 5xx-equivalent
//   - KindAuthFailure: credentials rejected (401/403)
//   - KindMalformedResponse: the backend answered with something unusable
//   - KindLocationNotResolved: the weather provider could not geocode the location
//
// Use errors.As or IsKind to inspect them.
package backend
