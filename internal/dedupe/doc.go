// Package dedupe remembers the reply composed for each inbound message id so
// that a duplicate delivery is answered with the exact same bodies, without
// calling any backend or writing another turn. Entries expire after a TTL and
// the cache is bounded in size, evicting the oldest reply first.
package dedupe
