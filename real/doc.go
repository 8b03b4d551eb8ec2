// Package real provides the production session used by the walletchat client.
//
// The wallet process owns the actual network session (its anonymity transport
// and peer routing). This package wraps that session so the client gets
// bounded, retried sends regardless of what the underlying network does:
//
//	┌──────────────────────────────────┐
//	│         RetryingSession          │
//	│  ┌────────────┐  ┌────────────┐  │
//	│  │ per-attempt│  │   retry    │  │
//	│  │  timeout   │  │  backoff   │  │
//	│  └────────────┘  └────────────┘  │
//	└───────────────┬──────────────────┘
//	                │
//	        interfaces.Session
//	       (wallet network layer)
//
// # Retries
//
// A failed send is retried RetryAttempts times with a linear backoff of
// 500ms, 1s, 1.5s, and so on. Each attempt is bounded by NetworkTimeout.
// Context cancellation and a closed session stop retrying at once. The
// Sleeper is injectable for deterministic tests:
//
//	sess := real.NewRetryingSession(inner, cfg)
//	sess.SetSleeper(noSleep{})
//
// # Contact watching
//
// Watch and Unwatch are forwarded when the wrapped session implements
// interfaces.ContactWatcher and are no-ops otherwise.
package real
