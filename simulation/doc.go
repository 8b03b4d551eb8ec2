// Package simulation provides an in-memory network of chat sessions for
// deterministic testing of the walletchat client.
//
// # Overview
//
// A [Network] connects any number of [Session] values, one per address.
// Payloads sent by one session are queued on the recipient's event stream
// without touching a real network, and every attempt is recorded in a
// delivery log for verification.
//
// # Simulation vs Real Implementation
//
// The client supports two session modes:
//
//   - Simulation (this package): all payloads are delivered in-memory. Used
//     for unit and integration testing.
//
//   - Real (real package): the wallet's network session wrapped with retries.
//     Used for production deployments.
//
// Both implement interfaces.Session and are selected by the factory package.
//
// # Usage
//
//	net := simulation.NewNetwork()
//	alice := net.Join(aliceAddr)
//	bob := net.Join(bobAddr)
//	_ = alice.Start(ctx, nil)
//	_ = bob.Start(ctx, nil)
//
//	err := alice.Send(ctx, bobAddr, payload)
//	ev := <-bob.Events() // payload from aliceAddr
//
// # Liveness
//
// Sessions implement interfaces.ContactWatcher. Watching an address yields an
// immediate Pong when it is reachable and a Timeout otherwise; toggling an
// address with SetOffline notifies every session watching it. InjectProbe
// delivers an arbitrary probe result.
//
// # Fault injection
//
// FailSends makes the next sends from an address fail, and Inject places a
// raw payload on a session's event stream as if a peer had sent it.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Event delivery never blocks the
// sender: each session buffers its queue and drains it on its own goroutine.
package simulation
