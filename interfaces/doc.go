// Package interfaces defines the contract between the chat client and the
// wallet-identity network layer beneath it.
//
// # Session
//
// [Session] is the only blocking collaborator of the client. It is started
// once with an opaque [TransportConfig], carries outbound payloads with Send,
// and reports inbound payloads and liveness probe results on Events:
//
//	sess := factory.NewSessionFactory().CreateSession(network)
//	if err := sess.Start(ctx, &interfaces.TransportConfig{Port: 18189}); err != nil {
//	    return err
//	}
//	for ev := range sess.Events() {
//	    switch ev.Kind {
//	    case interfaces.EventPayload:
//	        handlePayload(ev.From, ev.Payload)
//	    case interfaces.EventProbe:
//	        handleProbe(ev.From, ev.Probe)
//	    }
//	}
//
// Sessions that probe contacts also implement [ContactWatcher] so the client
// can start and stop probing as contacts are added and removed.
//
// # Configuration
//
// [SessionConfig] selects the implementation and tunes retries:
//
//	config := &interfaces.SessionConfig{
//	    UseSimulation:  false,
//	    NetworkTimeout: 5000, // milliseconds
//	    RetryAttempts:  3,
//	}
//	if err := config.Validate(); err != nil {
//	    log.Fatalf("invalid config: %v", err)
//	}
//
// The factory package builds sessions from it:
//   - UseSimulation=true: a session joined to an in-memory simulation network
//   - UseSimulation=false: the supplied network session wrapped with retries
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Events must be drained by
// a single reader.
package interfaces
