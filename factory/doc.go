// Package factory builds the network session the walletchat client runs on.
//
// The factory decouples the client from the concrete session: tests and local
// development use an in-memory simulation network, production wraps the
// wallet's network session with retries.
//
// # Configuration
//
// Defaults can be overridden with environment variables, parsed with
// github.com/caarlos0/env and bounds-checked:
//   - WALLETCHAT_USE_SIMULATION: "true" or "false" to enable simulation mode
//   - WALLETCHAT_NETWORK_TIMEOUT_MS: per-attempt send timeout in milliseconds
//   - WALLETCHAT_RETRY_ATTEMPTS: retries after a failed send
//
// Out-of-range or unparsable values are logged and ignored.
//
// # Usage
//
//	f := factory.NewSessionFactory()
//
//	// Production: wrap the wallet's session
//	sess, err := f.CreateSession(localAddr, walletSession)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Tests: join the factory's simulation network
//	simSess := f.CreateSimulationForTesting(localAddr, factory.WithRetryAttempts(0))
//	peer := f.Network().Join(peerAddr)
package factory
