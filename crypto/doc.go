// Package crypto holds the identity key material and the injectable clock
// used by the chat client.
//
// A [KeyPair] is a Curve25519 key pair generated through NaCl box. Its public
// half is what the address package turns into a routable chat address.
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Public key:", hex.EncodeToString(keys.Public[:]))
//
// # Time
//
// Every component that stamps messages or liveness records reads time through a
// [TimeProvider] so that tests can drive lifecycle timestamps deterministically.
// [DefaultTimeProvider] wraps the standard library clock.
package crypto
