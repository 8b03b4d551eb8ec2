package crypto

import (
	"crypto/rand"
	"crypto/subtle"

	"github.com/pkg/errors"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// ErrZeroSecretKey is returned when a secret key consists only of zero bytes.
var ErrZeroSecretKey = errors.New("invalid secret key: all zeros")

// KeyPair represents a Curve25519 key pair identifying the local chat peer.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a new random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	publicKey, privateKey, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generate key pair")
	}

	return &KeyPair{
		Public:  *publicKey,
		Private: *privateKey,
	}, nil
}

// FromSecretKey rebuilds a key pair from a stored private key, deriving the
// public half with X25519.
func FromSecretKey(secretKey [32]byte) (*KeyPair, error) {
	if isZeroKey(secretKey) {
		return nil, ErrZeroSecretKey
	}

	pub, err := curve25519.X25519(secretKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, errors.Wrap(err, "derive public key")
	}

	kp := &KeyPair{Private: secretKey}
	copy(kp.Public[:], pub)
	return kp, nil
}

// Wipe zeroes the private key in place.
func (kp *KeyPair) Wipe() {
	if kp == nil {
		return
	}
	for i := range kp.Private {
		kp.Private[i] = 0
	}
}

func isZeroKey(key [32]byte) bool {
	var zero [32]byte
	return subtle.ConstantTimeCompare(key[:], zero[:]) == 1
}
