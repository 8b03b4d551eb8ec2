// Package address implements the canonical chat address: a network tag, the
// peer's 32-byte public key and a checksum byte, rendered as 68 hex
// characters.
//
// Example:
//
//	addr, err := address.Parse("26b2f1...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(addr.Network(), addr)
package address

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/opd-ai/walletchat/crypto"
)

const (
	// KeySize is the length of the public key embedded in an address.
	KeySize = 32
	// Size is the encoded length: network tag, public key, checksum.
	Size = 1 + KeySize + 1
	// TextSize is the length of the hex form.
	TextSize = Size * 2
)

// ErrInvalidAddressFormat is returned when text does not decode to a valid
// address.
var ErrInvalidAddressFormat = errors.New("invalid address format")

// Network identifies which wallet network an address belongs to.
type Network uint8

const (
	// MainNet is the production network.
	MainNet Network = 0x00
	// StageNet is the pre-release staging network.
	StageNet Network = 0x01
	// NextNet runs the next release candidate.
	NextNet Network = 0x02
	// LocalNet is for single-machine and in-memory networks.
	LocalNet Network = 0x10
	// Igor is a public test network.
	Igor Network = 0x24
	// Esmeralda is a public test network.
	Esmeralda Network = 0x26
)

// String returns the network name.
func (n Network) String() string {
	switch n {
	case MainNet:
		return "mainnet"
	case StageNet:
		return "stagenet"
	case NextNet:
		return "nextnet"
	case LocalNet:
		return "localnet"
	case Igor:
		return "igor"
	case Esmeralda:
		return "esmeralda"
	default:
		return "unknown"
	}
}

// Valid reports whether n is a known network tag.
func (n Network) Valid() bool {
	return n.String() != "unknown"
}

// ParseNetwork resolves a network by name, case-insensitively.
func ParseNetwork(name string) (Network, error) {
	for _, n := range []Network{MainNet, StageNet, NextNet, LocalNet, Igor, Esmeralda} {
		if strings.EqualFold(name, n.String()) {
			return n, nil
		}
	}
	return 0, errors.Errorf("unknown network %q", name)
}

// Address is an immutable peer identifier. The zero value is not a valid
// address; use IsZero to detect it. Address is comparable and can be used as a
// map key.
type Address struct {
	network Network
	key     [KeySize]byte
}

// FromPublicKey builds the address of a public key on the given network.
func FromPublicKey(network Network, publicKey [KeySize]byte) (Address, error) {
	if !network.Valid() {
		return Address{}, errors.Wrapf(ErrInvalidAddressFormat, "unknown network tag 0x%02x", uint8(network))
	}
	return Address{network: network, key: publicKey}, nil
}

// FromKeyPair builds the address of a local identity.
func FromKeyPair(network Network, kp *crypto.KeyPair) (Address, error) {
	if kp == nil {
		return Address{}, errors.Wrap(ErrInvalidAddressFormat, "nil key pair")
	}
	return FromPublicKey(network, kp.Public)
}

// Parse decodes the hex form of an address. Surrounding whitespace, an optional
// 0x prefix and upper-case digits are accepted.
func Parse(text string) (Address, error) {
	s := strings.TrimSpace(text)
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	if len(s) != TextSize {
		return Address{}, errors.Wrapf(ErrInvalidAddressFormat, "expected %d hex characters, got %d", TextSize, len(s))
	}

	data, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, errors.Wrapf(ErrInvalidAddressFormat, "decode hex: %v", err)
	}
	return FromBytes(data)
}

// FromBytes decodes the binary form produced by Bytes.
func FromBytes(data []byte) (Address, error) {
	if len(data) != Size {
		return Address{}, errors.Wrapf(ErrInvalidAddressFormat, "expected %d bytes, got %d", Size, len(data))
	}

	network := Network(data[0])
	if !network.Valid() {
		return Address{}, errors.Wrapf(ErrInvalidAddressFormat, "unknown network tag 0x%02x", data[0])
	}

	var addr Address
	addr.network = network
	copy(addr.key[:], data[1:1+KeySize])

	if data[Size-1] != addr.checksum() {
		return Address{}, errors.Wrap(ErrInvalidAddressFormat, "checksum mismatch")
	}
	return addr, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// constants.
func MustParse(text string) Address {
	addr, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return addr
}

// Network returns the network tag.
func (a Address) Network() Network { return a.network }

// PublicKey returns a copy of the embedded public key.
func (a Address) PublicKey() [KeySize]byte { return a.key }

// IsZero reports whether a is the zero value.
func (a Address) IsZero() bool { return a == Address{} }

// Bytes returns the binary form: network tag, key, checksum.
func (a Address) Bytes() []byte {
	out := make([]byte, Size)
	out[0] = byte(a.network)
	copy(out[1:1+KeySize], a.key[:])
	out[Size-1] = a.checksum()
	return out
}

// String returns the canonical lowercase hex form.
func (a Address) String() string {
	return hex.EncodeToString(a.Bytes())
}

// Short returns a prefix of the hex form suitable for log fields.
func (a Address) Short() string {
	return a.String()[:16]
}

// Equal reports byte-wise equality.
func (a Address) Equal(other Address) bool { return a == other }

// Compare orders addresses by their binary form.
func (a Address) Compare(other Address) int {
	return bytes.Compare(a.Bytes(), other.Bytes())
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a Address) checksum() byte {
	buf := make([]byte, 0, 1+KeySize)
	buf = append(buf, byte(a.network))
	buf = append(buf, a.key[:]...)
	sum := blake2b.Sum256(buf)
	return sum[0]
}
