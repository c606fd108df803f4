package domain

import (
	"bytes"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// AddressLength is the size of a raw public key in bytes.
const AddressLength = 32

// NetworkPrefix is the SS58 address type byte for this network.
const NetworkPrefix = 42

// ss58Preimage prefixes the checksum input per the SS58 spec.
var ss58Preimage = []byte("SS58PRE")

// Address is a fixed-length public-key-derived account identifier.
// Equality is byte equality.
type Address [AddressLength]byte

// AddressFromBytes builds an Address from a raw 32-byte public key.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) != AddressLength {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressLength, len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// ParseAddress decodes an SS58-encoded address string and verifies its
// checksum and network prefix.
func ParseAddress(s string) (Address, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("decode address: %w", err)
	}
	// prefix(1) + pubkey(32) + checksum(2)
	if len(raw) != 1+AddressLength+2 {
		return Address{}, fmt.Errorf("address has invalid length %d", len(raw))
	}
	if raw[0] != NetworkPrefix {
		return Address{}, fmt.Errorf("address has network prefix %d, want %d", raw[0], NetworkPrefix)
	}
	body := raw[:1+AddressLength]
	if !bytes.Equal(ss58Checksum(body), raw[1+AddressLength:]) {
		return Address{}, fmt.Errorf("address checksum mismatch")
	}
	var a Address
	copy(a[:], raw[1:1+AddressLength])
	return a, nil
}

// String returns the SS58 encoding of the address.
func (a Address) String() string {
	body := make([]byte, 0, 1+AddressLength+2)
	body = append(body, NetworkPrefix)
	body = append(body, a[:]...)
	body = append(body, ss58Checksum(body)...)
	return base58.Encode(body)
}

// Bytes returns the raw public key bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

// IsZero reports whether the address is all zero bytes.
func (a Address) IsZero() bool {
	return a == Address{}
}

// OnCurve reports whether the address bytes are a valid ed25519 curve point.
// Storage keys and burn addresses are legal addresses that fail this check.
func (a Address) OnCurve() bool {
	_, err := new(edwards25519.Point).SetBytes(a[:])
	return err == nil
}

// ss58Checksum returns the first two bytes of blake2b-512 over the
// SS58 preimage tag plus the prefixed payload.
func ss58Checksum(body []byte) []byte {
	h, _ := blake2b.New512(nil)
	h.Write(ss58Preimage)
	h.Write(body)
	sum := h.Sum(nil)
	return sum[:2]
}
