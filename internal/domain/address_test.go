package domain

import (
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	var raw [AddressLength]byte
	for i := range raw {
		raw[i] = byte(i * 7)
	}
	addr, err := AddressFromBytes(raw[:])
	require.NoError(t, err)

	encoded := addr.String()
	decoded, err := ParseAddress(encoded)
	require.NoError(t, err)
	assert.Equal(t, addr, decoded)
	assert.Equal(t, raw[:], decoded.Bytes())
}

func TestAddressFromBytesRejectsBadLength(t *testing.T) {
	_, err := AddressFromBytes(make([]byte, 31))
	assert.Error(t, err)
	_, err = AddressFromBytes(make([]byte, 33))
	assert.Error(t, err)
}

func TestParseAddressRejectsBadChecksum(t *testing.T) {
	addr, err := AddressFromBytes(make([]byte, AddressLength))
	require.NoError(t, err)

	raw, err := base58.Decode(addr.String())
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	_, err = ParseAddress(base58.Encode(raw))
	assert.ErrorContains(t, err, "checksum")
}

func TestParseAddressRejectsWrongPrefix(t *testing.T) {
	addr, err := AddressFromBytes(make([]byte, AddressLength))
	require.NoError(t, err)

	raw, err := base58.Decode(addr.String())
	require.NoError(t, err)
	raw[0] = 0 // polkadot prefix, checksum recomputed to isolate the prefix check
	body := raw[:1+AddressLength]
	fixed := append(append([]byte{}, body...), ss58Checksum(body)...)
	_, err = ParseAddress(base58.Encode(fixed))
	assert.ErrorContains(t, err, "prefix")
}

func TestParseAddressRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "abc", "0OIl", "5x"} {
		_, err := ParseAddress(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestAddressIsZero(t *testing.T) {
	var zero Address
	assert.True(t, zero.IsZero())

	addr, err := AddressFromBytes(append(make([]byte, 31), 1))
	require.NoError(t, err)
	assert.False(t, addr.IsZero())
}

func TestAddressOnCurve(t *testing.T) {
	// The ed25519 base point y-coordinate is a valid curve encoding.
	basePoint := [AddressLength]byte{
		0x58, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
		0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
		0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
		0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
	}
	onCurve, err := AddressFromBytes(basePoint[:])
	require.NoError(t, err)
	assert.True(t, onCurve.OnCurve())

	// All 0xff is not a valid point encoding.
	var bad [AddressLength]byte
	for i := range bad {
		bad[i] = 0xff
	}
	offCurve, err := AddressFromBytes(bad[:])
	require.NoError(t, err)
	assert.False(t, offCurve.OnCurve())
}
