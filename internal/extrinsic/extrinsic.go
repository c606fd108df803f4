// Package extrinsic builds and submits signed call envelopes. An
// Extrinsic is write-once: its signature covers the exact byte
// encoding of call, nonce, era and tip, so nothing mutates after
// signing and resubmission always sends identical bytes.
package extrinsic

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"subnetctl/internal/codec"
	"subnetctl/internal/domain"
)

// DefaultEraPeriod is the mortal validity window in blocks.
const DefaultEraPeriod = 64

// signedVersion tags the envelope encoding: version 4, signed bit set.
const signedVersion = 0x84

// Era is the block-range window during which the extrinsic is valid.
type Era struct {
	Immortal bool
	Period   uint64
	Phase    uint64
}

// MortalEra builds a mortal era anchored at the given block.
func MortalEra(current uint64, period uint64) Era {
	if period == 0 {
		period = DefaultEraPeriod
	}
	return Era{Period: period, Phase: current % period}
}

func (e Era) append(dst []byte) []byte {
	if e.Immortal {
		return append(dst, 0)
	}
	dst = append(dst, 1)
	dst = codec.AppendCompact(dst, e.Period)
	return codec.AppendCompact(dst, e.Phase)
}

// Extrinsic is a signed envelope ready for submission. Construct only
// through Builder.Build.
type Extrinsic struct {
	Call      domain.Call
	Signer    domain.Address
	Nonce     uint32
	Tip       domain.Balance
	Era       Era
	Signature []byte

	encoded []byte
	hash    [32]byte
}

// Encoded returns the full wire encoding.
func (e *Extrinsic) Encoded() []byte {
	out := make([]byte, len(e.encoded))
	copy(out, e.encoded)
	return out
}

// Hex returns the 0x-prefixed hex wire encoding used on submission.
func (e *Extrinsic) Hex() string {
	return "0x" + hex.EncodeToString(e.encoded)
}

// Hash returns the blake2b-256 hash of the wire encoding.
func (e *Extrinsic) Hash() string {
	return "0x" + hex.EncodeToString(e.hash[:])
}

// encodeCall serializes a call: module and function names, then each
// argument in declared order. Argument order is binding because the
// signature covers these bytes.
func encodeCall(c *codec.Codec, call domain.Call) ([]byte, error) {
	out, err := c.Encode("string", call.Module)
	if err != nil {
		return nil, fmt.Errorf("encode module: %w", err)
	}
	fn, err := c.Encode("string", call.Function)
	if err != nil {
		return nil, fmt.Errorf("encode function: %w", err)
	}
	out = append(out, fn...)
	out = codec.AppendCompact(out, uint64(len(call.Args)))
	for _, arg := range call.Args {
		b, err := c.Encode(arg.TypeName, arg.Value)
		if err != nil {
			return nil, fmt.Errorf("encode arg %q: %w", arg.Name, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

// signingPayload assembles the bytes the signer signs: call, nonce,
// era, tip, spec version and genesis hash. Payloads over 256 bytes are
// signed via their blake2b-256 digest.
func signingPayload(callBytes []byte, nonce uint32, era Era, tip domain.Balance, specVersion uint32, genesisHash []byte) []byte {
	payload := make([]byte, 0, len(callBytes)+64)
	payload = append(payload, callBytes...)
	payload = codec.AppendCompact(payload, uint64(nonce))
	payload = era.append(payload)
	payload = codec.AppendCompact(payload, tip.Rao())
	payload = codec.AppendCompact(payload, uint64(specVersion))
	payload = append(payload, genesisHash...)
	if len(payload) > 256 {
		digest := blake2b.Sum256(payload)
		return digest[:]
	}
	return payload
}

// assemble produces the final wire encoding once the signature exists.
func assemble(callBytes []byte, signer domain.Address, nonce uint32, era Era, tip domain.Balance, signature []byte) []byte {
	out := []byte{signedVersion}
	out = append(out, signer[:]...)
	out = codec.AppendCompact(out, uint64(len(signature)))
	out = append(out, signature...)
	out = era.append(out)
	out = codec.AppendCompact(out, uint64(nonce))
	out = codec.AppendCompact(out, tip.Rao())
	out = append(out, callBytes...)
	return out
}
