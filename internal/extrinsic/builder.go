package extrinsic

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"

	"subnetctl/internal/codec"
	"subnetctl/internal/domain"
	"subnetctl/internal/rpc"
)

// Signer resolves key references to addresses and signatures. It owns
// private key material exclusively; the builder never sees it.
type Signer interface {
	// Address resolves a key reference to its public address.
	Address(key domain.KeyRef) (domain.Address, error)
	// Sign signs message with the referenced key. Failures (missing
	// key, user declined) are never retried.
	Sign(ctx context.Context, key domain.KeyRef, message []byte) ([]byte, error)
}

// Caller is the read-side RPC surface the builder needs.
type Caller interface {
	Call(ctx context.Context, method string, params []any, result any) error
}

// RPC methods used while building.
const (
	methodAccountNextIndex = "system_accountNextIndex"
	methodGetHeader        = "chain_getHeader"
)

// BuildOptions tune one build.
type BuildOptions struct {
	// Tip is an optional fee tip in rao.
	Tip domain.Balance
	// Immortal skips the mortal era window.
	Immortal bool
	// EraPeriod overrides DefaultEraPeriod when nonzero.
	EraPeriod uint64
}

// Builder composes signed, nonce-stamped extrinsics. One Builder spans
// one command invocation: nonces fetched once per signer are reused and
// incremented locally so back-to-back builds from the same key never
// collide, even when issued concurrently.
type Builder struct {
	caller      Caller
	codec       *codec.Codec
	signer      Signer
	genesisHash []byte

	mu     sync.Mutex
	nonces map[domain.Address]uint32
}

// NewBuilder creates a Builder bound to one session's codec and
// genesis hash.
func NewBuilder(caller Caller, c *codec.Codec, signer Signer, genesisHash []byte) *Builder {
	return &Builder{
		caller:      caller,
		codec:       c,
		signer:      signer,
		genesisHash: genesisHash,
		nonces:      make(map[domain.Address]uint32),
	}
}

// Build encodes, nonce-stamps and signs a call. Signing failures are
// never retried here: missing keys and user declines are not transient.
func (b *Builder) Build(ctx context.Context, call domain.Call, key domain.KeyRef, opts BuildOptions) (*Extrinsic, error) {
	addr, err := b.signer.Address(key)
	if err != nil {
		return nil, fmt.Errorf("resolve key %s: %w", key, err)
	}

	nonce, err := b.reserveNonce(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("fetch nonce for %s: %w", addr, err)
	}

	era := Era{Immortal: true}
	if !opts.Immortal {
		head, err := b.headNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch head for era: %w", err)
		}
		era = MortalEra(head, opts.EraPeriod)
	}

	callBytes, err := encodeCall(b.codec, call)
	if err != nil {
		return nil, err
	}

	payload := signingPayload(callBytes, nonce, era, opts.Tip, b.codec.SpecVersion(), b.genesisHash)
	sig, err := b.signer.Sign(ctx, key, payload)
	if err != nil {
		// The reserved nonce is now a gap; drop the cached counter so
		// the next build refetches from the chain.
		b.forgetNonce(addr)
		return nil, fmt.Errorf("sign with %s: %w", key, err)
	}

	encoded := assemble(callBytes, addr, nonce, era, opts.Tip, sig)
	return &Extrinsic{
		Call:      call,
		Signer:    addr,
		Nonce:     nonce,
		Tip:       opts.Tip,
		Era:       era,
		Signature: sig,
		encoded:   encoded,
		hash:      blake2b.Sum256(encoded),
	}, nil
}

// reserveNonce returns the next nonce for addr, fetching from the
// chain on first use and incrementing locally afterwards.
func (b *Builder) reserveNonce(ctx context.Context, addr domain.Address) (uint32, error) {
	b.mu.Lock()
	if next, ok := b.nonces[addr]; ok {
		b.nonces[addr] = next + 1
		b.mu.Unlock()
		return next, nil
	}
	b.mu.Unlock()

	var fetched uint32
	if err := b.caller.Call(ctx, methodAccountNextIndex, []any{addr.String()}, &fetched); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	// Another goroutine may have fetched while we were on the wire;
	// keep whichever counter is further along.
	if next, ok := b.nonces[addr]; ok && next > fetched {
		b.nonces[addr] = next + 1
		return next, nil
	}
	b.nonces[addr] = fetched + 1
	return fetched, nil
}

func (b *Builder) forgetNonce(addr domain.Address) {
	b.mu.Lock()
	delete(b.nonces, addr)
	b.mu.Unlock()
}

// headNumber fetches the current best block number.
func (b *Builder) headNumber(ctx context.Context) (uint64, error) {
	var header struct {
		Number string `json:"number"`
	}
	if err := b.caller.Call(ctx, methodGetHeader, nil, &header); err != nil {
		return 0, err
	}
	return rpc.ParseHexNumber(header.Number)
}
