// Package metagraph fetches and caches per-subnet participant
// snapshots.
package metagraph

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"subnetctl/internal/codec"
	"subnetctl/internal/domain"
	"subnetctl/internal/rpc"
)

// Caller is the read-side RPC surface the fetcher needs.
type Caller interface {
	Call(ctx context.Context, method string, params []any, result any) error
}

// RPC methods used to assemble a snapshot.
const (
	methodGetHeader   = "chain_getHeader"
	methodNeuronCount = "subnets_neuronCount"
	methodNeuronsAt   = "subnets_neurons"
)

// Fetcher reads one subnet's full neuron set from the chain and
// decodes it into a snapshot.
type Fetcher struct {
	caller Caller
	codec  *codec.Codec
}

// NewFetcher creates a Fetcher over the given session and codec.
func NewFetcher(caller Caller, c *codec.Codec) *Fetcher {
	return &Fetcher{caller: caller, codec: c}
}

// Fetch reads the neuron count and the aggregate neuron list at the
// current head, decodes, and validates the dense-UID invariant.
func (f *Fetcher) Fetch(ctx context.Context, netuid uint16) (*domain.MetagraphSnapshot, error) {
	var header struct {
		Number string `json:"number"`
	}
	if err := f.caller.Call(ctx, methodGetHeader, nil, &header); err != nil {
		return nil, fmt.Errorf("fetch metagraph %d: head: %w", netuid, err)
	}
	block, err := rpc.ParseHexNumber(header.Number)
	if err != nil {
		return nil, fmt.Errorf("fetch metagraph %d: %w", netuid, err)
	}

	var count uint64
	if err := f.caller.Call(ctx, methodNeuronCount, []any{netuid}, &count); err != nil {
		return nil, fmt.Errorf("fetch metagraph %d: neuron count: %w", netuid, err)
	}

	var encoded string
	if err := f.caller.Call(ctx, methodNeuronsAt, []any{netuid}, &encoded); err != nil {
		return nil, fmt.Errorf("fetch metagraph %d: neurons: %w", netuid, err)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(encoded, "0x"))
	if err != nil {
		return nil, fmt.Errorf("fetch metagraph %d: decode hex: %w", netuid, err)
	}

	value, err := f.codec.Decode("vec<NeuronInfo>", raw)
	if err != nil {
		return nil, fmt.Errorf("fetch metagraph %d: %w", netuid, err)
	}
	items := value.([]any)
	if uint64(len(items)) != count {
		return nil, fmt.Errorf("fetch metagraph %d: node reported %d neurons, decoded %d", netuid, count, len(items))
	}

	snap := &domain.MetagraphSnapshot{
		NetUID:      netuid,
		BlockNumber: block,
		FetchedAt:   time.Now(),
		Neurons:     make([]domain.NeuronRecord, len(items)),
	}
	for i, item := range items {
		n, err := neuronFromFields(item)
		if err != nil {
			return nil, fmt.Errorf("fetch metagraph %d: neuron %d: %w", netuid, i, err)
		}
		snap.Neurons[i] = n
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("fetch metagraph %d: %w", netuid, err)
	}
	return snap, nil
}

// neuronFromFields maps a decoded NeuronInfo composite to a record.
func neuronFromFields(item any) (domain.NeuronRecord, error) {
	fields, ok := item.(map[string]any)
	if !ok {
		return domain.NeuronRecord{}, fmt.Errorf("unexpected shape %T", item)
	}
	get := func(name string) (any, error) {
		v, ok := fields[name]
		if !ok {
			return nil, fmt.Errorf("missing field %q", name)
		}
		return v, nil
	}

	var n domain.NeuronRecord
	var err error
	read := func(name string, assign func(any) bool) {
		if err != nil {
			return
		}
		var v any
		if v, err = get(name); err != nil {
			return
		}
		if !assign(v) {
			err = fmt.Errorf("field %q has unexpected type %T", name, v)
		}
	}

	read("uid", func(v any) bool { x, ok := v.(uint16); n.UID = x; return ok })
	read("hotkey", func(v any) bool { x, ok := v.(domain.Address); n.Hotkey = x; return ok })
	read("coldkey", func(v any) bool { x, ok := v.(domain.Address); n.Coldkey = x; return ok })
	read("stake", func(v any) bool { x, ok := v.(uint64); n.Stake = domain.Balance(x); return ok })
	read("rank", func(v any) bool { x, ok := v.(uint16); n.Rank = domain.Score(x); return ok })
	read("trust", func(v any) bool { x, ok := v.(uint16); n.Trust = domain.Score(x); return ok })
	read("consensus", func(v any) bool { x, ok := v.(uint16); n.Consensus = domain.Score(x); return ok })
	read("incentive", func(v any) bool { x, ok := v.(uint16); n.Incentive = domain.Score(x); return ok })
	read("dividends", func(v any) bool { x, ok := v.(uint16); n.Dividends = domain.Score(x); return ok })
	read("active", func(v any) bool { x, ok := v.(bool); n.Active = x; return ok })
	read("last_update", func(v any) bool { x, ok := v.(uint64); n.LastUpdate = x; return ok })
	return n, err
}
