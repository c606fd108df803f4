package domain

import (
	"fmt"
	"time"
)

// U16Max is the denominator for u16-normalized score fields.
const U16Max = 65535

// Score is a u16-normalized fixed-point ratio in [0, 1]: the raw chain
// value over 65535. Kept as the exact integer; never converted to
// float anywhere signatures or equality matter.
type Score uint16

// Ratio returns the exact numerator/denominator pair.
func (s Score) Ratio() (num, den uint32) { return uint32(s), U16Max }

// String renders the score with five decimal places for display.
func (s Score) String() string {
	// scaled integer division, display only
	scaled := uint64(s) * 100000 / U16Max
	return fmt.Sprintf("%d.%05d", scaled/100000, scaled%100000)
}

// NeuronRecord is one participant's on-chain attributes for a subnet
// at snapshot time. Immutable; a new fetch produces a new set.
type NeuronRecord struct {
	UID        uint16
	Hotkey     Address
	Coldkey    Address
	Stake      Balance
	Rank       Score
	Trust      Score
	Consensus  Score
	Incentive  Score
	Dividends  Score
	Active     bool
	LastUpdate uint64 // block number of last weight update
}

// MetagraphSnapshot is the full registered-participant view of one
// subnet at a given block. Neurons are ordered by UID and UID is a
// dense index 0..N-1 matching slice position.
type MetagraphSnapshot struct {
	NetUID      uint16
	BlockNumber uint64
	Neurons     []NeuronRecord
	FetchedAt   time.Time
}

// Neuron returns the record at the given UID, or false when the UID is
// out of range.
func (m *MetagraphSnapshot) Neuron(uid uint16) (NeuronRecord, bool) {
	if int(uid) >= len(m.Neurons) {
		return NeuronRecord{}, false
	}
	return m.Neurons[uid], true
}

// TotalStake sums stake across all neurons.
func (m *MetagraphSnapshot) TotalStake() Balance {
	var total Balance
	for _, n := range m.Neurons {
		total += n.Stake
	}
	return total
}

// Validate checks the dense-UID invariant.
func (m *MetagraphSnapshot) Validate() error {
	for i, n := range m.Neurons {
		if int(n.UID) != i {
			return fmt.Errorf("neuron at position %d has uid %d", i, n.UID)
		}
	}
	return nil
}

// AccountState is the chain-side view of a single account.
type AccountState struct {
	Address Address
	Nonce   uint32
	Free    Balance
	Staked  Balance
}

// BlockHeader is a decoded chain block header.
type BlockHeader struct {
	Number     uint64
	Hash       string
	ParentHash string
}
