package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// RaoPerTao is the number of base units (rao) per whole token.
const RaoPerTao = 1_000_000_000

// Balance is an amount of chain currency in rao (base units).
// All arithmetic stays in integers; display formatting is the only
// place a decimal point appears.
type Balance uint64

// BalanceFromTaoString parses a decimal token amount ("1.5") into rao.
// Rejects more than 9 fractional digits rather than silently rounding.
func BalanceFromTaoString(s string) (Balance, error) {
	whole, frac, _ := strings.Cut(strings.TrimSpace(s), ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("empty amount")
	}
	var rao uint64
	if whole != "" {
		w, err := strconv.ParseUint(whole, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse amount %q: %w", s, err)
		}
		const maxWhole = ^uint64(0) / RaoPerTao
		if w > maxWhole {
			return 0, fmt.Errorf("amount %q overflows", s)
		}
		rao = w * RaoPerTao
	}
	if frac != "" {
		if len(frac) > 9 {
			return 0, fmt.Errorf("amount %q has more than 9 fractional digits", s)
		}
		f, err := strconv.ParseUint(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse amount %q: %w", s, err)
		}
		for i := len(frac); i < 9; i++ {
			f *= 10
		}
		if rao > ^uint64(0)-f {
			return 0, fmt.Errorf("amount %q overflows", s)
		}
		rao += f
	}
	return Balance(rao), nil
}

// Rao returns the amount in base units.
func (b Balance) Rao() uint64 { return uint64(b) }

// String formats the balance as a decimal token amount with trailing
// zeros trimmed, e.g. "1.5" or "0.000000001".
func (b Balance) String() string {
	whole := uint64(b) / RaoPerTao
	frac := uint64(b) % RaoPerTao
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}
	fs := strings.TrimRight(fmt.Sprintf("%09d", frac), "0")
	return fmt.Sprintf("%d.%s", whole, fs)
}
