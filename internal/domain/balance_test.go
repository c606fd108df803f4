package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceFromTaoString(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"0", 0},
		{"1", RaoPerTao},
		{"1.5", 1_500_000_000},
		{"0.000000001", 1},
		{".5", 500_000_000},
		{"2.", 2 * RaoPerTao},
		{" 3 ", 3 * RaoPerTao},
		{"123.456789012", 123_456_789_012},
	}
	for _, tc := range cases {
		got, err := BalanceFromTaoString(tc.in)
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got.Rao(), "input %q", tc.in)
	}
}

func TestBalanceFromTaoStringRejects(t *testing.T) {
	for _, in := range []string{
		"",
		".",
		"-1",
		"1.0000000001", // 10 fractional digits
		"abc",
		"1.2.3",
		"99999999999999999999", // overflows uint64 rao
	} {
		_, err := BalanceFromTaoString(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestBalanceString(t *testing.T) {
	cases := []struct {
		in   Balance
		want string
	}{
		{0, "0"},
		{1, "0.000000001"},
		{RaoPerTao, "1"},
		{1_500_000_000, "1.5"},
		{123_456_789_012, "123.456789012"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.in.String())
	}
}

func TestBalanceStringRoundTrip(t *testing.T) {
	for _, b := range []Balance{0, 1, 999_999_999, RaoPerTao, 7_100_000_003} {
		got, err := BalanceFromTaoString(b.String())
		require.NoError(t, err)
		assert.Equal(t, b, got)
	}
}
