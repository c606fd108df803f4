package rpc

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseHexNumber parses a 0x-prefixed or bare hex quantity, the form
// block numbers take on the wire.
func ParseHexNumber(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, fmt.Errorf("empty hex number")
	}
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hex number %q: %w", s, err)
	}
	return n, nil
}
