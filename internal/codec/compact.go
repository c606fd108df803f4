package codec

import (
	"encoding/binary"
	"fmt"
)

// Compact integer encoding: a two-bit mode tag in the low bits of the
// first byte selects single-byte, two-byte, four-byte, or
// length-prefixed big-integer form.
const (
	compactModeSingle = 0b00
	compactModeTwo    = 0b01
	compactModeFour   = 0b10
	compactModeBig    = 0b11
)

// AppendCompact appends the compact encoding of x to dst.
func AppendCompact(dst []byte, x uint64) []byte {
	switch {
	case x < 1<<6:
		return append(dst, byte(x<<2)|compactModeSingle)
	case x < 1<<14:
		return binary.LittleEndian.AppendUint16(dst, uint16(x<<2)|compactModeTwo)
	case x < 1<<30:
		return binary.LittleEndian.AppendUint32(dst, uint32(x<<2)|compactModeFour)
	default:
		n := 4
		for n < 8 && x >= uint64(1)<<(8*n) {
			n++
		}
		dst = append(dst, byte((n-4)<<2)|compactModeBig)
		for i := 0; i < n; i++ {
			dst = append(dst, byte(x>>(8*i)))
		}
		return dst
	}
}

// ReadCompact decodes a compact integer from src, returning the value
// and the number of bytes consumed.
func ReadCompact(src []byte) (uint64, int, error) {
	if len(src) == 0 {
		return 0, 0, fmt.Errorf("compact: %w", ErrTruncated)
	}
	switch src[0] & 0b11 {
	case compactModeSingle:
		return uint64(src[0] >> 2), 1, nil
	case compactModeTwo:
		if len(src) < 2 {
			return 0, 0, fmt.Errorf("compact: %w", ErrTruncated)
		}
		return uint64(binary.LittleEndian.Uint16(src) >> 2), 2, nil
	case compactModeFour:
		if len(src) < 4 {
			return 0, 0, fmt.Errorf("compact: %w", ErrTruncated)
		}
		return uint64(binary.LittleEndian.Uint32(src) >> 2), 4, nil
	default:
		n := int(src[0]>>2) + 4
		if n > 8 {
			return 0, 0, fmt.Errorf("compact: length %d exceeds u64: %w", n, ErrMalformed)
		}
		if len(src) < 1+n {
			return 0, 0, fmt.Errorf("compact: %w", ErrTruncated)
		}
		var x uint64
		for i := 0; i < n; i++ {
			x |= uint64(src[1+i]) << (8 * i)
		}
		return x, 1 + n, nil
	}
}
