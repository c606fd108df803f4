// Package codec implements the binary encoding of chain state and call
// parameters. Encoding is deterministic and exactly reversible; fixed
// point values stay scaled integers end to end because signatures are
// computed over encoded bytes.
package codec

import (
	"encoding/binary"
	"fmt"

	"subnetctl/internal/domain"
)

// Codec encodes and decodes values against one schema. Safe for
// concurrent use; the schema is immutable.
type Codec struct {
	schema *Schema
}

// New creates a Codec bound to the given schema.
func New(schema *Schema) *Codec {
	return &Codec{schema: schema}
}

// SpecVersion returns the schema's chain-spec version.
func (c *Codec) SpecVersion() uint32 { return c.schema.SpecVersion }

// Encode serializes value as typeName.
func (c *Codec) Encode(typeName string, value any) ([]byte, error) {
	return c.appendValue(nil, typeName, value)
}

// Decode deserializes data as typeName. Trailing bytes are an error.
func (c *Codec) Decode(typeName string, data []byte) (any, error) {
	v, n, err := c.readValue(typeName, data)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("type %q: %d trailing bytes: %w", typeName, len(data)-n, ErrMalformed)
	}
	return v, nil
}

func (c *Codec) appendValue(dst []byte, typeName string, value any) ([]byte, error) {
	def, err := c.schema.Resolve(typeName)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	switch def.Kind {
	case KindBool:
		b, ok := value.(bool)
		if !ok {
			return nil, encodeTypeErr(typeName, value)
		}
		if b {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil

	case KindU8:
		x, err := toUint(typeName, value, 1<<8-1)
		if err != nil {
			return nil, err
		}
		return append(dst, byte(x)), nil

	case KindU16:
		x, err := toUint(typeName, value, 1<<16-1)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.AppendUint16(dst, uint16(x)), nil

	case KindU32:
		x, err := toUint(typeName, value, 1<<32-1)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.AppendUint32(dst, uint32(x)), nil

	case KindU64:
		x, err := toUint(typeName, value, ^uint64(0))
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.AppendUint64(dst, x), nil

	case KindCompact:
		x, err := toUint(typeName, value, ^uint64(0))
		if err != nil {
			return nil, err
		}
		return AppendCompact(dst, x), nil

	case KindBytes:
		b, ok := value.([]byte)
		if !ok {
			return nil, encodeTypeErr(typeName, value)
		}
		dst = AppendCompact(dst, uint64(len(b)))
		return append(dst, b...), nil

	case KindString:
		s, ok := value.(string)
		if !ok {
			return nil, encodeTypeErr(typeName, value)
		}
		dst = AppendCompact(dst, uint64(len(s)))
		return append(dst, s...), nil

	case KindAccountID:
		a, ok := value.(domain.Address)
		if !ok {
			return nil, encodeTypeErr(typeName, value)
		}
		return append(dst, a[:]...), nil

	case KindVector:
		items, ok := value.([]any)
		if !ok {
			return nil, encodeTypeErr(typeName, value)
		}
		dst = AppendCompact(dst, uint64(len(items)))
		for i, item := range items {
			dst, err = c.appendValue(dst, def.Elem, item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
		}
		return dst, nil

	case KindOption:
		if value == nil {
			return append(dst, 0), nil
		}
		dst = append(dst, 1)
		return c.appendValue(dst, def.Elem, value)

	case KindComposite:
		m, ok := value.(map[string]any)
		if !ok {
			return nil, encodeTypeErr(typeName, value)
		}
		for _, f := range def.Fields {
			fv, ok := m[f.Name]
			if !ok {
				return nil, fmt.Errorf("type %q: missing field %q: %w", typeName, f.Name, ErrValueOutOfRange)
			}
			dst, err = c.appendValue(dst, f.Type, fv)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
		return dst, nil
	}
	return nil, fmt.Errorf("encode type %q kind %q: %w", typeName, def.Kind, ErrUnsupportedType)
}

func (c *Codec) readValue(typeName string, src []byte) (any, int, error) {
	def, err := c.schema.Resolve(typeName)
	if err != nil {
		return nil, 0, fmt.Errorf("decode: %w", err)
	}
	switch def.Kind {
	case KindBool:
		if len(src) < 1 {
			return nil, 0, truncErr(typeName)
		}
		switch src[0] {
		case 0:
			return false, 1, nil
		case 1:
			return true, 1, nil
		}
		return nil, 0, fmt.Errorf("type %q: invalid bool byte %#x: %w", typeName, src[0], ErrMalformed)

	case KindU8:
		if len(src) < 1 {
			return nil, 0, truncErr(typeName)
		}
		return src[0], 1, nil

	case KindU16:
		if len(src) < 2 {
			return nil, 0, truncErr(typeName)
		}
		return binary.LittleEndian.Uint16(src), 2, nil

	case KindU32:
		if len(src) < 4 {
			return nil, 0, truncErr(typeName)
		}
		return binary.LittleEndian.Uint32(src), 4, nil

	case KindU64:
		if len(src) < 8 {
			return nil, 0, truncErr(typeName)
		}
		return binary.LittleEndian.Uint64(src), 8, nil

	case KindCompact:
		x, n, err := ReadCompact(src)
		if err != nil {
			return nil, 0, fmt.Errorf("type %q: %w", typeName, err)
		}
		return x, n, nil

	case KindBytes:
		length, n, err := ReadCompact(src)
		if err != nil {
			return nil, 0, fmt.Errorf("type %q length: %w", typeName, err)
		}
		if uint64(len(src)-n) < length {
			return nil, 0, truncErr(typeName)
		}
		out := make([]byte, length)
		copy(out, src[n:n+int(length)])
		return out, n + int(length), nil

	case KindString:
		length, n, err := ReadCompact(src)
		if err != nil {
			return nil, 0, fmt.Errorf("type %q length: %w", typeName, err)
		}
		if uint64(len(src)-n) < length {
			return nil, 0, truncErr(typeName)
		}
		return string(src[n : n+int(length)]), n + int(length), nil

	case KindAccountID:
		if len(src) < domain.AddressLength {
			return nil, 0, truncErr(typeName)
		}
		a, _ := domain.AddressFromBytes(src[:domain.AddressLength])
		return a, domain.AddressLength, nil

	case KindVector:
		length, n, err := ReadCompact(src)
		if err != nil {
			return nil, 0, fmt.Errorf("type %q length: %w", typeName, err)
		}
		// Every element occupies at least one byte, so a count beyond
		// the remaining input cannot be satisfied. Checked before the
		// allocation so a hostile length prefix cannot blow the heap.
		if length > uint64(len(src)-n) {
			return nil, 0, truncErr(typeName)
		}
		items := make([]any, 0, length)
		for i := uint64(0); i < length; i++ {
			v, m, err := c.readValue(def.Elem, src[n:])
			if err != nil {
				return nil, 0, fmt.Errorf("element %d: %w", i, err)
			}
			items = append(items, v)
			n += m
		}
		return items, n, nil

	case KindOption:
		if len(src) < 1 {
			return nil, 0, truncErr(typeName)
		}
		switch src[0] {
		case 0:
			return nil, 1, nil
		case 1:
			v, n, err := c.readValue(def.Elem, src[1:])
			if err != nil {
				return nil, 0, err
			}
			return v, n + 1, nil
		}
		return nil, 0, fmt.Errorf("type %q: invalid option tag %#x: %w", typeName, src[0], ErrMalformed)

	case KindComposite:
		m := make(map[string]any, len(def.Fields))
		n := 0
		for _, f := range def.Fields {
			v, fn, err := c.readValue(f.Type, src[n:])
			if err != nil {
				return nil, 0, fmt.Errorf("field %q: %w", f.Name, err)
			}
			m[f.Name] = v
			n += fn
		}
		return m, n, nil
	}
	return nil, 0, fmt.Errorf("decode type %q kind %q: %w", typeName, def.Kind, ErrUnsupportedType)
}

// toUint converts any Go integer to uint64 with a range check.
func toUint(typeName string, value any, max uint64) (uint64, error) {
	var x uint64
	switch v := value.(type) {
	case uint:
		x = uint64(v)
	case uint8:
		x = uint64(v)
	case uint16:
		x = uint64(v)
	case uint32:
		x = uint64(v)
	case uint64:
		x = v
	case domain.Balance:
		x = uint64(v)
	case domain.Score:
		x = uint64(v)
	case int:
		if v < 0 {
			return 0, rangeErr(typeName, value)
		}
		x = uint64(v)
	case int64:
		if v < 0 {
			return 0, rangeErr(typeName, value)
		}
		x = uint64(v)
	default:
		return 0, encodeTypeErr(typeName, value)
	}
	if x > max {
		return 0, rangeErr(typeName, value)
	}
	return x, nil
}

func encodeTypeErr(typeName string, value any) error {
	return fmt.Errorf("type %q: cannot encode %T: %w", typeName, value, ErrValueOutOfRange)
}

func rangeErr(typeName string, value any) error {
	return fmt.Errorf("type %q: value %v: %w", typeName, value, ErrValueOutOfRange)
}

func truncErr(typeName string) error {
	return fmt.Errorf("type %q: %w", typeName, ErrTruncated)
}
