package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subnetctl/internal/domain"
)

func testCodec(t *testing.T) *Codec {
	t.Helper()
	return New(NewSchema(3, BuiltinTypes()))
}

func TestCompactRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 63, // single byte
		64, 100, 16383, // two bytes
		16384, 1<<30 - 1, // four bytes
		1 << 30, 1 << 32, 1 << 40, math.MaxUint64, // big form
	}
	for _, v := range values {
		enc := AppendCompact(nil, v)
		got, n, err := ReadCompact(enc)
		require.NoError(t, err, "value %d", v)
		assert.Equal(t, v, got, "value %d", v)
		assert.Equal(t, len(enc), n, "value %d consumed", v)
	}
}

func TestCompactEncodingSizes(t *testing.T) {
	assert.Len(t, AppendCompact(nil, 0), 1)
	assert.Len(t, AppendCompact(nil, 63), 1)
	assert.Len(t, AppendCompact(nil, 64), 2)
	assert.Len(t, AppendCompact(nil, 16383), 2)
	assert.Len(t, AppendCompact(nil, 16384), 4)
	assert.Len(t, AppendCompact(nil, 1<<30-1), 4)
	assert.Len(t, AppendCompact(nil, 1<<30), 5)
	assert.Len(t, AppendCompact(nil, math.MaxUint64), 9)
}

func TestCompactDeterministic(t *testing.T) {
	for _, v := range []uint64{0, 63, 64, 16384, 1 << 31} {
		assert.Equal(t, AppendCompact(nil, v), AppendCompact(nil, v))
	}
}

func TestReadCompactTruncated(t *testing.T) {
	_, _, err := ReadCompact(nil)
	assert.ErrorIs(t, err, ErrTruncated)

	full := AppendCompact(nil, 1<<40)
	for i := 1; i < len(full); i++ {
		_, _, err := ReadCompact(full[:i])
		assert.ErrorIs(t, err, ErrTruncated, "prefix length %d", i)
	}
}

func TestEncodeDecodePrimitives(t *testing.T) {
	c := testCodec(t)
	cases := []struct {
		typeName string
		value    any
		decoded  any
	}{
		{"bool", true, true},
		{"bool", false, false},
		{"u8", uint8(200), uint8(200)},
		{"u16", uint16(65535), uint16(65535)},
		{"u32", uint32(1 << 31), uint32(1 << 31)},
		{"u64", uint64(math.MaxUint64), uint64(math.MaxUint64)},
		{"compact", uint64(16384), uint64(16384)},
		{"bytes", []byte{1, 2, 3}, []byte{1, 2, 3}},
		{"string", "hello", "hello"},
		{"Balance", domain.Balance(1_500_000_000), uint64(1_500_000_000)},
		{"Score", domain.Score(32768), uint16(32768)},
	}
	for _, tc := range cases {
		enc, err := c.Encode(tc.typeName, tc.value)
		require.NoError(t, err, "%s", tc.typeName)
		dec, err := c.Decode(tc.typeName, enc)
		require.NoError(t, err, "%s", tc.typeName)
		assert.Equal(t, tc.decoded, dec, "%s", tc.typeName)
	}
}

func TestEncodeAccountID(t *testing.T) {
	c := testCodec(t)
	addr, err := domain.AddressFromBytes([]byte{
		1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16,
		17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32,
	})
	require.NoError(t, err)

	enc, err := c.Encode("accountid", addr)
	require.NoError(t, err)
	assert.Len(t, enc, domain.AddressLength)

	dec, err := c.Decode("accountid", enc)
	require.NoError(t, err)
	assert.Equal(t, addr, dec)
}

func TestEncodeVector(t *testing.T) {
	c := testCodec(t)
	enc, err := c.Encode("vec<u16>", []any{uint16(1), uint16(2), uint16(3)})
	require.NoError(t, err)
	// compact(3) + 3 * 2 bytes
	assert.Len(t, enc, 7)

	dec, err := c.Decode("vec<u16>", enc)
	require.NoError(t, err)
	assert.Equal(t, []any{uint16(1), uint16(2), uint16(3)}, dec)
}

func TestEncodeOption(t *testing.T) {
	c := testCodec(t)

	enc, err := c.Encode("option<u32>", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, enc)
	dec, err := c.Decode("option<u32>", enc)
	require.NoError(t, err)
	assert.Nil(t, dec)

	enc, err = c.Encode("option<u32>", uint32(9))
	require.NoError(t, err)
	dec, err = c.Decode("option<u32>", enc)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), dec)
}

func TestEncodeComposite(t *testing.T) {
	c := testCodec(t)
	entry := map[string]any{"uid": uint16(4), "weight": uint16(30000)}
	enc, err := c.Encode("WeightEntry", entry)
	require.NoError(t, err)
	assert.Len(t, enc, 4)

	dec, err := c.Decode("WeightEntry", enc)
	require.NoError(t, err)
	assert.Equal(t, entry, dec)
}

func TestEncodeCompositeMissingField(t *testing.T) {
	c := testCodec(t)
	_, err := c.Encode("WeightEntry", map[string]any{"uid": uint16(4)})
	assert.ErrorContains(t, err, "weight")
}

func TestEncodeNeuronInfoRoundTrip(t *testing.T) {
	c := testCodec(t)
	hotkey, _ := domain.AddressFromBytes(append(make([]byte, 31), 1))
	coldkey, _ := domain.AddressFromBytes(append(make([]byte, 31), 2))
	neuron := map[string]any{
		"uid":         uint16(7),
		"hotkey":      hotkey,
		"coldkey":     coldkey,
		"stake":       uint64(5_000_000_000),
		"rank":        uint16(100),
		"trust":       uint16(200),
		"consensus":   uint16(300),
		"incentive":   uint16(400),
		"dividends":   uint16(500),
		"active":      true,
		"last_update": uint64(123456),
	}
	enc, err := c.Encode("NeuronInfo", neuron)
	require.NoError(t, err)
	dec, err := c.Decode("NeuronInfo", enc)
	require.NoError(t, err)
	assert.Equal(t, neuron, dec)
}

func TestEncodeRangeChecks(t *testing.T) {
	c := testCodec(t)
	_, err := c.Encode("u8", uint16(256))
	assert.ErrorIs(t, err, ErrValueOutOfRange)
	_, err = c.Encode("u16", uint32(1<<16))
	assert.ErrorIs(t, err, ErrValueOutOfRange)
	_, err = c.Encode("u32", int(-1))
	assert.ErrorIs(t, err, ErrValueOutOfRange)
	_, err = c.Encode("bool", "yes")
	assert.ErrorIs(t, err, ErrValueOutOfRange)
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	c := testCodec(t)
	enc, err := c.Encode("u16", uint16(1))
	require.NoError(t, err)
	_, err = c.Decode("u16", append(enc, 0))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeTruncated(t *testing.T) {
	c := testCodec(t)
	enc, err := c.Encode("NeuronInfo", map[string]any{
		"uid": uint16(0), "hotkey": domain.Address{}, "coldkey": domain.Address{},
		"stake": uint64(1), "rank": uint16(0), "trust": uint16(0),
		"consensus": uint16(0), "incentive": uint16(0), "dividends": uint16(0),
		"active": false, "last_update": uint64(0),
	})
	require.NoError(t, err)
	_, err = c.Decode("NeuronInfo", enc[:len(enc)-3])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeInvalidBool(t *testing.T) {
	c := testCodec(t)
	_, err := c.Decode("bool", []byte{2})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestUnknownType(t *testing.T) {
	c := testCodec(t)
	_, err := c.Encode("NoSuchType", uint8(1))
	assert.ErrorIs(t, err, ErrUnknownType)
	_, err = c.Decode("vec<NoSuchType>", []byte{4, 0})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestParseSchema(t *testing.T) {
	doc := []byte(`{
		"specVersion": 9,
		"types": {
			"Pair": {"kind": "composite", "fields": [
				{"name": "a", "type": "u8"},
				{"name": "b", "type": "option<u16>"}
			]},
			"Amount": {"kind": "alias", "elem": "u64"}
		}
	}`)
	schema, err := ParseSchema(doc)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), schema.SpecVersion)

	c := New(schema)
	enc, err := c.Encode("Pair", map[string]any{"a": uint8(1), "b": uint16(2)})
	require.NoError(t, err)
	dec, err := c.Decode("Pair", enc)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": uint8(1), "b": uint16(2)}, dec)

	enc, err = c.Encode("Amount", uint64(77))
	require.NoError(t, err)
	dec, err = c.Decode("Amount", enc)
	require.NoError(t, err)
	assert.Equal(t, uint64(77), dec)
}

func TestAliasChainResolves(t *testing.T) {
	schema := NewSchema(1, map[string]TypeDef{
		"A": {Kind: KindAlias, Elem: "B"},
		"B": {Kind: KindAlias, Elem: "u32"},
	})
	c := New(schema)
	enc, err := c.Encode("A", uint32(5))
	require.NoError(t, err)
	dec, err := c.Decode("A", enc)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), dec)
}

func TestAliasCycleFailsResolve(t *testing.T) {
	schema := NewSchema(1, map[string]TypeDef{
		"A":    {Kind: KindAlias, Elem: "B"},
		"B":    {Kind: KindAlias, Elem: "A"},
		"Self": {Kind: KindAlias, Elem: "Self"},
	})
	_, err := schema.Resolve("A")
	assert.ErrorIs(t, err, ErrUnsupportedType)
	_, err = schema.Resolve("Self")
	assert.ErrorIs(t, err, ErrUnsupportedType)

	c := New(schema)
	_, err = c.Decode("A", []byte{0})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestDecodeVectorHostileLength(t *testing.T) {
	c := testCodec(t)

	// A few bytes of input claiming 2^62 elements must fail cleanly,
	// not allocate.
	_, err := c.Decode("vec<u8>", AppendCompact(nil, 1<<62))
	assert.ErrorIs(t, err, ErrTruncated)

	// A count just past the available bytes fails the same way.
	data := AppendCompact(nil, 3)
	data = append(data, 1, 2)
	_, err = c.Decode("vec<u8>", data)
	assert.ErrorIs(t, err, ErrTruncated)

	// Nested vectors cannot smuggle an oversized inner count either.
	inner := AppendCompact(nil, 1<<40)
	outer := AppendCompact(nil, 1)
	_, err = c.Decode("vec<vec<u8>>", append(outer, inner...))
	assert.ErrorIs(t, err, ErrTruncated)
}
