package codec

import "errors"

// Encoding errors.
var (
	// ErrUnsupportedType is returned when the schema has no entry for
	// the requested type name, or a descriptor kind is not encodable.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrValueOutOfRange is returned when a value does not fit the
	// target type (overflow, wrong Go kind, missing struct field).
	ErrValueOutOfRange = errors.New("value out of range for type")
)

// Decoding errors. A decode failure means the client and node disagree
// on the schema; callers surface it as fatal.
var (
	// ErrTruncated is returned when input ends before the type is
	// fully decoded.
	ErrTruncated = errors.New("truncated input")

	// ErrMalformed is returned when input bytes cannot represent a
	// valid value of the type.
	ErrMalformed = errors.New("malformed input")

	// ErrUnknownType is returned when decoding against a type name the
	// schema does not define.
	ErrUnknownType = errors.New("unknown type")
)
