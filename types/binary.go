package types

import (
	"database/sql/driver"
	"encoding"
	"encoding/hex"
	"encoding/json"
	"errors"
)

// ErrUnsupportedBinarySource is returned by Binary.Scan for source types it cannot convert.
var ErrUnsupportedBinarySource = errors.New("unsupported source type for Binary")

// Binary adds JSON and text support to a raw byte slice, for values such as sql_hash and type-id blobs that
// are stored binarily in SQL context but rendered as lowercase hex outside of it.
type Binary []byte

// Valid returns whether b is non-nil and non-empty.
func (b Binary) Valid() bool {
	return len(b) > 0
}

// String returns the lowercase hex encoding of b.
func (b Binary) String() string {
	return hex.EncodeToString(b)
}

// MarshalJSON implements the json.Marshaler interface.
// Supports JSON null for an invalid Binary.
func (b Binary) MarshalJSON() ([]byte, error) {
	if !b.Valid() {
		return []byte("null"), nil
	}

	return json.Marshal(b.String())
}

// UnmarshalText implements the encoding.TextUnmarshaler interface, parsing hex-encoded text.
func (b *Binary) UnmarshalText(text []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}

	*b = decoded
	return nil
}

// Value implements the driver.Valuer interface.
func (b Binary) Value() (driver.Value, error) {
	if !b.Valid() {
		return nil, nil
	}

	return []byte(b), nil
}

// Scan implements the sql.Scanner interface.
func (b *Binary) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*b = nil
	case []byte:
		buf := make([]byte, len(v))
		copy(buf, v)
		*b = buf
	case string:
		*b = []byte(v)
	default:
		return ErrUnsupportedBinarySource
	}

	return nil
}

var (
	_ json.Marshaler           = Binary{}
	_ encoding.TextUnmarshaler = (*Binary)(nil)
	_ driver.Valuer            = Binary{}
)
