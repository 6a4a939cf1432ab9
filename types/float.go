package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
)

// Float adds JSON support to sql.NullFloat64.
type Float struct {
	sql.NullFloat64
}

// MarshalJSON implements the json.Marshaler interface.
// Supports JSON null.
func (f Float) MarshalJSON() ([]byte, error) {
	var v any
	if f.Valid {
		v = f.Float64
	}

	return MarshalJSON(v)
}

// UnmarshalJSON implements the json.Unmarshaler interface.
// Supports JSON null.
func (f *Float) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}

	if err := UnmarshalJSON(data, &f.Float64); err != nil {
		return err
	}

	f.Valid = true
	return nil
}

// Value implements the driver.Valuer interface.
func (f Float) Value() (driver.Value, error) {
	if !f.Valid {
		return nil, nil
	}

	return f.Float64, nil
}

var (
	_ json.Marshaler   = Float{}
	_ json.Unmarshaler = (*Float)(nil)
	_ driver.Valuer    = Float{}
)
