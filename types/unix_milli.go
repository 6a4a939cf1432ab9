package types

import (
	"strconv"
	"time"
)

// UnixMilli adds JSON and text (un)marshaling to time.Time, rendering a zero time as JSON null and
// any other value as the number of milliseconds since the Unix epoch.
type UnixMilli time.Time

// MarshalJSON implements the json.Marshaler interface.
// Supports JSON null for the zero time.
func (t UnixMilli) MarshalJSON() ([]byte, error) {
	if time.Time(t).IsZero() {
		return []byte("null"), nil
	}

	return []byte(strconv.FormatInt(time.Time(t).UnixMilli(), 10)), nil
}

// UnmarshalJSON implements the json.Unmarshaler interface.
// Supports JSON null.
func (t *UnixMilli) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = UnixMilli{}
		return nil
	}

	return t.UnmarshalText(data)
}

// MarshalText implements the encoding.TextMarshaler interface, rendering the zero time as an empty string.
func (t UnixMilli) MarshalText() ([]byte, error) {
	if time.Time(t).IsZero() {
		return []byte{}, nil
	}

	return []byte(strconv.FormatInt(time.Time(t).UnixMilli(), 10)), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface, treating an empty string as the zero time.
func (t *UnixMilli) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*t = UnixMilli{}
		return nil
	}

	ms, err := strconv.ParseInt(string(text), 10, 64)
	if err != nil {
		return err
	}

	*t = UnixMilli(time.UnixMilli(ms))
	return nil
}
