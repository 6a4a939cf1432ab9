package types

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Name returns the name of the type of the given value, stripping package qualification and pointer indirection.
func Name(value any) string {
	var t reflect.Type

	if v, ok := value.(reflect.Type); ok {
		t = v
	} else {
		t = reflect.TypeOf(value)
	}

	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t == nil {
		return fmt.Sprintf("%v", value)
	}

	return t.Name()
}

// Zero returns the zero value of T.
func Zero[T any]() T {
	var zero T
	return zero
}

// MarshalJSON marshals v to JSON, mapping nil to a JSON null literal.
func MarshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	return json.Marshal(v)
}

// UnmarshalJSON unmarshals data into v, ignoring a JSON null literal.
func UnmarshalJSON(data []byte, v any) error {
	if string(data) == "null" {
		return nil
	}

	return json.Unmarshal(data, v)
}
