package httpapi

import (
	"reflect"

	"github.com/nebuladb/nebula-core/nebulaerr"
)

// errorType names kind's concrete type, e.g. "ProtocolError", for the error envelope's "type" field.
func errorType(kind nebulaerr.Kind) string {
	t := reflect.TypeOf(kind)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	return t.Name()
}
