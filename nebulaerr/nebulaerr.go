// Package nebulaerr defines the error kinds reported to clients and logged by the protocol engine.
package nebulaerr

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Code identifies an error kind on the wire and in structured logs.
type Code uint32

const (
	CodeProtocolError Code = iota + 1
	CodeUnsupportedFeatureError
	CodeAuthenticationError
	CodeAccessError
	CodeDisabledCapabilityError
	CodeTypeSpecNotFoundError
	CodeTransactionError
	CodeBackendError
	CodeBackendQueryCancelledError
	CodeInternalServerError
)

// Kind is satisfied by every error kind defined in this package.
type Kind interface {
	error
	ErrorCode() Code
	Fields() []zap.Field
}

type baseErr struct {
	code Code
	msg  string
}

func (e *baseErr) Error() string {
	return e.msg
}

func (e *baseErr) ErrorCode() Code {
	return e.code
}

func (e *baseErr) Fields() []zap.Field {
	return []zap.Field{zap.Uint32("error_code", uint32(e.code))}
}

// ProtocolError reports a malformed frame, unparsed trailing bytes, an unknown tag, a bad describe mode,
// or an unknown header key.
type ProtocolError struct{ *baseErr }

// NewProtocolError creates a ProtocolError with the given message.
func NewProtocolError(msg string) *ProtocolError {
	return &ProtocolError{&baseErr{code: CodeProtocolError, msg: msg}}
}

// NewProtocolErrorf creates a ProtocolError with a formatted message.
func NewProtocolErrorf(format string, args ...any) *ProtocolError {
	return NewProtocolError(fmt.Sprintf(format, args...))
}

// UnsupportedFeatureError reports a feature the client requested that the server does not implement,
// such as prepared-statement names or bind-args on Fast Query.
type UnsupportedFeatureError struct{ *baseErr }

func NewUnsupportedFeatureError(msg string) *UnsupportedFeatureError {
	return &UnsupportedFeatureError{&baseErr{code: CodeUnsupportedFeatureError, msg: msg}}
}

// AuthenticationError reports an authentication failure.
type AuthenticationError struct{ *baseErr }

func NewAuthenticationError(msg string) *AuthenticationError {
	return &AuthenticationError{&baseErr{code: CodeAuthenticationError, msg: msg}}
}

// AccessError reports an ACL failure, e.g. a connection attempt against a system template database.
type AccessError struct{ *baseErr }

func NewAccessError(msg string) *AccessError {
	return &AccessError{&baseErr{code: CodeAccessError, msg: msg}}
}

// DisabledCapabilityError reports that a query unit group requires capabilities beyond allow_capabilities.
type DisabledCapabilityError struct {
	*baseErr
	Disabled uint64
}

func NewDisabledCapabilityError(disabled uint64) *DisabledCapabilityError {
	return &DisabledCapabilityError{
		baseErr:  &baseErr{code: CodeDisabledCapabilityError, msg: fmt.Sprintf("disabled capability: %#x", disabled)},
		Disabled: disabled,
	}
}

func (e *DisabledCapabilityError) Fields() []zap.Field {
	return append(e.baseErr.Fields(), zap.Uint64("disabled_capabilities", e.Disabled))
}

// TypeSpecNotFoundError reports a Describe without a prior Parse.
type TypeSpecNotFoundError struct{ *baseErr }

func NewTypeSpecNotFoundError(msg string) *TypeSpecNotFoundError {
	return &TypeSpecNotFoundError{&baseErr{code: CodeTypeSpecNotFoundError, msg: msg}}
}

// TransactionError reports an operation attempted in a failed transaction without an intervening rollback.
type TransactionError struct{ *baseErr }

func NewTransactionError(msg string) *TransactionError {
	return &TransactionError{&baseErr{code: CodeTransactionError, msg: msg}}
}

// BackendError wraps an error surfaced by the backend SQL driver.
type BackendError struct {
	*baseErr
	Cause error
}

func NewBackendError(cause error) *BackendError {
	return &BackendError{baseErr: &baseErr{code: CodeBackendError, msg: cause.Error()}, Cause: cause}
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}

func (e *BackendError) Fields() []zap.Field {
	return append(e.baseErr.Fields(), zap.Error(e.Cause))
}

// BackendQueryCancelledError reports that the backend driver cancelled an in-flight query.
type BackendQueryCancelledError struct{ *baseErr }

func NewBackendQueryCancelledError(msg string) *BackendQueryCancelledError {
	return &BackendQueryCancelledError{&baseErr{code: CodeBackendQueryCancelledError, msg: msg}}
}

// InternalServerError reports an unexpected, non-recoverable condition.
type InternalServerError struct {
	*baseErr
	Cause error
}

func NewInternalServerError(cause error) *InternalServerError {
	return &InternalServerError{baseErr: &baseErr{code: CodeInternalServerError, msg: cause.Error()}, Cause: cause}
}

func (e *InternalServerError) Unwrap() error {
	return e.Cause
}

// AsKind extracts the nearest Kind in err's chain, wrapping it in InternalServerError if none is found.
func AsKind(err error) Kind {
	var kind Kind
	if errors.As(err, &kind) {
		return kind
	}

	return NewInternalServerError(err)
}

var (
	_ Kind = (*ProtocolError)(nil)
	_ Kind = (*UnsupportedFeatureError)(nil)
	_ Kind = (*AuthenticationError)(nil)
	_ Kind = (*AccessError)(nil)
	_ Kind = (*DisabledCapabilityError)(nil)
	_ Kind = (*TypeSpecNotFoundError)(nil)
	_ Kind = (*TransactionError)(nil)
	_ Kind = (*BackendError)(nil)
	_ Kind = (*BackendQueryCancelledError)(nil)
	_ Kind = (*InternalServerError)(nil)
)
