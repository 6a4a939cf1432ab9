// Package auth defines the pluggable authentication surface the Protocol Engine's handshake consults
// once a client has named a user and database. Concrete cryptographic mechanisms are out of scope; this
// package only fixes the interface and ships a Trust method plus thin SCRAM/JWT stubs documenting where a
// real implementation plugs in.
package auth

import (
	"context"

	"github.com/nebuladb/nebula-core/nebulaerr"
)

// Credentials carries whatever the client sent during the handshake's parameter list that a Method needs
// to authenticate: at minimum the user and database names, plus any method-specific payload read from
// subsequent authentication messages.
type Credentials struct {
	User     string
	Database string
	Payload  []byte
}

// Method authenticates one connection attempt. Implementations must be safe for concurrent use across
// connections, since one Method instance is shared by every connection on a listener.
type Method interface {
	// Name identifies the method on the wire, e.g. for a future AuthenticationSASL challenge.
	Name() string

	// Authenticate validates creds, returning an AuthenticationError if they are rejected.
	Authenticate(ctx context.Context, creds Credentials) error
}

// Trust always succeeds, matching the teacher's "trusted network" deployment posture for local
// development and tests.
type Trust struct{}

func (Trust) Name() string { return "trust" }

func (Trust) Authenticate(context.Context, Credentials) error { return nil }

// SCRAM documents where a SCRAM-SHA-256 implementation plugs in; it currently refuses every attempt so a
// misconfigured deployment fails closed rather than silently trusting clients.
type SCRAM struct {
	// Verify, when set, validates creds.Payload as a SCRAM exchange and is the extension point a real
	// implementation fills in.
	Verify func(ctx context.Context, creds Credentials) error
}

func (SCRAM) Name() string { return "scram-sha-256" }

func (s SCRAM) Authenticate(ctx context.Context, creds Credentials) error {
	if s.Verify == nil {
		return nebulaerr.NewAuthenticationError("scram-sha-256 is not configured")
	}

	return s.Verify(ctx, creds)
}

// JWT documents where bearer-token verification plugs in.
type JWT struct {
	// Verify, when set, validates creds.Payload as a signed token and is the extension point a real
	// implementation fills in.
	Verify func(ctx context.Context, creds Credentials) error
}

func (JWT) Name() string { return "jwt" }

func (j JWT) Authenticate(ctx context.Context, creds Credentials) error {
	if j.Verify == nil {
		return nebulaerr.NewAuthenticationError("jwt is not configured")
	}

	return j.Verify(ctx, creds)
}

var (
	_ Method = Trust{}
	_ Method = SCRAM{}
	_ Method = JWT{}
)
