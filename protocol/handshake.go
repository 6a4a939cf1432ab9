package protocol

import (
	"context"

	"github.com/nebuladb/nebula-core/auth"
	"github.com/nebuladb/nebula-core/nebulaerr"
)

// readHandshakeBody parses the payload common to both the initial startup frame and a renegotiated one,
// returning the requested protocol version and the key/value connection parameters. Extensions are read
// and discarded, so that the frame's declared length and the bytes actually read stay in sync; neither
// their count nor their content is returned.
func (c *connState) readHandshakeBody() (version ProtocolVersion, params map[string]string, err error) {
	major, err := c.r.ReadUint16()
	if err != nil {
		return ProtocolVersion{}, nil, err
	}

	minor, err := c.r.ReadUint16()
	if err != nil {
		return ProtocolVersion{}, nil, err
	}

	version = ProtocolVersion{Major: major, Minor: minor}

	nparams, err := c.r.ReadUint16()
	if err != nil {
		return ProtocolVersion{}, nil, err
	}

	params = make(map[string]string, nparams)
	for i := uint16(0); i < nparams; i++ {
		key, err := c.r.ReadLenPrefixedUTF8()
		if err != nil {
			return ProtocolVersion{}, nil, err
		}

		value, err := c.r.ReadLenPrefixedUTF8()
		if err != nil {
			return ProtocolVersion{}, nil, err
		}

		params[key] = value
	}

	nexts, err := c.r.ReadUint16()
	if err != nil {
		return ProtocolVersion{}, nil, err
	}

	for i := uint16(0); i < nexts; i++ {
		if _, err := c.r.ReadLenPrefixedUTF8(); err != nil {
			return ProtocolVersion{}, nil, err
		}

		if _, err := c.r.ReadLenPrefixedBytes(); err != nil {
			return ProtocolVersion{}, nil, err
		}
	}

	if err := c.r.FinishMessage(); err != nil {
		return ProtocolVersion{}, nil, err
	}

	return version, params, nil
}

// handshake reads the startup frame, negotiates a protocol version within the Engine's configured range,
// and returns the connection parameters (at minimum "user" and "database") from whichever handshake frame
// ultimately won. If the requested version is clamped, the server announces the target version and
// awaits one more startup frame from the client before proceeding. Extensions listed by the client do
// not trigger this renegotiation.
func (c *connState) handshake(ctx context.Context) (params map[string]string, err error) {
	if err := c.r.TakeStartup(); err != nil {
		return nil, err
	}

	requested, params, err := c.readHandshakeBody()
	if err != nil {
		return nil, err
	}

	target := clamp(requested, c.engine.cfg.MinProtocol, c.engine.cfg.MaxProtocol)

	if !target.Equal(requested) {
		writeNegotiateProtocolVersion(c.w, target)
		if err := c.w.Flush(); err != nil {
			return nil, err
		}

		if err := c.r.TakeStartup(); err != nil {
			return nil, err
		}

		target, params, err = c.readHandshakeBody()
		if err != nil {
			return nil, err
		}
	}

	c.protocolVersion = target

	return params, nil
}

// authenticate validates the handshake's user/database parameters and runs the configured auth.Method.
func (c *connState) authenticate(ctx context.Context, params map[string]string) (database string, err error) {
	user, database := params["user"], params["database"]

	if user == "" {
		return "", nebulaerr.NewAuthenticationError("missing required connection parameter \"user\"")
	}

	if database == "" {
		return "", nebulaerr.NewAuthenticationError("missing required connection parameter \"database\"")
	}

	for _, sys := range c.engine.cfg.SystemDatabases {
		if database == sys {
			return "", nebulaerr.NewAccessError("cannot connect to system database " + database)
		}
	}

	if err := c.engine.authMethod.Authenticate(ctx, auth.Credentials{User: user, Database: database}); err != nil {
		return "", err
	}

	return database, nil
}
