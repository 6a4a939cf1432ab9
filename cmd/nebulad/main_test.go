package main

import (
	"testing"

	"github.com/nebuladb/nebula-core/backend"
	"github.com/nebuladb/nebula-core/logging"
	"github.com/stretchr/testify/require"
)

func validConfig() serverConfig {
	return serverConfig{
		Listen:     ":5656",
		HTTPListen: ":5657",
		AuthMethod: "trust",
		Backend:    backend.Config{Driver: "postgres", DSN: "postgres://localhost/nebula"},
		Logging:    logging.Config{Output: logging.CONSOLE, Interval: 20},
	}
}

func TestServerConfigValidateAcceptsDefaults(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestServerConfigValidateRejectsBadListenAddress(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Listen = "not-a-host-port"
	require.Error(t, cfg.Validate())
}

func TestServerConfigValidateRejectsUnknownAuthMethod(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.AuthMethod = "bogus"
	require.Error(t, cfg.Validate())
}

func TestAuthMethodFromConfigDefaultsToTrust(t *testing.T) {
	t.Parallel()

	require.Equal(t, "trust", authMethodFromConfig("anything-else").Name())
	require.Equal(t, "scram-sha-256", authMethodFromConfig("scram-sha-256").Name())
	require.Equal(t, "jwt", authMethodFromConfig("jwt").Name())
}
