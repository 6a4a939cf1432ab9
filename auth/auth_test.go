package auth_test

import (
	"context"
	"testing"

	"github.com/nebuladb/nebula-core/auth"
	"github.com/stretchr/testify/require"
)

func TestTrustAlwaysSucceeds(t *testing.T) {
	t.Parallel()

	require.NoError(t, auth.Trust{}.Authenticate(context.Background(), auth.Credentials{User: "anyone"}))
}

func TestSCRAMFailsClosedWithoutVerify(t *testing.T) {
	t.Parallel()

	require.Error(t, auth.SCRAM{}.Authenticate(context.Background(), auth.Credentials{User: "anyone"}))
}

func TestJWTFailsClosedWithoutVerify(t *testing.T) {
	t.Parallel()

	require.Error(t, auth.JWT{}.Authenticate(context.Background(), auth.Credentials{User: "anyone"}))
}
