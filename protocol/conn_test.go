package protocol

import (
	"testing"

	"github.com/nebuladb/nebula-core/catalog"
	"github.com/stretchr/testify/require"
)

func TestCheckCapabilitiesRejectsDisabled(t *testing.T) {
	t.Parallel()

	rollback := &catalog.QueryUnitGroup{Units: []*catalog.QueryUnit{rollbackUnit()}}
	// rollbackUnit itself carries no Capabilities bits, so give it one here to model a compiled
	// ROLLBACK requiring CapTransaction, the same way a real compiler would.
	rollback.Units[0].Capabilities = catalog.CapTransaction

	err := checkCapabilities(rollback, catalog.CapSQL)
	require.Error(t, err)
	require.ErrorContains(t, err, "disabled capability")
}

func TestCheckCapabilitiesAllowsSubset(t *testing.T) {
	t.Parallel()

	group := &catalog.QueryUnitGroup{Units: []*catalog.QueryUnit{{Capabilities: catalog.CapSQL}}}

	require.NoError(t, checkCapabilities(group, catalog.CapSQL|catalog.CapTransaction))
}

func TestBindArgsClonesWithoutMutatingOriginal(t *testing.T) {
	t.Parallel()

	original := &catalog.QueryUnitGroup{Units: []*catalog.QueryUnit{{}}, ExtraBlobs: nil}
	args := [][]byte{[]byte("a"), []byte("b")}

	bound := bindArgs(original, args)

	require.Equal(t, args, bound.ExtraBlobs)
	require.Nil(t, original.ExtraBlobs)
	require.Same(t, original.Units[0], bound.Units[0])
}

func TestSplitScriptDropsEmptyStatements(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"BEGIN", "SELECT 1", "COMMIT"}, splitScript("BEGIN;; SELECT 1 ; COMMIT;"))
	require.Empty(t, splitScript("   ;  ; "))
}

func TestCommandStatusUsesLeadingKeyword(t *testing.T) {
	t.Parallel()

	require.Equal(t, "SELECT", commandStatus(&catalog.QueryUnitGroup{Units: []*catalog.QueryUnit{{SQL: []string{"select 1"}}}}))
	require.Equal(t, "COMMIT", commandStatus(&catalog.QueryUnitGroup{Units: []*catalog.QueryUnit{{SQL: []string{"COMMIT"}}}}))
	require.Equal(t, "OK", commandStatus(&catalog.QueryUnitGroup{}))
}
