package authority

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenantlabs/covenant/pkg/fault"
)

func TestEmptyTableDeniesEverything(t *testing.T) {
	tbl := NewTable()
	assert.False(t, tbl.Allowed(OpTrigger, "anyone"))
	err := tbl.Require("intent.Trigger", OpTrigger, "anyone")
	require.Error(t, err)
	assert.True(t, fault.IsPrecondition(err))
}

func TestGrantAndRevoke(t *testing.T) {
	tbl := NewTable()
	tbl.Grant(OpIndex, "svc:indexer")

	assert.True(t, tbl.Allowed(OpIndex, "svc:indexer"))
	assert.False(t, tbl.Allowed(OpIndex, "svc:other"))
	assert.False(t, tbl.Allowed(OpTrigger, "svc:indexer"))

	tbl.Revoke(OpIndex, "svc:indexer")
	assert.False(t, tbl.Allowed(OpIndex, "svc:indexer"))
}

func TestGrantIsIdempotent(t *testing.T) {
	tbl := NewTable()
	tbl.Grant(OpSunset, "svc:sunset")
	tbl.Grant(OpSunset, "svc:sunset")
	assert.True(t, tbl.Allowed(OpSunset, "svc:sunset"))

	tbl.Revoke(OpSunset, "svc:sunset")
	assert.False(t, tbl.Allowed(OpSunset, "svc:sunset"))
}
