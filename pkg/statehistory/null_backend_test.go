package statehistory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorteil/histtree/pkg/htinterval"
)

func TestNullBackendDiscardsEverything(t *testing.T) {
	b := NewNullBackend("ssid")
	require.NoError(t, b.InsertPastState(0, 10, 1, htinterval.IntValue(1)))
	require.NoError(t, b.FinishBuilding(10))

	out, err := b.DoQuery(5)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, ok, err := b.DoSingularQuery(5, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.WaitUntilBuilt(context.Background()))
	assert.NoError(t, b.RemoveFiles())
	assert.NoError(t, b.Dispose())
}
