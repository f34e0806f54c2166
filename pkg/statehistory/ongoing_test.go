package statehistory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorteil/histtree/pkg/htinterval"
)

func TestOngoingTrackerFirstUpdateHasNoPrevious(t *testing.T) {
	o := NewOngoingTracker()
	_, had := o.Update(1, 0, htinterval.IntValue(1))
	assert.False(t, had)

	v, ok := o.Current(1)
	require.True(t, ok)
	got, err := v.AsInt()
	require.NoError(t, err)
	assert.EqualValues(t, 1, got)
}

func TestOngoingTrackerUpdateClosesPrevious(t *testing.T) {
	o := NewOngoingTracker()
	o.Update(1, 0, htinterval.IntValue(10))
	closed, had := o.Update(1, 50, htinterval.IntValue(20))

	require.True(t, had)
	assert.Equal(t, int64(0), closed.Start)
	assert.Equal(t, int64(49), closed.End)
	v, err := closed.Value.AsInt()
	require.NoError(t, err)
	assert.EqualValues(t, 10, v)

	current, ok := o.Current(1)
	require.True(t, ok)
	got, err := current.AsInt()
	require.NoError(t, err)
	assert.EqualValues(t, 20, got)
}

func TestOngoingTrackerCloseAllClearsState(t *testing.T) {
	o := NewOngoingTracker()
	o.Update(1, 0, htinterval.IntValue(1))
	o.Update(2, 10, htinterval.IntValue(2))

	closed := o.CloseAll(100)
	require.Len(t, closed, 2)
	for _, iv := range closed {
		assert.Equal(t, int64(100), iv.End)
	}

	_, ok := o.Current(1)
	assert.False(t, ok)
}

func TestOngoingTrackerIndependentQuarks(t *testing.T) {
	o := NewOngoingTracker()
	o.Update(1, 0, htinterval.IntValue(1))
	_, had := o.Update(2, 0, htinterval.IntValue(2))
	assert.False(t, had, "quark 2 has never been set before, regardless of quark 1's state")
}
